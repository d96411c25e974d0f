/*
Package lease implements PaxosLease, a Paxos variant that elects a lease
owner for a bounded time without relying on synchronized clocks or stable
storage. The owner of a quorum's lease is its leader: only it appends to
the replicated log, and while the lease lasts it skips the prepare phase.

The owner measures its lease from before it sent the propose request, the
acceptors from when they received it, and other learners from when they
learned it. Every other node therefore considers the lease valid at least
as long as the owner does. Acceptors keep no durable state and instead
refuse to take part for MaxLeaseTime after start.

Lease messages carry the sender's log position. An acceptor rejects a
prepare from a node that is behind it, so a lagging node cannot become
leader before it caught up.
*/
package lease

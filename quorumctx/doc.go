/*
Package quorumctx runs the replicated log of one quorum on a node.

A Context owns a replog.ReplicatedLog, a lease.Lease, the QuorumTransport
they send through and the durable state of the quorum. All protocol state
is touched by one goroutine only, the event loop started by Start. The
loop selects over incoming messages, requests from the application,
storage completions and a ticker that drives every timeout.

The application plugs in through the StateMachine interface. Its
callbacks run on the event loop, in log order, and only after the chosen
value is durable.

The read-only methods IsLeader, GetLeader, IsLeaderKnown, GetPaxosID and
GetHighestPaxosID return snapshots published by the loop after every
event and are safe to call from any goroutine. Append and SetPaxosID are
forwarded to the loop and wait for it.
*/
package quorumctx

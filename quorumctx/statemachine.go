package quorumctx

import (
	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

// StateMachine is the replicated application of one quorum. Its methods
// are called from the event loop of the Context and must not block.
type StateMachine interface {
	// OnAppend applies the value chosen at paxosID. Positions arrive in
	// order without gaps. ownAppend is true if the value was proposed by
	// this node.
	OnAppend(paxosID paxos.PaxosID, value []byte, ownAppend bool)

	// GetNextValue returns the next value to propose, or nil. It is only
	// called on the leader.
	GetNextValue() []byte

	// OnStartCatchup reports that node from no longer has the values this
	// node needs from paxosID on. The state has to be transferred out of
	// band before the log can advance.
	OnStartCatchup(from quorum.NodeID, paxosID paxos.PaxosID)
}

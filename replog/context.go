package replog

import (
	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

// Transport delivers messages to the members of one quorum. Sends are
// fire-and-forget: loss is tolerated by the protocol. A broadcast includes
// the sending node itself.
type Transport interface {
	SendMessage(node quorum.NodeID, msg *paxos.Message)
	SendPriorityMessage(node quorum.NodeID, msg *paxos.Message)
	BroadcastMessage(msg *paxos.Message)
	BroadcastPriorityMessage(msg *paxos.Message)
}

// Context is the view a ReplicatedLog has of the quorum context that owns
// it.
type Context interface {
	NodeID() quorum.NodeID
	RunID() paxos.RunID
	Quorum() *quorum.Quorum
	Transport() Transport

	// IsLeader reports whether this node currently holds the lease.
	IsLeader() bool

	// OnAppend is called once per log position, in order, after the chosen
	// value is durable. ownAppend is true if the value is the one this
	// node's proposer was asked to append.
	OnAppend(paxosID paxos.PaxosID, value []byte, ownAppend bool)

	// GetNextValue returns the next value to append, or nil.
	GetNextValue() []byte

	// OnStartCatchup is called when a peer can no longer serve the
	// position this node needs. The log cannot advance on its own; the
	// state machine has to be transferred out of band.
	OnStartCatchup(from quorum.NodeID, paxosID paxos.PaxosID)
}

// Persister writes protocol state to stable storage. The continuation runs
// on the caller's goroutine once the write is durable. If the write fails
// the continuation is never run.
type Persister interface {
	PersistAcceptor(state AcceptorState, after func())
	PersistProposalID(id paxos.ProposalID, after func())
	PersistChosen(paxosID paxos.PaxosID, value []byte, after func())
}

// ChosenLog is the durable history of chosen values, used to serve
// positions that fell out of the LogCache.
type ChosenLog interface {
	GetChosen(paxosID paxos.PaxosID) ([]byte, bool)
}

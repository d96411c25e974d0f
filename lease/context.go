package lease

import (
	"time"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
	"github.com/duzhanyuan/scaliendb/replog"
)

// Context is the view the lease components have of their quorum context.
type Context interface {
	NodeID() quorum.NodeID
	RunID() paxos.RunID
	Quorum() *quorum.Quorum
	Transport() replog.Transport

	// GetPaxosID is this node's position in the replicated log. It is
	// sent with every lease message.
	GetPaxosID() paxos.PaxosID

	// RegisterPaxosID reports the log position of a peer.
	RegisterPaxosID(paxosID paxos.PaxosID, node quorum.NodeID)

	OnLearnLease()
	OnLeaseTimeout()
}

// Pack holds everything a Lease is built from.
type Pack struct {
	Context Context
	Clock   func() time.Time

	MaxLeaseTime   time.Duration
	AcquireTimeout time.Duration
	RenewMargin    time.Duration
}

func newMsg(ctx Context, t paxos.MsgType, proposalID paxos.ProposalID) *paxos.Message {
	return &paxos.Message{
		Type:       uint32(t),
		QuorumID:   uint64(ctx.Quorum().ID()),
		NodeID:     uint64(ctx.NodeID()),
		RunID:      uint64(ctx.RunID()),
		PaxosID:    uint64(ctx.GetPaxosID()),
		ProposalID: uint64(proposalID),
	}
}

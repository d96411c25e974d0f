package paxos

import (
	"fmt"

	"github.com/duzhanyuan/scaliendb/quorum"
)

// PaxosID is a position in the replicated log. Positions start at zero and
// are decided one at a time.
type PaxosID uint64

// ProposalID orders proposals. The low nodeIDBits carry the id of the node
// that created it, so two nodes can never create the same id. Zero means no
// proposal.
type ProposalID uint64

// RunID changes every time a node restarts. It distinguishes the proposals
// of the current process from those of an earlier incarnation.
type RunID uint64

const nodeIDBits = 16

// NextProposalID returns the smallest proposal id owned by node that is
// strictly greater than prev.
func NextProposalID(prev ProposalID, node quorum.NodeID) ProposalID {
	counter := uint64(prev)>>nodeIDBits + 1
	return ProposalID(counter<<nodeIDBits | uint64(node))
}

// Node returns the id of the node that created the proposal.
func (p ProposalID) Node() quorum.NodeID {
	return quorum.NodeID(uint64(p) & (1<<nodeIDBits - 1))
}

// Counter returns the per-node sequence part of the proposal.
func (p ProposalID) Counter() uint64 {
	return uint64(p) >> nodeIDBits
}

func (p ProposalID) String() string {
	return fmt.Sprintf("%d.%d", p.Counter(), p.Node())
}

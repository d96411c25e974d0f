package quorum

import (
	"fmt"
	"strings"
)

// ID names one replication group. Every shard is served by exactly one
// quorum, and a node may be a member of several.
type ID uint64

// Quorum is an ordered set of member nodes. Membership is fixed for the
// lifetime of the value; a reconfiguration creates a new Quorum.
type Quorum struct {
	id      ID
	members []NodeID
}

func NewQuorum(id ID, members []NodeID) (*Quorum, error) {
	if len(members) == 0 {
		return nil, ErrEmptyQuorum
	}
	seen := make(map[NodeID]bool, len(members))
	ms := make([]NodeID, len(members))
	for i, m := range members {
		if m > MaxNodeID {
			return nil, fmt.Errorf("quorum %d: node %v: %w", id, m, ErrNodeIDOutOfRange)
		}
		if seen[m] {
			return nil, fmt.Errorf("quorum %d: node %v: %w", id, m, ErrDuplicateMember)
		}
		seen[m] = true
		ms[i] = m
	}
	return &Quorum{id: id, members: ms}, nil
}

func (q *Quorum) ID() ID {
	return q.id
}

func (q *Quorum) NumNodes() int {
	return len(q.members)
}

// Nodes returns the members in configuration order.
func (q *Quorum) Nodes() []NodeID {
	out := make([]NodeID, len(q.members))
	copy(out, q.members)
	return out
}

// Majority is the number of members that make up a quorum.
func (q *Quorum) Majority() int {
	return len(q.members)/2 + 1
}

func (q *Quorum) IsMember(id NodeID) bool {
	for _, m := range q.members {
		if m == id {
			return true
		}
	}
	return false
}

func (q *Quorum) String() string {
	ids := make([]string, len(q.members))
	for i, m := range q.members {
		ids[i] = m.String()
	}
	return fmt.Sprintf("quorum %d [%s]", q.id, strings.Join(ids, ","))
}

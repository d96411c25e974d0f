package lease

import (
	"time"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

// Learner tracks who holds the lease, as far as this node knows.
type Learner struct {
	ctx   Context
	clock func() time.Time

	learned    bool
	leaseOwner quorum.NodeID
	proposalID paxos.ProposalID
	expireTime time.Time

	// Highest proposal id of any lease learned, kept after expiry so a
	// late learn cannot bring an old lease back.
	highest paxos.ProposalID
}

func NewLearner(ctx Context, clock func() time.Time) *Learner {
	return &Learner{ctx: ctx, clock: clock}
}

func (l *Learner) IsLeaseKnown() bool {
	return l.learned && l.clock().Before(l.expireTime)
}

func (l *Learner) IsLeaseOwner() bool {
	return l.IsLeaseKnown() && l.leaseOwner == l.ctx.NodeID()
}

func (l *Learner) GetLeaseOwner() (quorum.NodeID, bool) {
	if !l.IsLeaseKnown() {
		return 0, false
	}
	return l.leaseOwner, true
}

func (l *Learner) ExpireTime() time.Time {
	return l.expireTime
}

// learn records a lease. It returns true if this node just became the
// owner.
func (l *Learner) learn(owner quorum.NodeID, proposalID paxos.ProposalID, expireTime time.Time) bool {
	wasOwner := l.IsLeaseOwner()
	l.learned = true
	l.leaseOwner = owner
	l.proposalID = proposalID
	l.expireTime = expireTime
	if proposalID > l.highest {
		l.highest = proposalID
	}
	return !wasOwner && owner == l.ctx.NodeID()
}

// OnLearnChosen handles a lease chosen for another node. The expiry is
// counted from receipt, so it is never earlier than the owner's own.
// Duplicates and learns of leases older than one already learned are
// ignored; it returns false for those.
func (l *Learner) OnLearnChosen(msg *paxos.Message) bool {
	owner := quorum.NodeID(msg.LeaseOwner)
	if owner == l.ctx.NodeID() || msg.GetProposalID() <= l.highest {
		return false
	}
	l.learn(owner, msg.GetProposalID(), l.clock().Add(time.Duration(msg.Duration)))
	return true
}

// Tick forgets an expired lease. It returns the owner of the lease that
// just ran out, if any.
func (l *Learner) Tick(now time.Time) (quorum.NodeID, bool) {
	if !l.learned || now.Before(l.expireTime) {
		return 0, false
	}
	l.learned = false
	return l.leaseOwner, true
}

package lease

import (
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
	"github.com/duzhanyuan/scaliendb/replog"
)

// Outcome tells the caller how a message or timer changed the lease.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// This node became lease owner.
	OutcomeAcquired
	// This node extended the lease it already held.
	OutcomeExtended
	// Another node was learned as lease owner.
	OutcomeLearned
	// This node's lease ran out.
	OutcomeLost
	// Another node's lease ran out.
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcquired:
		return "acquired"
	case OutcomeExtended:
		return "extended"
	case OutcomeLearned:
		return "learned"
	case OutcomeLost:
		return "lost"
	case OutcomeExpired:
		return "expired"
	default:
		return "none"
	}
}

// Lease runs PaxosLease for one quorum: at most one node holds the lease
// at any time, and it expires on its own if the holder goes away.
type Lease struct {
	ctx         Context
	clock       func() time.Time
	renewMargin time.Duration
	acquiring   bool

	proposer *Proposer
	acceptor *Acceptor
	learner  *Learner
}

func NewLease(pack *Pack) *Lease {
	clock := pack.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Lease{
		ctx:         pack.Context,
		clock:       clock,
		renewMargin: pack.RenewMargin,
		proposer:    NewProposer(pack.Context, clock, pack.MaxLeaseTime, pack.AcquireTimeout),
		acceptor:    NewAcceptor(pack.Context, clock, pack.MaxLeaseTime),
		learner:     NewLearner(pack.Context, clock),
	}
}

// AcquireLease makes this node contend for the lease and keep renewing it
// once held.
func (l *Lease) AcquireLease() {
	l.acquiring = true
	l.tryAcquire(l.clock())
}

// StopAcquiringLease stops contending. A lease already held runs out.
func (l *Lease) StopAcquiringLease() {
	l.acquiring = false
}

func (l *Lease) IsLeaseOwner() bool {
	return l.learner.IsLeaseOwner()
}

func (l *Lease) IsLeaseKnown() bool {
	return l.learner.IsLeaseKnown()
}

func (l *Lease) GetLeaseOwner() (quorum.NodeID, bool) {
	return l.learner.GetLeaseOwner()
}

func (l *Lease) ExpireTime() time.Time {
	return l.learner.ExpireTime()
}

func (l *Lease) Acceptor() *Acceptor {
	return l.acceptor
}

func (l *Lease) tryAcquire(now time.Time) {
	if !l.acquiring || !l.proposer.CanRetry(now) {
		return
	}
	if l.learner.IsLeaseOwner() {
		if now.Before(l.learner.ExpireTime().Add(-l.renewMargin)) {
			return
		}
	} else if l.learner.IsLeaseKnown() {
		return
	}
	l.proposer.StartAcquiringLease()
}

// Tick handles expiry and renewal. It should be called periodically.
func (l *Lease) Tick(now time.Time) Outcome {
	outcome := OutcomeNone

	l.proposer.Tick(now)
	if owner, expired := l.learner.Tick(now); expired {
		if owner == l.ctx.NodeID() {
			glog.V(2).Infoln("lease lost")
			l.ctx.OnLeaseTimeout()
			outcome = OutcomeLost
		} else {
			glog.V(2).Infoln("lease of node", owner, "expired")
			outcome = OutcomeExpired
		}
	}

	l.tryAcquire(now)
	return outcome
}

// OnMessage dispatches a lease message.
func (l *Lease) OnMessage(msg *paxos.Message) (Outcome, error) {
	if err := msg.Validate(); err != nil {
		return OutcomeNone, err
	}
	if quorum.ID(msg.QuorumID) != l.ctx.Quorum().ID() {
		return OutcomeNone, fmt.Errorf("%w: %d", replog.ErrWrongQuorum, msg.QuorumID)
	}
	from := quorum.NodeID(msg.NodeID)
	if !l.ctx.Quorum().IsMember(from) {
		return OutcomeNone, fmt.Errorf("%w: %d", replog.ErrNotMember, msg.NodeID)
	}

	l.ctx.RegisterPaxosID(msg.GetPaxosID(), from)

	t := msg.Kind()
	switch {
	case t == paxos.LeasePrepareRequest:
		l.acceptor.OnPrepareRequest(msg)
	case t.IsLeasePrepareResponse():
		l.proposer.OnPrepareResponse(msg)
	case t == paxos.LeaseProposeRequest:
		l.acceptor.OnProposeRequest(msg)
	case t.IsLeaseProposeResponse():
		if l.proposer.OnProposeResponse(msg) {
			return l.onChosen(), nil
		}
	case t == paxos.LeaseLearnChosen:
		wasOwner := l.learner.IsLeaseOwner()
		if !l.learner.OnLearnChosen(msg) {
			if glog.V(3) {
				glog.Infoln("ignoring lease learn", msg.GetProposalID(), "from", from)
			}
			return OutcomeNone, nil
		}
		glog.V(2).Infoln("learned lease of node", msg.LeaseOwner)
		if wasOwner {
			glog.V(2).Infoln("lease lost to node", msg.LeaseOwner)
			l.ctx.OnLeaseTimeout()
			return OutcomeLost, nil
		}
		return OutcomeLearned, nil
	default:
		return OutcomeNone, fmt.Errorf("%w: %v is not a lease message", paxos.ErrUnknownType, t)
	}
	return OutcomeNone, nil
}

// onChosen is called when this node's own lease proposal got a majority.
func (l *Lease) onChosen() Outcome {
	now := l.clock()
	expireTime := l.proposer.expireTime

	msg := newMsg(l.ctx, paxos.LeaseLearnChosen, l.proposer.proposalID)
	msg.LeaseOwner = uint64(l.ctx.NodeID())
	msg.Duration = uint64(expireTime.Sub(now))
	l.ctx.Transport().BroadcastPriorityMessage(msg)

	if !l.learner.learn(l.ctx.NodeID(), l.proposer.proposalID, expireTime) {
		return OutcomeExtended
	}
	glog.V(2).Infoln("lease acquired until", expireTime)
	l.ctx.OnLearnLease()
	return OutcomeAcquired
}

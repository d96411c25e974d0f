package lease

import (
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

type acceptorState struct {
	promisedProposalID paxos.ProposalID
	accepted           bool
	acceptedProposalID paxos.ProposalID
	leaseOwner         quorum.NodeID
	expireTime         time.Time
}

// Acceptor grants leases. Its state is not durable; instead it stays
// silent for MaxLeaseTime after start, which outlasts any lease it may
// have granted before a restart.
type Acceptor struct {
	ctx        Context
	clock      func() time.Time
	activeFrom time.Time
	state      acceptorState
}

func NewAcceptor(ctx Context, clock func() time.Time, maxLeaseTime time.Duration) *Acceptor {
	return &Acceptor{
		ctx:        ctx,
		clock:      clock,
		activeFrom: clock().Add(maxLeaseTime),
	}
}

// IsActive reports whether the acceptor has waited out the startup
// period.
func (a *Acceptor) IsActive() bool {
	return !a.clock().Before(a.activeFrom)
}

func (a *Acceptor) expire(now time.Time) {
	if a.state.accepted && !now.Before(a.state.expireTime) {
		a.state.accepted = false
		a.state.acceptedProposalID = 0
		a.state.leaseOwner = 0
	}
}

func (a *Acceptor) OnPrepareRequest(msg *paxos.Message) {
	if !a.IsActive() {
		return
	}
	now := a.clock()
	a.expire(now)

	from := quorum.NodeID(msg.NodeID)
	pid := msg.GetProposalID()

	// A node that is behind in the log may not lead; it has to catch up
	// first. The reply carries our position so it can.
	if pid < a.state.promisedProposalID || msg.GetPaxosID() < a.ctx.GetPaxosID() {
		if glog.V(3) {
			glog.Infoln("rejecting lease prepare", pid, "from", from)
		}
		out := newMsg(a.ctx, paxos.LeasePrepareRejected, pid)
		out.PromisedProposalID = uint64(a.state.promisedProposalID)
		a.ctx.Transport().SendPriorityMessage(from, out)
		return
	}

	a.state.promisedProposalID = pid

	var out *paxos.Message
	if a.state.accepted {
		out = newMsg(a.ctx, paxos.LeasePreparePreviouslyAccepted, pid)
		out.AcceptedProposalID = uint64(a.state.acceptedProposalID)
		out.LeaseOwner = uint64(a.state.leaseOwner)
		out.Duration = uint64(a.state.expireTime.Sub(now))
	} else {
		out = newMsg(a.ctx, paxos.LeasePrepareCurrentlyOpen, pid)
	}
	a.ctx.Transport().SendPriorityMessage(from, out)
}

func (a *Acceptor) OnProposeRequest(msg *paxos.Message) {
	if !a.IsActive() {
		return
	}
	now := a.clock()
	a.expire(now)

	from := quorum.NodeID(msg.NodeID)
	pid := msg.GetProposalID()

	if pid < a.state.promisedProposalID {
		out := newMsg(a.ctx, paxos.LeaseProposeRejected, pid)
		out.PromisedProposalID = uint64(a.state.promisedProposalID)
		a.ctx.Transport().SendPriorityMessage(from, out)
		return
	}

	a.state.promisedProposalID = pid
	a.state.accepted = true
	a.state.acceptedProposalID = pid
	a.state.leaseOwner = quorum.NodeID(msg.LeaseOwner)
	a.state.expireTime = now.Add(time.Duration(msg.Duration))

	if glog.V(3) {
		glog.Infoln("accepted lease for", a.state.leaseOwner, "until", a.state.expireTime)
	}
	a.ctx.Transport().SendPriorityMessage(from, newMsg(a.ctx, paxos.LeaseProposeAccepted, pid))
}

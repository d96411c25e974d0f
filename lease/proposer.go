package lease

import (
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

type proposerPhase int

const (
	proposerIdle proposerPhase = iota
	proposerPreparing
	proposerProposing
)

// Proposer tries to make this node the lease owner.
type Proposer struct {
	ctx            Context
	clock          func() time.Time
	maxLeaseTime   time.Duration
	acquireTimeout time.Duration

	phase       proposerPhase
	proposalID  paxos.ProposalID
	highestSeen paxos.ProposalID
	responded   map[quorum.NodeID]bool
	positive    int
	negative    int
	otherOwner  bool
	deadline    time.Time

	// Earliest time for the next attempt after a failed one.
	retryAt time.Time

	// Expiry of the lease being proposed, measured from before the
	// propose request was sent.
	expireTime time.Time
}

func NewProposer(ctx Context, clock func() time.Time, maxLeaseTime, acquireTimeout time.Duration) *Proposer {
	return &Proposer{
		ctx:            ctx,
		clock:          clock,
		maxLeaseTime:   maxLeaseTime,
		acquireTimeout: acquireTimeout,
		// Lease proposal ids are not persisted. Starting every run in
		// its own range keeps them from repeating after a restart.
		proposalID: paxos.ProposalID(uint64(ctx.RunID()) << 48),
	}
}

func (p *Proposer) IsActive() bool {
	return p.phase != proposerIdle
}

// StartAcquiringLease begins a new attempt unless one is in progress.
func (p *Proposer) StartAcquiringLease() {
	if p.IsActive() {
		return
	}
	p.startPreparing()
}

func (p *Proposer) resetTally(now time.Time) {
	p.responded = make(map[quorum.NodeID]bool)
	p.positive = 0
	p.negative = 0
	p.otherOwner = false
	p.deadline = now.Add(p.acquireTimeout)
}

func (p *Proposer) startPreparing() {
	prev := p.proposalID
	if p.highestSeen > prev {
		prev = p.highestSeen
	}
	p.proposalID = paxos.NextProposalID(prev, p.ctx.NodeID())
	p.phase = proposerPreparing
	p.resetTally(p.clock())

	if glog.V(3) {
		glog.Infoln("lease prepare", p.proposalID)
	}
	p.ctx.Transport().BroadcastPriorityMessage(newMsg(p.ctx, paxos.LeasePrepareRequest, p.proposalID))
}

func (p *Proposer) startProposing() {
	now := p.clock()
	p.phase = proposerProposing
	p.resetTally(now)
	p.expireTime = now.Add(p.maxLeaseTime)

	msg := newMsg(p.ctx, paxos.LeaseProposeRequest, p.proposalID)
	msg.LeaseOwner = uint64(p.ctx.NodeID())
	msg.Duration = uint64(p.maxLeaseTime)
	p.ctx.Transport().BroadcastPriorityMessage(msg)
}

// backOff abandons the attempt. The next one is not made before the
// acquire timeout passed.
func (p *Proposer) backOff() {
	p.phase = proposerIdle
	p.retryAt = p.clock().Add(p.acquireTimeout)
}

func (p *Proposer) cannotSucceed() bool {
	q := p.ctx.Quorum()
	return p.negative > q.NumNodes()-q.Majority()
}

func (p *Proposer) accept(msg *paxos.Message, phase proposerPhase) bool {
	from := quorum.NodeID(msg.NodeID)
	if p.phase != phase || msg.GetProposalID() != p.proposalID || p.responded[from] {
		return false
	}
	p.responded[from] = true
	return true
}

func (p *Proposer) OnPrepareResponse(msg *paxos.Message) {
	if !p.accept(msg, proposerPreparing) {
		return
	}

	switch msg.Kind() {
	case paxos.LeasePrepareRejected:
		if id := msg.GetPromisedProposalID(); id > p.highestSeen {
			p.highestSeen = id
		}
		p.negative++
		if p.cannotSucceed() {
			p.backOff()
		}
		return
	case paxos.LeasePreparePreviouslyAccepted:
		if quorum.NodeID(msg.LeaseOwner) != p.ctx.NodeID() && msg.Duration > 0 {
			p.otherOwner = true
		}
	}

	p.positive++
	if p.positive < p.ctx.Quorum().Majority() {
		return
	}
	if p.otherOwner {
		if glog.V(3) {
			glog.Infoln("lease is held by another node, backing off")
		}
		p.backOff()
		return
	}
	p.startProposing()
}

// OnProposeResponse returns true once a majority accepted this node as
// lease owner and the lease has not yet run out.
func (p *Proposer) OnProposeResponse(msg *paxos.Message) bool {
	if !p.accept(msg, proposerProposing) {
		return false
	}

	if msg.Kind() == paxos.LeaseProposeRejected {
		if id := msg.GetPromisedProposalID(); id > p.highestSeen {
			p.highestSeen = id
		}
		p.negative++
		if p.cannotSucceed() {
			p.backOff()
		}
		return false
	}

	p.positive++
	if p.positive < p.ctx.Quorum().Majority() {
		return false
	}
	p.phase = proposerIdle
	return p.clock().Before(p.expireTime)
}

// Tick gives up an attempt that did not complete in time.
func (p *Proposer) Tick(now time.Time) {
	if p.IsActive() && !now.Before(p.deadline) {
		if glog.V(2) {
			glog.Infoln("lease attempt", p.proposalID, "timed out")
		}
		p.backOff()
	}
}

// CanRetry reports whether a new attempt may be started.
func (p *Proposer) CanRetry(now time.Time) bool {
	return !p.IsActive() && !now.Before(p.retryAt)
}

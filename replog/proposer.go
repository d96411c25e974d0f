package replog

import (
	"bytes"
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhasePreparing
	PhaseProposing
)

func (p Phase) String() string {
	switch p {
	case PhasePreparing:
		return "preparing"
	case PhaseProposing:
		return "proposing"
	default:
		return "idle"
	}
}

// ProposerState is the volatile progress of the proposer for the current
// log position. ProposalID and HighestSeen carry over to later positions.
type ProposerState struct {
	Phase       Phase
	ProposalID  paxos.ProposalID
	HighestSeen paxos.ProposalID

	// Value is what will be proposed in phase 2. It starts out as OwnValue
	// and is replaced if a promise reports a previously accepted value.
	Value           []byte
	OwnValue        []byte
	HighestAccepted paxos.ProposalID

	// Multi is set while this node is the unbroken lease holding leader
	// and its last proposal was chosen. The next position skips phase 1.
	Multi bool

	responded map[quorum.NodeID]bool
	positive  int
	negative  int
	deadline  time.Time
}

// Proposer drives phase 1 and phase 2 for one log position at a time.
type Proposer struct {
	ctx       Context
	persister Persister
	clock     func() time.Time
	timeout   time.Duration
	paxosID   paxos.PaxosID
	state     ProposerState

	// Number of prepare requests broadcast, for inspection.
	numPrepares uint64
}

func NewProposer(ctx Context, persister Persister, clock func() time.Time, timeout time.Duration) *Proposer {
	return &Proposer{
		ctx:       ctx,
		persister: persister,
		clock:     clock,
		timeout:   timeout,
	}
}

func (p *Proposer) State() ProposerState {
	return p.state
}

func (p *Proposer) IsActive() bool {
	return p.state.Phase != PhaseIdle
}

// SetProposalID seeds the proposer with the highest proposal id this node
// used before a restart.
func (p *Proposer) SetProposalID(id paxos.ProposalID) {
	if id > p.state.ProposalID {
		p.state.ProposalID = id
	}
}

// newRound clears the per-position state. Multi is cleared as well; the
// caller decides whether the next position may use the fast path.
func (p *Proposer) newRound(paxosID paxos.PaxosID) {
	p.paxosID = paxosID
	p.state = ProposerState{
		ProposalID:  p.state.ProposalID,
		HighestSeen: p.state.HighestSeen,
	}
}

// isOwnValue reports whether value is the one this proposer was asked to
// append for the current position.
func (p *Proposer) isOwnValue(value []byte) bool {
	return p.IsActive() && p.state.OwnValue != nil && bytes.Equal(p.state.OwnValue, value)
}

// Propose starts a round for value. It returns false if a round is already
// in progress.
func (p *Proposer) Propose(value []byte) bool {
	if p.IsActive() {
		return false
	}

	p.state.OwnValue = append([]byte{}, value...)
	if p.state.Multi {
		p.state.Value = p.state.OwnValue
		p.startProposing()
	} else {
		p.startPreparing()
	}
	return true
}

func (p *Proposer) resetTally() {
	p.state.responded = make(map[quorum.NodeID]bool)
	p.state.positive = 0
	p.state.negative = 0
	p.state.deadline = p.clock().Add(p.timeout)
}

// cannotSucceed reports whether enough members refused that a majority
// is out of reach.
func (p *Proposer) cannotSucceed() bool {
	q := p.ctx.Quorum()
	return p.state.negative > q.NumNodes()-q.Majority()
}

func (p *Proposer) newMsg(t paxos.MsgType) *paxos.Message {
	return &paxos.Message{
		Type:       uint32(t),
		QuorumID:   uint64(p.ctx.Quorum().ID()),
		NodeID:     uint64(p.ctx.NodeID()),
		RunID:      uint64(p.ctx.RunID()),
		PaxosID:    uint64(p.paxosID),
		ProposalID: uint64(p.state.ProposalID),
	}
}

func (p *Proposer) startPreparing() {
	p.state.Phase = PhasePreparing
	p.state.Multi = false
	p.state.Value = p.state.OwnValue
	p.state.HighestAccepted = 0

	prev := p.state.ProposalID
	if p.state.HighestSeen > prev {
		prev = p.state.HighestSeen
	}
	p.state.ProposalID = paxos.NextProposalID(prev, p.ctx.NodeID())
	p.resetTally()

	id, paxosID := p.state.ProposalID, p.paxosID
	if glog.V(2) {
		glog.Infoln("preparing", id, "at", paxosID)
	}
	p.persister.PersistProposalID(id, func() {
		if p.state.Phase != PhasePreparing || p.state.ProposalID != id || p.paxosID != paxosID {
			return
		}
		p.numPrepares++
		p.ctx.Transport().BroadcastMessage(p.newMsg(paxos.PrepareRequest))
	})
}

func (p *Proposer) startProposing() {
	p.state.Phase = PhaseProposing
	p.resetTally()

	if glog.V(3) {
		glog.Infoln("proposing", p.state.ProposalID, "at", p.paxosID, "multi", p.state.Multi)
	}
	msg := p.newMsg(paxos.ProposeRequest)
	msg.Value = append([]byte(nil), p.state.Value...)
	p.ctx.Transport().BroadcastMessage(msg)
}

func (p *Proposer) noteHighest(id paxos.ProposalID) {
	if id > p.state.HighestSeen {
		p.state.HighestSeen = id
	}
}

func (p *Proposer) OnPrepareResponse(msg *paxos.Message) {
	from := quorum.NodeID(msg.NodeID)
	if p.state.Phase != PhasePreparing || msg.GetProposalID() != p.state.ProposalID {
		return
	}
	if p.state.responded[from] {
		return
	}
	p.state.responded[from] = true

	switch msg.Kind() {
	case paxos.PrepareRejected:
		p.noteHighest(msg.GetPromisedProposalID())
		p.state.negative++
		if p.cannotSucceed() {
			if glog.V(2) {
				glog.Infoln("prepare", p.state.ProposalID, "rejected at", p.paxosID)
			}
			p.startPreparing()
		}
		return
	case paxos.PreparePreviouslyAccepted:
		if msg.GetAcceptedProposalID() > p.state.HighestAccepted {
			p.state.HighestAccepted = msg.GetAcceptedProposalID()
			p.state.Value = append([]byte{}, msg.Value...)
		}
	}

	p.state.positive++
	if p.state.positive >= p.ctx.Quorum().Majority() {
		p.startProposing()
	}
}

// OnProposeResponse tallies a phase 2 answer and returns true once a
// majority accepted, i.e. state.Value is chosen.
func (p *Proposer) OnProposeResponse(msg *paxos.Message) bool {
	from := quorum.NodeID(msg.NodeID)
	if p.state.Phase != PhaseProposing || msg.GetProposalID() != p.state.ProposalID {
		return false
	}
	if p.state.responded[from] {
		return false
	}
	p.state.responded[from] = true

	if msg.Kind() == paxos.ProposeRejected {
		p.state.Multi = false
		p.noteHighest(msg.GetPromisedProposalID())
		p.state.negative++
		if p.cannotSucceed() {
			if glog.V(2) {
				glog.Infoln("propose", p.state.ProposalID, "rejected at", p.paxosID)
			}
			p.startPreparing()
		}
		return false
	}

	p.state.positive++
	return p.state.positive >= p.ctx.Quorum().Majority()
}

// Tick restarts the round with a fresh proposal id if the current phase
// did not complete in time.
func (p *Proposer) Tick(now time.Time) {
	if !p.IsActive() || now.Before(p.state.deadline) {
		return
	}
	if glog.V(2) {
		glog.Infoln(p.state.Phase, "timed out at", p.paxosID)
	}
	p.startPreparing()
}

func (p *Proposer) clearMulti() {
	p.state.Multi = false
}

package replog

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

var (
	ErrNotLeader      = errors.New("replog: node is not the leader")
	ErrProposalActive = errors.New("replog: a proposal is already in progress")
	ErrWrongQuorum    = errors.New("replog: message for another quorum")
	ErrNotMember      = errors.New("replog: sender is not a quorum member")
)

// Outcome tells the caller what a message did to the log.
type Outcome int

const (
	// Processed by the acceptor or proposer without advancing the log.
	OutcomeNone Outcome = iota
	// The message referred to an earlier position.
	OutcomeStale
	// The sender is ahead; a catch-up request was issued.
	OutcomeLagging
	// A value was chosen and the log advanced.
	OutcomeChosen
	// A peer asked this node to resynchronize out of band.
	OutcomeCatchup
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStale:
		return "stale"
	case OutcomeLagging:
		return "lagging"
	case OutcomeChosen:
		return "chosen"
	case OutcomeCatchup:
		return "catchup"
	default:
		return "none"
	}
}

// Pack holds everything a ReplicatedLog is built from.
type Pack struct {
	Context   Context
	Persister Persister

	// ChosenLog may be nil, in which case only the LogCache is used to
	// serve lagging peers.
	ChosenLog ChosenLog

	Clock                 func() time.Time
	PaxosTimeout          time.Duration
	RequestChosenCooldown time.Duration
	LogCacheSize          int
}

// ReplicatedLog decides a sequence of values, one position at a time, and
// brings lagging members up to date.
type ReplicatedLog struct {
	ctx       Context
	persister Persister
	chosenLog ChosenLog
	clock     func() time.Time
	cooldown  time.Duration

	proposer *Proposer
	acceptor *Acceptor
	logCache *LogCache

	paxosID        paxos.PaxosID
	highestPaxosID paxos.PaxosID

	lastRequestChosenPaxosID paxos.PaxosID
	lastRequestChosenTime    time.Time
	requestedChosen          bool
}

func NewReplicatedLog(pack *Pack) *ReplicatedLog {
	clock := pack.Clock
	if clock == nil {
		clock = time.Now
	}
	rl := &ReplicatedLog{
		ctx:       pack.Context,
		persister: pack.Persister,
		chosenLog: pack.ChosenLog,
		clock:     clock,
		cooldown:  pack.RequestChosenCooldown,
		proposer:  NewProposer(pack.Context, pack.Persister, clock, pack.PaxosTimeout),
		acceptor:  NewAcceptor(pack.Context, pack.Persister),
		logCache:  NewLogCache(pack.LogCacheSize),
	}
	return rl
}

func (rl *ReplicatedLog) Proposer() *Proposer {
	return rl.proposer
}

func (rl *ReplicatedLog) Acceptor() *Acceptor {
	return rl.acceptor
}

func (rl *ReplicatedLog) LogCache() *LogCache {
	return rl.logCache
}

func (rl *ReplicatedLog) GetPaxosID() paxos.PaxosID {
	return rl.paxosID
}

// SetPaxosID moves the log to paxosID, discarding any round in progress.
// It is used when the state machine was restored from a snapshot or
// replayed from the chosen log.
func (rl *ReplicatedLog) SetPaxosID(paxosID paxos.PaxosID) {
	rl.paxosID = paxosID
	rl.proposer.newRound(paxosID)
	rl.acceptor.newRound(paxosID)
	if paxosID > rl.highestPaxosID {
		rl.highestPaxosID = paxosID
	}
}

// GetHighestPaxosID returns the highest position any peer is known to
// have reached.
func (rl *ReplicatedLog) GetHighestPaxosID() paxos.PaxosID {
	return rl.highestPaxosID
}

func (rl *ReplicatedLog) IsMultiPaxos() bool {
	return rl.proposer.state.Multi
}

// IsAppending reports whether this node is the leader and has a round in
// progress.
func (rl *ReplicatedLog) IsAppending() bool {
	return rl.ctx.IsLeader() && rl.proposer.IsActive()
}

// Append proposes value at the current position.
func (rl *ReplicatedLog) Append(value []byte) error {
	if !rl.ctx.IsLeader() {
		return ErrNotLeader
	}
	if !rl.proposer.Propose(value) {
		return ErrProposalActive
	}
	return nil
}

// TryAppendNextValue pulls the next value from the state machine and
// proposes it, if this node is the idle leader.
func (rl *ReplicatedLog) TryAppendNextValue() {
	if !rl.ctx.IsLeader() || rl.proposer.IsActive() {
		return
	}
	value := rl.ctx.GetNextValue()
	if value == nil {
		return
	}
	rl.proposer.Propose(value)
}

// OnLearnLease is called when this node becomes lease owner.
func (rl *ReplicatedLog) OnLearnLease() {
	rl.TryAppendNextValue()
}

// OnLeaseTimeout is called when this node's lease expired.
func (rl *ReplicatedLog) OnLeaseTimeout() {
	rl.proposer.clearMulti()
}

// Tick drives the proposer timeouts.
func (rl *ReplicatedLog) Tick(now time.Time) {
	rl.proposer.Tick(now)
}

// RegisterPaxosID records that node has reached paxosID and starts a
// catch-up if that is ahead of this node.
func (rl *ReplicatedLog) RegisterPaxosID(paxosID paxos.PaxosID, node quorum.NodeID) {
	if paxosID > rl.highestPaxosID {
		rl.highestPaxosID = paxosID
	}
	if paxosID > rl.paxosID {
		rl.requestChosen(node)
	}
}

// OnMessage dispatches a replication message. Errors are only returned for
// messages that must be dropped: malformed, unknown type, wrong quorum or
// non-member sender.
func (rl *ReplicatedLog) OnMessage(msg *paxos.Message) (Outcome, error) {
	if err := msg.Validate(); err != nil {
		return OutcomeNone, err
	}
	if quorum.ID(msg.QuorumID) != rl.ctx.Quorum().ID() {
		return OutcomeNone, fmt.Errorf("%w: %d", ErrWrongQuorum, msg.QuorumID)
	}
	if !rl.ctx.Quorum().IsMember(quorum.NodeID(msg.NodeID)) {
		return OutcomeNone, fmt.Errorf("%w: %d", ErrNotMember, msg.NodeID)
	}

	t := msg.Kind()
	if t.IsLearn() {
		rl.noteHighest(msg.GetPaxosID() + 1)
	} else {
		rl.noteHighest(msg.GetPaxosID())
	}

	switch {
	case t == paxos.PrepareRequest:
		return rl.onPrepareRequest(msg), nil
	case t.IsPrepareResponse():
		return rl.onPrepareResponse(msg), nil
	case t == paxos.ProposeRequest:
		return rl.onProposeRequest(msg), nil
	case t.IsProposeResponse():
		return rl.onProposeResponse(msg), nil
	case t.IsLearn():
		return rl.onLearnChosen(msg), nil
	case t == paxos.RequestChosen:
		return rl.onRequestChosen(msg), nil
	case t == paxos.StartCatchup:
		return rl.onStartCatchup(msg), nil
	}
	return OutcomeNone, fmt.Errorf("%w: %v is not a replication message", paxos.ErrUnknownType, t)
}

func (rl *ReplicatedLog) noteHighest(paxosID paxos.PaxosID) {
	if paxosID > rl.highestPaxosID {
		rl.highestPaxosID = paxosID
	}
}

func (rl *ReplicatedLog) onPrepareRequest(msg *paxos.Message) Outcome {
	if msg.GetPaxosID() == rl.paxosID {
		rl.acceptor.OnPrepareRequest(msg)
		return OutcomeNone
	}
	return rl.onRequest(msg)
}

func (rl *ReplicatedLog) onPrepareResponse(msg *paxos.Message) Outcome {
	if msg.GetPaxosID() != rl.paxosID {
		return OutcomeStale
	}
	rl.proposer.OnPrepareResponse(msg)
	return OutcomeNone
}

func (rl *ReplicatedLog) onProposeRequest(msg *paxos.Message) Outcome {
	if msg.GetPaxosID() == rl.paxosID {
		rl.acceptor.OnProposeRequest(msg)
		return OutcomeNone
	}
	return rl.onRequest(msg)
}

func (rl *ReplicatedLog) onProposeResponse(msg *paxos.Message) Outcome {
	if msg.GetPaxosID() != rl.paxosID {
		return OutcomeStale
	}
	if !rl.proposer.OnProposeResponse(msg) {
		return OutcomeNone
	}

	// The value is chosen. Tell the others which proposal won; they use
	// the value they accepted for it, or ask for it if they did not.
	learn := rl.proposer.newMsg(paxos.LearnProposal)
	rl.ctx.Transport().BroadcastMessage(learn)

	rl.learn(rl.proposer.state.Value, rl.ctx.NodeID(), true)
	return OutcomeChosen
}

// onRequest handles prepare and propose requests for another position:
// a lagging sender is sent the chosen value, a sender that is ahead makes
// this node catch up.
func (rl *ReplicatedLog) onRequest(msg *paxos.Message) Outcome {
	from := quorum.NodeID(msg.NodeID)
	if msg.GetPaxosID() < rl.paxosID {
		rl.sendChosen(from, msg.GetPaxosID())
		return OutcomeStale
	}
	rl.requestChosen(from)
	return OutcomeLagging
}

func (rl *ReplicatedLog) onLearnChosen(msg *paxos.Message) Outcome {
	from := quorum.NodeID(msg.NodeID)

	if msg.GetPaxosID() > rl.paxosID {
		rl.requestChosen(from)
		return OutcomeLagging
	} else if msg.GetPaxosID() < rl.paxosID {
		return OutcomeStale
	}

	var value []byte
	st := &rl.acceptor.state
	if msg.Kind() == paxos.LearnValue {
		value = msg.Value
	} else if st.Accepted && st.AcceptedProposalID == msg.GetProposalID() {
		value = st.AcceptedValue
	} else {
		rl.requestChosen(from)
		return OutcomeLagging
	}

	rl.learn(value, from, false)
	return OutcomeChosen
}

// learn records value as chosen at the current position and advances the
// log. byOwnProposer is true when this node's proposer just collected the
// majority itself.
func (rl *ReplicatedLog) learn(value []byte, from quorum.NodeID, byOwnProposer bool) {
	paxosID := rl.paxosID
	value = append([]byte{}, value...)
	ownAppend := rl.proposer.isOwnValue(value)
	multi := byOwnProposer && rl.ctx.IsLeader()

	if glog.V(2) {
		glog.Infoln("chosen at", paxosID, "own:", ownAppend, "multi:", multi)
	}

	rl.logCache.Set(paxosID, value)
	rl.newPaxosRound()
	rl.proposer.state.Multi = multi

	if rl.highestPaxosID > rl.paxosID && from != rl.ctx.NodeID() {
		rl.requestChosen(from)
	}

	rl.persister.PersistChosen(paxosID, value, func() {
		rl.ctx.OnAppend(paxosID, value, ownAppend)
		rl.TryAppendNextValue()
	})
}

func (rl *ReplicatedLog) newPaxosRound() {
	rl.paxosID++
	rl.proposer.newRound(rl.paxosID)
	rl.acceptor.newRound(rl.paxosID)
}

func (rl *ReplicatedLog) onRequestChosen(msg *paxos.Message) Outcome {
	if msg.GetPaxosID() >= rl.paxosID {
		return OutcomeNone
	}
	rl.sendChosen(quorum.NodeID(msg.NodeID), msg.GetPaxosID())
	return OutcomeStale
}

// sendChosen serves a chosen position to a lagging node: from the cache,
// then from the durable log, or tells it to catch up out of band.
func (rl *ReplicatedLog) sendChosen(node quorum.NodeID, paxosID paxos.PaxosID) {
	value, found := rl.logCache.Get(paxosID)
	if !found && rl.chosenLog != nil {
		value, found = rl.chosenLog.GetChosen(paxosID)
	}

	msg := &paxos.Message{
		QuorumID: uint64(rl.ctx.Quorum().ID()),
		NodeID:   uint64(rl.ctx.NodeID()),
		RunID:    uint64(rl.ctx.RunID()),
		PaxosID:  uint64(paxosID),
	}
	if found {
		if glog.V(3) {
			glog.Infoln("sending chosen", paxosID, "to", node)
		}
		msg.Type = uint32(paxos.LearnValue)
		msg.Value = append([]byte(nil), value...)
	} else {
		if glog.V(2) {
			glog.Infoln("node", node, "is too far behind at", paxosID)
		}
		msg.Type = uint32(paxos.StartCatchup)
	}
	rl.ctx.Transport().SendMessage(node, msg)
}

func (rl *ReplicatedLog) onStartCatchup(msg *paxos.Message) Outcome {
	if msg.GetPaxosID() != rl.paxosID {
		return OutcomeStale
	}
	rl.ctx.OnStartCatchup(quorum.NodeID(msg.NodeID), rl.paxosID)
	return OutcomeCatchup
}

// requestChosen asks node for the value chosen at the current position.
// Repeated requests for the same position are suppressed for the cooldown.
func (rl *ReplicatedLog) requestChosen(node quorum.NodeID) {
	now := rl.clock()
	if rl.requestedChosen && rl.lastRequestChosenPaxosID == rl.paxosID &&
		now.Sub(rl.lastRequestChosenTime) < rl.cooldown {
		return
	}
	rl.requestedChosen = true
	rl.lastRequestChosenPaxosID = rl.paxosID
	rl.lastRequestChosenTime = now

	if glog.V(3) {
		glog.Infoln("requesting chosen", rl.paxosID, "from", node)
	}
	rl.ctx.Transport().SendMessage(node, &paxos.Message{
		Type:     uint32(paxos.RequestChosen),
		QuorumID: uint64(rl.ctx.Quorum().ID()),
		NodeID:   uint64(rl.ctx.NodeID()),
		RunID:    uint64(rl.ctx.RunID()),
		PaxosID:  uint64(rl.paxosID),
	})
}

package replog

import (
	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

// AcceptorState is the durable part of an acceptor. The promise survives
// log advancement; everything else describes the current position only.
type AcceptorState struct {
	PaxosID            paxos.PaxosID
	PromisedProposalID paxos.ProposalID
	Accepted           bool
	AcceptedProposalID paxos.ProposalID
	AcceptedValue      []byte
	AcceptedNodeID     quorum.NodeID
	AcceptedRunID      paxos.RunID
}

// Acceptor answers prepare and propose requests for the current log
// position. A reply that depends on a state change is only sent after the
// change has been persisted.
type Acceptor struct {
	ctx       Context
	persister Persister
	state     AcceptorState
	inflight  int
}

func NewAcceptor(ctx Context, persister Persister) *Acceptor {
	return &Acceptor{
		ctx:       ctx,
		persister: persister,
	}
}

// State returns a copy of the acceptor state.
func (a *Acceptor) State() AcceptorState {
	st := a.state
	st.AcceptedValue = append([]byte(nil), a.state.AcceptedValue...)
	return st
}

// Restore loads persisted state. Accepted fields recorded for another
// position are dropped; the promise is always kept.
func (a *Acceptor) Restore(st AcceptorState, paxosID paxos.PaxosID) {
	if st.PaxosID != paxosID {
		st = AcceptorState{PromisedProposalID: st.PromisedProposalID}
	}
	st.PaxosID = paxosID
	a.state = st
}

func (a *Acceptor) newRound(paxosID paxos.PaxosID) {
	a.state = AcceptorState{
		PaxosID:            paxosID,
		PromisedProposalID: a.state.PromisedProposalID,
	}
}

func (a *Acceptor) reply(msg *paxos.Message, t paxos.MsgType) *paxos.Message {
	return &paxos.Message{
		Type:       uint32(t),
		QuorumID:   uint64(a.ctx.Quorum().ID()),
		NodeID:     uint64(a.ctx.NodeID()),
		RunID:      uint64(a.ctx.RunID()),
		PaxosID:    uint64(a.state.PaxosID),
		ProposalID: msg.ProposalID,
	}
}

// persistThenSend makes the current state durable and sends out to dest
// afterwards. If nothing changed and no earlier write is still pending the
// reply goes out directly.
func (a *Acceptor) persistThenSend(changed bool, dest quorum.NodeID, out *paxos.Message) {
	if !changed && a.inflight == 0 {
		a.ctx.Transport().SendMessage(dest, out)
		return
	}
	a.inflight++
	a.persister.PersistAcceptor(a.State(), func() {
		a.inflight--
		a.ctx.Transport().SendMessage(dest, out)
	})
}

func (a *Acceptor) OnPrepareRequest(msg *paxos.Message) {
	from := quorum.NodeID(msg.NodeID)
	pid := msg.GetProposalID()

	if pid < a.state.PromisedProposalID {
		if glog.V(3) {
			glog.Infoln("rejecting prepare", pid, "from", from, "promised", a.state.PromisedProposalID)
		}
		out := a.reply(msg, paxos.PrepareRejected)
		out.PromisedProposalID = uint64(a.state.PromisedProposalID)
		a.ctx.Transport().SendMessage(from, out)
		return
	}

	changed := pid != a.state.PromisedProposalID
	a.state.PromisedProposalID = pid

	var out *paxos.Message
	if a.state.Accepted {
		out = a.reply(msg, paxos.PreparePreviouslyAccepted)
		out.AcceptedProposalID = uint64(a.state.AcceptedProposalID)
		out.Value = append([]byte(nil), a.state.AcceptedValue...)
	} else {
		out = a.reply(msg, paxos.PrepareCurrentlyOpen)
	}

	if glog.V(3) {
		glog.Infoln("promising", pid, "to", from, "at", a.state.PaxosID)
	}
	a.persistThenSend(changed, from, out)
}

func (a *Acceptor) OnProposeRequest(msg *paxos.Message) {
	from := quorum.NodeID(msg.NodeID)
	pid := msg.GetProposalID()

	if pid < a.state.PromisedProposalID {
		if glog.V(3) {
			glog.Infoln("rejecting propose", pid, "from", from, "promised", a.state.PromisedProposalID)
		}
		out := a.reply(msg, paxos.ProposeRejected)
		out.PromisedProposalID = uint64(a.state.PromisedProposalID)
		a.ctx.Transport().SendMessage(from, out)
		return
	}

	changed := !a.state.Accepted || a.state.AcceptedProposalID != pid
	if changed {
		a.state.PromisedProposalID = pid
		a.state.Accepted = true
		a.state.AcceptedProposalID = pid
		a.state.AcceptedValue = append([]byte(nil), msg.Value...)
		a.state.AcceptedNodeID = from
		a.state.AcceptedRunID = paxos.RunID(msg.RunID)
	}

	if glog.V(3) {
		glog.Infoln("accepting", pid, "from", from, "at", a.state.PaxosID)
	}
	a.persistThenSend(changed, from, a.reply(msg, paxos.ProposeAccepted))
}

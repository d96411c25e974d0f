package replog

import (
	"errors"
	"fmt"
	"math/rand"

	gc "gopkg.in/check.v1"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

type rlSuite struct {
	c *cluster
}

var _ = gc.Suite(&rlSuite{})

func (s *rlSuite) SetUpTest(c *gc.C) {
	s.c = newCluster(3, 100)
}

// -----------------------------------------------------------------------
// Basic agreement

func (s *rlSuite) TestSingleProposerHappyPath(c *gc.C) {
	leader := s.c.nodes[0]
	leader.leader = true

	c.Assert(leader.rl.Append([]byte("x")), gc.IsNil)
	c.Assert(s.c.count(paxos.PrepareRequest), gc.Equals, 3)
	s.c.run()

	for _, id := range s.c.q.Nodes() {
		n := s.c.nodes[id]
		c.Assert(n.rl.GetPaxosID(), gc.Equals, paxos.PaxosID(1))
		c.Assert(n.appended, gc.HasLen, 1)
		c.Assert(n.appended[0].value, gc.Equals, "x")
		c.Assert(n.appended[0].ownAppend, gc.Equals, id == 0)
	}
	c.Assert(leader.rl.IsMultiPaxos(), gc.Equals, true)
}

func (s *rlSuite) TestAppendRequiresLeadership(c *gc.C) {
	n := s.c.nodes[1]
	c.Assert(n.rl.Append([]byte("x")), gc.Equals, ErrNotLeader)

	n.leader = true
	c.Assert(n.rl.Append([]byte("x")), gc.IsNil)
	c.Assert(n.rl.Append([]byte("y")), gc.Equals, ErrProposalActive)
}

func (s *rlSuite) TestFastPathSkipsPrepare(c *gc.C) {
	leader := s.c.nodes[0]
	leader.leader = true
	for i := 0; i < 100; i++ {
		leader.next = append(leader.next, []byte(fmt.Sprintf("v%d", i)))
	}

	leader.rl.TryAppendNextValue()
	s.c.run()

	c.Assert(leader.rl.Proposer().numPrepares, gc.Equals, uint64(1))
	for _, id := range s.c.q.Nodes() {
		n := s.c.nodes[id]
		c.Assert(n.rl.GetPaxosID(), gc.Equals, paxos.PaxosID(100))
		c.Assert(n.appended, gc.HasLen, 100)
		for i, a := range n.appended {
			c.Assert(a.paxosID, gc.Equals, paxos.PaxosID(i))
			c.Assert(a.value, gc.Equals, fmt.Sprintf("v%d", i))
		}
	}
}

func (s *rlSuite) TestLeaseTimeoutClearsMulti(c *gc.C) {
	leader := s.c.nodes[0]
	leader.leader = true
	c.Assert(leader.rl.Append([]byte("a")), gc.IsNil)
	s.c.run()
	c.Assert(leader.rl.IsMultiPaxos(), gc.Equals, true)

	leader.rl.OnLeaseTimeout()
	c.Assert(leader.rl.IsMultiPaxos(), gc.Equals, false)

	c.Assert(leader.rl.Append([]byte("b")), gc.IsNil)
	c.Assert(s.c.count(paxos.PrepareRequest), gc.Equals, 3)
	s.c.run()
	c.Assert(leader.values(), gc.DeepEquals, []string{"a", "b"})
}

func (s *rlSuite) TestNonLeaderDoesNotEnableMulti(c *gc.C) {
	leader := s.c.nodes[0]
	leader.leader = true
	c.Assert(leader.rl.Append([]byte("a")), gc.IsNil)
	// Lose the lease before the value is chosen.
	leader.leader = false
	s.c.run()
	c.Assert(leader.rl.IsMultiPaxos(), gc.Equals, false)
	c.Assert(leader.appended, gc.HasLen, 1)
}

// -----------------------------------------------------------------------
// Competing proposers under loss, duplication and reordering

func (s *rlSuite) TestDuelingProposersAgree(c *gc.C) {
	for seed := int64(1); seed <= 20; seed++ {
		cl := newCluster(3, 100)
		rnd := rand.New(rand.NewSource(seed))
		a, b := cl.nodes[0], cl.nodes[1]
		a.leader, b.leader = true, true
		c.Assert(a.rl.Append([]byte("A")), gc.IsNil)
		c.Assert(b.rl.Append([]byte("B")), gc.IsNil)

		for i := 0; i < 2000; i++ {
			if len(cl.queue) == 0 {
				cl.advance(testTimeout)
				continue
			}
			cl.step(rnd, 0.2, 0.1)
		}

		// Heal: reliable FIFO delivery, only node 0 keeps retrying.
		b.leader = false
		for round := 0; round < 50 && !allLearned(cl, 1); round++ {
			cl.run()
			cl.now = cl.now.Add(testTimeout)
			a.rl.Tick(cl.now)
			for _, id := range cl.q.Nodes() {
				n := cl.nodes[id]
				for _, other := range cl.q.Nodes() {
					if cl.nodes[other].rl.GetPaxosID() > n.rl.GetPaxosID() {
						n.rl.RegisterPaxosID(cl.nodes[other].rl.GetPaxosID(), other)
					}
				}
			}
		}
		cl.run()

		c.Assert(allLearned(cl, 1), gc.Equals, true, gc.Commentf("seed %d", seed))
		first := cl.nodes[0].appended[0].value
		c.Assert(first == "A" || first == "B", gc.Equals, true)
		for _, id := range cl.q.Nodes() {
			n := cl.nodes[id]
			c.Assert(n.appended, gc.HasLen, 1, gc.Commentf("seed %d node %v", seed, id))
			c.Assert(n.appended[0].value, gc.Equals, first, gc.Commentf("seed %d node %v", seed, id))
		}
	}
}

func (s *rlSuite) TestDuelingLeadersAgreeOnEveryPosition(c *gc.C) {
	total := 0
	for seed := int64(1); seed <= 50; seed++ {
		cl := newCluster(3, 4)
		rnd := rand.New(rand.NewSource(seed))
		a, b := cl.nodes[0], cl.nodes[1]
		a.leader, b.leader = true, true
		proposed := make(map[string]bool)
		for i := 0; i < 10; i++ {
			for _, n := range []*testNode{a, b} {
				v := fmt.Sprintf("%d-%d", n.id, i)
				n.next = append(n.next, []byte(v))
				proposed[v] = true
			}
		}
		a.rl.TryAppendNextValue()
		b.rl.TryAppendNextValue()

		for i := 0; i < 5000; i++ {
			if len(cl.queue) == 0 {
				cl.advance(testTimeout)
				continue
			}
			cl.step(rnd, 0.2, 0.1)
		}

		chosen := make(map[paxos.PaxosID]string)
		for _, id := range cl.q.Nodes() {
			for i, ap := range cl.nodes[id].appended {
				comment := gc.Commentf("seed %d node %v position %d", seed, id, ap.paxosID)
				c.Assert(ap.paxosID, gc.Equals, paxos.PaxosID(i), comment)
				c.Assert(proposed[ap.value], gc.Equals, true, comment)
				if v, found := chosen[ap.paxosID]; found {
					c.Assert(ap.value, gc.Equals, v, comment)
				} else {
					chosen[ap.paxosID] = ap.value
				}
			}
		}
		total += len(chosen)
	}
	c.Assert(total > 0, gc.Equals, true)
}

func allLearned(cl *cluster, n int) bool {
	for _, id := range cl.q.Nodes() {
		if len(cl.nodes[id].appended) < n {
			return false
		}
	}
	return true
}

func (s *rlSuite) TestHigherProposalAdoptsAcceptedValue(c *gc.C) {
	a, b := s.c.nodes[0], s.c.nodes[1]
	a.leader, b.leader = true, true

	// "A" is accepted by node 2 only and a never hears back.
	c.Assert(a.rl.Append([]byte("A")), gc.IsNil)
	s.c.runFiltered(func(env envelope) bool {
		switch env.msg.Kind() {
		case paxos.ProposeRequest:
			return env.to == 2
		case paxos.ProposeAccepted:
			return false
		}
		return true
	})
	c.Assert(a.rl.Proposer().State().Phase, gc.Equals, PhaseProposing)
	c.Assert(s.c.nodes[2].rl.Acceptor().State().AcceptedValue, gc.DeepEquals, []byte("A"))

	// b prepares with a higher id and must adopt "A".
	s.c.down[0] = true
	c.Assert(b.rl.Append([]byte("B")), gc.IsNil)
	s.c.run()
	c.Assert(b.values(), gc.DeepEquals, []string{"A"})
	c.Assert(b.appended[0].ownAppend, gc.Equals, false)
	c.Assert(s.c.nodes[2].values(), gc.DeepEquals, []string{"A"})
}

// -----------------------------------------------------------------------
// Catch-up

func (s *rlSuite) TestLaggingNodeCatchesUp(c *gc.C) {
	leader := s.c.nodes[0]
	leader.leader = true
	for i := 0; i < 10; i++ {
		leader.next = append(leader.next, []byte(fmt.Sprintf("v%d", i)))
	}

	s.c.down[2] = true
	leader.rl.TryAppendNextValue()
	s.c.run()
	c.Assert(leader.rl.GetPaxosID(), gc.Equals, paxos.PaxosID(10))
	c.Assert(s.c.nodes[2].rl.GetPaxosID(), gc.Equals, paxos.PaxosID(0))

	// Reconnect; the next proposal tells node 2 it is behind.
	s.c.down[2] = false
	c.Assert(leader.rl.Append([]byte("v10")), gc.IsNil)
	s.c.run()

	lagger := s.c.nodes[2]
	c.Assert(lagger.rl.GetPaxosID(), gc.Equals, paxos.PaxosID(11))
	c.Assert(lagger.appended, gc.HasLen, 11)
	for i, a := range lagger.appended {
		c.Assert(a.paxosID, gc.Equals, paxos.PaxosID(i))
		c.Assert(a.value, gc.Equals, fmt.Sprintf("v%d", i))
	}
	c.Assert(lagger.catchups, gc.HasLen, 0)
}

func (s *rlSuite) TestCatchUpFromChosenLog(c *gc.C) {
	s.c = newCluster(3, 2)
	leader := s.c.nodes[0]
	leader.leader = true
	for i := 0; i < 5; i++ {
		leader.next = append(leader.next, []byte(fmt.Sprintf("v%d", i)))
	}
	s.c.down[2] = true
	leader.rl.TryAppendNextValue()
	s.c.run()
	s.c.down[2] = false

	_, found := leader.rl.LogCache().Get(0)
	c.Assert(found, gc.Equals, false)

	lagger := s.c.nodes[2]
	lagger.rl.RegisterPaxosID(5, 0)
	s.c.run()
	c.Assert(lagger.values(), gc.DeepEquals, []string{"v0", "v1", "v2", "v3", "v4"})
}

func (s *rlSuite) TestTooFarBehindStartsCatchup(c *gc.C) {
	s.c = newCluster(3, 2)
	for _, id := range s.c.q.Nodes() {
		n := s.c.nodes[id]
		n.rl = s.c.newLog(n, false)
	}
	leader := s.c.nodes[0]
	leader.leader = true
	for i := 0; i < 5; i++ {
		leader.next = append(leader.next, []byte(fmt.Sprintf("v%d", i)))
	}
	s.c.down[2] = true
	leader.rl.TryAppendNextValue()
	s.c.run()
	s.c.down[2] = false

	lagger := s.c.nodes[2]
	lagger.rl.RegisterPaxosID(5, 0)
	s.c.run()
	c.Assert(lagger.appended, gc.HasLen, 0)
	c.Assert(lagger.catchups, gc.DeepEquals, []paxos.PaxosID{0})
}

func (s *rlSuite) TestRequestChosenIsThrottled(c *gc.C) {
	n := s.c.nodes[1]
	n.rl.RegisterPaxosID(3, 0)
	n.rl.RegisterPaxosID(4, 2)
	c.Assert(s.c.count(paxos.RequestChosen), gc.Equals, 1)
	c.Assert(n.rl.GetHighestPaxosID(), gc.Equals, paxos.PaxosID(4))

	s.c.now = s.c.now.Add(testCooldown)
	n.rl.RegisterPaxosID(4, 2)
	c.Assert(s.c.count(paxos.RequestChosen), gc.Equals, 2)
}

func (s *rlSuite) TestStaleLearnIsIgnored(c *gc.C) {
	leader := s.c.nodes[0]
	leader.leader = true
	c.Assert(leader.rl.Append([]byte("x")), gc.IsNil)
	s.c.run()

	out, err := s.c.nodes[1].rl.OnMessage(&paxos.Message{
		Type: uint32(paxos.LearnValue), QuorumID: uint64(testQuorumID),
		NodeID: 2, PaxosID: 0, Value: []byte("other"),
	})
	c.Assert(err, gc.IsNil)
	c.Assert(out, gc.Equals, OutcomeStale)
	c.Assert(s.c.nodes[1].values(), gc.DeepEquals, []string{"x"})
}

// -----------------------------------------------------------------------
// Restarts and durability

func (s *rlSuite) TestRestartedAcceptorKeepsAcceptedValue(c *gc.C) {
	a := s.c.nodes[0]
	a.leader = true
	c.Assert(a.rl.Append([]byte("A")), gc.IsNil)

	// Let phase 1 complete and phase 2 reach node 1 only.
	s.c.runFiltered(func(env envelope) bool {
		switch env.msg.Kind() {
		case paxos.ProposeRequest:
			return env.to == 1
		case paxos.ProposeAccepted:
			return false
		}
		return true
	})
	c.Assert(s.c.nodes[1].store.acceptor.Accepted, gc.Equals, true)

	restarted := s.c.restart(1)
	c.Assert(restarted.rl.Acceptor().State().AcceptedValue, gc.DeepEquals, []byte("A"))

	// Node 2 becomes leader and proposes "B"; it must learn "A".
	b := s.c.nodes[2]
	b.leader = true
	a.leader = false
	s.c.down[0] = true
	c.Assert(b.rl.Append([]byte("B")), gc.IsNil)
	s.c.run()
	c.Assert(b.values(), gc.DeepEquals, []string{"A"})
	c.Assert(restarted.values(), gc.DeepEquals, []string{"A"})
}

func (s *rlSuite) TestProposalIDsIncreaseAcrossRestart(c *gc.C) {
	n := s.c.nodes[0]
	n.leader = true
	c.Assert(n.rl.Append([]byte("a")), gc.IsNil)
	first := n.rl.Proposer().State().ProposalID
	s.c.queue = nil

	restarted := s.c.restart(0)
	restarted.leader = true
	c.Assert(restarted.rl.Append([]byte("b")), gc.IsNil)
	c.Assert(restarted.rl.Proposer().State().ProposalID > first, gc.Equals, true)
}

func (s *rlSuite) TestNoReplyBeforeDurable(c *gc.C) {
	acc := s.c.nodes[1]
	acc.store.hold = true

	prepare := &paxos.Message{
		Type: uint32(paxos.PrepareRequest), QuorumID: uint64(testQuorumID),
		NodeID: 0, RunID: 1, PaxosID: 0, ProposalID: uint64(paxos.NextProposalID(0, 0)),
	}
	_, err := acc.rl.OnMessage(prepare)
	c.Assert(err, gc.IsNil)
	c.Assert(s.c.queue, gc.HasLen, 0)

	// A duplicate while the write is pending must not be answered early.
	_, err = acc.rl.OnMessage(prepare.Clone())
	c.Assert(err, gc.IsNil)
	c.Assert(s.c.queue, gc.HasLen, 0)

	acc.store.release()
	c.Assert(s.c.queue, gc.HasLen, 2)
	c.Assert(s.c.queue[0].msg.Kind(), gc.Equals, paxos.PrepareCurrentlyOpen)
}

func (s *rlSuite) TestDuplicatePrepareIsIdempotent(c *gc.C) {
	acc := s.c.nodes[1]
	prepare := &paxos.Message{
		Type: uint32(paxos.PrepareRequest), QuorumID: uint64(testQuorumID),
		NodeID: 0, RunID: 1, PaxosID: 0, ProposalID: uint64(paxos.NextProposalID(0, 0)),
	}
	_, err := acc.rl.OnMessage(prepare)
	c.Assert(err, gc.IsNil)
	writes := acc.store.writes
	state := acc.rl.Acceptor().State()

	_, err = acc.rl.OnMessage(prepare.Clone())
	c.Assert(err, gc.IsNil)
	c.Assert(acc.store.writes, gc.Equals, writes)
	c.Assert(acc.rl.Acceptor().State(), gc.DeepEquals, state)
	c.Assert(s.c.queue, gc.HasLen, 2)
	c.Assert(s.c.queue[1].msg, gc.DeepEquals, s.c.queue[0].msg)
}

func (s *rlSuite) TestAcceptorRejectsLowerProposal(c *gc.C) {
	acc := s.c.nodes[2]
	high := paxos.NextProposalID(paxos.NextProposalID(0, 1), 1)
	low := paxos.NextProposalID(0, 0)

	for _, m := range []*paxos.Message{
		{Type: uint32(paxos.PrepareRequest), ProposalID: uint64(high)},
		{Type: uint32(paxos.PrepareRequest), ProposalID: uint64(low)},
		{Type: uint32(paxos.ProposeRequest), ProposalID: uint64(low), Value: []byte("x")},
	} {
		m.QuorumID = uint64(testQuorumID)
		m.NodeID = uint64(paxos.ProposalID(m.ProposalID).Node())
		_, err := acc.rl.OnMessage(m)
		c.Assert(err, gc.IsNil)
	}

	c.Assert(s.c.queue, gc.HasLen, 3)
	c.Assert(s.c.queue[0].msg.Kind(), gc.Equals, paxos.PrepareCurrentlyOpen)
	c.Assert(s.c.queue[1].msg.Kind(), gc.Equals, paxos.PrepareRejected)
	c.Assert(s.c.queue[1].msg.GetPromisedProposalID(), gc.Equals, high)
	c.Assert(s.c.queue[2].msg.Kind(), gc.Equals, paxos.ProposeRejected)
	c.Assert(acc.rl.Acceptor().State().Accepted, gc.Equals, false)
}

// -----------------------------------------------------------------------
// Input validation

func (s *rlSuite) TestInvalidMessages(c *gc.C) {
	rl := s.c.nodes[0].rl

	_, err := rl.OnMessage(&paxos.Message{Type: 99})
	c.Assert(errors.Is(err, paxos.ErrUnknownType), gc.Equals, true)

	_, err = rl.OnMessage(&paxos.Message{Type: uint32(paxos.PrepareRequest), QuorumID: uint64(testQuorumID)})
	c.Assert(errors.Is(err, paxos.ErrMalformed), gc.Equals, true)

	_, err = rl.OnMessage(&paxos.Message{Type: uint32(paxos.RequestChosen), QuorumID: 7})
	c.Assert(errors.Is(err, ErrWrongQuorum), gc.Equals, true)

	_, err = rl.OnMessage(&paxos.Message{Type: uint32(paxos.RequestChosen), QuorumID: uint64(testQuorumID), NodeID: 9})
	c.Assert(errors.Is(err, ErrNotMember), gc.Equals, true)

	_, err = rl.OnMessage(&paxos.Message{
		Type: uint32(paxos.LeaseLearnChosen), QuorumID: uint64(testQuorumID),
		ProposalID: 1, Duration: 1,
	})
	c.Assert(errors.Is(err, paxos.ErrUnknownType), gc.Equals, true)
	c.Assert(s.c.queue, gc.HasLen, 0)
}

func (s *rlSuite) TestProposerTimeoutRestartsWithHigherID(c *gc.C) {
	n := s.c.nodes[0]
	n.leader = true
	c.Assert(n.rl.Append([]byte("x")), gc.IsNil)
	first := n.rl.Proposer().State().ProposalID
	s.c.queue = nil

	s.c.advance(testTimeout)
	st := n.rl.Proposer().State()
	c.Assert(st.Phase, gc.Equals, PhasePreparing)
	c.Assert(st.ProposalID > first, gc.Equals, true)
	c.Assert(st.ProposalID.Node(), gc.Equals, quorum.NodeID(0))
	c.Assert(s.c.count(paxos.PrepareRequest), gc.Equals, 3)
}

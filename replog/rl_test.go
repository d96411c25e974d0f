package replog

import (
	"math/rand"
	"testing"
	"time"

	gc "gopkg.in/check.v1"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

// -----------------------------------------------------------------------
// Hook up gocheck into the "go test" runner
func TestReplog(t *testing.T) {
	gc.TestingT(t)
}

// -----------------------------------------------------------------------
// A simulated cluster. Messages are queued and delivered one at a time
// by the test, which may drop, duplicate or reorder them.

const (
	testTimeout  = 3 * time.Second
	testCooldown = 1 * time.Second
	testQuorumID = quorum.ID(1)
)

var epoch = time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)

type envelope struct {
	to  quorum.NodeID
	msg *paxos.Message
}

type appended struct {
	paxosID   paxos.PaxosID
	value     string
	ownAppend bool
}

type memStore struct {
	acceptor   AcceptorState
	proposalID paxos.ProposalID
	chosen     map[paxos.PaxosID][]byte
	writes     int

	// When hold is set, completions are queued instead of run.
	hold    bool
	pending []func()
}

func newMemStore() *memStore {
	return &memStore{chosen: make(map[paxos.PaxosID][]byte)}
}

func (s *memStore) complete(after func()) {
	if s.hold {
		s.pending = append(s.pending, after)
		return
	}
	after()
}

func (s *memStore) release() {
	pending := s.pending
	s.pending = nil
	for _, after := range pending {
		after()
	}
}

func (s *memStore) PersistAcceptor(state AcceptorState, after func()) {
	s.writes++
	s.acceptor = state
	s.complete(after)
}

func (s *memStore) PersistProposalID(id paxos.ProposalID, after func()) {
	s.writes++
	s.proposalID = id
	s.complete(after)
}

func (s *memStore) PersistChosen(paxosID paxos.PaxosID, value []byte, after func()) {
	s.writes++
	s.chosen[paxosID] = append([]byte(nil), value...)
	s.complete(after)
}

func (s *memStore) GetChosen(paxosID paxos.PaxosID) ([]byte, bool) {
	v, found := s.chosen[paxosID]
	return v, found
}

type testNode struct {
	c        *cluster
	id       quorum.NodeID
	runID    paxos.RunID
	leader   bool
	rl       *ReplicatedLog
	store    *memStore
	appended []appended
	next     [][]byte
	catchups []paxos.PaxosID
}

func (n *testNode) NodeID() quorum.NodeID  { return n.id }
func (n *testNode) RunID() paxos.RunID     { return n.runID }
func (n *testNode) Quorum() *quorum.Quorum { return n.c.q }
func (n *testNode) Transport() Transport   { return n }
func (n *testNode) IsLeader() bool         { return n.leader }

func (n *testNode) OnAppend(paxosID paxos.PaxosID, value []byte, ownAppend bool) {
	n.appended = append(n.appended, appended{paxosID, string(value), ownAppend})
}

func (n *testNode) GetNextValue() []byte {
	if len(n.next) == 0 {
		return nil
	}
	v := n.next[0]
	n.next = n.next[1:]
	return v
}

func (n *testNode) OnStartCatchup(from quorum.NodeID, paxosID paxos.PaxosID) {
	n.catchups = append(n.catchups, paxosID)
}

func (n *testNode) SendMessage(node quorum.NodeID, msg *paxos.Message) {
	n.c.queue = append(n.c.queue, envelope{node, msg.Clone()})
}

func (n *testNode) SendPriorityMessage(node quorum.NodeID, msg *paxos.Message) {
	n.SendMessage(node, msg)
}

func (n *testNode) BroadcastMessage(msg *paxos.Message) {
	for _, id := range n.c.q.Nodes() {
		n.SendMessage(id, msg)
	}
}

func (n *testNode) BroadcastPriorityMessage(msg *paxos.Message) {
	n.BroadcastMessage(msg)
}

func (n *testNode) values() []string {
	var vs []string
	for _, a := range n.appended {
		vs = append(vs, a.value)
	}
	return vs
}

type cluster struct {
	q         *quorum.Quorum
	nodes     map[quorum.NodeID]*testNode
	queue     []envelope
	now       time.Time
	cacheSize int
	delivered int

	// Messages to these nodes are dropped.
	down map[quorum.NodeID]bool
}

func newCluster(size int, cacheSize int) *cluster {
	var ids []quorum.NodeID
	for i := 0; i < size; i++ {
		ids = append(ids, quorum.NodeID(i))
	}
	q, err := quorum.NewQuorum(testQuorumID, ids)
	if err != nil {
		panic(err)
	}
	c := &cluster{
		q:         q,
		nodes:     make(map[quorum.NodeID]*testNode),
		now:       epoch,
		cacheSize: cacheSize,
		down:      make(map[quorum.NodeID]bool),
	}
	for _, id := range ids {
		n := &testNode{c: c, id: id, runID: 1, store: newMemStore()}
		n.rl = c.newLog(n, true)
		c.nodes[id] = n
	}
	return c
}

func (c *cluster) newLog(n *testNode, withChosenLog bool) *ReplicatedLog {
	pack := &Pack{
		Context:               n,
		Persister:             n.store,
		Clock:                 func() time.Time { return c.now },
		PaxosTimeout:          testTimeout,
		RequestChosenCooldown: testCooldown,
		LogCacheSize:          c.cacheSize,
	}
	if withChosenLog {
		pack.ChosenLog = n.store
	}
	return NewReplicatedLog(pack)
}

// restart replaces node id with a new incarnation that restores its
// durable state.
func (c *cluster) restart(id quorum.NodeID) *testNode {
	old := c.nodes[id]
	n := &testNode{c: c, id: id, runID: old.runID + 1, store: old.store}
	n.store.hold = false
	n.rl = c.newLog(n, true)

	var paxosID paxos.PaxosID
	for pid := range n.store.chosen {
		if pid+1 > paxosID {
			paxosID = pid + 1
		}
	}
	n.rl.SetPaxosID(paxosID)
	n.rl.Acceptor().Restore(n.store.acceptor, paxosID)
	n.rl.Proposer().SetProposalID(n.store.proposalID)
	c.nodes[id] = n
	return n
}

func (c *cluster) deliver(env envelope) {
	if c.down[env.to] || c.down[quorum.NodeID(env.msg.NodeID)] {
		return
	}
	c.delivered++
	n := c.nodes[env.to]
	if _, err := n.rl.OnMessage(env.msg); err != nil {
		panic(err)
	}
}

// run delivers queued messages in FIFO order until the queue is empty.
func (c *cluster) run() {
	for steps := 0; len(c.queue) > 0; steps++ {
		if steps > 100000 {
			panic("simulation did not quiesce")
		}
		env := c.queue[0]
		c.queue = c.queue[1:]
		c.deliver(env)
	}
}

// runFiltered is run, but only delivers messages keep returns true for.
func (c *cluster) runFiltered(keep func(envelope) bool) {
	for len(c.queue) > 0 {
		env := c.queue[0]
		c.queue = c.queue[1:]
		if keep(env) {
			c.deliver(env)
		}
	}
}

// step delivers one random queued message, possibly dropping or
// duplicating it.
func (c *cluster) step(rnd *rand.Rand, dropRate, dupRate float64) {
	i := rnd.Intn(len(c.queue))
	env := c.queue[i]
	c.queue = append(c.queue[:i], c.queue[i+1:]...)

	if rnd.Float64() < dropRate {
		return
	}
	if rnd.Float64() < dupRate {
		c.queue = append(c.queue, envelope{env.to, env.msg.Clone()})
	}
	c.deliver(env)
}

func (c *cluster) advance(d time.Duration) {
	c.now = c.now.Add(d)
	for _, id := range c.q.Nodes() {
		c.nodes[id].rl.Tick(c.now)
	}
}

func (c *cluster) count(t paxos.MsgType) int {
	n := 0
	for _, env := range c.queue {
		if env.msg.Kind() == t {
			n++
		}
	}
	return n
}

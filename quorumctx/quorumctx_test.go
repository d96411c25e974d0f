package quorumctx

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	gc "gopkg.in/check.v1"

	"github.com/duzhanyuan/scaliendb/config"
	"github.com/duzhanyuan/scaliendb/net"
	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
	"github.com/duzhanyuan/scaliendb/replog"
	"github.com/duzhanyuan/scaliendb/storage"
)

// -----------------------------------------------------------------------
// Hook up gocheck into the "go test" runner
func TestQuorumContext(t *testing.T) {
	gc.TestingT(t)
}

const (
	testQuorumID = quorum.ID(1)
	waitFor      = 10 * time.Second
)

// memSM keeps every applied value. Values queued with submit are offered
// to the log until they were appended by this node.
type memSM struct {
	mu       sync.Mutex
	base     int
	applied  [][]byte
	pending  [][]byte
	catchups int
}

func (sm *memSM) OnAppend(paxosID paxos.PaxosID, value []byte, ownAppend bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if int(paxosID) != sm.base+len(sm.applied) {
		panic(fmt.Sprintf("append at %d with %d applied", paxosID, len(sm.applied)))
	}
	sm.applied = append(sm.applied, value)
	if ownAppend && len(sm.pending) > 0 && bytes.Equal(sm.pending[0], value) {
		sm.pending = sm.pending[1:]
	}
}

func (sm *memSM) GetNextValue() []byte {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if len(sm.pending) == 0 {
		return nil
	}
	return sm.pending[0]
}

func (sm *memSM) OnStartCatchup(from quorum.NodeID, paxosID paxos.PaxosID) {
	sm.mu.Lock()
	sm.catchups++
	sm.mu.Unlock()
}

func (sm *memSM) submit(values ...string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, v := range values {
		sm.pending = append(sm.pending, []byte(v))
	}
}

func (sm *memSM) values() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]string, len(sm.applied))
	for i, v := range sm.applied {
		out[i] = string(v)
	}
	return out
}

type replica struct {
	id     quorum.NodeID
	dir    string
	store  *storage.Store
	writer *storage.Writer
	ctx    *Context
	sm     *memSM
	wg     *sync.WaitGroup
}

type qcSuite struct {
	hub      *net.LocalHub
	q        *quorum.Quorum
	conf     *config.Config
	replicas []*replica
}

var _ = gc.Suite(&qcSuite{})

func testConfig() *config.Config {
	conf := config.NewConfig()
	conf.Set("tickInterval", "10ms")
	conf.Set("paxosTimeout", "200ms")
	conf.Set("requestChosenCooldown", "50ms")
	conf.Set("logCacheSize", "1000")
	conf.Set("maxLeaseTime", "400ms")
	conf.Set("leaseAcquireTimeout", "150ms")
	conf.Set("leaseRenewMargin", "150ms")
	return conf
}

func (s *qcSuite) setUp(c *gc.C, size int) {
	s.hub = net.NewLocalHub()
	s.conf = testConfig()
	members := make([]quorum.NodeID, size)
	for i := range members {
		members[i] = quorum.NodeID(i)
	}
	var err error
	s.q, err = quorum.NewQuorum(testQuorumID, members)
	c.Assert(err, gc.IsNil)

	s.replicas = nil
	for _, id := range members {
		r := &replica{id: id, dir: c.MkDir()}
		s.start(c, r)
		s.replicas = append(s.replicas, r)
	}
}

func (s *qcSuite) start(c *gc.C, r *replica) {
	var err error
	r.store, err = storage.Open(r.dir)
	c.Assert(err, gc.IsNil)
	r.wg = new(sync.WaitGroup)
	r.writer = storage.NewWriter(r.store, r.wg)
	r.sm = new(memSM)
	r.ctx, err = NewContext(&Pack{
		NodeID:       r.id,
		Quorum:       s.q,
		Network:      s.hub.Replace(r.id),
		Store:        r.store,
		Writer:       r.writer,
		StateMachine: r.sm,
		Config:       s.conf,
		StopCheckIn:  r.wg,
	})
	c.Assert(err, gc.IsNil)
	r.wg.Add(2)
	r.writer.Start()
	r.ctx.Start()
}

func (s *qcSuite) stop(r *replica) {
	r.writer.Stop()
	r.ctx.Stop()
	r.wg.Wait()
	r.store.Close()
}

func (s *qcSuite) TearDownTest(c *gc.C) {
	for _, r := range s.replicas {
		if r.ctx != nil {
			s.stop(r)
		}
	}
}

func eventually(c *gc.C, what string, cond func() bool) {
	deadline := time.Now().Add(waitFor)
	for !cond() {
		if time.Now().After(deadline) {
			c.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// leader waits until all running replicas agree on one leader.
func (s *qcSuite) leader(c *gc.C, running []*replica) *replica {
	var leader *replica
	eventually(c, "a leader", func() bool {
		leader = nil
		for _, r := range running {
			if r.ctx.IsLeader() {
				leader = r
			}
		}
		if leader == nil {
			return false
		}
		for _, r := range running {
			id, known := r.ctx.GetLeader()
			if !known || id != leader.id {
				return false
			}
		}
		return true
	})
	return leader
}

func (s *qcSuite) TestValuesAreReplicatedInOrder(c *gc.C) {
	s.setUp(c, 3)
	leader := s.leader(c, s.replicas)

	var want []string
	for i := 0; i < 20; i++ {
		want = append(want, fmt.Sprintf("value-%d", i))
	}
	leader.sm.submit(want...)
	leader.ctx.TryAppendNextValue()

	for _, r := range s.replicas {
		r := r
		eventually(c, fmt.Sprintf("node %d to apply", r.id), func() bool {
			return len(r.sm.values()) == len(want)
		})
		c.Assert(r.sm.values(), gc.DeepEquals, want)
		c.Assert(r.ctx.GetPaxosID(), gc.Equals, paxos.PaxosID(len(want)))
		c.Assert(r.ctx.Appended(), gc.Equals, uint64(len(want)))
	}
}

func (s *qcSuite) TestAppendOnFollowerFails(c *gc.C) {
	s.setUp(c, 3)
	leader := s.leader(c, s.replicas)
	for _, r := range s.replicas {
		if r == leader {
			continue
		}
		c.Assert(r.ctx.Append([]byte("x")), gc.Equals, replog.ErrNotLeader)
	}
	c.Assert(leader.ctx.Append([]byte("x")), gc.IsNil)
	eventually(c, "the append", func() bool {
		return len(leader.sm.values()) == 1
	})
}

func (s *qcSuite) TestRestartReplaysChosenLog(c *gc.C) {
	s.setUp(c, 3)
	leader := s.leader(c, s.replicas)
	leader.sm.submit("a", "b", "c")
	leader.ctx.TryAppendNextValue()
	for _, r := range s.replicas {
		r := r
		eventually(c, "replication", func() bool { return len(r.sm.values()) == 3 })
	}

	var follower *replica
	for _, r := range s.replicas {
		if r != leader {
			follower = r
			break
		}
	}
	s.stop(follower)
	s.start(c, follower)

	c.Assert(follower.sm.values(), gc.DeepEquals, []string{"a", "b", "c"})
	c.Assert(follower.ctx.GetPaxosID(), gc.Equals, paxos.PaxosID(3))
	c.Assert(follower.ctx.RunID(), gc.Equals, paxos.RunID(2))

	leader.sm.submit("d")
	leader.ctx.TryAppendNextValue()
	eventually(c, "the restarted node to apply", func() bool {
		return len(follower.sm.values()) == 4
	})
}

func (s *qcSuite) TestIsolatedNodeCatchesUp(c *gc.C) {
	s.setUp(c, 3)
	leader := s.leader(c, s.replicas)
	var lagging *replica
	for _, r := range s.replicas {
		if r != leader {
			lagging = r
			break
		}
	}

	s.hub.Isolate(lagging.id, true)
	leader.sm.submit("a", "b", "c", "d", "e")
	leader.ctx.TryAppendNextValue()
	eventually(c, "the majority to apply", func() bool {
		return len(leader.sm.values()) == 5
	})
	c.Assert(len(lagging.sm.values()), gc.Equals, 0)

	s.hub.Isolate(lagging.id, false)
	eventually(c, "the isolated node to catch up", func() bool {
		return len(lagging.sm.values()) == 5
	})
	c.Assert(lagging.sm.values(), gc.DeepEquals, leader.sm.values())
	c.Assert(lagging.ctx.GetHighestPaxosID() >= 5, gc.Equals, true)
}

func (s *qcSuite) TestNewLeaderAfterLeaderStops(c *gc.C) {
	s.setUp(c, 3)
	first := s.leader(c, s.replicas)
	first.sm.submit("a")
	first.ctx.TryAppendNextValue()
	eventually(c, "the first append", func() bool { return len(first.sm.values()) == 1 })

	s.stop(first)
	first.ctx = nil
	s.hub.Isolate(first.id, true)

	var rest []*replica
	for _, r := range s.replicas {
		if r != first {
			rest = append(rest, r)
		}
	}
	second := s.leader(c, rest)
	c.Assert(second.id, gc.Not(gc.Equals), first.id)

	second.sm.submit("b")
	second.ctx.TryAppendNextValue()
	for _, r := range rest {
		r := r
		eventually(c, "the second append", func() bool { return len(r.sm.values()) == 2 })
		c.Assert(r.sm.values(), gc.DeepEquals, []string{"a", "b"})
	}
}

func (s *qcSuite) TestStorageFailureFaultsContext(c *gc.C) {
	s.setUp(c, 1)
	r := s.replicas[0]
	s.leader(c, s.replicas)

	c.Assert(r.store.Close(), gc.IsNil)
	c.Assert(r.ctx.Append([]byte("lost")), gc.IsNil)

	select {
	case err := <-r.ctx.Faults():
		c.Assert(err, gc.Equals, storage.ErrClosed)
	case <-time.After(waitFor):
		c.Fatal("no fault reported")
	}
	eventually(c, "leadership to be dropped", func() bool { return !r.ctx.IsLeader() })
	c.Assert(r.ctx.Append([]byte("x")), gc.Equals, ErrFaulted)
	c.Assert(r.sm.values(), gc.HasLen, 0)
}

func (s *qcSuite) TestSetPaxosIDSkipsRestoredPositions(c *gc.C) {
	s.setUp(c, 1)
	r := s.replicas[0]
	r.sm.mu.Lock()
	r.sm.base = 10
	r.sm.mu.Unlock()
	c.Assert(r.ctx.SetPaxosID(10), gc.IsNil)
	c.Assert(r.ctx.GetPaxosID(), gc.Equals, paxos.PaxosID(10))

	s.leader(c, s.replicas)
	c.Assert(r.ctx.Append([]byte("x")), gc.IsNil)
	eventually(c, "the append", func() bool { return r.ctx.GetPaxosID() == 11 })
	c.Assert(r.sm.values(), gc.DeepEquals, []string{"x"})
}

func (s *qcSuite) TestUnstartedContextFailsFast(c *gc.C) {
	s.setUp(c, 1)
	store, err := storage.Open(c.MkDir())
	c.Assert(err, gc.IsNil)
	defer store.Close()
	ctx, err := NewContext(&Pack{
		NodeID:       0,
		Quorum:       s.q,
		Network:      net.NewLocalHub().Network(0),
		Store:        store,
		Writer:       storage.NewWriter(store, new(sync.WaitGroup)),
		StateMachine: new(memSM),
	})
	c.Assert(err, gc.IsNil)

	returned := make(chan error, 1)
	go func() {
		err := ctx.Append([]byte("x"))
		ctx.Stop()
		ctx.Stop()
		returned <- err
	}()
	select {
	case err := <-returned:
		c.Assert(err, gc.Equals, ErrStopped)
	case <-time.After(waitFor):
		c.Fatal("blocked on a context that never started")
	}
	c.Assert(ctx.SetPaxosID(3), gc.Equals, ErrStopped)

	// A stopped context cannot be started again.
	ctx.Start()
	c.Assert(ctx.Append([]byte("x")), gc.Equals, ErrStopped)
}

func (s *qcSuite) TestStopTwice(c *gc.C) {
	s.setUp(c, 1)
	r := s.replicas[0]
	r.writer.Stop()
	r.ctx.Stop()
	r.ctx.Stop()
	r.wg.Wait()
	c.Assert(r.ctx.Append([]byte("x")), gc.Equals, ErrStopped)
	r.store.Close()
	r.ctx = nil
}

func (s *qcSuite) TestNonMemberRejected(c *gc.C) {
	s.setUp(c, 1)
	store, err := storage.Open(c.MkDir())
	c.Assert(err, gc.IsNil)
	defer store.Close()
	_, err = NewContext(&Pack{
		NodeID:       9,
		Quorum:       s.q,
		Network:      s.hub.Network(9),
		Store:        store,
		Writer:       storage.NewWriter(store, new(sync.WaitGroup)),
		StateMachine: new(memSM),
	})
	c.Assert(err, gc.ErrorMatches, ".*not a member.*")
}

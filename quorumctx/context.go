package quorumctx

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/config"
	"github.com/duzhanyuan/scaliendb/elog"
	e "github.com/duzhanyuan/scaliendb/elog/event"
	"github.com/duzhanyuan/scaliendb/lease"
	"github.com/duzhanyuan/scaliendb/net"
	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
	"github.com/duzhanyuan/scaliendb/replog"
	"github.com/duzhanyuan/scaliendb/storage"
)

const (
	incomingQueueSize   = 1024
	completionQueueSize = 1024
)

const (
	stateNew int32 = iota
	stateRunning
	stateStopped
)

var (
	ErrNotMember = errors.New("quorumctx: node is not a member of the quorum")
	ErrStopped   = errors.New("quorumctx: context is not running")
	ErrFaulted   = errors.New("quorumctx: context stopped after a storage failure")
)

// Pack holds everything a Context is built from.
type Pack struct {
	NodeID       quorum.NodeID
	Quorum       *quorum.Quorum
	Network      net.Network
	Store        *storage.Store
	Writer       *storage.Writer
	StateMachine StateMachine

	// Config supplies the protocol timeouts. Missing keys fall back to
	// the defaults in package config.
	Config *config.Config

	// Clock defaults to time.Now.
	Clock func() time.Time

	StopCheckIn *sync.WaitGroup
}

// Context is the replicated log of one quorum on this node.
type Context struct {
	nodeID    quorum.NodeID
	quorum    *quorum.Quorum
	runID     paxos.RunID
	transport *QuorumTransport
	sm        StateMachine
	clock     func() time.Time
	tick      time.Duration

	rl    *replog.ReplicatedLog
	lease *lease.Lease

	in          chan *paxos.Message
	calls       chan func()
	kick        chan struct{}
	completions chan storage.Completion
	faults      chan error
	stop        chan struct{}
	done        chan struct{}
	stopCheckIn *sync.WaitGroup
	state       int32

	faulted bool
	leader  quorum.NodeID
	known   bool

	// Snapshots published by the event loop.
	snapLeader   uint64 // leader id + 1, zero if unknown
	snapIsLeader uint32
	snapPaxosID  uint64
	snapHighest  uint64
	appended     uint64
}

// NewContext builds the context of pack.Quorum, restores its durable
// state and replays the chosen log into the state machine. Incoming
// messages for the quorum are registered with the network, but nothing
// is processed before Start.
func NewContext(pack *Pack) (*Context, error) {
	if !pack.Quorum.IsMember(pack.NodeID) {
		return nil, fmt.Errorf("%w: node %d, %v", ErrNotMember, pack.NodeID, pack.Quorum)
	}
	conf := pack.Config
	if conf == nil {
		conf = config.NewConfig()
	}
	clock := pack.Clock
	if clock == nil {
		clock = time.Now
	}

	c := &Context{
		nodeID:      pack.NodeID,
		quorum:      pack.Quorum,
		runID:       pack.Store.RunID(),
		transport:   NewQuorumTransport(pack.Quorum, pack.Network),
		sm:          pack.StateMachine,
		clock:       clock,
		tick:        conf.GetDuration("tickInterval", config.DefTickInterval),
		in:          make(chan *paxos.Message, incomingQueueSize),
		calls:       make(chan func()),
		kick:        make(chan struct{}, 1),
		completions: make(chan storage.Completion, completionQueueSize),
		faults:      make(chan error, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		stopCheckIn: pack.StopCheckIn,
	}

	view := loopView{c}
	persister := pack.Writer.Persister(pack.Quorum.ID(), c.completions, c.done)
	c.rl = replog.NewReplicatedLog(&replog.Pack{
		Context:               view,
		Persister:             persister,
		ChosenLog:             persister,
		Clock:                 clock,
		PaxosTimeout:          conf.GetDuration("paxosTimeout", config.DefPaxosTimeout),
		RequestChosenCooldown: conf.GetDuration("requestChosenCooldown", config.DefRequestChosenCooldown),
		LogCacheSize:          conf.GetInt("logCacheSize", config.DefLogCacheSize),
	})
	c.lease = lease.NewLease(&lease.Pack{
		Context:        view,
		Clock:          clock,
		MaxLeaseTime:   conf.GetDuration("maxLeaseTime", config.DefMaxLeaseTime),
		AcquireTimeout: conf.GetDuration("leaseAcquireTimeout", config.DefLeaseAcquireTimeout),
		RenewMargin:    conf.GetDuration("leaseRenewMargin", config.DefLeaseRenewMargin),
	})

	if err := c.restore(pack.Store); err != nil {
		return nil, err
	}
	c.publish()

	pack.Network.RegisterChannel(pack.Quorum.ID(), c.in)
	return c, nil
}

// restore replays the chosen log and reloads the proposer and acceptor
// state of the position after it.
func (c *Context) restore(store *storage.Store) error {
	q := c.quorum.ID()
	cache := c.rl.LogCache()
	next, err := store.ReplayChosen(q, 0, func(paxosID paxos.PaxosID, value []byte) {
		cache.Set(paxosID, value)
		c.sm.OnAppend(paxosID, value, false)
		atomic.AddUint64(&c.appended, 1)
	})
	if err != nil {
		return fmt.Errorf("quorumctx: replaying quorum %d: %w", q, err)
	}

	c.rl.SetPaxosID(next)
	c.rl.Acceptor().Restore(store.AcceptorState(q), next)
	c.rl.Proposer().SetProposalID(store.ProposalID(q))

	glog.V(1).Infof("quorum %d: restored at paxos id %d (run %d)", q, next, c.runID)
	elog.Log(e.NewEventWithMetric(e.Restored, uint64(q), uint64(next)))
	return nil
}

// Start the event loop. The node starts contending for the lease right
// away. A context runs at most once.
func (c *Context) Start() {
	if !atomic.CompareAndSwapInt32(&c.state, stateNew, stateRunning) {
		return
	}
	glog.V(1).Infof("quorum %d: starting", c.quorum.ID())
	go c.run()
}

// Stop the event loop. Storage completions that arrive later are
// discarded. Stopping a context that never started, or stopping it
// twice, does nothing beyond making later calls fail with ErrStopped.
func (c *Context) Stop() {
	if atomic.CompareAndSwapInt32(&c.state, stateNew, stateStopped) {
		close(c.done)
		return
	}
	if atomic.CompareAndSwapInt32(&c.state, stateRunning, stateStopped) {
		close(c.stop)
	}
}

func (c *Context) NodeID() quorum.NodeID {
	return c.nodeID
}

func (c *Context) Quorum() *quorum.Quorum {
	return c.quorum
}

func (c *Context) RunID() paxos.RunID {
	return c.runID
}

// IsLeader reports whether this node holds the lease of the quorum.
func (c *Context) IsLeader() bool {
	return atomic.LoadUint32(&c.snapIsLeader) == 1
}

// GetLeader returns the current lease owner, if one is known.
func (c *Context) GetLeader() (quorum.NodeID, bool) {
	l := atomic.LoadUint64(&c.snapLeader)
	if l == 0 {
		return 0, false
	}
	return quorum.NodeID(l - 1), true
}

func (c *Context) IsLeaderKnown() bool {
	return atomic.LoadUint64(&c.snapLeader) != 0
}

// GetPaxosID returns the position this node will decide next.
func (c *Context) GetPaxosID() paxos.PaxosID {
	return paxos.PaxosID(atomic.LoadUint64(&c.snapPaxosID))
}

// GetHighestPaxosID returns the highest position any member is known to
// have reached.
func (c *Context) GetHighestPaxosID() paxos.PaxosID {
	return paxos.PaxosID(atomic.LoadUint64(&c.snapHighest))
}

// Appended returns the number of values applied to the state machine,
// including the replayed ones.
func (c *Context) Appended() uint64 {
	return atomic.LoadUint64(&c.appended)
}

// Faults delivers the storage error that stopped the context.
func (c *Context) Faults() <-chan error {
	return c.faults
}

// Append proposes value at the current position. It fails with
// replog.ErrNotLeader if this node does not hold the lease, and with
// replog.ErrProposalActive if a proposal is already in progress. It must
// not be called from StateMachine callbacks.
func (c *Context) Append(value []byte) error {
	var err error
	if cerr := c.do(func() {
		if c.faulted {
			err = ErrFaulted
			return
		}
		err = c.rl.Append(value)
	}); cerr != nil {
		return cerr
	}
	return err
}

// TryAppendNextValue asks the loop to pull the next value from the state
// machine if this node is the idle leader. It never blocks.
func (c *Context) TryAppendNextValue() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// SetPaxosID moves the log to paxosID after the state machine was
// restored out of band.
func (c *Context) SetPaxosID(paxosID paxos.PaxosID) error {
	return c.do(func() {
		c.rl.SetPaxosID(paxosID)
	})
}

// OnMessage queues msg for the event loop, as if it arrived from the
// network.
func (c *Context) OnMessage(msg *paxos.Message) {
	select {
	case c.in <- msg:
	default:
		glog.V(3).Infof("quorum %d: incoming queue full, dropping %v", c.quorum.ID(), msg.Kind())
	}
}

// do runs fn on the event loop and waits for it.
func (c *Context) do(fn func()) error {
	if atomic.LoadInt32(&c.state) != stateRunning {
		return ErrStopped
	}
	ran := make(chan struct{})
	select {
	case c.calls <- func() { fn(); close(ran) }:
	case <-c.done:
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-c.done:
		return ErrStopped
	}
}

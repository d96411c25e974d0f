package quorumctx

import (
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/elog"
	e "github.com/duzhanyuan/scaliendb/elog/event"
	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
	"github.com/duzhanyuan/scaliendb/replog"
	"github.com/duzhanyuan/scaliendb/storage"
)

func (c *Context) run() {
	defer func() {
		close(c.done)
		if c.stopCheckIn != nil {
			c.stopCheckIn.Done()
		}
	}()

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	c.lease.AcquireLease()
	c.publish()

	for {
		select {
		case msg := <-c.in:
			c.onMessage(msg)
		case fn := <-c.calls:
			fn()
		case <-c.kick:
			if !c.faulted {
				c.rl.TryAppendNextValue()
			}
		case comp := <-c.completions:
			c.onCompletion(comp)
		case <-ticker.C:
			c.onTick()
		case <-c.stop:
			glog.V(1).Infof("quorum %d: exiting", c.quorum.ID())
			return
		}
		c.publish()
	}
}

func (c *Context) onMessage(msg *paxos.Message) {
	if c.faulted {
		return
	}

	t := msg.Kind()
	if t.IsLease() {
		if _, err := c.lease.OnMessage(msg); err != nil {
			glog.Warningf("quorum %d: dropping %v from %d: %v", c.quorum.ID(), t, msg.NodeID, err)
		}
		return
	}

	outcome, err := c.rl.OnMessage(msg)
	if err != nil {
		glog.Warningf("quorum %d: dropping %v from %d: %v", c.quorum.ID(), t, msg.NodeID, err)
		return
	}

	q := uint64(c.quorum.ID())
	switch {
	case outcome == replog.OutcomeLagging:
		elog.Log(e.NewEventWithMetric(e.CatchUpMakeReq, q, uint64(c.rl.GetPaxosID())))
	case t == paxos.RequestChosen && outcome == replog.OutcomeStale:
		elog.Log(e.NewEventWithMetric(e.CatchUpSentResp, q, msg.PaxosID))
	}
}

func (c *Context) onCompletion(comp storage.Completion) {
	if comp.Err != nil {
		c.fault(comp.Err)
		return
	}
	if c.faulted || comp.After == nil {
		return
	}
	comp.After()
}

func (c *Context) onTick() {
	if c.faulted {
		return
	}
	now := c.clock()
	c.lease.Tick(now)
	c.rl.Tick(now)
}

// fault takes the context out of the protocol. Nothing it does after a
// failed write could be trusted to be durable.
func (c *Context) fault(err error) {
	if c.faulted {
		return
	}
	c.faulted = true
	c.lease.StopAcquiringLease()
	glog.Errorf("quorum %d: storage failure, leaving the protocol: %v", c.quorum.ID(), err)
	elog.Log(e.NewQuorumEvent(e.Fault, uint64(c.quorum.ID())))
	select {
	case c.faults <- err:
	default:
	}
}

// publish updates the snapshots read by other goroutines and logs
// leadership changes.
func (c *Context) publish() {
	atomic.StoreUint64(&c.snapPaxosID, uint64(c.rl.GetPaxosID()))
	atomic.StoreUint64(&c.snapHighest, uint64(c.rl.GetHighestPaxosID()))

	var isLeader uint32
	if c.lease.IsLeaseOwner() && !c.faulted {
		isLeader = 1
	}
	atomic.StoreUint32(&c.snapIsLeader, isLeader)

	leader, known := c.lease.GetLeaseOwner()
	if leader == c.leader && known == c.known {
		return
	}
	var snap uint64
	if known {
		snap = uint64(leader) + 1
	}
	atomic.StoreUint64(&c.snapLeader, snap)

	q := uint64(c.quorum.ID())
	switch {
	case known && leader == c.nodeID:
		glog.V(2).Infof("quorum %d: this node is leader", q)
		elog.Log(e.NewQuorumEvent(e.LeaseAcquired, q))
	case known:
		glog.V(2).Infof("quorum %d: leader is %d", q, leader)
		elog.Log(e.NewEventWithMetric(e.LeaseLearned, q, uint64(leader)))
	case c.known && c.leader == c.nodeID:
		elog.Log(e.NewQuorumEvent(e.LeaseLost, q))
	case c.known:
		elog.Log(e.NewEventWithMetric(e.LeaseExpired, q, uint64(c.leader)))
	}
	c.leader, c.known = leader, known
}

// loopView is what the replicated log and the lease see of the context.
// Its methods are only called from the event loop.
type loopView struct {
	c *Context
}

func (v loopView) NodeID() quorum.NodeID {
	return v.c.nodeID
}

func (v loopView) RunID() paxos.RunID {
	return v.c.runID
}

func (v loopView) Quorum() *quorum.Quorum {
	return v.c.quorum
}

func (v loopView) Transport() replog.Transport {
	return v.c.transport
}

func (v loopView) IsLeader() bool {
	return !v.c.faulted && v.c.lease.IsLeaseOwner()
}

func (v loopView) OnAppend(paxosID paxos.PaxosID, value []byte, ownAppend bool) {
	v.c.sm.OnAppend(paxosID, value, ownAppend)
	atomic.AddUint64(&v.c.appended, 1)
}

func (v loopView) GetNextValue() []byte {
	return v.c.sm.GetNextValue()
}

func (v loopView) OnStartCatchup(from quorum.NodeID, paxosID paxos.PaxosID) {
	glog.Warningf("quorum %d: node %d cannot serve position %d, state transfer needed", v.c.quorum.ID(), from, paxosID)
	elog.Log(e.NewEventWithMetric(e.CatchUpTooFarBack, uint64(v.c.quorum.ID()), uint64(paxosID)))
	v.c.sm.OnStartCatchup(from, paxosID)
}

func (v loopView) GetPaxosID() paxos.PaxosID {
	return v.c.rl.GetPaxosID()
}

func (v loopView) RegisterPaxosID(paxosID paxos.PaxosID, node quorum.NodeID) {
	v.c.rl.RegisterPaxosID(paxosID, node)
}

func (v loopView) OnLearnLease() {
	v.c.rl.OnLearnLease()
}

func (v loopView) OnLeaseTimeout() {
	v.c.rl.OnLeaseTimeout()
}

package net

import (
	"sync"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

// A Demuxer hands incoming messages to the quorum contexts that
// registered for them.
type Demuxer interface {
	RegisterChannel(q quorum.ID, ch chan<- *paxos.Message)
	HandleMessage(msg *paxos.Message)
}

// A Sender delivers messages to single nodes. Messages to the local node
// are handed straight to the local Demuxer. Priority messages use a
// separate queue that is drained before the normal one.
type Sender interface {
	Send(node quorum.NodeID, msg *paxos.Message, priority bool)
}

// Network is the transport between the replicas of a cluster.
type Network interface {
	Demuxer
	Sender
}

// channelDemuxer routes by quorum id. Delivery never blocks: if a
// context falls behind its channel fills up and further messages are
// dropped, which the protocol tolerates.
type channelDemuxer struct {
	mu       sync.RWMutex
	channels map[quorum.ID][]chan<- *paxos.Message
}

func newChannelDemuxer() *channelDemuxer {
	return &channelDemuxer{channels: make(map[quorum.ID][]chan<- *paxos.Message)}
}

// Register channel for receiving the messages of quorum q.
func (dmx *channelDemuxer) RegisterChannel(q quorum.ID, ch chan<- *paxos.Message) {
	dmx.mu.Lock()
	dmx.channels[q] = append(dmx.channels[q], ch)
	dmx.mu.Unlock()
	glog.V(2).Infof("registered channel for quorum %d", q)
}

func (dmx *channelDemuxer) HandleMessage(msg *paxos.Message) {
	if glog.V(4) {
		glog.Infof("received %v for quorum %d from %d", msg.Kind(), msg.QuorumID, msg.NodeID)
	}

	dmx.mu.RLock()
	chs, found := dmx.channels[quorum.ID(msg.QuorumID)]
	dmx.mu.RUnlock()
	if !found {
		glog.V(2).Infof("no receiver for quorum %d, dropping %v", msg.QuorumID, msg.Kind())
		return
	}

	for _, ch := range chs {
		select {
		case ch <- msg:
		default:
			if glog.V(3) {
				glog.Infof("receiver for quorum %d is full, dropping %v", msg.QuorumID, msg.Kind())
			}
		}
	}
}

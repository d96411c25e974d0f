package net

import (
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

const (
	reconnectWait = 500 * time.Millisecond
	dialTimeout   = 2 * time.Second
)

var (
	ErrIDIsEqual     = errors.New("id is equal to this node")
	ErrIDNotInConfig = errors.New("id is not in the node map")
	ErrIDWrongSide   = errors.New("node with higher id must be dialed, not dialing")
	errConnNotFound  = errors.New("connection not found")
)

// TcpNetwork connects the replicas of a cluster over TCP. Each node dials
// every node with a higher id and accepts connections from nodes with a
// lower id, so there is exactly one connection per pair. Dialed
// connections are re-established when they break.
type TcpNetwork struct {
	*channelDemuxer
	id          quorum.NodeID
	nodes       *quorum.NodeMap
	tcp         *tcpListener
	mu          sync.RWMutex
	connections map[quorum.NodeID]*PeerConnection
	stopped     bool
	stop        chan struct{}
	dialers     sync.WaitGroup
	stopCheckIn *sync.WaitGroup
}

// NewTcpNetwork listens on the paxos address of node id. The network is
// idle until Start is called.
func NewTcpNetwork(id quorum.NodeID, nodes *quorum.NodeMap, stopCheckIn *sync.WaitGroup) (*TcpNetwork, error) {
	me, found := nodes.LookupNode(id)
	if !found {
		return nil, ErrIDNotInConfig
	}

	tn := &TcpNetwork{
		channelDemuxer: newChannelDemuxer(),
		id:             id,
		nodes:          nodes,
		connections:    make(map[quorum.NodeID]*PeerConnection),
		stop:           make(chan struct{}),
		stopCheckIn:    stopCheckIn,
	}
	l, err := listen(me.PaxosAddr(), tn)
	if err != nil {
		return nil, err
	}
	tn.tcp = l
	return tn, nil
}

// Addr returns the address the network listens on.
func (tn *TcpNetwork) Addr() string {
	return tn.tcp.listener.Addr().String()
}

// Start accepting connections and dialing the nodes with higher ids.
func (tn *TcpNetwork) Start() {
	glog.V(1).Info("starting")
	tn.tcp.start()
	for _, id := range tn.nodes.IDs() {
		if id <= tn.id {
			continue
		}
		node, _ := tn.nodes.LookupNode(id)
		tn.dialers.Add(1)
		go tn.maintain(node)
	}
}

// Stop closes the listener and every connection.
func (tn *TcpNetwork) Stop() {
	close(tn.stop)
	tn.tcp.stop()

	tn.mu.Lock()
	tn.stopped = true
	conns := make([]*PeerConnection, 0, len(tn.connections))
	for _, pc := range tn.connections {
		conns = append(conns, pc)
	}
	tn.mu.Unlock()
	for _, pc := range conns {
		pc.Close()
	}

	tn.dialers.Wait()
	glog.V(1).Info("exiting")
	tn.stopCheckIn.Done()
}

func (tn *TcpNetwork) Send(node quorum.NodeID, msg *paxos.Message, priority bool) {
	if node == tn.id {
		tn.HandleMessage(msg.Clone())
		return
	}

	pc, err := tn.getConnection(node)
	if err != nil {
		if glog.V(3) {
			glog.Infof("no connection to %d, dropping %v", node, msg.Kind())
		}
		return
	}
	pc.enqueue(msg, priority)
}

func (tn *TcpNetwork) getConnection(id quorum.NodeID) (*PeerConnection, error) {
	tn.mu.RLock()
	defer tn.mu.RUnlock()
	pc, found := tn.connections[id]
	if !found {
		return nil, errConnNotFound
	}
	return pc, nil
}

// addConnection replaces any previous connection to the same node.
func (tn *TcpNetwork) addConnection(pc *PeerConnection) {
	tn.mu.Lock()
	if tn.stopped {
		tn.mu.Unlock()
		pc.Connection.Close()
		return
	}
	existing, found := tn.connections[pc.id]
	tn.connections[pc.id] = pc
	tn.mu.Unlock()

	pc.start()
	if found {
		existing.Close()
	}
}

func (tn *TcpNetwork) removeConnection(pc *PeerConnection) {
	tn.mu.Lock()
	if tn.connections[pc.id] == pc {
		delete(tn.connections, pc.id)
	}
	tn.mu.Unlock()
}

func (tn *TcpNetwork) validateID(id quorum.NodeID) error {
	if id == tn.id {
		return ErrIDIsEqual
	}
	if _, found := tn.nodes.LookupNode(id); !found {
		return ErrIDNotInConfig
	}
	if id > tn.id {
		return ErrIDWrongSide
	}
	return nil
}

// maintain keeps a dialed connection to node up until the network stops.
func (tn *TcpNetwork) maintain(node quorum.Node) {
	defer tn.dialers.Done()
	for {
		pc, err := tn.connectTo(node)
		if err != nil {
			glog.V(2).Infof("connecting to %v: %v, waiting %v before trying again", node, err, reconnectWait)
		} else {
			glog.V(2).Infof("connected to %v", node)
			select {
			case <-pc.closed:
			case <-tn.stop:
				return
			}
		}

		select {
		case <-time.After(reconnectWait):
		case <-tn.stop:
			return
		}
	}
}

// Connect to another replica, and verify the ids are correct.
func (tn *TcpNetwork) connectTo(node quorum.Node) (*PeerConnection, error) {
	c, err := dial(node.PaxosAddr())
	if err != nil {
		return nil, err
	}

	c.handshakeDeadline(time.Now().Add(dialTimeout))
	if err = c.sendID(tn.id); err != nil {
		c.Close()
		return nil, err
	}

	idresp, err := c.waitForIDResp()
	if err != nil {
		c.Close()
		return nil, err
	}
	if !idresp.Accepted {
		c.Close()
		return nil, errors.New("id rejected: " + idresp.Error)
	}
	c.handshakeDeadline(time.Time{})

	pc := newPeerConnection(c, node.ID, tn, tn.removeConnection)
	tn.addConnection(pc)
	return pc, nil
}

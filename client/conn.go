package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/config"
	"github.com/duzhanyuan/scaliendb/quorum"
)

var (
	ErrUnknownQuorum = errors.New("client: unknown quorum")
	ErrTimeout       = errors.New("client: request timed out")
	ErrRequestFailed = errors.New("client: request failed")
	ErrClosed        = errors.New("client: connection closed")
	errHandshake     = errors.New("client: handshake refused")
)

// Conn is a client of the cluster. It keeps one connection per node it has
// talked to and remembers the leader of every quorum. Requests are sent
// one at a time; Conn is safe for concurrent use.
type Conn struct {
	mu      sync.Mutex
	id      string
	seq     uint64
	closed  bool
	nodes   *quorum.NodeMap
	quorums map[quorum.ID]*quorum.Quorum
	ordered []*quorum.Quorum
	leaders map[quorum.ID]quorum.NodeID
	next    map[quorum.ID]int
	conns   map[quorum.NodeID]net.Conn

	dialTimeout    time.Duration
	requestTimeout time.Duration
	retryWait      time.Duration
}

// Dial reads the cluster layout from conf (the `nodes` and `quorums` keys)
// and returns a Conn. Connections to nodes are made on first use.
func Dial(conf *config.Config) (*Conn, error) {
	nodes, err := conf.GetNodeMap("nodes")
	if err != nil {
		return nil, err
	}
	quorums, err := conf.GetQuorums("quorums", nodes)
	if err != nil {
		return nil, err
	}
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	glog.V(1).Infoln("dial: generated client id:", id)

	c := &Conn{
		id:             id,
		nodes:          nodes,
		quorums:        make(map[quorum.ID]*quorum.Quorum, len(quorums)),
		ordered:        quorums,
		leaders:        make(map[quorum.ID]quorum.NodeID),
		next:           make(map[quorum.ID]int),
		conns:          make(map[quorum.NodeID]net.Conn),
		dialTimeout:    conf.GetDuration("dialTimeout", config.DefDialTimeout),
		requestTimeout: conf.GetDuration("requestTimeout", config.DefRequestTimeout),
		retryWait:      conf.GetDuration("retryWait", config.DefRetryWait),
	}
	for _, q := range quorums {
		c.quorums[q.ID()] = q
	}
	return c, nil
}

func (c *Conn) ID() string {
	return c.id
}

// Quorums returns the quorums of the cluster by ascending id.
func (c *Conn) Quorums() []*quorum.Quorum {
	return c.ordered
}

// Leader returns the node last known to lead quorum q.
func (c *Conn) Leader(q quorum.ID) (quorum.NodeID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, known := c.leaders[q]
	return id, known
}

// Send delivers val to the leader of quorum q and returns the value of
// its response. Redirects are followed, and the request is retried with
// other members until the request timeout passes.
func (c *Conn) Send(q quorum.ID, val []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	qr, found := c.quorums[q]
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrUnknownQuorum, q)
	}

	c.seq++
	req := &Request{
		Type:     uint32(RequestExec),
		ClientId: c.id,
		Seq:      c.seq,
		Quorum:   uint64(q),
		Val:      val,
	}
	deadline := time.Now().Add(c.requestTimeout)

	for time.Now().Before(deadline) {
		target := c.target(qr)
		resp, err := c.roundTrip(target, req, deadline)
		if err != nil {
			glog.V(2).Infof("send: node %v: %v", target, err)
			c.drop(target)
			c.moveOn(qr, target)
			time.Sleep(c.retryWait)
			continue
		}

		switch resp.Code() {
		case StatusOK:
			c.leaders[q] = target
			return resp.Val, nil
		case StatusRedirect:
			leader := quorum.NodeID(resp.Leader)
			glog.V(2).Infof("send: node %v redirected quorum %d to %v", target, q, leader)
			if !qr.IsMember(leader) || leader == target {
				c.moveOn(qr, target)
				time.Sleep(c.retryWait)
				continue
			}
			c.leaders[q] = leader
		case StatusNoLeader, StatusWrongQuorum:
			glog.V(2).Infof("send: node %v answered %v for quorum %d", target, resp.Code(), q)
			c.moveOn(qr, target)
			time.Sleep(c.retryWait)
		default:
			return nil, fmt.Errorf("%w: %s", ErrRequestFailed, resp.ErrorDetail)
		}
	}
	return nil, ErrTimeout
}

// target is the known leader of q, or the next member in turn.
func (c *Conn) target(q *quorum.Quorum) quorum.NodeID {
	if leader, known := c.leaders[q.ID()]; known {
		return leader
	}
	members := q.Nodes()
	return members[c.next[q.ID()]%len(members)]
}

// moveOn forgets that node leads q and makes the next member the target.
func (c *Conn) moveOn(q *quorum.Quorum, node quorum.NodeID) {
	if leader, known := c.leaders[q.ID()]; known && leader == node {
		delete(c.leaders, q.ID())
	}
	members := q.Nodes()
	for i, m := range members {
		if m == node {
			c.next[q.ID()] = (i + 1) % len(members)
			return
		}
	}
}

func (c *Conn) roundTrip(node quorum.NodeID, req *Request, deadline time.Time) (*Response, error) {
	conn, err := c.connect(node)
	if err != nil {
		return nil, err
	}
	if err := write(conn, req, c.dialTimeout); err != nil {
		return nil, err
	}
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		resp := new(Response)
		if err := read(conn, resp, remaining); err != nil {
			return nil, err
		}
		// Responses to requests that timed out earlier are skipped.
		if resp.Seq == req.Seq {
			return resp, nil
		}
	}
}

func (c *Conn) connect(node quorum.NodeID) (net.Conn, error) {
	if conn, found := c.conns[node]; found {
		return conn, nil
	}
	n, found := c.nodes.LookupNode(node)
	if !found {
		return nil, fmt.Errorf("node %v not in node map", node)
	}
	conn, err := net.DialTimeout("tcp", n.ClientAddr(), c.dialTimeout)
	if err != nil {
		return nil, err
	}

	hello := &Request{Type: uint32(RequestHello), ClientId: c.id}
	if err := write(conn, hello, c.dialTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	var resp Response
	if err := read(conn, &resp, c.dialTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	if resp.Code() != StatusOK {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", errHandshake, resp.ErrorDetail)
	}

	glog.V(2).Infof("connect: connected to node %v at %v", node, n.ClientAddr())
	c.conns[node] = conn
	return conn, nil
}

func (c *Conn) drop(node quorum.NodeID) {
	if conn, found := c.conns[node]; found {
		conn.Close()
		delete(c.conns, node)
	}
}

// Close all node connections.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for node := range c.conns {
		c.drop(node)
	}
	return nil
}

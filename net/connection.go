package net

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

const outgoingQueueSize = 128

// A Connection represents a base connection between two replicas.
type Connection struct {
	conn net.Conn
	r    *bufio.Reader
	addr string
}

// Creates a new base connection between two replicas. The required argument
// is a low-level connection to another replica.
func NewConnection(conn net.Conn) *Connection {
	return &Connection{
		conn: conn,
		r:    bufio.NewReader(conn),
		addr: conn.RemoteAddr().String(),
	}
}

// handshakeDeadline bounds the id exchange. A zero time clears it.
func (c *Connection) handshakeDeadline(t time.Time) {
	c.conn.SetDeadline(t)
}

// Close the connection.
func (c *Connection) Close() error {
	return c.conn.Close()
}

func (c *Connection) sendID(id quorum.NodeID) error {
	return WriteMsg(c.conn, &IDExchange{NodeID: uint64(id)})
}

func (c *Connection) waitForID() (quorum.NodeID, error) {
	var idexch IDExchange
	if err := ReadMsg(c.r, &idexch); err != nil {
		return 0, err
	}
	return quorum.NodeID(idexch.NodeID), nil
}

func (c *Connection) waitForIDResp() (*IDResponse, error) {
	idresp := new(IDResponse)
	if err := ReadMsg(c.r, idresp); err != nil {
		return nil, err
	}
	return idresp, nil
}

func (c *Connection) sendIDResp(ok bool, err string) error {
	return WriteMsg(c.conn, &IDResponse{Accepted: ok, Error: err})
}

// Returns a string-based representation of the Connection.
func (c *Connection) String() string {
	return fmt.Sprintf("connection from %v", c.addr)
}

// A PeerConnection is a Connection to a validated replica. It owns one
// reader and one writer goroutine.
type PeerConnection struct {
	*Connection
	id       quorum.NodeID
	dmx      Demuxer
	outgoing chan *paxos.Message
	priority chan *paxos.Message
	closed   chan struct{}
	once     sync.Once
	onClose  func(*PeerConnection)
}

func newPeerConnection(conn *Connection, id quorum.NodeID, dmx Demuxer, onClose func(*PeerConnection)) *PeerConnection {
	return &PeerConnection{
		Connection: conn,
		id:         id,
		dmx:        dmx,
		outgoing:   make(chan *paxos.Message, outgoingQueueSize),
		priority:   make(chan *paxos.Message, outgoingQueueSize),
		closed:     make(chan struct{}),
		onClose:    onClose,
	}
}

func (pc *PeerConnection) start() {
	go pc.handleIn()
	go pc.handleOut()
}

// Close shuts the connection down. Safe to call more than once.
func (pc *PeerConnection) Close() error {
	var err error
	pc.once.Do(func() {
		close(pc.closed)
		err = pc.Connection.Close()
		if pc.onClose != nil {
			pc.onClose(pc)
		}
	})
	return err
}

// enqueue never blocks. A full queue means the peer is slow or gone, and
// the message is dropped.
func (pc *PeerConnection) enqueue(msg *paxos.Message, priority bool) {
	queue := pc.outgoing
	if priority {
		queue = pc.priority
	}
	select {
	case queue <- msg:
	default:
		if glog.V(4) {
			glog.Infof("%v: send was blocking, dropping %v", pc, msg.Kind())
		}
	}
}

func (pc *PeerConnection) handleIn() {
	glog.V(2).Infof("%v: starting to handle incoming", pc)
	defer pc.Close()
	for {
		buffer, err := ReadFrame(pc.r)
		if err == io.EOF {
			return
		}
		if err != nil {
			select {
			case <-pc.closed:
			default:
				glog.Errorf("%v: %v", pc, err)
			}
			return
		}
		msg, err := paxos.Unmarshal(buffer)
		if err != nil {
			glog.Warningf("%v: dropping message: %v", pc, err)
			continue
		}
		if quorum.NodeID(msg.NodeID) != pc.id {
			glog.Warningf("%v: dropping message claiming to be from node %d", pc, msg.NodeID)
			continue
		}
		pc.dmx.HandleMessage(msg)
	}
}

func (pc *PeerConnection) handleOut() {
	glog.V(2).Infof("%v: starting to handle outgoing", pc)
	defer pc.Close()
	w := bufio.NewWriter(pc.conn)
	for {
		var msg *paxos.Message
		select {
		case msg = <-pc.priority:
		default:
			select {
			case msg = <-pc.priority:
			case msg = <-pc.outgoing:
			case <-pc.closed:
				return
			}
		}

		if err := pc.write(w, msg); err != nil {
			glog.Errorf("%v: closing due to: %v", pc, err)
			return
		}
		// Flush once the queues are drained so a burst goes out in few
		// segments.
		if len(pc.priority) == 0 && len(pc.outgoing) == 0 {
			if err := w.Flush(); err != nil {
				glog.Errorf("%v: closing due to: %v", pc, err)
				return
			}
		}
	}
}

func (pc *PeerConnection) write(w io.Writer, msg *paxos.Message) error {
	buffer, err := paxos.Marshal(msg)
	if err != nil {
		glog.Errorf("%v: could not marshal %v: %v", pc, msg.Kind(), err)
		return nil
	}
	return WriteFrame(w, buffer)
}

// Returns a string-based representation of the PeerConnection.
func (pc *PeerConnection) String() string {
	return fmt.Sprintf("connection %v (%v)", pc.id, pc.addr)
}

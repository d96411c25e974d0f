package client

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	snet "github.com/duzhanyuan/scaliendb/net"
)

const (
	responseQueueSize = 512
	responseTimeout   = time.Second
)

// A ClientConn is the server-side representation of a connection between
// a node and a client.
type ClientConn struct {
	conn    net.Conn
	id      string
	addr    string
	rh      RequestHandler
	out     chan *Response
	closed  chan struct{}
	once    sync.Once
	onClose func(*ClientConn)
}

func newClientConn(c net.Conn, id string, rh RequestHandler, onClose func(*ClientConn)) *ClientConn {
	return &ClientConn{
		conn:    c,
		id:      id,
		addr:    c.RemoteAddr().String(),
		rh:      rh,
		out:     make(chan *Response, responseQueueSize),
		closed:  make(chan struct{}),
		onClose: onClose,
	}
}

// serve reads requests until the connection fails. Every request is
// passed to the RequestHandler together with a function that queues the
// response.
func (cc *ClientConn) serve() {
	glog.V(2).Infoln("starting to serve client", cc)
	go cc.handleOut()
	defer cc.Close()

	for {
		req := new(Request)
		if err := read(cc.conn, req, 0); err != nil {
			if err != io.EOF && !snet.IsSocketClosed(err) {
				glog.Warningf("client %v: %v", cc, err)
			}
			return
		}
		if req.Kind() != RequestExec {
			glog.Warningf("client %v: unexpected %v request, closing", cc, req.Kind())
			return
		}
		if glog.V(3) {
			glog.Infoln("received", req.SimpleString())
		}
		cc.rh.HandleRequest(cc.id, req, cc.WriteAsync)
	}
}

func (cc *ClientConn) handleOut() {
	for {
		select {
		case resp := <-cc.out:
			if err := write(cc.conn, resp, responseTimeout); err != nil {
				glog.Warningf("client %v: writing response: %v", cc, err)
				cc.Close()
				return
			}
		case <-cc.closed:
			return
		}
	}
}

// WriteAsync queues a response for the client. It never blocks; the
// response is dropped if the connection is closed or its queue is full,
// and the client retries.
func (cc *ClientConn) WriteAsync(resp *Response) {
	select {
	case <-cc.closed:
		return
	default:
	}
	select {
	case cc.out <- resp:
	default:
		glog.Warningf("client %v: response queue full, dropping %v", cc, resp.SimpleString())
	}
}

func (cc *ClientConn) Close() {
	cc.once.Do(func() {
		close(cc.closed)
		cc.conn.Close()
		if cc.onClose != nil {
			cc.onClose(cc)
		}
	})
}

func (cc *ClientConn) String() string {
	return cc.addr
}

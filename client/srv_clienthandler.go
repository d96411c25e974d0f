package client

import (
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	snet "github.com/duzhanyuan/scaliendb/net"
)

const handshakeTimeout = 2 * time.Second

// ReplyFunc queues the response to a request. It may be called from any
// goroutine and never blocks.
type ReplyFunc func(*Response)

// A RequestHandler serves the EXEC requests of clients. It must not block;
// the response may be sent later through reply.
type RequestHandler interface {
	HandleRequest(clientID string, req *Request, reply ReplyFunc)
}

// The ClientHandler maintains all of the connections a node has with its
// clients.
type ClientHandler struct {
	listener    net.Listener
	rh          RequestHandler
	mu          sync.Mutex
	clients     map[*ClientConn]bool
	stopCheckIn *sync.WaitGroup
}

// Create a new ClientHandler listening on addr.
func NewClientHandler(addr string, rh RequestHandler, stopCheckIn *sync.WaitGroup) (*ClientHandler, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &ClientHandler{
		listener:    listener,
		rh:          rh,
		clients:     make(map[*ClientConn]bool),
		stopCheckIn: stopCheckIn,
	}, nil
}

func (ch *ClientHandler) Addr() string {
	return ch.listener.Addr().String()
}

// Start accepting client connections.
func (ch *ClientHandler) Start() {
	go func() {
		glog.V(1).Info("start listening for clients")
		defer ch.stopCheckIn.Done()
		for {
			conn, err := ch.listener.Accept()
			if err != nil {
				if snet.IsSocketClosed(err) {
					glog.V(1).Info("client listener closed; exiting")
					ch.closeClients()
					return
				}
				glog.Errorln(err)
				continue
			}
			glog.V(2).Infoln("received connection from", conn.RemoteAddr())
			go ch.greetClient(conn)
		}
	}()
}

// Stop closes the listener and every client connection.
func (ch *ClientHandler) Stop() {
	ch.listener.Close()
}

func (ch *ClientHandler) closeClients() {
	ch.mu.Lock()
	clients := make([]*ClientConn, 0, len(ch.clients))
	for cc := range ch.clients {
		clients = append(clients, cc)
	}
	ch.clients = nil
	ch.mu.Unlock()
	for _, cc := range clients {
		cc.Close()
	}
}

func (ch *ClientHandler) removeClient(cc *ClientConn) {
	ch.mu.Lock()
	delete(ch.clients, cc)
	ch.mu.Unlock()
}

// Do the handshake with a new potential client connection.
func (ch *ClientHandler) greetClient(conn net.Conn) {
	var req Request
	if err := read(conn, &req, handshakeTimeout); err != nil {
		glog.Warningln("greetClient: read error, closing:", err)
		conn.Close()
		return
	}
	if req.Kind() != RequestHello {
		glog.Warning("greetClient: request was not handshake, closing")
		conn.Close()
		return
	}
	if !isValidID(req.ClientId) {
		glog.Warningf("greetClient: invalid id %q, closing", req.ClientId)
		write(conn, Fail(&req, StatusError, "invalid client id"), handshakeTimeout)
		conn.Close()
		return
	}
	if err := write(conn, Reply(&req, nil), handshakeTimeout); err != nil {
		glog.Warningln("greetClient: write error, closing:", err)
		conn.Close()
		return
	}

	cc := newClientConn(conn, req.ClientId, ch.rh, ch.removeClient)
	ch.mu.Lock()
	if ch.clients == nil {
		ch.mu.Unlock()
		conn.Close()
		return
	}
	ch.clients[cc] = true
	ch.mu.Unlock()

	glog.V(2).Infof("greetClient: id %v accepted", req.ClientId)
	cc.serve()
}

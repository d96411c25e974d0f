package net

import (
	"net"
	"sync"
	"time"

	"github.com/golang/glog"
)

// tcpListener accepts connections from replicas with lower ids and hands
// the validated ones to its network.
type tcpListener struct {
	listener net.Listener
	network  *TcpNetwork
	wg       sync.WaitGroup
}

func listen(addr string, tn *TcpNetwork) (*tcpListener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpListener{listener: l, network: tn}, nil
}

func dial(addr string) (*Connection, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	return NewConnection(conn), nil
}

func (tl *tcpListener) start() {
	tl.wg.Add(1)
	go func() {
		defer tl.wg.Done()
		for {
			conn, err := tl.listener.Accept()
			if err != nil {
				if IsSocketClosed(err) {
					glog.V(1).Infoln("replica listener closed; exiting")
					return
				}
				glog.Error(err)
				continue
			}

			c := NewConnection(conn)
			glog.V(2).Infoln("received connection from", c)
			tl.wg.Add(1)
			go func() {
				defer tl.wg.Done()
				tl.handshake(c)
			}()
		}
	}()
}

func (tl *tcpListener) handshake(c *Connection) {
	c.handshakeDeadline(time.Now().Add(dialTimeout))
	cid, err := c.waitForID()
	if err != nil {
		glog.Errorln("error receiving id,", err)
		c.Close()
		return
	}

	if err = tl.network.validateID(cid); err != nil {
		glog.Errorln("id rejected,", err)
		c.sendIDResp(false, err.Error())
		c.Close()
		return
	}

	if err = c.sendIDResp(true, ""); err != nil {
		glog.Errorln("error sending id resp,", err)
		c.Close()
		return
	}
	c.handshakeDeadline(time.Time{})

	tl.network.addConnection(newPeerConnection(c, cid, tl.network, tl.network.removeConnection))
}

func (tl *tcpListener) stop() {
	tl.listener.Close()
	tl.wg.Wait()
}

package client

import (
	"net"
	"time"

	"github.com/golang/protobuf/proto"

	snet "github.com/duzhanyuan/scaliendb/net"
)

// These functions are not thread-safe.

func write(conn net.Conn, msg proto.Message, timeout time.Duration) error {
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return snet.WriteMsg(conn, msg)
}

func read(conn net.Conn, msg proto.Message, timeout time.Duration) error {
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		conn.SetReadDeadline(time.Time{})
	}
	return snet.ReadMsg(conn, msg)
}

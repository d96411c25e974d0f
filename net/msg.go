package net

import (
	"github.com/golang/protobuf/proto"
)

// The IDExchange message is the first frame on a new connection. It names
// the dialing node.
type IDExchange struct {
	NodeID uint64 `protobuf:"varint,1,opt,name=node_id,json=nodeId,proto3" json:"node_id,omitempty"`
}

func (m *IDExchange) Reset()         { *m = IDExchange{} }
func (m *IDExchange) String() string { return proto.CompactTextString(m) }
func (*IDExchange) ProtoMessage()    {}

// The IDResponse message answers an IDExchange. A rejected connection is
// closed after the response is written.
type IDResponse struct {
	Accepted bool   `protobuf:"varint,1,opt,name=accepted,proto3" json:"accepted,omitempty"`
	Error    string `protobuf:"bytes,2,opt,name=error,proto3" json:"error,omitempty"`
}

func (m *IDResponse) Reset()         { *m = IDResponse{} }
func (m *IDResponse) String() string { return proto.CompactTextString(m) }
func (*IDResponse) ProtoMessage()    {}

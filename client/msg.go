package client

import (
	"fmt"
	"hash/fnv"

	"github.com/golang/protobuf/proto"
)

type RequestType uint32

const (
	RequestHello RequestType = iota + 1
	RequestExec
)

func (t RequestType) String() string {
	switch t {
	case RequestHello:
		return "HELLO"
	case RequestExec:
		return "EXEC"
	}
	return fmt.Sprintf("RequestType(%d)", uint32(t))
}

type Status uint32

const (
	StatusOK Status = iota
	// The node does not hold the lease of the quorum. Leader names the
	// lease owner.
	StatusRedirect
	// The node knows of no lease owner for the quorum.
	StatusNoLeader
	// The node is not a member of the quorum.
	StatusWrongQuorum
	// The request was understood but failed, see ErrorDetail.
	StatusError
)

var statusNames = [...]string{
	StatusOK:          "OK",
	StatusRedirect:    "REDIRECT",
	StatusNoLeader:    "NO_LEADER",
	StatusWrongQuorum: "WRONG_QUORUM",
	StatusError:       "ERROR",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint32(s))
}

// Request is sent from a client to a node. The first request on a
// connection is a HELLO carrying the client id.
type Request struct {
	Type     uint32 `protobuf:"varint,1,opt,name=type,proto3" json:"type,omitempty"`
	ClientId string `protobuf:"bytes,2,opt,name=client_id,json=clientId,proto3" json:"client_id,omitempty"`
	Seq      uint64 `protobuf:"varint,3,opt,name=seq,proto3" json:"seq,omitempty"`
	Quorum   uint64 `protobuf:"varint,4,opt,name=quorum,proto3" json:"quorum,omitempty"`
	Val      []byte `protobuf:"bytes,5,opt,name=val,proto3" json:"val,omitempty"`
}

func (m *Request) Reset()         { *m = Request{} }
func (m *Request) String() string { return proto.CompactTextString(m) }
func (*Request) ProtoMessage()    {}

func (m *Request) Kind() RequestType {
	return RequestType(m.Type)
}

// Response answers the Request with the same Seq.
type Response struct {
	Seq         uint64 `protobuf:"varint,1,opt,name=seq,proto3" json:"seq,omitempty"`
	Status      uint32 `protobuf:"varint,2,opt,name=status,proto3" json:"status,omitempty"`
	Val         []byte `protobuf:"bytes,3,opt,name=val,proto3" json:"val,omitempty"`
	Leader      uint64 `protobuf:"varint,4,opt,name=leader,proto3" json:"leader,omitempty"`
	ErrorDetail string `protobuf:"bytes,5,opt,name=error_detail,json=errorDetail,proto3" json:"error_detail,omitempty"`
}

func (m *Response) Reset()         { *m = Response{} }
func (m *Response) String() string { return proto.CompactTextString(m) }
func (*Response) ProtoMessage()    {}

func (m *Response) Code() Status {
	return Status(m.Status)
}

// Display the Request in truncated string form.
func (m *Request) SimpleString() string {
	return fmt.Sprintf("%v request from %v with seq %d for quorum %d",
		m.Kind(), m.ClientId, m.Seq, m.Quorum)
}

// Display the Request with a hash of its value.
func (m *Request) FullString() string {
	h := fnv.New32a()
	h.Write(m.Val)
	return fmt.Sprintf("%v and value hash %x", m.SimpleString(), h.Sum32())
}

func (m *Response) SimpleString() string {
	if m.Code() == StatusOK {
		return fmt.Sprintf("response with seq %d", m.Seq)
	}
	return fmt.Sprintf("response with seq %d and status %v", m.Seq, m.Code())
}

// Redirect builds the response of a node that is not the leader.
func Redirect(req *Request, leader uint64) *Response {
	return &Response{Seq: req.Seq, Status: uint32(StatusRedirect), Leader: leader}
}

// Reply builds a successful response to req.
func Reply(req *Request, val []byte) *Response {
	return &Response{Seq: req.Seq, Val: val}
}

// Fail builds a response with status s to req.
func Fail(req *Request, s Status, detail string) *Response {
	return &Response{Seq: req.Seq, Status: uint32(s), ErrorDetail: detail}
}

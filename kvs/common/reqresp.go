package common

import (
	"fmt"

	"github.com/golang/protobuf/proto"
)

type CommandType uint32

const (
	Read CommandType = iota
	Write
	Delete
)

var Commandtypes = [...]string{
	"Read",
	"Write",
	"Delete",
}

func (ct CommandType) String() string {
	if int(ct) < len(Commandtypes) {
		return Commandtypes[ct]
	}
	return fmt.Sprintf("CommandType(%d)", uint32(ct))
}

// MapRequest is the value of a client.Request sent to kvsd.
type MapRequest struct {
	Ct    uint32 `protobuf:"varint,1,opt,name=ct,proto3" json:"ct,omitempty"`
	Key   []byte `protobuf:"bytes,2,opt,name=key,proto3" json:"key,omitempty"`
	Value []byte `protobuf:"bytes,3,opt,name=value,proto3" json:"value,omitempty"`
}

func (m *MapRequest) Reset()      { *m = MapRequest{} }
func (*MapRequest) ProtoMessage() {}

func (m *MapRequest) Type() CommandType {
	return CommandType(m.Ct)
}

// MapResponse is the value of the client.Response to a MapRequest.
type MapResponse struct {
	ToType uint32 `protobuf:"varint,1,opt,name=to_type,json=toType,proto3" json:"to_type,omitempty"`
	Value  []byte `protobuf:"bytes,2,opt,name=value,proto3" json:"value,omitempty"`
	Found  bool   `protobuf:"varint,3,opt,name=found,proto3" json:"found,omitempty"`
	Err    string `protobuf:"bytes,4,opt,name=err,proto3" json:"err,omitempty"`
}

func (m *MapResponse) Reset()      { *m = MapResponse{} }
func (*MapResponse) ProtoMessage() {}

func (m *MapRequest) String() string {
	switch m.Type() {
	case Read:
		return fmt.Sprintf("Read request for key %s", m.Key)
	case Write:
		return fmt.Sprintf("Write request for key %s with value %s", m.Key, m.Value)
	case Delete:
		return fmt.Sprintf("Delete request for key %s", m.Key)
	}

	return fmt.Sprintf("Unknown command type for map request (code %d)", m.Ct)
}

func (m *MapResponse) String() string {
	if m.Err != "" {
		return fmt.Sprintf("Response to %v had error: %s", CommandType(m.ToType), m.Err)
	}

	switch CommandType(m.ToType) {
	case Read:
		if m.Found {
			return fmt.Sprintf("Value for key: %s", m.Value)
		}
		return "Value for key was not found in map"
	case Write:
		return fmt.Sprintf("Write request for %q OK", m.Value)
	case Delete:
		return "Delete request OK"
	}

	return fmt.Sprintf("Unknown command type for map response (code %d)", m.ToType)
}

// EncodeRequest and the functions below go through proto directly. The
// messages must not grow Marshal or Unmarshal methods of their own: proto
// would call them back.
func EncodeRequest(m *MapRequest) ([]byte, error) {
	return proto.Marshal(m)
}

func DecodeRequest(buf []byte) (*MapRequest, error) {
	m := new(MapRequest)
	if err := proto.Unmarshal(buf, m); err != nil {
		return nil, err
	}
	return m, nil
}

func EncodeResponse(m *MapResponse) ([]byte, error) {
	return proto.Marshal(m)
}

func DecodeResponse(buf []byte) (*MapResponse, error) {
	m := new(MapResponse)
	if err := proto.Unmarshal(buf, m); err != nil {
		return nil, err
	}
	return m, nil
}

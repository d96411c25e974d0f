package common

import (
	"github.com/golang/protobuf/proto"
)

// Command is one client write as it is stored in the replicated log. The
// client id and sequence number let every replica skip retransmitted
// commands.
type Command struct {
	ClientId string `protobuf:"bytes,1,opt,name=client_id,json=clientId,proto3" json:"client_id,omitempty"`
	Seq      uint64 `protobuf:"varint,2,opt,name=seq,proto3" json:"seq,omitempty"`
	Ct       uint32 `protobuf:"varint,3,opt,name=ct,proto3" json:"ct,omitempty"`
	Key      []byte `protobuf:"bytes,4,opt,name=key,proto3" json:"key,omitempty"`
	Value    []byte `protobuf:"bytes,5,opt,name=value,proto3" json:"value,omitempty"`
}

func (m *Command) Reset()         { *m = Command{} }
func (m *Command) String() string { return proto.CompactTextString(m) }
func (*Command) ProtoMessage()    {}

func (m *Command) Type() CommandType {
	return CommandType(m.Ct)
}

// Batch is a single value of the replicated log.
type Batch struct {
	Commands []*Command `protobuf:"bytes,1,rep,name=commands,proto3" json:"commands,omitempty"`
}

func (m *Batch) Reset()         { *m = Batch{} }
func (m *Batch) String() string { return proto.CompactTextString(m) }
func (*Batch) ProtoMessage()    {}

func EncodeBatch(cmds []*Command) ([]byte, error) {
	return proto.Marshal(&Batch{Commands: cmds})
}

func DecodeBatch(value []byte) ([]*Command, error) {
	var b Batch
	if err := proto.Unmarshal(value, &b); err != nil {
		return nil, err
	}
	return b.Commands, nil
}

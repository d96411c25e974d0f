package paxos

import (
	"github.com/golang/protobuf/proto"
)

// MsgType is the closed set of message kinds exchanged between replicas.
type MsgType uint32

const (
	MsgUnknown MsgType = iota

	PrepareRequest
	PrepareRejected
	PreparePreviouslyAccepted
	PrepareCurrentlyOpen
	ProposeRequest
	ProposeRejected
	ProposeAccepted
	LearnProposal
	LearnValue
	RequestChosen
	StartCatchup

	LeasePrepareRequest
	LeasePrepareRejected
	LeasePreparePreviouslyAccepted
	LeasePrepareCurrentlyOpen
	LeaseProposeRequest
	LeaseProposeRejected
	LeaseProposeAccepted
	LeaseLearnChosen

	msgTypeEnd
)

var msgTypeNames = [...]string{
	MsgUnknown:                     "UNKNOWN",
	PrepareRequest:                 "PREPARE_REQUEST",
	PrepareRejected:                "PREPARE_REJECTED",
	PreparePreviouslyAccepted:      "PREPARE_PREVIOUSLY_ACCEPTED",
	PrepareCurrentlyOpen:           "PREPARE_CURRENTLY_OPEN",
	ProposeRequest:                 "PROPOSE_REQUEST",
	ProposeRejected:                "PROPOSE_REJECTED",
	ProposeAccepted:                "PROPOSE_ACCEPTED",
	LearnProposal:                  "LEARN_PROPOSAL",
	LearnValue:                     "LEARN_VALUE",
	RequestChosen:                  "REQUEST_CHOSEN",
	StartCatchup:                   "START_CATCHUP",
	LeasePrepareRequest:            "LEASE_PREPARE_REQUEST",
	LeasePrepareRejected:           "LEASE_PREPARE_REJECTED",
	LeasePreparePreviouslyAccepted: "LEASE_PREPARE_PREVIOUSLY_ACCEPTED",
	LeasePrepareCurrentlyOpen:      "LEASE_PREPARE_CURRENTLY_OPEN",
	LeaseProposeRequest:            "LEASE_PROPOSE_REQUEST",
	LeaseProposeRejected:           "LEASE_PROPOSE_REJECTED",
	LeaseProposeAccepted:           "LEASE_PROPOSE_ACCEPTED",
	LeaseLearnChosen:               "LEASE_LEARN_CHOSEN",
}

func (t MsgType) String() string {
	if t >= msgTypeEnd {
		return "INVALID"
	}
	return msgTypeNames[t]
}

func (t MsgType) IsPrepareResponse() bool {
	return t == PrepareRejected || t == PreparePreviouslyAccepted || t == PrepareCurrentlyOpen
}

func (t MsgType) IsProposeResponse() bool {
	return t == ProposeRejected || t == ProposeAccepted
}

func (t MsgType) IsLearn() bool {
	return t == LearnProposal || t == LearnValue
}

func (t MsgType) IsLease() bool {
	return t >= LeasePrepareRequest && t < msgTypeEnd
}

func (t MsgType) IsLeasePrepareResponse() bool {
	return t == LeasePrepareRejected || t == LeasePreparePreviouslyAccepted || t == LeasePrepareCurrentlyOpen
}

func (t MsgType) IsLeaseProposeResponse() bool {
	return t == LeaseProposeRejected || t == LeaseProposeAccepted
}

// Message is the single envelope for all replica-to-replica traffic. Which
// fields are meaningful depends on Type:
//
//	PaxosID             log position (lease messages: the sender's position)
//	ProposalID          proposal being prepared, proposed or learned
//	AcceptedProposalID  previously accepted proposal in a prepare reply
//	PromisedProposalID  the acceptor's promise in a rejection
//	Value               proposed, accepted or chosen value
//	LeaseOwner          proposed or accepted lease owner
//	Duration            lease duration in nanoseconds (remaining time in
//	                    a previously-accepted reply)
//
// QuorumID, NodeID and RunID always describe the sender.
type Message struct {
	Type               uint32 `protobuf:"varint,1,opt,name=type,proto3" json:"type,omitempty"`
	QuorumID           uint64 `protobuf:"varint,2,opt,name=quorum_id,json=quorumId,proto3" json:"quorum_id,omitempty"`
	NodeID             uint64 `protobuf:"varint,3,opt,name=node_id,json=nodeId,proto3" json:"node_id,omitempty"`
	RunID              uint64 `protobuf:"varint,4,opt,name=run_id,json=runId,proto3" json:"run_id,omitempty"`
	PaxosID            uint64 `protobuf:"varint,5,opt,name=paxos_id,json=paxosId,proto3" json:"paxos_id,omitempty"`
	ProposalID         uint64 `protobuf:"varint,6,opt,name=proposal_id,json=proposalId,proto3" json:"proposal_id,omitempty"`
	AcceptedProposalID uint64 `protobuf:"varint,7,opt,name=accepted_proposal_id,json=acceptedProposalId,proto3" json:"accepted_proposal_id,omitempty"`
	PromisedProposalID uint64 `protobuf:"varint,8,opt,name=promised_proposal_id,json=promisedProposalId,proto3" json:"promised_proposal_id,omitempty"`
	Value              []byte `protobuf:"bytes,9,opt,name=value,proto3" json:"value,omitempty"`
	LeaseOwner         uint64 `protobuf:"varint,10,opt,name=lease_owner,json=leaseOwner,proto3" json:"lease_owner,omitempty"`
	Duration           uint64 `protobuf:"varint,11,opt,name=duration,proto3" json:"duration,omitempty"`
}

func (m *Message) Reset()         { *m = Message{} }
func (m *Message) String() string { return proto.CompactTextString(m) }
func (*Message) ProtoMessage()    {}

func (m *Message) Kind() MsgType {
	return MsgType(m.Type)
}

func (m *Message) GetPaxosID() PaxosID {
	return PaxosID(m.PaxosID)
}

func (m *Message) GetProposalID() ProposalID {
	return ProposalID(m.ProposalID)
}

func (m *Message) GetAcceptedProposalID() ProposalID {
	return ProposalID(m.AcceptedProposalID)
}

func (m *Message) GetPromisedProposalID() ProposalID {
	return ProposalID(m.PromisedProposalID)
}

// Clone returns a deep copy of the message. Outgoing messages are cloned
// before they leave the owning component so the value buffer is never
// shared.
func (m *Message) Clone() *Message {
	c := *m
	if m.Value != nil {
		c.Value = append([]byte(nil), m.Value...)
	}
	return &c
}

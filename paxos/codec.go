package paxos

import (
	"errors"
	"fmt"

	"github.com/golang/protobuf/proto"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Marshal encodes a message in its wire format.
func Marshal(m *Message) ([]byte, error) {
	return proto.Marshal(m)
}

// Unmarshal decodes and validates a message.
func Unmarshal(data []byte) (*Message, error) {
	m := new(Message)
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks that the fields required by the message type are set.
func (m *Message) Validate() error {
	t := m.Kind()
	if t == MsgUnknown || t >= msgTypeEnd {
		return fmt.Errorf("%w: %d", ErrUnknownType, m.Type)
	}

	switch t {
	case PrepareRequest, ProposeRequest, LearnProposal,
		LeasePrepareRequest, LeaseProposeRequest, LeaseLearnChosen,
		PrepareCurrentlyOpen, ProposeAccepted,
		LeasePrepareCurrentlyOpen, LeaseProposeAccepted,
		PrepareRejected, ProposeRejected, LeasePrepareRejected, LeaseProposeRejected:
		if m.ProposalID == 0 {
			return fmt.Errorf("%w: %v without proposal id", ErrMalformed, t)
		}
	case PreparePreviouslyAccepted, LeasePreparePreviouslyAccepted:
		if m.ProposalID == 0 || m.AcceptedProposalID == 0 {
			return fmt.Errorf("%w: %v without proposal id", ErrMalformed, t)
		}
	}

	switch t {
	case LeaseProposeRequest, LeaseLearnChosen:
		if m.Duration == 0 {
			return fmt.Errorf("%w: %v without duration", ErrMalformed, t)
		}
	}

	return nil
}

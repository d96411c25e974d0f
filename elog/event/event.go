package event

import (
	"fmt"
	"time"
)

// Event is a protocol milestone. Quorum is the replication group the
// event belongs to; it is not set for the general events.
type Event struct {
	Type    Type
	Quorum  uint64
	Time    time.Time
	EndTime time.Time
	Value   uint64
}

type Type uint8

const (
	// General: 0-15
	Unknown       Type = 0
	Start         Type = 1
	Running       Type = 2
	ShutdownStart Type = 4
	Exit          Type = 5
	Fault         Type = 6

	// Throughput: 16-23
	ThroughputSample Type = 16

	// Lease: 24-31
	LeaseAcquired Type = 24
	LeaseLost     Type = 25
	LeaseLearned  Type = 26
	LeaseExpired  Type = 27

	// Catch-up: 56-63
	CatchUpMakeReq    Type = 56
	CatchUpRecvReq    Type = 58
	CatchUpSentResp   Type = 59
	CatchUpStart      Type = 62
	CatchUpTooFarBack Type = 63

	// Log: 64-71
	Restored Type = 64

	// Client Request Latency: 88-95
	ClientRequestLatency Type = 88
)

var typeNames = map[Type]string{
	Unknown:              "Unknown",
	Start:                "Start",
	Running:              "Running",
	ShutdownStart:        "ShutdownStart",
	Exit:                 "Exit",
	Fault:                "Fault",
	ThroughputSample:     "ThroughputSample",
	LeaseAcquired:        "LeaseAcquired",
	LeaseLost:            "LeaseLost",
	LeaseLearned:         "LeaseLearned",
	LeaseExpired:         "LeaseExpired",
	CatchUpMakeReq:       "CatchUpMakeReq",
	CatchUpRecvReq:       "CatchUpRecvReq",
	CatchUpSentResp:      "CatchUpSentResp",
	CatchUpStart:         "CatchUpStart",
	CatchUpTooFarBack:    "CatchUpTooFarBack",
	Restored:             "Restored",
	ClientRequestLatency: "ClientRequestLatency",
}

func (t Type) String() string {
	if name, found := typeNames[t]; found {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

func NewEvent(t Type) Event {
	return Event{
		Type: t,
		Time: time.Now(),
	}
}

func NewQuorumEvent(t Type, q uint64) Event {
	return Event{
		Type:   t,
		Quorum: q,
		Time:   time.Now(),
	}
}

func NewEventWithMetric(t Type, q, v uint64) Event {
	return Event{
		Type:   t,
		Quorum: q,
		Time:   time.Now(),
		Value:  v,
	}
}

func NewTimedEvent(t Type, start time.Time) Event {
	return Event{
		Type:    t,
		Time:    start,
		EndTime: time.Now(),
	}
}

const layout = "2006-01-02 15:04:05.999999999"

func (e Event) String() string {
	switch e.Type {
	case ThroughputSample, Restored, CatchUpMakeReq,
		CatchUpRecvReq, CatchUpSentResp, CatchUpStart, CatchUpTooFarBack:
		return fmt.Sprintf("%v:\t%30v q%-3d %d",
			e.Time.Format(layout), e.Type, e.Quorum, e.Value)
	case ClientRequestLatency:
		return fmt.Sprintf("%v:\t%30v Latency: %v",
			e.EndTime.Format(layout), e.Type, e.EndTime.Sub(e.Time))
	default:
		if e.EndTime.IsZero() {
			return fmt.Sprintf("%v:\t%30v q%d",
				e.Time.Format(layout), e.Type, e.Quorum)
		}
		return fmt.Sprintf("%v:\t%30v q%d %v",
			e.Time.Format(layout), e.Type, e.Quorum, e.EndTime.Format(layout))
	}
}

package event

import (
	"bytes"
	"encoding/gob"
	"strings"
	"testing"
	"time"
)

func TestDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	written := []Event{
		NewEvent(Start),
		NewQuorumEvent(LeaseAcquired, 3),
		NewEventWithMetric(ThroughputSample, 3, 120),
		NewEventWithMetric(CatchUpMakeReq, 4, 17),
	}
	for _, e := range written {
		if err := enc.Encode(e); err != nil {
			t.Fatal(err)
		}
	}

	events, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != len(written) {
		t.Fatalf("got %d events, want %d", len(events), len(written))
	}
	for i := range events {
		if events[i].Type != written[i].Type || events[i].Quorum != written[i].Quorum ||
			events[i].Value != written[i].Value || !events[i].Time.Equal(written[i].Time) {
			t.Errorf("%d. %v != %v", i, events[i], written[i])
		}
	}
}

func TestExtractAndFilter(t *testing.T) {
	events := []Event{
		NewEvent(Start),
		NewEventWithMetric(ThroughputSample, 1, 10),
		NewQuorumEvent(LeaseAcquired, 1),
		NewQuorumEvent(LeaseAcquired, 2),
		NewEvent(Exit),
	}

	regular, throughput := ExtractThroughput(events)
	if len(regular) != 4 || len(throughput) != 1 {
		t.Errorf("got %d regular and %d throughput events", len(regular), len(throughput))
	}

	filtered := FilterQuorum(events, 2)
	if len(filtered) != 3 {
		t.Fatalf("got %d events for quorum 2, want 3", len(filtered))
	}
	if filtered[1].Type != LeaseAcquired || filtered[1].Quorum != 2 {
		t.Errorf("unexpected event %v", filtered[1])
	}
}

var typeStringTests = []struct {
	t        Type
	expected string
}{
	{Start, "Start"},
	{LeaseLost, "LeaseLost"},
	{CatchUpTooFarBack, "CatchUpTooFarBack"},
	{Type(200), "Type(200)"},
}

func TestTypeString(t *testing.T) {
	for i, tst := range typeStringTests {
		if actual := tst.t.String(); actual != tst.expected {
			t.Errorf("%d. %q != %q", i, actual, tst.expected)
		}
	}
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	e := NewTimedEvent(ClientRequestLatency, time.Now().Add(-time.Millisecond))
	if err := Dump(&buf, []Event{e}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "ClientRequestLatency") {
		t.Errorf("dump missing event type: %q", buf.String())
	}
}

package event

import (
	"encoding/gob"
	"io"
	"os"
)

// Parse reads every event from an elog file.
func Parse(filename string) ([]Event, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Decode(file)
}

// Decode reads events from r until EOF.
func Decode(r io.Reader) ([]Event, error) {
	dec := gob.NewDecoder(r)
	var events []Event

	for {
		var event Event
		err := dec.Decode(&event)
		if err != nil {
			if err == io.EOF {
				break
			}
			return events, err
		}
		events = append(events, event)
	}

	return events, nil
}

func ExtractThroughput(events []Event) (regular, throughput []Event) {
	regular = make([]Event, 0)
	throughput = make([]Event, 0)
	for _, event := range events {
		if event.Type == ThroughputSample {
			throughput = append(throughput, event)
		} else {
			regular = append(regular, event)
		}
	}

	return
}

// FilterQuorum keeps the events of quorum q and the general ones.
func FilterQuorum(events []Event, q uint64) []Event {
	var filtered []Event
	for _, event := range events {
		if event.Type < ThroughputSample || event.Quorum == q {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

package server

import (
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/config"
	"github.com/duzhanyuan/scaliendb/elog"
	e "github.com/duzhanyuan/scaliendb/elog/event"
	"github.com/duzhanyuan/scaliendb/quorum"
)

func (s *Server) run() {
	elog.Log(e.NewEvent(e.Running))

	for _, q := range s.quorums {
		go s.watchFaults(q)
	}

	tschan := make(chan bool)
	s.startLogThroughput(tschan)
	defer s.stopLogThroughput(tschan)

	<-s.stopChan
	s.stop()
}

// watchFaults forwards the storage failure of quorum q. Only the first
// failure of the node is kept.
func (s *Server) watchFaults(q *quorum.Quorum) {
	select {
	case err := <-s.contexts[q.ID()].Faults():
		glog.Errorf("quorum %d faulted: %v", q.ID(), err)
		select {
		case s.faults <- fmt.Errorf("quorum %d: %w", q.ID(), err):
		default:
		}
	case <-s.done:
	}
}

func (s *Server) startLogThroughput(stop <-chan bool) {
	interval := s.config.GetDuration("throughputSamplingInterval", config.DefThroughputSamplingInterval)
	if interval == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		prev := make(map[quorum.ID]uint64, len(s.quorums))
		for _, q := range s.quorums {
			prev[q.ID()] = s.contexts[q.ID()].Appended()
		}
		for {
			select {
			case <-ticker.C:
				for _, q := range s.quorums {
					current := s.contexts[q.ID()].Appended()
					elog.Log(
						e.NewEventWithMetric(
							e.ThroughputSample,
							uint64(q.ID()),
							current-prev[q.ID()],
						),
					)
					prev[q.ID()] = current
				}
			case <-stop:
				return
			}
		}
	}()
}

func (s *Server) stopLogThroughput(stop chan<- bool) {
	if s.config.GetDuration("throughputSamplingInterval", config.DefThroughputSamplingInterval) == 0 {
		return
	}
	stop <- true
}

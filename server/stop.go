package server

import (
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/elog"
	e "github.com/duzhanyuan/scaliendb/elog/event"
)

const shutdownTimeout = 2 * time.Second

var ErrShutdownTimeout = fmt.Errorf("stopping submodules timed out (waited %v)", shutdownTimeout)

// Stop all of the submodules.
func (s *Server) Stop() error {
	elog.Log(e.NewEvent(e.ShutdownStart))
	glog.V(1).Info("starting shutdown procedure")

	s.stopChan <- true
	stopped := make(chan bool)
	go func() {
		glog.V(1).Info("waiting for submodules to report stopped")
		s.subModulesStopSync.Wait()
		stopped <- true
	}()

	select {
	case <-stopped:
		glog.V(1).Info("clean exit")
	case <-time.After(shutdownTimeout):
		glog.Error(ErrShutdownTimeout)
		return ErrShutdownTimeout
	}

	return s.store.Close()
}

// stop signals the submodules. The writer goes first: its last
// completions are still drained by the running contexts.
func (s *Server) stop() {
	glog.V(1).Info("signaling stop to submodules")
	close(s.done)
	s.writer.Stop()
	for _, q := range s.quorums {
		s.contexts[q.ID()].Stop()
	}
	s.network.Stop()
}

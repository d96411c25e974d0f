package server

import (
	"github.com/golang/glog"
)

// Start all of the submodules. This must occur in the correct order: the
// writer must run before any context can persist, and the network must
// deliver before the contexts start sending.
func (s *Server) Start() {
	glog.V(1).Info("starting submodules")
	s.writerStart()
	s.networkStart()
	s.contextsStart()
	go s.run()
}

func (s *Server) writerStart() {
	s.subModulesStopSync.Add(1)
	s.writer.Start()
}

func (s *Server) networkStart() {
	s.subModulesStopSync.Add(1)
	s.network.Start()
}

func (s *Server) contextsStart() {
	for _, q := range s.quorums {
		s.subModulesStopSync.Add(1)
		s.contexts[q.ID()].Start()
	}
}

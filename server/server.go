package server

import (
	"sync"

	"github.com/duzhanyuan/scaliendb/app"
	"github.com/duzhanyuan/scaliendb/config"
	"github.com/duzhanyuan/scaliendb/net"
	"github.com/duzhanyuan/scaliendb/quorum"
	"github.com/duzhanyuan/scaliendb/quorumctx"
	"github.com/duzhanyuan/scaliendb/storage"
)

// A Server owns the node-wide modules (store, writer and network) and one
// quorum context per quorum the node is a member of. It is responsible for
// initializing, starting and stopping them in the right order.
type Server struct {
	id                 quorum.NodeID
	config             *config.Config
	nodes              *quorum.NodeMap
	quorums            []*quorum.Quorum
	ah                 app.Handler
	store              *storage.Store
	writer             *storage.Writer
	network            *net.TcpNetwork
	contexts           map[quorum.ID]*quorumctx.Context
	faults             chan error
	stopChan           chan bool
	done               chan struct{}
	subModulesStopSync *sync.WaitGroup
}

// Create a new Server for an application.
func NewServer(id quorum.NodeID, conf *config.Config, ah app.Handler) *Server {
	return &Server{
		id:                 id,
		config:             conf,
		ah:                 ah,
		contexts:           make(map[quorum.ID]*quorumctx.Context),
		faults:             make(chan error, 1),
		stopChan:           make(chan bool),
		done:               make(chan struct{}),
		subModulesStopSync: new(sync.WaitGroup),
	}
}

func (s *Server) ID() quorum.NodeID {
	return s.id
}

// Nodes returns the node map of the cluster.
func (s *Server) Nodes() *quorum.NodeMap {
	return s.nodes
}

// Quorums returns the quorums this node is a member of, by ascending id.
func (s *Server) Quorums() []*quorum.Quorum {
	return s.quorums
}

// Context returns the context of quorum q, if this node serves it.
func (s *Server) Context(q quorum.ID) (*quorumctx.Context, bool) {
	ctx, found := s.contexts[q]
	return ctx, found
}

// Faults delivers the first storage failure of any quorum context.
func (s *Server) Faults() <-chan error {
	return s.faults
}

package scaliendb

import (
	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/app"
	"github.com/duzhanyuan/scaliendb/config"
	"github.com/duzhanyuan/scaliendb/elog"
	e "github.com/duzhanyuan/scaliendb/elog/event"
	"github.com/duzhanyuan/scaliendb/quorum"
	"github.com/duzhanyuan/scaliendb/quorumctx"
	"github.com/duzhanyuan/scaliendb/server"
)

// Replica holds the state of a replicated service.
type Replica struct {
	started     bool
	id          quorum.NodeID
	ah          app.Handler
	config      *config.Config
	initialized bool
	server      *server.Server
}

// Create a new replica. Arguments required are the node id, the loaded
// configuration, and an application that fulfills the app.Handler
// interface.
func NewReplica(id quorum.NodeID, conf *config.Config, ah app.Handler) *Replica {
	return &Replica{
		id:     id,
		config: conf,
		ah:     ah,
	}
}

// Initialize the state. The durable state of every quorum is restored
// and replayed into the state machines here, before any network traffic.
func (r *Replica) Init() error {
	glog.V(1).Info("initializing scaliendb node")

	r.server = server.NewServer(r.id, r.config, r.ah)
	if err := r.server.InitModules(); err != nil {
		return err
	}

	r.initialized = true
	return nil
}

// Launch the server and all of its modules.
func (r *Replica) Start() error {
	if !r.initialized {
		return ErrNodeNotInitialized
	}

	if r.started {
		return ErrCanNotStartAlreadyRunningNode
	}

	elog.Log(e.NewEvent(e.Start))
	glog.V(1).Info("starting node")

	r.server.Start()
	r.started = true

	return nil
}

// Halt the server and all of its modules.
func (r *Replica) Stop() error {
	if !r.started {
		return ErrCanNotStopNonRunningNode
	}
	r.started = false
	glog.V(1).Info("stopping node")
	err := r.server.Stop()
	elog.Log(e.NewEvent(e.Exit))
	elog.Flush()
	return err
}

func (r *Replica) ID() quorum.NodeID {
	return r.id
}

// Context returns the replicated log of quorum q, if this node is one of
// its members.
func (r *Replica) Context(q quorum.ID) (*quorumctx.Context, bool) {
	if !r.initialized {
		return nil, false
	}
	return r.server.Context(q)
}

// Quorums returns the quorums this node serves.
func (r *Replica) Quorums() []*quorum.Quorum {
	if !r.initialized {
		return nil
	}
	return r.server.Quorums()
}

// Nodes returns the node map of the cluster.
func (r *Replica) Nodes() *quorum.NodeMap {
	if !r.initialized {
		return nil
	}
	return r.server.Nodes()
}

// Faults delivers the first storage failure of the node. A node that
// faulted no longer takes part in any quorum and should be restarted.
func (r *Replica) Faults() <-chan error {
	if !r.initialized {
		return nil
	}
	return r.server.Faults()
}

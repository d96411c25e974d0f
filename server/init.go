package server

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/config"
	"github.com/duzhanyuan/scaliendb/elog"
	"github.com/duzhanyuan/scaliendb/net"
	"github.com/duzhanyuan/scaliendb/quorumctx"
	"github.com/duzhanyuan/scaliendb/storage"
)

// Initialize all of the modules. Nothing runs until Start.
func (s *Server) InitModules() error {
	glog.V(1).Info("initializing submodules")
	if err := s.initNodeMap(); err != nil {
		return err
	}
	if glog.V(2) {
		s.logInitInfo()
	}
	s.initEventLog()
	if err := s.initStorage(); err != nil {
		return err
	}
	if err := s.initNetwork(); err != nil {
		s.store.Close()
		return err
	}
	if err := s.initContexts(); err != nil {
		s.store.Close()
		return err
	}
	return nil
}

func (s *Server) initNodeMap() error {
	nodes, err := s.config.GetNodeMap("nodes")
	if err != nil {
		return err
	}
	if _, found := nodes.LookupNode(s.id); !found {
		return fmt.Errorf("node %d is not in the node map %v", s.id, nodes)
	}
	all, err := s.config.GetQuorums("quorums", nodes)
	if err != nil {
		return err
	}
	s.nodes = nodes
	s.quorums = s.quorums[:0]
	for _, q := range all {
		if q.IsMember(s.id) {
			s.quorums = append(s.quorums, q)
		}
	}
	if len(s.quorums) == 0 {
		glog.Warningf("node %d is not a member of any quorum", s.id)
	}
	return nil
}

func (s *Server) logInitInfo() {
	glog.Infoln("\n----------------------------------------------",
		"\ninitalization values summary",
		"\nid is", s.id,
		"\nThere are", s.nodes.Len(), "nodes in the cluster",
		"\nmember of quorums:", s.quorums,
		"\ndata directory:", s.dataDir(),
		"\npaxos timeout:",
		s.config.GetDuration("paxosTimeout", config.DefPaxosTimeout),
		"\nlease values:",
		s.config.GetDuration("maxLeaseTime", config.DefMaxLeaseTime),
		s.config.GetDuration("leaseAcquireTimeout", config.DefLeaseAcquireTimeout),
		s.config.GetDuration("leaseRenewMargin", config.DefLeaseRenewMargin),
		"\nlog cache size:",
		s.config.GetInt("logCacheSize", config.DefLogCacheSize),
		"\n----------------------------------------------",
	)
}

// Every node gets its own directory below dataDir, so several nodes can
// share one configuration on a single machine.
func (s *Server) dataDir() string {
	return filepath.Join(s.config.GetString("dataDir", config.DefDataDir),
		"node"+strconv.FormatUint(uint64(s.id), 10))
}

func (s *Server) initEventLog() {
	elog.SetDir(s.config.GetString("dataDir", config.DefDataDir),
		strconv.FormatUint(uint64(s.id), 10))
	if s.config.GetBool("logEvents", config.DefLogEvents) {
		elog.Enable()
	}
}

func (s *Server) initStorage() error {
	store, err := storage.Open(s.dataDir())
	if err != nil {
		return err
	}
	s.store = store
	s.writer = storage.NewWriter(store, s.subModulesStopSync)
	glog.V(1).Infoln("storage opened, run id is", store.RunID())
	return nil
}

func (s *Server) initNetwork() error {
	network, err := net.NewTcpNetwork(s.id, s.nodes, s.subModulesStopSync)
	if err != nil {
		return err
	}
	s.network = network
	return nil
}

func (s *Server) initContexts() error {
	for _, q := range s.quorums {
		ctx, err := quorumctx.NewContext(&quorumctx.Pack{
			NodeID:       s.id,
			Quorum:       q,
			Network:      s.network,
			Store:        s.store,
			Writer:       s.writer,
			StateMachine: s.ah.StateMachine(q),
			Config:       s.config,
			StopCheckIn:  s.subModulesStopSync,
		})
		if err != nil {
			return err
		}
		s.contexts[q.ID()] = ctx
	}
	return nil
}

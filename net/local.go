package net

import (
	"sync"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

// LocalHub connects LocalNetworks inside one process. Links between
// nodes can be cut to simulate partitions.
type LocalHub struct {
	mu       sync.RWMutex
	networks map[quorum.NodeID]*LocalNetwork
	cut      map[[2]quorum.NodeID]bool
}

func NewLocalHub() *LocalHub {
	return &LocalHub{
		networks: make(map[quorum.NodeID]*LocalNetwork),
		cut:      make(map[[2]quorum.NodeID]bool),
	}
}

// Network returns the endpoint of node id, creating it on first use.
func (h *LocalHub) Network(id quorum.NodeID) *LocalNetwork {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ln, found := h.networks[id]; found {
		return ln
	}
	ln := &LocalNetwork{channelDemuxer: newChannelDemuxer(), id: id, hub: h}
	h.networks[id] = ln
	return ln
}

// Replace gives node id a fresh endpoint with no registered channels, as
// seen after a restart.
func (h *LocalHub) Replace(id quorum.NodeID) *LocalNetwork {
	h.mu.Lock()
	delete(h.networks, id)
	h.mu.Unlock()
	return h.Network(id)
}

// Isolate cuts or restores every link of node id.
func (h *LocalHub) Isolate(id quorum.NodeID, isolated bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for other := range h.networks {
		if other == id {
			continue
		}
		h.cut[[2]quorum.NodeID{id, other}] = isolated
		h.cut[[2]quorum.NodeID{other, id}] = isolated
	}
}

func (h *LocalHub) deliver(from, to quorum.NodeID, msg *paxos.Message) {
	h.mu.RLock()
	ln, found := h.networks[to]
	cut := h.cut[[2]quorum.NodeID{from, to}]
	h.mu.RUnlock()
	if !found || cut {
		return
	}
	ln.HandleMessage(msg.Clone())
}

// LocalNetwork is one node's endpoint on a LocalHub.
type LocalNetwork struct {
	*channelDemuxer
	id  quorum.NodeID
	hub *LocalHub
}

func (ln *LocalNetwork) Send(node quorum.NodeID, msg *paxos.Message, priority bool) {
	ln.hub.deliver(ln.id, node, msg)
}

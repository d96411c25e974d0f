package quorumctx

import (
	"github.com/duzhanyuan/scaliendb/net"
	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

// QuorumTransport implements replog.Transport for the members of one
// quorum on top of the node-wide network.
type QuorumTransport struct {
	quorum  *quorum.Quorum
	network net.Sender
}

func NewQuorumTransport(q *quorum.Quorum, network net.Sender) *QuorumTransport {
	return &QuorumTransport{quorum: q, network: network}
}

func (t *QuorumTransport) SendMessage(node quorum.NodeID, msg *paxos.Message) {
	t.network.Send(node, msg, false)
}

func (t *QuorumTransport) SendPriorityMessage(node quorum.NodeID, msg *paxos.Message) {
	t.network.Send(node, msg, true)
}

// BroadcastMessage sends msg to every member, this node included.
func (t *QuorumTransport) BroadcastMessage(msg *paxos.Message) {
	t.broadcast(msg, false)
}

func (t *QuorumTransport) BroadcastPriorityMessage(msg *paxos.Message) {
	t.broadcast(msg, true)
}

func (t *QuorumTransport) broadcast(msg *paxos.Message, priority bool) {
	for _, id := range t.quorum.Nodes() {
		t.network.Send(id, msg, priority)
	}
}

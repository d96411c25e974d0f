package quorum

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var (
	ErrNodeAlreadyPresent = errors.New("node with given id is already present in NodeMap")
	ErrNodeNotFound       = errors.New("node with given id not present in NodeMap")
	ErrEmptyQuorum        = errors.New("quorum has no members")
	ErrDuplicateMember    = errors.New("quorum member listed more than once")
	ErrNodeIDOutOfRange   = errors.New("node id above MaxNodeID")
)

// NodeID identifies a node in the cluster. It is also the low bits of every
// proposal ID the node creates, so it must fit in 16 bits.
type NodeID uint64

const (
	MaxNodeID = NodeID(1<<16 - 1)
)

func (id NodeID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

type Node struct {
	ID         NodeID
	IP         string
	PaxosPort  string
	ClientPort string
}

func NewNode(id NodeID, ip, pp, cp string) Node {
	return Node{id, ip, pp, cp}
}

func (n Node) PaxosAddr() string {
	return n.IP + ":" + n.PaxosPort
}

func (n Node) ClientAddr() string {
	return n.IP + ":" + n.ClientPort
}

func (n Node) String() string {
	return fmt.Sprintf("node %v with address: %v:%v/%v",
		n.ID, n.IP, n.PaxosPort, n.ClientPort)
}

func (n Node) IsSame(m Node) bool {
	return m.IP == n.IP && m.PaxosPort == n.PaxosPort
}

// NodeMap holds every node known to this process, by id. IDs are memoized in
// ascending order.
type NodeMap struct {
	nodes       map[NodeID]Node
	idsMemoized []NodeID
}

func NewNodeMap(nodes map[NodeID]Node) *NodeMap {
	nm := NodeMap{nodes: nodes}
	nm.memoize()
	return &nm
}

func (nm *NodeMap) memoize() {
	ids := make([]NodeID, 0, len(nm.nodes))
	for id := range nm.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	nm.idsMemoized = ids
}

func (nm *NodeMap) Add(node Node) error {
	if _, found := nm.nodes[node.ID]; found {
		return ErrNodeAlreadyPresent
	}
	nm.nodes[node.ID] = node
	nm.memoize()
	return nil
}

func (nm *NodeMap) LookupNode(id NodeID) (Node, bool) {
	node, found := nm.nodes[id]
	return node, found
}

func (nm *NodeMap) IDs() []NodeID {
	return nm.idsMemoized
}

func (nm *NodeMap) Len() int {
	return len(nm.nodes)
}

func (nm *NodeMap) CloneMap() map[NodeID]Node {
	clonedMap := make(map[NodeID]Node, len(nm.nodes))
	for id, node := range nm.nodes {
		clonedMap[id] = node
	}
	return clonedMap
}

func (nm *NodeMap) String() string {
	s := "NodeMap:\n"
	for _, id := range nm.idsMemoized {
		s += fmt.Sprintf("%v\n", nm.nodes[id])
	}
	return s
}

package common

import (
	"hash/fnv"

	"github.com/duzhanyuan/scaliendb/quorum"
)

// Shard maps key to one of quorums. Every client and every node must use
// the same quorum list, in the same order.
func Shard(key []byte, quorums []*quorum.Quorum) quorum.ID {
	h := fnv.New32a()
	h.Write(key)
	return quorums[h.Sum32()%uint32(len(quorums))].ID()
}

package replog

import (
	"github.com/duzhanyuan/scaliendb/paxos"
)

type cacheEntry struct {
	paxosID paxos.PaxosID
	value   []byte
	valid   bool
}

// LogCache keeps the most recently chosen values in a ring buffer. A
// position maps to slot paxosID mod capacity; an entry is only returned if
// it was stored for exactly that position.
type LogCache struct {
	entries []cacheEntry
}

func NewLogCache(capacity int) *LogCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LogCache{entries: make([]cacheEntry, capacity)}
}

func (lc *LogCache) slot(paxosID paxos.PaxosID) *cacheEntry {
	return &lc.entries[uint64(paxosID)%uint64(len(lc.entries))]
}

// Set stores the chosen value for paxosID, evicting whatever occupied the
// slot before.
func (lc *LogCache) Set(paxosID paxos.PaxosID, value []byte) {
	e := lc.slot(paxosID)
	e.paxosID = paxosID
	e.value = value
	e.valid = true
}

func (lc *LogCache) Get(paxosID paxos.PaxosID) ([]byte, bool) {
	e := lc.slot(paxosID)
	if !e.valid || e.paxosID != paxosID {
		return nil, false
	}
	return e.value, true
}

func (lc *LogCache) Capacity() int {
	return len(lc.entries)
}

package replog

import (
	"testing"

	"github.com/duzhanyuan/scaliendb/paxos"
)

func TestLogCacheRetainsLastCapacity(t *testing.T) {
	lc := NewLogCache(3)
	for i := 0; i < 5; i++ {
		lc.Set(paxos.PaxosID(i), []byte{byte(i)})
	}

	for i := 0; i < 5; i++ {
		v, found := lc.Get(paxos.PaxosID(i))
		if i < 2 {
			if found {
				t.Errorf("%d. evicted entry still present", i)
			}
			continue
		}
		if !found || v[0] != byte(i) {
			t.Errorf("%d. got %v, %v", i, v, found)
		}
	}
	if _, found := lc.Get(8); found {
		t.Error("found entry for position never set")
	}
}

func TestLogCacheMinimumCapacity(t *testing.T) {
	lc := NewLogCache(0)
	if lc.Capacity() != 1 {
		t.Fatalf("Capacity() = %d", lc.Capacity())
	}
	lc.Set(4, []byte("x"))
	if v, found := lc.Get(4); !found || string(v) != "x" {
		t.Errorf("got %q, %v", v, found)
	}
}

package main

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/duzhanyuan/scaliendb/client"
	"github.com/duzhanyuan/scaliendb/config"
	kc "github.com/duzhanyuan/scaliendb/kvs/common"
	"github.com/duzhanyuan/scaliendb/quorum"
)

type replies struct {
	mu   sync.Mutex
	got  []*client.Response
	sent chan struct{}
}

func newReplies() *replies {
	return &replies{sent: make(chan struct{}, 64)}
}

func (r *replies) reply(resp *client.Response) {
	r.mu.Lock()
	r.got = append(r.got, resp)
	r.mu.Unlock()
	r.sent <- struct{}{}
}

func (r *replies) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func write(r *replies, clientID string, seq uint64, key, value string) *pending {
	return &pending{
		cmd: &kc.Command{
			ClientId: clientID,
			Seq:      seq,
			Ct:       uint32(kc.Write),
			Key:      []byte(key),
			Value:    []byte(value),
		},
		req:    &client.Request{Seq: seq},
		reply:  r.reply,
		queued: time.Now(),
	}
}

func TestShardBatchesWrites(t *testing.T) {
	s := newShard(1, 2)
	r := newReplies()
	s.enqueue(write(r, "a", 1, "k1", "v1"))
	s.enqueue(write(r, "a", 2, "k2", "v2"))
	s.enqueue(write(r, "a", 3, "k3", "v3"))

	first := s.GetNextValue()
	if again := s.GetNextValue(); string(again) != string(first) {
		t.Fatal("batch in flight changed before it was chosen")
	}
	cmds, err := kc.DecodeBatch(first)
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 2 {
		t.Fatalf("batch has %d commands, want 2", len(cmds))
	}

	s.OnAppend(0, first, true)
	if r.count() != 2 {
		t.Errorf("got %d replies, want 2", r.count())
	}
	resp, err := kc.DecodeResponse(r.got[0].Val)
	if err != nil {
		t.Fatal(err)
	}
	if kc.CommandType(resp.ToType) != kc.Write || string(resp.Value) != "v1" {
		t.Errorf("got reply %v", resp)
	}

	second := s.GetNextValue()
	s.OnAppend(1, second, true)
	if r.count() != 3 {
		t.Errorf("got %d replies, want 3", r.count())
	}
	if s.GetNextValue() != nil {
		t.Error("expected nothing left to propose")
	}
	for i := 1; i <= 3; i++ {
		val, found := s.get([]byte(fmt.Sprintf("k%d", i)))
		if !found || string(val) != fmt.Sprintf("v%d", i) {
			t.Errorf("k%d = %q, %v", i, val, found)
		}
	}
}

func TestShardAnswersOnlyOwnAppends(t *testing.T) {
	s := newShard(1, 10)
	r := newReplies()
	s.enqueue(write(r, "a", 1, "k", "v"))
	value := s.GetNextValue()

	// The same bytes chosen through another node's proposal.
	s.OnAppend(0, value, false)
	if r.count() != 0 {
		t.Fatalf("got %d replies for a foreign append", r.count())
	}
	if s.GetNextValue() == nil {
		t.Fatal("batch dropped by a foreign append")
	}
}

func TestShardSkipsDuplicateCommands(t *testing.T) {
	s := newShard(1, 10)
	value, err := kc.EncodeBatch([]*kc.Command{
		{ClientId: "a", Seq: 2, Ct: uint32(kc.Write), Key: []byte("k"), Value: []byte("new")},
	})
	if err != nil {
		t.Fatal(err)
	}
	old, err := kc.EncodeBatch([]*kc.Command{
		{ClientId: "a", Seq: 1, Ct: uint32(kc.Write), Key: []byte("k"), Value: []byte("old")},
		{ClientId: "a", Seq: 2, Ct: uint32(kc.Delete), Key: []byte("k")},
	})
	if err != nil {
		t.Fatal(err)
	}

	s.OnAppend(0, value, false)
	s.OnAppend(1, old, false)
	if val, found := s.get([]byte("k")); !found || string(val) != "new" {
		t.Errorf("k = %q, %v; want new", val, found)
	}
}

func TestShardAbandon(t *testing.T) {
	s := newShard(1, 1)
	r := newReplies()
	old := write(r, "a", 1, "k1", "v1")
	old.queued = time.Now().Add(-time.Minute)
	s.enqueue(old)
	s.enqueue(write(r, "a", 2, "k2", "v2"))

	if got := s.abandon(time.Now(), time.Second, false); len(got) != 1 || got[0] != old {
		t.Fatalf("abandoned %v, want the old write", got)
	}
	if s.GetNextValue() == nil {
		t.Fatal("expected a batch")
	}
	if got := s.abandon(time.Now(), time.Second, true); len(got) != 1 {
		t.Fatalf("abandoned %d writes, want the one in flight", len(got))
	}
	if s.GetNextValue() != nil {
		t.Error("expected nothing left to propose")
	}
}

func TestStateHashIsOrderIndependent(t *testing.T) {
	a, b := newShard(1, 1), newShard(1, 1)
	for i := 0; i < 10; i++ {
		a.kvmap[fmt.Sprint(i)] = []byte{byte(i)}
		b.kvmap[fmt.Sprint(9-i)] = []byte{byte(9 - i)}
	}
	if stateHash([]*shard{a}) != stateHash([]*shard{b}) {
		t.Error("equal states hash differently")
	}
	b.kvmap["0"] = []byte("x")
	if stateHash([]*shard{a}) == stateHash([]*shard{b}) {
		t.Error("different states hash equally")
	}
}

func clusterConfig(dir string) *config.Config {
	conf := config.NewConfig()
	conf.Set("nodes", "0:127.0.0.1:28911:28921, 1:127.0.0.1:28912:28922, 2:127.0.0.1:28913:28923")
	conf.Set("quorums", "1:0/1/2, 2:0/1/2")
	conf.Set("dataDir", dir)
	conf.Set("tickInterval", "10ms")
	conf.Set("paxosTimeout", "300ms")
	conf.Set("maxLeaseTime", "600ms")
	conf.Set("leaseAcquireTimeout", "200ms")
	conf.Set("leaseRenewMargin", "200ms")
	conf.Set("batchMaxSize", "8")
	conf.Set("requestTimeout", "10s")
	conf.Set("retryWait", "20ms")
	return conf
}

func TestKeyValueCluster(t *testing.T) {
	dir := t.TempDir()
	var servers []*kvServer
	for id := quorum.NodeID(0); id < 3; id++ {
		s, err := newKVServer(id, clusterConfig(dir))
		if err != nil {
			t.Fatal(err)
		}
		servers = append(servers, s)
	}
	for _, s := range servers {
		if err := s.start(); err != nil {
			t.Fatal(err)
		}
	}
	defer func() {
		for _, s := range servers {
			s.stop()
		}
	}()

	c, err := kc.Dial(clusterConfig(dir))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		if err := c.Set(key, []byte(fmt.Sprintf("value-%d", i))); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		val, err := c.Get(key)
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if want := fmt.Sprintf("value-%d", i); string(val) != want {
			t.Errorf("get %s = %q, want %q", key, val, want)
		}
	}

	if err := c.Delete([]byte("key-3")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get([]byte("key-3")); err != kc.ErrNotFound {
		t.Errorf("got %v, want %v", err, kc.ErrNotFound)
	}

	// Every replica applies the same writes.
	deadline := time.Now().Add(10 * time.Second)
	for {
		h0 := stateHash(servers[0].handler.ordered)
		if h0 == stateHash(servers[1].handler.ordered) && h0 == stateHash(servers[2].handler.ordered) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("replicas did not converge")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

package main

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"io/ioutil"
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/client"
	"github.com/duzhanyuan/scaliendb/elog"
	e "github.com/duzhanyuan/scaliendb/elog/event"
	kc "github.com/duzhanyuan/scaliendb/kvs/common"
	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
)

const hashFilename = "statehash"

type pending struct {
	cmd    *kc.Command
	req    *client.Request
	reply  client.ReplyFunc
	queued time.Time
}

// shard is the key-value state of one quorum. Writes are queued on the
// leader and proposed in batches; every replica applies the chosen
// batches in log order.
type shard struct {
	q            quorum.ID
	batchMaxSize int

	mu       sync.Mutex
	kvmap    map[string][]byte
	lastSeq  map[string]uint64
	next     paxos.PaxosID
	queue    []*pending
	inflight []*pending
	proposed []byte
}

func newShard(q quorum.ID, batchMaxSize int) *shard {
	if batchMaxSize < 1 {
		batchMaxSize = 1
	}
	return &shard{
		q:            q,
		batchMaxSize: batchMaxSize,
		kvmap:        make(map[string][]byte),
		lastSeq:      make(map[string]uint64),
	}
}

func (s *shard) OnAppend(paxosID paxos.PaxosID, value []byte, ownAppend bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next = paxosID + 1
	cmds, err := kc.DecodeBatch(value)
	if err != nil {
		glog.Errorf("shard %d: undecodable value at %d: %v", s.q, paxosID, err)
	}
	for _, cmd := range cmds {
		s.apply(cmd)
	}

	// A batch this node gave up on can still be chosen through its own
	// proposal after a new batch was packed, so the flag alone does not
	// say which writes to answer.
	if ownAppend && s.proposed != nil && bytes.Equal(value, s.proposed) {
		for _, p := range s.inflight {
			p.reply(writeResponse(p.req, p.cmd))
			elog.Log(e.NewTimedEvent(e.ClientRequestLatency, p.queued))
		}
		s.inflight, s.proposed = nil, nil
	}
}

// apply executes cmd unless a later or equal command of the same client
// was applied already.
func (s *shard) apply(cmd *kc.Command) {
	if cmd.Seq <= s.lastSeq[cmd.ClientId] {
		return
	}
	s.lastSeq[cmd.ClientId] = cmd.Seq

	if glog.V(3) {
		glog.Infof("shard %d: applying %v", s.q, cmd)
	}
	switch cmd.Type() {
	case kc.Write:
		s.kvmap[string(cmd.Key)] = cmd.Value
	case kc.Delete:
		delete(s.kvmap, string(cmd.Key))
	}
}

func writeResponse(req *client.Request, cmd *kc.Command) *client.Response {
	resp := &kc.MapResponse{ToType: cmd.Ct}
	if cmd.Type() == kc.Write {
		resp.Value = cmd.Value
	}
	return respond(req, resp)
}

func respond(req *client.Request, resp *kc.MapResponse) *client.Response {
	buf, err := kc.EncodeResponse(resp)
	if err != nil {
		glog.Errorf("encoding %v: %v", resp, err)
		return client.Fail(req, client.StatusError, "I can't encode the response")
	}
	return client.Reply(req, buf)
}

// GetNextValue returns the batch in flight, or packs a new one from the
// queue. The same batch is offered until it is chosen.
func (s *shard) GetNextValue() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proposed != nil {
		return s.proposed
	}
	if len(s.queue) == 0 {
		return nil
	}

	n := len(s.queue)
	if n > s.batchMaxSize {
		n = s.batchMaxSize
	}
	batch := s.queue[:n:n]
	cmds := make([]*kc.Command, n)
	for i, p := range batch {
		cmds[i] = p.cmd
	}
	value, err := kc.EncodeBatch(cmds)
	if err != nil {
		glog.Errorf("shard %d: encoding batch: %v", s.q, err)
		return nil
	}
	s.queue = s.queue[n:]
	s.inflight, s.proposed = batch, value
	return value
}

func (s *shard) OnStartCatchup(from quorum.NodeID, paxosID paxos.PaxosID) {
	glog.Errorf("shard %d: node %v no longer has position %d, the state of this shard must be copied from another replica",
		s.q, from, paxosID)
}

func (s *shard) enqueue(p *pending) {
	s.mu.Lock()
	s.queue = append(s.queue, p)
	s.mu.Unlock()
}

func (s *shard) get(key []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, found := s.kvmap[string(key)]
	return val, found
}

// abandon removes the queued writes that are older than timeout, or all of
// them if all is set, and returns them. The batch in flight is only
// abandoned when all is set, since it may still be chosen.
func (s *shard) abandon(now time.Time, timeout time.Duration, all bool) []*pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*pending
	if all {
		out = append(out, s.inflight...)
		s.inflight, s.proposed = nil, nil
	}
	kept := s.queue[:0]
	for _, p := range s.queue {
		if all || now.Sub(p.queued) > timeout {
			out = append(out, p)
		} else {
			kept = append(kept, p)
		}
	}
	s.queue = kept
	return out
}

// keys returns the keys of the shard in sorted order. Map iteration order
// is randomized, so the map itself cannot be hashed.
func (s *shard) keys() []string {
	keys := make([]string, 0, len(s.kvmap))
	for k := range s.kvmap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateHash fingerprints the state of all shards, in quorum order.
func stateHash(shards []*shard) string {
	hasher := sha1.New()
	entries := 0
	for _, s := range shards {
		s.mu.Lock()
		for _, k := range s.keys() {
			hasher.Write([]byte(k))
			hasher.Write(s.kvmap[k])
			entries++
		}
		s.mu.Unlock()
	}
	fingerprint := base64.StdEncoding.EncodeToString(hasher.Sum(nil))
	glog.V(1).Infof("hash generated using %d map entries: %s", entries, fingerprint)
	return fingerprint
}

func writeStateHash(shards []*shard) error {
	glog.V(1).Info("generating state hash...")
	return ioutil.WriteFile(hashFilename, []byte(stateHash(shards)), 0644)
}

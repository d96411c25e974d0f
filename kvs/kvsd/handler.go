package main

import (
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/client"
	kc "github.com/duzhanyuan/scaliendb/kvs/common"
	"github.com/duzhanyuan/scaliendb/quorum"
	"github.com/duzhanyuan/scaliendb/quorumctx"
)

// contexts is implemented by scaliendb.Replica.
type contexts interface {
	Context(q quorum.ID) (*quorumctx.Context, bool)
}

// KVHandler serves a sharded key-value map. It is both the app.Handler
// of the replica and the client.RequestHandler of the client port.
type KVHandler struct {
	quorums        []*quorum.Quorum
	batchMaxSize   int
	requestTimeout time.Duration
	shards         map[quorum.ID]*shard
	ordered        []*shard
	contexts       contexts
}

// NewKVHandler creates a handler for a cluster with the given quorums.
// Keys are spread over all of them, not only the ones this node serves.
func NewKVHandler(quorums []*quorum.Quorum, batchMaxSize int, requestTimeout time.Duration) *KVHandler {
	return &KVHandler{
		quorums:        quorums,
		batchMaxSize:   batchMaxSize,
		requestTimeout: requestTimeout,
		shards:         make(map[quorum.ID]*shard),
	}
}

func (h *KVHandler) StateMachine(q *quorum.Quorum) quorumctx.StateMachine {
	s := newShard(q.ID(), h.batchMaxSize)
	h.shards[q.ID()] = s
	h.ordered = append(h.ordered, s)
	return s
}

// SetContexts must be called once the replica is initialized and before
// any request is handled.
func (h *KVHandler) SetContexts(c contexts) {
	h.contexts = c
}

func (h *KVHandler) HandleRequest(clientID string, req *client.Request, reply client.ReplyFunc) {
	q := quorum.ID(req.Quorum)
	s, found := h.shards[q]
	if !found {
		reply(client.Fail(req, client.StatusWrongQuorum, ""))
		return
	}
	ctx, found := h.contexts.Context(q)
	if !found {
		reply(client.Fail(req, client.StatusWrongQuorum, ""))
		return
	}

	mreq, err := kc.DecodeRequest(req.Val)
	if err != nil {
		glog.Warningln("HandleRequest: unmarshal error:", err)
		reply(client.Fail(req, client.StatusError, "I can't decode your request"))
		return
	}
	if owner := kc.Shard(mreq.Key, h.quorums); owner != q {
		reply(client.Fail(req, client.StatusError, fmt.Sprintf("key belongs to quorum %d", owner)))
		return
	}

	if !ctx.IsLeader() {
		if leader, known := ctx.GetLeader(); known {
			reply(client.Redirect(req, uint64(leader)))
		} else {
			reply(client.Fail(req, client.StatusNoLeader, ""))
		}
		return
	}

	if glog.V(3) {
		glog.Infoln(mreq)
	}

	switch mreq.Type() {
	case kc.Read:
		val, found := s.get(mreq.Key)
		reply(respond(req, &kc.MapResponse{ToType: mreq.Ct, Value: val, Found: found}))
	case kc.Write, kc.Delete:
		s.enqueue(&pending{
			cmd: &kc.Command{
				ClientId: clientID,
				Seq:      req.Seq,
				Ct:       mreq.Ct,
				Key:      mreq.Key,
				Value:    mreq.Value,
			},
			req:    req,
			reply:  reply,
			queued: time.Now(),
		})
		ctx.TryAppendNextValue()
	default:
		reply(respond(req, &kc.MapResponse{ToType: mreq.Ct, Err: "Unknown map command"}))
	}
}

// sweep answers the writes that can no longer be served here: all of
// them once leadership is lost, otherwise the ones queued for longer than
// the request timeout.
func (h *KVHandler) sweep(now time.Time) {
	for q, s := range h.shards {
		ctx, found := h.contexts.Context(q)
		if !found {
			continue
		}
		leader := ctx.IsLeader()
		for _, p := range s.abandon(now, h.requestTimeout, !leader) {
			if id, known := ctx.GetLeader(); known && !leader {
				p.reply(client.Redirect(p.req, uint64(id)))
			} else {
				p.reply(client.Fail(p.req, client.StatusNoLeader, ""))
			}
		}
	}
}

func (h *KVHandler) runSweeper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			h.sweep(now)
		case <-stop:
			return
		}
	}
}

package app

import (
	"github.com/duzhanyuan/scaliendb/quorum"
	"github.com/duzhanyuan/scaliendb/quorumctx"
)

// The Handler interface must be implemented by a replicated service. The
// server asks it for one state machine per quorum the node is a member
// of, before any quorum starts, so the chosen log can be replayed into
// it.
type Handler interface {
	StateMachine(q *quorum.Quorum) quorumctx.StateMachine
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(q *quorum.Quorum) quorumctx.StateMachine

func (f HandlerFunc) StateMachine(q *quorum.Quorum) quorumctx.StateMachine {
	return f(q)
}

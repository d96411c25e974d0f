package storage

import (
	"sync"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
	"github.com/duzhanyuan/scaliendb/replog"
)

// Completion reports the result of a submitted write to the goroutine
// that submitted it. After must only be run if Err is nil.
type Completion struct {
	After func()
	Err   error
}

type job struct {
	w     write
	after func()
	done  chan<- Completion
	quit  <-chan struct{}
}

// Writer performs the writes of all quorum contexts on one goroutine.
// Whatever is queued when the goroutine wakes up is written as a group
// with a single sync. Completions are delivered in submission order on
// the channel given with each write, so a context never acts on a reply
// before the state it depends on is durable.
type Writer struct {
	store       *Store
	mu          sync.Mutex
	queue       []job
	wake        chan struct{}
	stop        chan bool
	stopCheckIn *sync.WaitGroup
	running     bool
}

func NewWriter(store *Store, stopCheckIn *sync.WaitGroup) *Writer {
	return &Writer{
		store:       store,
		wake:        make(chan struct{}, 1),
		stop:        make(chan bool),
		stopCheckIn: stopCheckIn,
	}
}

func (w *Writer) Start() {
	glog.V(1).Info("starting")
	w.running = true
	go func() {
		defer w.stopCheckIn.Done()
		for {
			select {
			case <-w.wake:
				w.flush()
			case <-w.stop:
				w.flush()
				glog.V(1).Info("exiting")
				return
			}
		}
	}()
}

func (w *Writer) Stop() {
	if w.running {
		w.running = false
		w.stop <- true
	}
}

// submit never blocks, so it is safe to call from an event loop that
// also drains the completion channel.
func (w *Writer) submit(j job) {
	w.mu.Lock()
	w.queue = append(w.queue, j)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	jobs := w.queue
	w.queue = nil
	w.mu.Unlock()
	if len(jobs) == 0 {
		return
	}

	writes := make([]write, len(jobs))
	for i, j := range jobs {
		writes[i] = j.w
	}
	err := w.store.apply(writes)
	if err != nil {
		glog.Errorf("storage: write of %d records failed: %v", len(jobs), err)
	}
	for _, j := range jobs {
		select {
		case j.done <- Completion{After: j.after, Err: err}:
		case <-j.quit:
		}
	}
}

// Persister returns the replog.Persister for quorum q. Completions are
// delivered on done. Once quit is closed the receiver is gone, and its
// completions are dropped instead of blocking the writer.
func (w *Writer) Persister(q quorum.ID, done chan<- Completion, quit <-chan struct{}) *Persister {
	return &Persister{writer: w, quorum: q, done: done, quit: quit}
}

// Persister implements replog.Persister on top of a Writer.
type Persister struct {
	writer *Writer
	quorum quorum.ID
	done   chan<- Completion
	quit   <-chan struct{}
}

func (p *Persister) PersistAcceptor(state replog.AcceptorState, after func()) {
	state.AcceptedValue = append([]byte(nil), state.AcceptedValue...)
	p.writer.submit(job{write{kind: writeAcceptor, quorum: p.quorum, acceptor: state}, after, p.done, p.quit})
}

func (p *Persister) PersistProposalID(id paxos.ProposalID, after func()) {
	p.writer.submit(job{write{kind: writeProposalID, quorum: p.quorum, proposalID: id}, after, p.done, p.quit})
}

func (p *Persister) PersistChosen(paxosID paxos.PaxosID, value []byte, after func()) {
	p.writer.submit(job{write{kind: writeChosen, quorum: p.quorum, paxosID: paxosID, value: value}, after, p.done, p.quit})
}

// GetChosen makes the Persister usable as the replog.ChosenLog of its
// quorum.
func (p *Persister) GetChosen(paxosID paxos.PaxosID) ([]byte, bool) {
	return p.writer.store.GetChosen(p.quorum, paxosID)
}

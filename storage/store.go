package storage

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/paxos"
	"github.com/duzhanyuan/scaliendb/quorum"
	"github.com/duzhanyuan/scaliendb/replog"
)

var ErrClosed = errors.New("storage: store is closed")

const metaFileName = "meta"

type quorumMeta struct {
	ProposalID paxos.ProposalID
	Acceptor   replog.AcceptorState
}

type meta struct {
	RunID   paxos.RunID
	Quorums map[quorum.ID]*quorumMeta
}

// Store is the durable state of a node: its run id, and per quorum the
// highest proposal id used, the acceptor state and the chosen values.
// All methods are safe for concurrent use. The Set and Append methods
// return once the data is on stable storage.
type Store struct {
	dir string

	mu        sync.Mutex
	closed    bool
	meta      meta
	metaDirty bool

	// logsMu guards logs alone, so reads of the chosen logs do not queue
	// behind a write holding mu.
	logsMu     sync.Mutex
	logs       map[quorum.ID]*chosenLog
	logsClosed bool
}

// Open loads the store in dir, creating it if needed, and starts a new
// run: the run id is incremented and persisted before Open returns.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	s := &Store{
		dir:  dir,
		meta: meta{Quorums: make(map[quorum.ID]*quorumMeta)},
		logs: make(map[quorum.ID]*chosenLog),
	}
	if err := s.loadMeta(); err != nil {
		return nil, err
	}

	s.meta.RunID++
	s.metaDirty = true
	if err := s.syncMeta(); err != nil {
		return nil, err
	}
	glog.V(1).Infof("opened store %s, run %d", dir, s.meta.RunID)
	return s, nil
}

func (s *Store) loadMeta() error {
	data, err := os.ReadFile(filepath.Join(s.dir, metaFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s.meta); err != nil {
		return fmt.Errorf("storage: decoding %s: %w", metaFileName, err)
	}
	if s.meta.Quorums == nil {
		s.meta.Quorums = make(map[quorum.ID]*quorumMeta)
	}
	return nil
}

// syncMeta rewrites the meta file through a temporary file and a rename,
// so a crash leaves either the old or the new version.
func (s *Store) syncMeta() error {
	if !s.metaDirty {
		return nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&s.meta); err != nil {
		return err
	}

	path := filepath.Join(s.dir, metaFileName)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	s.metaDirty = false
	return nil
}

func (s *Store) quorumMeta(q quorum.ID) *quorumMeta {
	qm, found := s.meta.Quorums[q]
	if !found {
		qm = new(quorumMeta)
		s.meta.Quorums[q] = qm
	}
	return qm
}

func (s *Store) chosenLog(q quorum.ID) (*chosenLog, error) {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	if s.logsClosed {
		return nil, ErrClosed
	}
	if cl, found := s.logs[q]; found {
		return cl, nil
	}
	cl, err := openChosenLog(filepath.Join(s.dir, fmt.Sprintf("chosen-%d.log", q)))
	if err != nil {
		return nil, err
	}
	s.logs[q] = cl
	return cl, nil
}

func (s *Store) RunID() paxos.RunID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.RunID
}

func (s *Store) ProposalID(q quorum.ID) paxos.ProposalID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quorumMeta(q).ProposalID
}

func (s *Store) AcceptorState(q quorum.ID) replog.AcceptorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.quorumMeta(q).Acceptor
	st.AcceptedValue = append([]byte(nil), st.AcceptedValue...)
	return st
}

func (s *Store) SetProposalID(q quorum.ID, id paxos.ProposalID) error {
	return s.apply([]write{{kind: writeProposalID, quorum: q, proposalID: id}})
}

func (s *Store) SetAcceptorState(q quorum.ID, st replog.AcceptorState) error {
	return s.apply([]write{{kind: writeAcceptor, quorum: q, acceptor: st}})
}

func (s *Store) AppendChosen(q quorum.ID, paxosID paxos.PaxosID, value []byte) error {
	return s.apply([]write{{kind: writeChosen, quorum: q, paxosID: paxosID, value: value}})
}

// GetChosen returns the value chosen at paxosID, if it is durably in the
// log. It does not wait for writes in progress.
func (s *Store) GetChosen(q quorum.ID, paxosID paxos.PaxosID) ([]byte, bool) {
	cl, err := s.chosenLog(q)
	if err == ErrClosed {
		return nil, false
	}
	if err != nil {
		glog.Errorf("storage: opening chosen log of quorum %d: %v", q, err)
		return nil, false
	}
	value, err := cl.get(paxosID)
	if err == ErrClosed {
		return nil, false
	}
	if err != nil {
		glog.Errorf("storage: reading %d of quorum %d: %v", paxosID, q, err)
		return nil, false
	}
	return value, value != nil
}

// LastChosen returns the highest position in the chosen log of q.
func (s *Store) LastChosen(q quorum.ID) (paxos.PaxosID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false, ErrClosed
	}
	cl, err := s.chosenLog(q)
	if err != nil {
		return 0, false, err
	}
	return cl.last, !cl.empty, nil
}

// ReplayChosen calls fn for every chosen value of q from position from
// on, in order, stopping at the first gap.
func (s *Store) ReplayChosen(q quorum.ID, from paxos.PaxosID, fn func(paxos.PaxosID, []byte)) (paxos.PaxosID, error) {
	next := from
	for {
		value, found := s.GetChosen(q, next)
		if !found {
			return next, nil
		}
		fn(next, value)
		next++
	}
}

type writeKind int

const (
	writeProposalID writeKind = iota
	writeAcceptor
	writeChosen
)

type write struct {
	kind       writeKind
	quorum     quorum.ID
	proposalID paxos.ProposalID
	acceptor   replog.AcceptorState
	paxosID    paxos.PaxosID
	value      []byte
}

// apply performs a group of writes and makes all of them durable with
// one sync per touched file.
func (s *Store) apply(writes []write) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	touched := make(map[*chosenLog]bool)
	for _, w := range writes {
		switch w.kind {
		case writeProposalID:
			qm := s.quorumMeta(w.quorum)
			if w.proposalID > qm.ProposalID {
				qm.ProposalID = w.proposalID
				s.metaDirty = true
			}
		case writeAcceptor:
			st := w.acceptor
			st.AcceptedValue = append([]byte(nil), st.AcceptedValue...)
			s.quorumMeta(w.quorum).Acceptor = st
			s.metaDirty = true
		case writeChosen:
			cl, err := s.chosenLog(w.quorum)
			if err != nil {
				return err
			}
			if err := cl.append(w.paxosID, w.value); err != nil {
				return err
			}
			touched[cl] = true
		}
	}

	for cl := range touched {
		if err := cl.sync(); err != nil {
			return err
		}
	}
	return s.syncMeta()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	s.logsClosed = true
	var firstErr error
	for _, cl := range s.logs {
		if err := cl.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

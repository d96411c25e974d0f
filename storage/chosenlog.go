package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/golang/glog"

	"github.com/duzhanyuan/scaliendb/paxos"
)

// Record layout: paxosID (8) | value length (4) | crc32 of value (4) | value
const recordHeaderSize = 16

var errCorrupt = errors.New("corrupt record")

// chosenLog is an append-only file of chosen values for one quorum, with
// an in-memory index from position to file offset. Appends and syncs come
// from the store's write path. Reads only see records that were synced,
// and never wait for a sync in progress.
type chosenLog struct {
	f       *os.File
	w       *bufio.Writer
	size    int64
	last    paxos.PaxosID
	empty   bool
	dirty   bool
	pending []indexEntry

	mu       sync.RWMutex
	index    map[paxos.PaxosID]int64
	readable int64
	closed   bool
}

type indexEntry struct {
	paxosID paxos.PaxosID
	offset  int64
}

func openChosenLog(path string) (*chosenLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	cl := &chosenLog{
		f:     f,
		index: make(map[paxos.PaxosID]int64),
		empty: true,
	}
	if err := cl.scan(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(cl.size, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	cl.w = bufio.NewWriter(f)
	return cl, nil
}

// scan rebuilds the index. A torn record at the end, left by a crash in
// the middle of a write, is cut off.
func (cl *chosenLog) scan() error {
	r := bufio.NewReader(cl.f)
	var offset int64
	for {
		paxosID, value, err := readRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			glog.Warningf("chosen log %s: truncating at offset %d: %v", cl.f.Name(), offset, err)
			if err := cl.f.Truncate(offset); err != nil {
				return err
			}
			break
		}
		cl.note(paxosID)
		cl.index[paxosID] = offset
		offset += recordHeaderSize + int64(len(value))
	}
	cl.size = offset
	cl.readable = offset
	return nil
}

func readRecord(r io.Reader) (paxos.PaxosID, []byte, error) {
	var header [recordHeaderSize]byte
	n, err := io.ReadFull(r, header[:])
	if err == io.EOF && n == 0 {
		return 0, nil, io.EOF
	}
	if err != nil {
		return 0, nil, errCorrupt
	}
	paxosID := paxos.PaxosID(binary.BigEndian.Uint64(header[0:8]))
	length := binary.BigEndian.Uint32(header[8:12])
	sum := binary.BigEndian.Uint32(header[12:16])

	value := make([]byte, length)
	if _, err := io.ReadFull(r, value); err != nil {
		return 0, nil, errCorrupt
	}
	if crc32.ChecksumIEEE(value) != sum {
		return 0, nil, errCorrupt
	}
	return paxosID, value, nil
}

func (cl *chosenLog) note(paxosID paxos.PaxosID) {
	if cl.empty || paxosID > cl.last {
		cl.last = paxosID
	}
	cl.empty = false
}

// append buffers a record. Positions at or below the last one are
// already present and skipped.
func (cl *chosenLog) append(paxosID paxos.PaxosID, value []byte) error {
	if !cl.empty && paxosID <= cl.last {
		return nil
	}
	var header [recordHeaderSize]byte
	binary.BigEndian.PutUint64(header[0:8], uint64(paxosID))
	binary.BigEndian.PutUint32(header[8:12], uint32(len(value)))
	binary.BigEndian.PutUint32(header[12:16], crc32.ChecksumIEEE(value))

	if _, err := cl.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := cl.w.Write(value); err != nil {
		return err
	}
	cl.note(paxosID)
	cl.pending = append(cl.pending, indexEntry{paxosID, cl.size})
	cl.size += recordHeaderSize + int64(len(value))
	cl.dirty = true
	return nil
}

func (cl *chosenLog) sync() error {
	if !cl.dirty {
		return nil
	}
	if err := cl.w.Flush(); err != nil {
		return err
	}
	if err := cl.f.Sync(); err != nil {
		return err
	}

	cl.mu.Lock()
	for _, e := range cl.pending {
		cl.index[e.paxosID] = e.offset
	}
	cl.readable = cl.size
	cl.mu.Unlock()

	cl.pending = nil
	cl.dirty = false
	return nil
}

func (cl *chosenLog) get(paxosID paxos.PaxosID) ([]byte, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.closed {
		return nil, ErrClosed
	}
	offset, found := cl.index[paxosID]
	if !found {
		return nil, nil
	}
	id, value, err := readRecord(io.NewSectionReader(cl.f, offset, cl.readable-offset))
	if err != nil {
		return nil, err
	}
	if id != paxosID {
		return nil, fmt.Errorf("chosen log %s: index points to %d for %d", cl.f.Name(), id, paxosID)
	}
	return value, nil
}

func (cl *chosenLog) close() error {
	err := cl.sync()
	cl.mu.Lock()
	cl.closed = true
	cl.mu.Unlock()
	if cerr := cl.f.Close(); err == nil {
		err = cerr
	}
	return err
}

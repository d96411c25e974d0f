package elog

import (
	"bufio"
	"encoding/gob"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	e "github.com/duzhanyuan/scaliendb/elog/event"
)

const (
	flushInterval = 30 * time.Second
	bufferSize    = 1024 * 256
)

var logger = eventLogger{dir: "."}

type eventLogger struct {
	enabled bool
	dir     string
	tag     string
	mu      sync.Mutex
	*bufio.Writer
	*gob.Encoder
	*os.File
	flushing bool
	stop     chan bool
}

func init() {
	flag.BoolVar(&logger.enabled, "log_events", false, "enable event logging")
}

func (el *eventLogger) init() error {
	var err error
	name, symlink := logName(el.tag, time.Now())
	name = filepath.Join(el.dir, name)
	symlink = filepath.Join(el.dir, symlink)
	el.File, err = os.Create(name)
	if err != nil {
		return err
	}
	os.Remove(symlink)                       // ignore err
	os.Symlink(filepath.Base(name), symlink) // ignore err
	el.Writer = bufio.NewWriterSize(el.File, bufferSize)
	el.Encoder = gob.NewEncoder(el.Writer)
	el.stop = make(chan bool)
	el.flushing = true
	go el.flushRegularly(el.stop)
	return nil
}

// SetDir sets the directory the event log file is created in, and a tag
// that names it (the node id for a server). It has no effect once the
// first event was logged.
func SetDir(dir, tag string) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.dir = dir
	logger.tag = tag
}

// IsEnabled reports whether the EventLogger is enabled.
func IsEnabled() bool {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	return logger.enabled
}

// Enable enables the EventLogger.
func Enable() {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.enabled = true
}

// Disable disables the EventLogger.
func Disable() {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.enabled = false
}

// Log logs event e if the EventLogger is enabled.
func Log(e e.Event) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if !logger.enabled {
		return
	}
	if logger.Encoder == nil {
		if err := logger.init(); err != nil {
			fmt.Fprintf(os.Stderr, "elog: disabling due to error: %s\n", err)
			logger.enabled = false
			return
		}
	}
	logger.Encoder.Encode(e)
}

// Flush flushes all pending events to file.
func Flush() {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.flush()
}

// Close flushes and closes the event log file. A later event opens a new
// file.
func Close() {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.Encoder == nil {
		return
	}
	logger.flush()
	if logger.flushing {
		close(logger.stop)
		logger.flushing = false
	}
	logger.File.Close()
	logger.Encoder = nil
	logger.Writer = nil
	logger.File = nil
}

func (el *eventLogger) flushRegularly(stop chan bool) {
	for {
		select {
		case <-time.After(flushInterval):
			el.mu.Lock()
			el.flush()
			el.mu.Unlock()
		case <-stop:
			return
		}
	}
}

func (el *eventLogger) flush() {
	if el.Encoder != nil {
		el.Writer.Flush()
		el.File.Sync()
	}
}

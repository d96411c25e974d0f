package elog

import (
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	pid  = os.Getpid()
	host = "unknownhost"
)

func init() {
	if h, err := os.Hostname(); err == nil {
		if i := strings.Index(h, "."); i >= 0 {
			h = h[:i]
		}
		host = h
	}
}

// logName returns the name of a new event log file for tag, and the name
// of the symlink that points to the latest one.
func logName(tag string, now time.Time) (name, link string) {
	link = "events.elog"
	if tag != "" {
		link = "events-" + tag + ".elog"
	}
	name = fmt.Sprintf("%s.%s.%s.pid%d",
		link,
		host,
		now.Format("20060102-150405"),
		pid)
	return name, link
}

package scaliendb

import (
	"errors"
)

var (
	ErrNodeNotInitialized            = errors.New("scaliendb node must be initialized before started")
	ErrCanNotStartAlreadyRunningNode = errors.New("can't start already running scaliendb node")
	ErrCanNotStopNonRunningNode      = errors.New("can't stop non-runnning scaliendb node")
)

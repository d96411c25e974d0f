package config

import (
	"time"
)

// Default configuration settings for a ScalienDB node
const (
	// REQUIRED!
	// nodes: [id:hostname:paxosPort:clientPort], ...
	// Defines all nodes of the cluster. Comma separated list.
	DefNodes = ""

	// REQUIRED!
	// quorums: [quorumID:nodeID/nodeID/...], ...
	// Defines the replication groups. A node serves every quorum it is
	// listed in.
	DefQuorums = ""

	// dataDir: string
	// Directory for the durable node state (run id, acceptor state,
	// chosen log).
	DefDataDir = "data"

	// paxosTimeout: duration
	// How long a proposer waits for a majority in one phase before it
	// restarts with a higher proposal id.
	DefPaxosTimeout = 3000 * time.Millisecond

	// requestChosenCooldown: duration
	// Minimum time between two catch-up requests for the same log
	// position.
	DefRequestChosenCooldown = 1000 * time.Millisecond

	// logCacheSize: int
	// Number of recently chosen values kept in memory for serving
	// lagging replicas.
	DefLogCacheSize = 10000

	// maxLeaseTime: duration
	// Upper bound on the duration of a leader lease. A restarted node
	// does not take part in lease voting for this long.
	DefMaxLeaseTime = 7000 * time.Millisecond

	// leaseAcquireTimeout: duration
	// How long a lease proposer waits for a majority before retrying.
	DefLeaseAcquireTimeout = 2000 * time.Millisecond

	// leaseRenewMargin: duration
	// The lease owner starts extending its lease this long before it
	// expires.
	DefLeaseRenewMargin = 2000 * time.Millisecond

	// tickInterval: duration
	// How often each quorum context checks its timers.
	DefTickInterval = 100 * time.Millisecond

	// batchMaxSize: int
	// Maximum number of client commands packed into one log value.
	DefBatchMaxSize = 100

	// throughputSamplingInterval: duration
	// How often the number of chosen values is written to the event
	// log. Zero disables sampling.
	DefThroughputSamplingInterval = 0 * time.Second

	// logEvents: bool
	// Write the binary event log to <dataDir>/events-<id>.elog.
	DefLogEvents = false
)

// Default client settings, read from the [client] section.
const (
	// dialTimeout: duration
	// Timeout for connecting to a node's client port.
	DefDialTimeout = 2000 * time.Millisecond

	// requestTimeout: duration
	// How long a client keeps retrying one request, and how long a node
	// keeps a client write queued before giving up on it.
	DefRequestTimeout = 10000 * time.Millisecond

	// retryWait: duration
	// Pause before a client retries a request with another node.
	DefRetryWait = 100 * time.Millisecond
)

package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	ini "github.com/vaughan0/go-ini"

	"github.com/duzhanyuan/scaliendb/quorum"
)

// The Config holds a map of config values by their keys/names. They
// are all stored as strings and parsed on read time only. The built
// in types are:
//
// `string`: (GetString) Returns the config value as a string. This
// can never fail.
//
// `int`, `uint64`: (GetInt, GetUint64) Use strconv to parse the value.
//
// `duration`: (GetDuration) Uses time.ParseDuration to parse the
// value and return a duration. That means that you should set
// duration configs like "xxx us/ms/s/h/etc."
//
// `bool`: (GetBool) Uses strconv.ParseBool to read config vars like
// true/t/1 or false/f/0
//
// `nodemap`: (GetNodeMap) Returns a quorum.NodeMap parsed from a format
// like ([id:hostname:paxosPort:clientPort], ...)
//
// `quorums`: (GetQuorums) Returns the replication groups parsed from
// ([quorumID:nodeID/nodeID/...], ...)
//
// When a value COULD NOT BE PARSED at runtime, Config emits a warning
// (with glog) and returns the given DEFAULT VALUE.
type Config struct {
	values map[string]string
}

// Returns a new empty Config.
func NewConfig() *Config {
	return &Config{
		values: make(map[string]string),
	}
}

func newConfigFromValues(values map[string]string) *Config {
	return &Config{
		values: values,
	}
}

// LoadFile reads an ini file and returns the union of the given sections.
// Keys in later sections override keys in earlier ones. A section that is
// missing from the file is skipped.
func LoadFile(filename string, sections ...string) (*Config, error) {
	file, err := ini.LoadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", filename, err)
	}

	values := make(map[string]string)
	for _, name := range sections {
		for k, v := range file.Section(name) {
			values[k] = v
		}
	}

	return newConfigFromValues(values), nil
}

// Sets a config to a value. All values can only be set as strings.
func (c *Config) Set(key, value string) {
	c.values[key] = value
}

// Gets a value as a string. This one will never emit an warning
// because all values per definition is available as strings.
func (c *Config) GetString(key, defaultVal string) string {
	cfgValue, found := c.values[key]

	if !found {
		return defaultVal
	}

	return cfgValue
}

// Returns the config as an int. If the config is not set, the
// supplied default value is returned. If the config is not possible
// to parse as an int (strconv.Atoi), the default value is returned
// and an warning message is written to glog.
func (c *Config) GetInt(key string, defaultVal int) int {
	cfgValue, found := c.values[key]

	if !found {
		return defaultVal
	}

	i, err := strconv.Atoi(cfgValue)

	if err != nil {
		glog.Warningf("Could not parse config \"%s\": \"%s\" as int (see strconv.Atoi). Using default value: \"%d\".",
			key, cfgValue, defaultVal)
		return defaultVal
	}

	return i
}

// Same as GetInt, but for unsigned 64 bit values.
func (c *Config) GetUint64(key string, defaultVal uint64) uint64 {
	cfgValue, found := c.values[key]

	if !found {
		return defaultVal
	}

	u, err := strconv.ParseUint(cfgValue, 10, 64)

	if err != nil {
		glog.Warningf("Could not parse config \"%s\": \"%s\" as uint64 (see strconv.ParseUint). Using default value: \"%d\".",
			key, cfgValue, defaultVal)
		return defaultVal
	}

	return u
}

// Returns the config as an time.Duration. If the config is not set,
// the supplied default value is returned. If the config is not
// possible to parse (time.ParseDuration), the default value
// is returned and an warning message is written to glog.
func (c *Config) GetDuration(key string, defaultVal time.Duration) time.Duration {
	cfgValue, found := c.values[key]

	if !found {
		return defaultVal
	}

	dur, err := time.ParseDuration(cfgValue)

	if err != nil {
		glog.Warningf("Could not parse config \"%s\": \"%s\" as duration (see time.ParseDuration). Using default value: \"%s\".",
			key, cfgValue, defaultVal.String())
		return defaultVal
	}

	return dur
}

// Returns the config as an bool. If the config is not set, the
// supplied default value is returned. If the config is not possible
// to parse (strconv.ParseBool), the default value is
// returned and an warning message is written to glog.
func (c *Config) GetBool(key string, defaultVal bool) bool {
	cfgValue, found := c.values[key]

	if !found {
		return defaultVal
	}

	b, err := strconv.ParseBool(cfgValue)

	if err != nil {
		glog.Warningf("Could not parse config \"%s\": \"%s\" as boolean (see strconv.ParseBool). Using default value: \"%t\".",
			key, cfgValue, defaultVal)
		return defaultVal
	}

	return b
}

// Parses a node map: ([id:hostname:paxosPort:clientPort], ...) into
// a quorum.NodeMap.
//
// This one takes no default values. The node map in the config
// `nodes` is always required anyway, and the function returns an
// descriptive error instead.
func (c *Config) GetNodeMap(key string) (*quorum.NodeMap, error) {
	nodeMap := make(map[quorum.NodeID]quorum.Node)

	nodesCfg := c.GetString(key, "")
	if nodesCfg == "" {
		return nil, errors.New("Config `" + key + "` need to be set! Should be in the format [id:hostname:paxos-port:client-port], ...")
	}

	for _, node := range strings.Split(nodesCfg, ",") {
		node = strings.TrimSpace(node)
		parts := strings.Split(node, ":")

		if len(parts) != 4 {
			return nil, errors.New("Could not understand `" + node + "` in `" + key + "` config. Should be in the format [id:hostname:paxos-port:client-port], ...")
		}

		id, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil || quorum.NodeID(id) > quorum.MaxNodeID {
			return nil, errors.New("Could not understand `" + node + "` in `" + key + "` config (id not an integer below 65536). Should be in the format [id:hostname:paxos-port:client-port], ...")
		}

		nid := quorum.NodeID(id)
		if _, dup := nodeMap[nid]; dup {
			return nil, fmt.Errorf("config `%s`: node %d: %w", key, id, quorum.ErrNodeAlreadyPresent)
		}
		nodeMap[nid] = quorum.NewNode(nid, parts[1], parts[2], parts[3])
	}

	return quorum.NewNodeMap(nodeMap), nil
}

// Parses the replication groups: ([quorumID:nodeID/nodeID/...], ...).
// Every member must be present in nodes. The result is sorted by quorum
// id.
func (c *Config) GetQuorums(key string, nodes *quorum.NodeMap) ([]*quorum.Quorum, error) {
	quorumsCfg := c.GetString(key, "")
	if quorumsCfg == "" {
		return nil, errors.New("Config `" + key + "` need to be set! Should be in the format [quorum-id:node-id/node-id/...], ...")
	}

	var quorums []*quorum.Quorum
	seen := make(map[quorum.ID]bool)

	for _, group := range strings.Split(quorumsCfg, ",") {
		group = strings.TrimSpace(group)
		parts := strings.Split(group, ":")
		if len(parts) != 2 {
			return nil, errors.New("Could not understand `" + group + "` in `" + key + "` config. Should be in the format [quorum-id:node-id/node-id/...], ...")
		}

		qid, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return nil, errors.New("Could not understand `" + group + "` in `" + key + "` config (quorum id format not integer).")
		}
		if seen[quorum.ID(qid)] {
			return nil, fmt.Errorf("config `%s`: quorum %d listed twice", key, qid)
		}
		seen[quorum.ID(qid)] = true

		var members []quorum.NodeID
		for _, m := range strings.Split(parts[1], "/") {
			nid, err := strconv.ParseUint(strings.TrimSpace(m), 10, 64)
			if err != nil {
				return nil, errors.New("Could not understand `" + group + "` in `" + key + "` config (node id format not integer).")
			}
			if _, found := nodes.LookupNode(quorum.NodeID(nid)); !found {
				return nil, fmt.Errorf("config `%s`: quorum %d: node %d: %w", key, qid, nid, quorum.ErrNodeNotFound)
			}
			members = append(members, quorum.NodeID(nid))
		}

		q, err := quorum.NewQuorum(quorum.ID(qid), members)
		if err != nil {
			return nil, err
		}
		quorums = append(quorums, q)
	}

	sort.Slice(quorums, func(i, j int) bool { return quorums[i].ID() < quorums[j].ID() })

	return quorums, nil
}

// Clones the config with all the values.
func (c *Config) CloneToKeyValueMap() map[string]string {
	clonedMap := make(map[string]string, len(c.values))
	for k, v := range c.values {
		clonedMap[k] = v
	}

	return clonedMap
}

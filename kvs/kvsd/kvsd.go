package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/codegangsta/cli"
	"github.com/golang/glog"
	"github.com/pkg/profile"

	"github.com/duzhanyuan/scaliendb"
	"github.com/duzhanyuan/scaliendb/client"
	"github.com/duzhanyuan/scaliendb/config"
	"github.com/duzhanyuan/scaliendb/elog"
	"github.com/duzhanyuan/scaliendb/quorum"
)

const sweepInterval = 100 * time.Millisecond

func main() {
	app := cli.NewApp()
	app.Name = "kvsd"
	app.Usage = "serve a key-value map replicated over the quorums of a ScalienDB cluster"
	app.Flags = []cli.Flag{
		cli.UintFlag{
			Name:  "id",
			Usage: "id for node (must match entry in config file)",
		},
		cli.StringFlag{
			Name:  "config-file",
			Value: "config.ini",
			Usage: "path for configuration file to be used",
		},
		cli.BoolFlag{
			Name:  "all-cores",
			Usage: "use all available logical CPUs",
		},
		cli.BoolFlag{
			Name:  "gc-off",
			Usage: "turn garbage collection off",
		},
		cli.BoolTFlag{
			Name:  "write-state-hash",
			Usage: "write hash of state to disk on exit",
		},
		cli.BoolFlag{
			Name:  "log-events",
			Usage: "enable event logging (same as logEvents = true)",
		},
		cli.StringFlag{
			Name:  "profile",
			Usage: "write a profile to disk (cpu | mem | block | mutex | goroutine)",
		},
		cli.StringFlag{
			Name:  "v",
			Value: "0",
			Usage: "log level for V logs",
		},
		cli.BoolFlag{
			Name:  "logtostderr",
			Usage: "log to standard error instead of files",
		},
		cli.StringFlag{
			Name:  "log_dir",
			Usage: "if non-empty, write log files in this directory",
		},
	}
	app.Action = run
	app.Run(os.Args)
}

// glog registers its flags with the standard flag package.
func setGlogFlags(c *cli.Context) {
	flag.Set("v", c.String("v"))
	if c.Bool("logtostderr") {
		flag.Set("logtostderr", "true")
	}
	if dir := c.String("log_dir"); dir != "" {
		flag.Set("log_dir", dir)
	}
	flag.CommandLine.Parse(nil)
}

func run(c *cli.Context) error {
	setGlogFlags(c)
	defer glog.Flush()

	if c.Bool("log-events") {
		elog.Enable()
	}
	if c.Bool("gc-off") {
		debug.SetGCPercent(-1)
	}
	if mode := c.String("profile"); mode != "" {
		opts, err := profileOptions(mode)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		defer profile.Start(opts...).Stop()
	}

	id := quorum.NodeID(c.Uint("id"))
	glog.V(1).Infoln("replica id is", id)

	if c.Bool("all-cores") {
		cpus := runtime.NumCPU()
		runtime.GOMAXPROCS(cpus)
		glog.V(1).Infoln("#cpus:", cpus)
	} else {
		runtime.GOMAXPROCS(1)
		glog.V(1).Info("#cpus: single")
	}

	conf, err := config.LoadFile(c.String("config-file"), "scaliendb", "kvsd")
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("Could not parse config file %s: %v", c.String("config-file"), err), 1)
	}

	return serve(id, conf, c.BoolT("write-state-hash"))
}

func serve(id quorum.NodeID, conf *config.Config, writeHash bool) error {
	// Log any runtime panic to file
	defer func() {
		if r := recover(); r != nil {
			glog.Fatalln("Runtime panic:", r)
		}
	}()

	kvs, err := newKVServer(id, conf)
	if err != nil {
		glog.Fatal(err)
	}
	if err := kvs.start(); err != nil {
		glog.Fatal(err)
	}
	defer func() {
		if err := kvs.stop(); err != nil {
			glog.Errorln("error when stopping:", err)
		}
		if writeHash {
			if err := writeStateHash(kvs.handler.ordered); err != nil {
				glog.Warning(err)
			}
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case signal := <-signalChan:
			if exit := handleSignal(signal); exit {
				return nil
			}
		case err := <-kvs.replica.Faults():
			glog.Fatalln("replica faulted:", err)
		}
	}
}

func handleSignal(signal os.Signal) bool {
	glog.V(1).Infoln("received signal,", signal)
	switch signal {
	case os.Interrupt, syscall.SIGTERM:
		return true
	default:
		glog.Warningln("unhandled signal", signal)
		return false
	}
}

// kvServer is one kvsd node: a replica, the key-value handler and the
// client port.
type kvServer struct {
	replica  *scaliendb.Replica
	handler  *KVHandler
	clients  *client.ClientHandler
	wg       *sync.WaitGroup
	stopScan chan struct{}
}

func newKVServer(id quorum.NodeID, conf *config.Config) (*kvServer, error) {
	nodes, err := conf.GetNodeMap("nodes")
	if err != nil {
		return nil, err
	}
	quorums, err := conf.GetQuorums("quorums", nodes)
	if err != nil {
		return nil, err
	}
	me, found := nodes.LookupNode(id)
	if !found {
		return nil, fmt.Errorf("node %v is not in the node map", id)
	}

	handler := NewKVHandler(quorums,
		conf.GetInt("batchMaxSize", config.DefBatchMaxSize),
		conf.GetDuration("requestTimeout", config.DefRequestTimeout))
	replica := scaliendb.NewReplica(id, conf, handler)
	if err := replica.Init(); err != nil {
		return nil, err
	}
	handler.SetContexts(replica)

	wg := new(sync.WaitGroup)
	clients, err := client.NewClientHandler(me.ClientAddr(), handler, wg)
	if err != nil {
		return nil, err
	}
	return &kvServer{
		replica:  replica,
		handler:  handler,
		clients:  clients,
		wg:       wg,
		stopScan: make(chan struct{}),
	}, nil
}

func (s *kvServer) start() error {
	if err := s.replica.Start(); err != nil {
		return err
	}
	s.wg.Add(1)
	s.clients.Start()
	go s.handler.runSweeper(sweepInterval, s.stopScan)
	return nil
}

func (s *kvServer) stop() error {
	close(s.stopScan)
	s.clients.Stop()
	s.wg.Wait()
	return s.replica.Stop()
}

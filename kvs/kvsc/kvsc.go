package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/codegangsta/cli"

	"github.com/duzhanyuan/scaliendb/config"
	kc "github.com/duzhanyuan/scaliendb/kvs/common"
)

var configFlag = cli.StringFlag{
	Name:  "config-file",
	Value: "config.ini",
	Usage: "path for configuration file to be used",
}

func main() {
	app := cli.NewApp()
	app.Name = "kvsc"
	app.Usage = "talk to a kvsd cluster"
	app.Flags = []cli.Flag{
		configFlag,
		cli.StringFlag{
			Name:  "v",
			Value: "0",
			Usage: "log level for V logs",
		},
	}
	app.Before = func(c *cli.Context) error {
		flag.Set("v", c.String("v"))
		flag.Set("logtostderr", "true")
		return flag.CommandLine.Parse(nil)
	}
	app.Commands = []cli.Command{
		getCmd,
		setCmd,
		deleteCmd,
		benchCmd,
	}
	app.Run(os.Args)
}

// dial loads the [scaliendb] and [client] sections of the configuration
// and connects to the cluster.
func dial(c *cli.Context) (*kc.Client, error) {
	path := c.GlobalString("config-file")
	conf, err := config.LoadFile(path, "scaliendb", "client")
	if err != nil {
		return nil, cli.NewExitError(fmt.Sprintf("Could not parse config file %s: %v", path, err), 1)
	}
	client, err := kc.Dial(conf)
	if err != nil {
		return nil, cli.NewExitError(fmt.Sprint("Error dialing cluster: ", err), 1)
	}
	return client, nil
}

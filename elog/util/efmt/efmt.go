package main

import (
	"fmt"
	"os"

	"github.com/codegangsta/cli"

	"github.com/duzhanyuan/scaliendb/elog/event"
)

func main() {
	app := cli.NewApp()
	app.Name = "efmt"
	app.Usage = "print the events of an elog file"
	app.ArgsUsage = "FILE"
	app.Flags = []cli.Flag{
		cli.BoolTFlag{
			Name:  "filter",
			Usage: "filter out throughput samples",
		},
		cli.IntFlag{
			Name:  "quorum",
			Value: -1,
			Usage: "only show the events of this quorum",
		},
	}
	app.Action = func(c *cli.Context) error {
		if c.NArg() != 1 {
			cli.ShowAppHelp(c)
			return cli.NewExitError("", 1)
		}

		events, err := event.Parse(c.Args().First())
		if err != nil {
			return cli.NewExitError(fmt.Sprint("Error parsing events: ", err), 1)
		}

		if c.BoolT("filter") {
			events, _ = event.ExtractThroughput(events)
		}
		if q := c.Int("quorum"); q >= 0 {
			events = event.FilterQuorum(events, uint64(q))
		}

		return event.Dump(os.Stdout, events)
	}
	app.Run(os.Args)
}

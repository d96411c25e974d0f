package main

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/codegangsta/cli"

	kc "github.com/duzhanyuan/scaliendb/kvs/common"
)

var benchCmd = cli.Command{
	Name:  "bench",
	Usage: "measure the latency of writes with random keys",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "runs", Value: 5, Usage: "number of runs"},
		cli.IntFlag{Name: "cmds", Value: 500, Usage: "number of commands per run"},
		cli.IntFlag{Name: "kl", Value: 16, Usage: "number of bytes for key"},
		cli.IntFlag{Name: "vl", Value: 16, Usage: "number of bytes for value"},
		cli.DurationFlag{Name: "prewait", Usage: "pre-start wait"},
		cli.BoolFlag{Name: "report", Usage: "save run report to disk"},
	},
	Action: runBench,
}

type benchParams struct {
	runs, cmds, kl, vl int
}

func runBench(c *cli.Context) error {
	params := benchParams{
		runs: c.Int("runs"),
		cmds: c.Int("cmds"),
		kl:   c.Int("kl"),
		vl:   c.Int("vl"),
	}
	if params.runs < 1 || params.cmds < 1 {
		return cli.NewExitError("runs and cmds must be positive", 1)
	}

	out := io.Writer(os.Stdout)
	if c.Bool("report") {
		folder, err := generateReportFolder()
		if err != nil {
			return cli.NewExitError(fmt.Sprint("Aborted! Reason: ", err), 1)
		}
		logfile, err := os.OpenFile(folder+"/report.txt", os.O_WRONLY|os.O_CREATE, 0640)
		if err != nil {
			return cli.NewExitError(fmt.Sprint("Aborted! Reason: ", err), 1)
		}
		defer logfile.Close()
		out = io.MultiWriter(logfile, os.Stdout)
	}
	logger := log.New(out, "", log.LstdFlags)

	logger.Println("Dialing kvs cluster")
	client, err := dial(c)
	if err != nil {
		return err
	}
	defer client.Close()

	if wait := c.Duration("prewait"); wait > 0 {
		logger.Println("Starting in", wait)
		time.Sleep(wait)
	}

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	runDurations := make([]time.Duration, params.runs)
	reqLatencies := make([][]time.Duration, params.runs)

	logger.Println("Running...")
	for i := range runDurations {
		logger.Println("Performing run", i)
		runDurations[i], reqLatencies[i], err = performRun(client, rnd, params)
		if err != nil {
			return cli.NewExitError(fmt.Sprint("Aborted! Reason: ", err), 1)
		}
	}

	writeReport(logger, params, runDurations, reqLatencies)
	return nil
}

func performRun(client *kc.Client, rnd *rand.Rand, params benchParams) (time.Duration, []time.Duration, error) {
	reqLatencies := make([]time.Duration, params.cmds)
	key := make([]byte, params.kl)
	val := make([]byte, params.vl)

	start := time.Now()
	for i := range reqLatencies {
		printableBytes(rnd, key)
		printableBytes(rnd, val)
		sent := time.Now()
		if err := client.Set(key, val); err != nil {
			return 0, nil, err
		}
		reqLatencies[i] = time.Since(sent)
	}
	return time.Since(start), reqLatencies, nil
}

func printableBytes(rnd *rand.Rand, p []byte) {
	for i := range p {
		p[i] = byte(65 + rnd.Intn(126-65))
	}
}

func generateReportFolder() (string, error) {
	folderName := renderTimestamp(time.Now())
	return folderName, os.Mkdir(folderName, 0755)
}

func renderTimestamp(t time.Time) string {
	return fmt.Sprintf("%d%02d%02d-%02d%02d%02d",
		t.Year(),
		t.Month(),
		t.Day(),
		t.Hour(),
		t.Minute(),
		t.Second())
}

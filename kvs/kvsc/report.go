package main

import (
	"log"
	"math"
	"time"
)

func meanDuration(v ...time.Duration) time.Duration {
	if len(v) == 0 {
		return 0
	}
	var sum time.Duration
	for _, dur := range v {
		sum += dur
	}
	return sum / time.Duration(len(v))
}

// ssdDuration is the sample standard deviation of v.
func ssdDuration(v ...time.Duration) time.Duration {
	if len(v) < 2 {
		return 0
	}
	mean := meanDuration(v...)
	var sum float64
	for _, dur := range v {
		sum += math.Pow(float64(dur-mean), 2)
	}
	return time.Duration(math.Sqrt(sum / float64(len(v)-1)))
}

func stdErrMeanDuration(ssd time.Duration, n int) time.Duration {
	if n == 0 {
		return 0
	}
	return time.Duration(float64(ssd) / math.Sqrt(float64(n)))
}

func writeReport(logger *log.Logger, params benchParams, runDurations []time.Duration, reqLats [][]time.Duration) {
	ssdRuns := ssdDuration(runDurations...)

	logger.Println("")
	logger.Println("---------------------------------------------------")
	logger.Println("Report:")
	logger.Println("")
	logger.Println("Number of runs:", params.runs)
	logger.Println("Number of commands per run:", params.cmds)
	logger.Println("Key byte size:", params.kl)
	logger.Println("Value byte size:", params.vl)
	logger.Println("")
	logger.Println("Duration per run:", runDurations)
	logger.Println("Mean duration for runs:", meanDuration(runDurations...))
	logger.Println("Sample standard deviation for run durations:", ssdRuns)
	logger.Println("Standard error of the mean duration:", stdErrMeanDuration(ssdRuns, len(runDurations)))
	for i, lats := range reqLats {
		ssd := ssdDuration(lats...)
		logger.Println("")
		logger.Println("Run nr.", i)
		logger.Println("Mean request latency:", meanDuration(lats...))
		logger.Println("Sample standard deviation for request latency:", ssd)
		logger.Println("Standard error of the mean request latency:", stdErrMeanDuration(ssd, len(lats)))
	}
	logger.Println("---------------------------------------------------")
}

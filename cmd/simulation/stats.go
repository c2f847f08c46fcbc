package main

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// stageStats tracks latency for one stage of the order pipeline
type stageStats struct {
	mu        sync.Mutex
	name      string
	durations []time.Duration
	failures  int
}

func (s *stageStats) record(d time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, d)
	if failed {
		s.failures++
	}
}

type summary struct {
	calls, failures                 int
	min, max, mean, median, p95, p99 time.Duration
}

// calculate sorts a copy of the samples and derives the percentiles
func (s *stageStats) calculate() summary {
	s.mu.Lock()
	samples := append([]time.Duration(nil), s.durations...)
	out := summary{calls: len(samples), failures: s.failures}
	s.mu.Unlock()

	if len(samples) == 0 {
		return out
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	out.min = samples[0]
	out.max = samples[len(samples)-1]
	out.mean = sum / time.Duration(len(samples))
	out.median = samples[len(samples)/2]
	out.p95 = samples[percentileIndex(len(samples), 0.95)]
	out.p99 = samples[percentileIndex(len(samples), 0.99)]
	return out
}

func percentileIndex(n int, p float64) int {
	idx := int(math.Ceil(float64(n)*p)) - 1
	if idx < 0 {
		return 0
	}
	return idx
}

func printStats(w io.Writer, stages ...*stageStats) {
	fmt.Fprintln(w, strings.Repeat("-", 100))
	fmt.Fprintf(w, "%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Stage", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, s := range stages {
		r := s.calculate()
		fmt.Fprintf(w, "%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			s.name, r.calls, r.failures,
			r.min.Round(time.Microsecond),
			r.max.Round(time.Microsecond),
			r.mean.Round(time.Microsecond),
			r.median.Round(time.Microsecond),
			r.p95.Round(time.Microsecond),
			r.p99.Round(time.Microsecond))
	}
	fmt.Fprintln(w, strings.Repeat("-", 100))
}

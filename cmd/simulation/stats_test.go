package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestStageStatsCalculate(t *testing.T) {
	s := &stageStats{name: "create"}
	if r := s.calculate(); r.calls != 0 || r.max != 0 {
		t.Fatalf("empty stats: %+v", r)
	}

	for i := 100; i >= 1; i-- {
		s.record(time.Duration(i)*time.Millisecond, i%10 == 0)
	}
	r := s.calculate()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"min", r.min, time.Millisecond},
		{"max", r.max, 100 * time.Millisecond},
		{"median", r.median, 51 * time.Millisecond},
		{"p95", r.p95, 95 * time.Millisecond},
		{"p99", r.p99, 99 * time.Millisecond},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s=%s, expected %s", tt.name, tt.got, tt.want)
		}
	}
	if r.calls != 100 || r.failures != 10 {
		t.Fatalf("calls=%d failures=%d", r.calls, r.failures)
	}
	if s.durations[0] != 100*time.Millisecond {
		t.Fatal("calculate must not reorder the recorded samples")
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	s := &stageStats{name: "execute"}
	s.record(time.Millisecond, false)
	printStats(&buf, s)
	if !strings.Contains(buf.String(), "execute") {
		t.Fatalf("output=%q", buf.String())
	}
}

package proxy

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// statsCollector accumulates what the periodic stats line reports: how
// requests were dispatched and how much body was relayed.
type statsCollector struct {
	mu        sync.Mutex
	outcomes  map[string]uint64
	bodyBytes uint64
	maxBody   uint64
	streams   uint64
}

func newStatsCollector() *statsCollector {
	return &statsCollector{outcomes: make(map[string]uint64)}
}

func (s *statsCollector) ObserveOutcome(outcome string) {
	s.mu.Lock()
	s.outcomes[outcome]++
	s.mu.Unlock()
}

func (s *statsCollector) ObserveBody(n int64, streamed bool) {
	b := uint64(max(n, 0))
	s.mu.Lock()
	s.bodyBytes += b
	s.maxBody = max(s.maxBody, b)
	if streamed {
		s.streams++
	}
	s.mu.Unlock()
}

type statsSnapshot struct {
	Requests  uint64
	Outcomes  map[string]uint64
	BodyBytes uint64
	MaxBody   uint64
	Streams   uint64
}

// Snapshot returns the counters accumulated since the previous call and
// starts a new interval.
func (s *statsCollector) Snapshot() statsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := statsSnapshot{
		Outcomes:  s.outcomes,
		BodyBytes: s.bodyBytes,
		MaxBody:   s.maxBody,
		Streams:   s.streams,
	}
	for _, n := range s.outcomes {
		snap.Requests += n
	}
	s.outcomes = make(map[string]uint64)
	s.bodyBytes, s.maxBody, s.streams = 0, 0, 0
	return snap
}

// outcomeSummary renders the outcome breakdown in a stable order, e.g.
// "proxied=10 no-route=2".
func (ss statsSnapshot) outcomeSummary() string {
	if len(ss.Outcomes) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ss.Outcomes))
	for _, k := range slices.Sorted(maps.Keys(ss.Outcomes)) {
		parts = append(parts, k+"="+strconv.FormatUint(ss.Outcomes[k], 10))
	}
	return strings.Join(parts, " ")
}

var formatUnits = []string{"kb", "mb", "gb"}

func formatBytes(b uint64) string {
	if b < 1024 {
		return fmt.Sprintf("%db", b)
	}
	v := float64(b) / 1024
	unit := formatUnits[0]
	for _, u := range formatUnits[1:] {
		if v < 1024 {
			break
		}
		v /= 1024
		unit = u
	}
	return strings.TrimSuffix(strconv.FormatFloat(v, 'f', 1, 64), ".0") + unit
}

package hooks

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProfilePointKind tags a profile sample's position in a step's lifecycle.
type ProfilePointKind string

const (
	ProfileStart      ProfilePointKind = "start"
	ProfileCheckpoint ProfilePointKind = "checkpoint"
	ProfileEnd        ProfilePointKind = "end"
)

// ProfilePoint is one recorded sample ("per-step start/checkpoint/
// end profile points").
type ProfilePoint struct {
	StepID     string
	Kind       ProfilePointKind
	Timestamp  time.Time
	AllocBytes uint64
	Goroutines int
}

// IntervalSample is a periodic CPU/memory/event-loop-delay sample (spec:
// "samples CPU, memory, and event-loop-delay on an interval"). Go has no
// event loop; SchedulerDelay approximates it as scheduler latency measured
// by how long a zero-work goroutine takes to run after being spawned.
type IntervalSample struct {
	Timestamp       time.Time
	GoroutineCount  int
	AllocBytes      uint64
	SchedulerDelay  time.Duration
}

// Thresholds configures hotspot detection (spec: "configurable
// thresholds").
type Thresholds struct {
	StepDuration   time.Duration
	AllocBytes     uint64
	SchedulerDelay time.Duration
}

// DefaultThresholds matches typical workflow-step budgets: one second of
// step duration, 50MB allocated per sample, and 50ms of scheduler delay.
// Hotspots compares only StepDuration; the AllocBytes and SchedulerDelay
// thresholds are not checked by any Profiler method.
func DefaultThresholds() Thresholds {
	return Thresholds{StepDuration: time.Second, AllocBytes: 50 * 1024 * 1024, SchedulerDelay: 50 * time.Millisecond}
}

// Hotspot is one flagged step, ranked by impact (spec: "sorted by
// impact").
type Hotspot struct {
	StepID   string
	Duration time.Duration
	Impact   float64
}

// Profiler samples interval metrics on a background ticker and records
// per-step profile points.
type Profiler struct {
	mu         sync.Mutex
	points     []ProfilePoint
	samples    []IntervalSample
	thresholds Thresholds

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewProfiler builds a profiler using the given hotspot thresholds.
func NewProfiler(thresholds Thresholds) *Profiler {
	return &Profiler{thresholds: thresholds}
}

// Start begins periodic interval sampling.
func (p *Profiler) Start(interval time.Duration) {
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.run(interval)
}

// Stop halts periodic sampling.
func (p *Profiler) Stop() {
	if p.stopCh == nil {
		return
	}
	close(p.stopCh)
	<-p.doneCh
}

func (p *Profiler) run(interval time.Duration) {
	defer close(p.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sampleOnce()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Profiler) sampleOnce() {
	start := time.Now()
	delayCh := make(chan time.Duration, 1)
	go func() { delayCh <- time.Since(start) }()
	delay := <-delayCh

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	p.mu.Lock()
	p.samples = append(p.samples, IntervalSample{
		Timestamp:      time.Now().UTC(),
		GoroutineCount: runtime.NumGoroutine(),
		AllocBytes:     ms.Alloc,
		SchedulerDelay: delay,
	})
	p.mu.Unlock()
}

// RecordPoint records a step lifecycle sample.
func (p *Profiler) RecordPoint(stepID string, kind ProfilePointKind) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.points = append(p.points, ProfilePoint{
		StepID: stepID, Kind: kind, Timestamp: time.Now().UTC(),
		AllocBytes: ms.Alloc, Goroutines: runtime.NumGoroutine(),
	})
}

// Hotspots identifies steps whose start->end span exceeds the configured
// duration threshold, ranked by impact (duration, descending).
func (p *Profiler) Hotspots() []Hotspot {
	p.mu.Lock()
	defer p.mu.Unlock()

	starts := make(map[string]time.Time)
	var spots []Hotspot
	for _, pt := range p.points {
		switch pt.Kind {
		case ProfileStart:
			starts[pt.StepID] = pt.Timestamp
		case ProfileEnd:
			if start, ok := starts[pt.StepID]; ok {
				d := pt.Timestamp.Sub(start)
				if d >= p.thresholds.StepDuration {
					spots = append(spots, Hotspot{StepID: pt.StepID, Duration: d, Impact: d.Seconds()})
				}
			}
		}
	}
	sort.Slice(spots, func(i, j int) bool { return spots[i].Duration > spots[j].Duration })
	return spots
}

// Recommendations generates priority-ranked suggestions from the current
// hotspots (spec: "ranked by priority").
func (p *Profiler) Recommendations() []string {
	hotspots := p.Hotspots()
	var recs []string
	for _, h := range hotspots {
		recs = append(recs, fmt.Sprintf("Step %q took %s — consider parallelizing it or reducing its scope.", h.StepID, h.Duration.Round(time.Millisecond)))
	}
	return recs
}

// Export renders the profiler's state as json, csv, or summary text
// ("exports json|csv|summary").
func (p *Profiler) Export(format string) (string, error) {
	p.mu.Lock()
	points := append([]ProfilePoint(nil), p.points...)
	samples := append([]IntervalSample(nil), p.samples...)
	p.mu.Unlock()

	switch format {
	case "json":
		data, err := json.MarshalIndent(struct {
			Points  []ProfilePoint
			Samples []IntervalSample
			Hotspots []Hotspot
		}{points, samples, p.Hotspots()}, "", "  ")
		return string(data), err
	case "csv":
		var b strings.Builder
		w := csv.NewWriter(&b)
		_ = w.Write([]string{"step_id", "kind", "timestamp", "alloc_bytes", "goroutines"})
		for _, pt := range points {
			_ = w.Write([]string{pt.StepID, string(pt.Kind), pt.Timestamp.Format(time.RFC3339Nano), strconv.FormatUint(pt.AllocBytes, 10), strconv.Itoa(pt.Goroutines)})
		}
		w.Flush()
		return b.String(), w.Error()
	case "summary":
		var b strings.Builder
		fmt.Fprintf(&b, "Profile points: %d, interval samples: %d\n", len(points), len(samples))
		for _, h := range p.Hotspots() {
			fmt.Fprintf(&b, "hotspot: %s (%s)\n", h.StepID, h.Duration.Round(time.Millisecond))
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("profiler: unknown export format %q", format)
	}
}

package state

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"
)

// RetentionPolicy configures the cleanup service.
type RetentionPolicy struct {
	MaxAge                time.Duration
	MaxStateCount         int
	RetainCompletedStates bool
	RetainFailedStates    bool
	MaxFailedAge          time.Duration
	CompressionThreshold  int64
}

// CleanupReport summarizes one cleanup cycle.
type CleanupReport struct {
	Deleted    []string
	BytesFreed int64
	Errors     []error
}

// CleanupService enforces a RetentionPolicy over a Persistence store.
// Grounded on the teacher's internal/tracing.RetentionManager: a
// ticker-driven loop with an age cutoff, generalized to also bound by
// count and to never touch a running/pending workflow ("Running
// or pending workflows are never deleted").
type CleanupService struct {
	store  *Persistence
	policy RetentionPolicy
	logger *slog.Logger

	running int32 // mutual-exclusion flag (spec: "concurrent invocations reject")

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCleanupService wires a cleanup service to its store and policy.
func NewCleanupService(store *Persistence, policy RetentionPolicy, logger *slog.Logger) *CleanupService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupService{
		store:  store,
		policy: policy,
		logger: logger.With(slog.String("component", "state.cleanup")),
	}
}

// Start begins a periodic cleanup loop at the given interval.
func (c *CleanupService) Start(interval time.Duration) {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.run(interval)
}

// Stop halts the periodic loop, waiting for any in-flight cycle to finish.
func (c *CleanupService) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

func (c *CleanupService) run(interval time.Duration) {
	defer close(c.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := c.RunOnce(); err != nil {
				c.logger.Error("cleanup cycle failed", "error", err)
			}
		case <-c.stopCh:
			return
		}
	}
}

// ErrCleanupInProgress is returned when RunOnce is called while a prior
// cycle is still running.
var ErrCleanupInProgress = fmt.Errorf("cleanup cycle already in progress")

// RunOnce performs a single cleanup pass: selection by per-status age
// cutoff, then by count (oldest first), never touching a running or
// pending workflow. Concurrent calls reject with ErrCleanupInProgress.
func (c *CleanupService) RunOnce() (CleanupReport, error) {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return CleanupReport{}, ErrCleanupInProgress
	}
	defer atomic.StoreInt32(&c.running, 0)

	report := CleanupReport{}

	ids, err := c.store.ListStates()
	if err != nil {
		return report, err
	}

	type candidate struct {
		id    string
		state *WorkflowState
		meta  Metadata
	}
	var live []candidate
	now := time.Now()

	for _, id := range ids {
		s, err := c.store.Load(id)
		if err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}
		if s == nil {
			continue
		}
		if s.Status == "running" || s.Status == "pending" {
			continue
		}
		meta, err := c.store.GetStateMetadata(id)
		if err != nil {
			report.Errors = append(report.Errors, err)
			continue
		}

		maxAge := c.policy.MaxAge
		if s.Status == "failed" && c.policy.MaxFailedAge > 0 {
			maxAge = c.policy.MaxFailedAge
		}
		if (s.Status == "completed" && c.policy.RetainCompletedStates) ||
			(s.Status == "failed" && c.policy.RetainFailedStates) {
			live = append(live, candidate{id, s, meta})
			continue
		}
		if maxAge > 0 && now.Sub(s.LastUpdateTime) > maxAge {
			if err := c.store.DeleteState(id); err != nil {
				report.Errors = append(report.Errors, err)
				continue
			}
			report.Deleted = append(report.Deleted, id)
			report.BytesFreed += meta.Size
			continue
		}
		live = append(live, candidate{id, s, meta})
	}

	if c.policy.MaxStateCount > 0 && len(live) > c.policy.MaxStateCount {
		sort.Slice(live, func(i, j int) bool { return live[i].state.LastUpdateTime.Before(live[j].state.LastUpdateTime) })
		excess := len(live) - c.policy.MaxStateCount
		for _, cand := range live[:excess] {
			if err := c.store.DeleteState(cand.id); err != nil {
				report.Errors = append(report.Errors, err)
				continue
			}
			report.Deleted = append(report.Deleted, cand.id)
			report.BytesFreed += cand.meta.Size
		}
	}

	c.logger.Info("cleanup cycle complete", "deleted", len(report.Deleted), "bytes_freed", report.BytesFreed, "errors", len(report.Errors))
	return report, nil
}

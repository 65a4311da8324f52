// Package controller owns the acquisition-and-detection loop: fetch, classify,
// publish, wait, repeat. One controller instance runs one cycle at a time; the
// held previous snapshot is exclusively owned by the controller.
package controller

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/oddsradar/internal/classify"
	"github.com/rewired-gh/oddsradar/internal/logger"
	"github.com/rewired-gh/oddsradar/internal/models"
)

// State is the controller's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateClassifying
	StatePublishing
	StateWaiting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateClassifying:
		return "classifying"
	case StatePublishing:
		return "publishing"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Fetcher obtains the current snapshot, best-effort. Satisfied by
// navigator.Navigator.
type Fetcher interface {
	Fetch(ctx context.Context) (models.MarketSnapshot, error)
}

// Classifier diffs two snapshots into anomalies. Satisfied by
// classify.Classifier.
type Classifier interface {
	Classify(previous *models.MarketSnapshot, current models.MarketSnapshot) classify.Result
}

// Sink receives anomaly batches. Append must tolerate receiving the same
// batch more than once; when sinks are shared between controller instances it
// must also be safe for concurrent callers.
type Sink interface {
	Append(ctx context.Context, batch []models.Anomaly) error
}

// PrevStore persists the held previous snapshot across restarts. Load runs
// once before the first fetch; Save replaces the stored snapshot atomically.
type PrevStore interface {
	LoadPrevSnapshot() (*models.MarketSnapshot, error)
	SavePrevSnapshot(snapshot models.MarketSnapshot) error
}

// StatusReporter is notified about cycle failures and recoveries, e.g. for
// operator alerts. Both calls are best-effort.
type StatusReporter interface {
	SendError(err error) error
	SendRecovery(failureCount int) error
}

// Config holds controller configuration.
type Config struct {
	PollInterval time.Duration
}

// Controller drives the polling loop for one provider.
type Controller struct {
	cfg        Config
	fetcher    Fetcher
	classifier Classifier
	sinks      []Sink
	prevStore  PrevStore
	reporter   StatusReporter

	prev  *models.MarketSnapshot
	state atomic.Int32

	closers   []io.Closer
	closeOnce sync.Once

	consecutiveFailures int
}

// New creates a Controller. prevStore and reporter may be nil.
func New(cfg Config, fetcher Fetcher, classifier Classifier, sinks []Sink, prevStore PrevStore) *Controller {
	return &Controller{
		cfg:        cfg,
		fetcher:    fetcher,
		classifier: classifier,
		sinks:      sinks,
		prevStore:  prevStore,
	}
}

// SetReporter installs an optional status reporter for failure/recovery
// notices.
func (c *Controller) SetReporter(r StatusReporter) {
	c.reporter = r
}

// CloseOnStop registers a resource released exactly once when the controller
// stops.
func (c *Controller) CloseOnStop(closer io.Closer) {
	c.closers = append(c.closers, closer)
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// Run executes the polling loop until ctx is cancelled, then releases
// registered resources and returns. Nothing inside a cycle is fatal: a cycle
// that cannot fetch or publish logs and proceeds to the next one.
func (c *Controller) Run(ctx context.Context) error {
	defer c.stop()

	if c.prevStore != nil {
		prev, err := c.prevStore.LoadPrevSnapshot()
		if err != nil {
			logger.Warn("Failed to load persisted snapshot: %v", err)
		} else if prev != nil {
			c.prev = prev
			logger.Info("Loaded persisted snapshot with %d entities", prev.Len())
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		c.runCycle(ctx)

		c.setState(StateWaiting)
		if err := sleep(ctx, c.cfg.PollInterval); err != nil {
			return nil
		}
	}
}

// runCycle performs one fetch-classify-publish pass. A terminal fetch failure
// skips classification and keeps the held previous snapshot unchanged, so the
// next cycle diffs against the last successfully fetched state.
func (c *Controller) runCycle(ctx context.Context) {
	start := time.Now()
	c.setState(StateFetching)

	current, err := c.fetcher.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.consecutiveFailures++
		logger.Error("No data this cycle: %v", err)
		if c.consecutiveFailures == 1 && c.reporter != nil {
			if sendErr := c.reporter.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notice: %v", sendErr)
			}
		}
		return
	}

	if c.consecutiveFailures > 0 {
		if c.reporter != nil {
			if sendErr := c.reporter.SendRecovery(c.consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notice: %v", sendErr)
			}
		}
		c.consecutiveFailures = 0
	}

	c.setState(StateClassifying)
	result := c.classifier.Classify(c.prev, current)
	for _, skipped := range result.Skipped {
		logger.Warn("Skipped entity %s: %s", skipped.EntityID, skipped.Reason)
	}

	c.setState(StatePublishing)
	if len(result.Anomalies) > 0 {
		logger.Info("Detected %d anomalies across %d entities", len(result.Anomalies), current.Len())
		for _, sink := range c.sinks {
			if err := sink.Append(ctx, result.Anomalies); err != nil {
				logger.Error("Sink append failed: %v", err)
			}
		}
	} else {
		logger.Debug("No anomalies this cycle (%d entities)", current.Len())
	}

	c.prev = &current
	if c.prevStore != nil {
		if err := c.prevStore.SavePrevSnapshot(current); err != nil {
			logger.Warn("Failed to persist snapshot: %v", err)
		}
	}

	logger.Info("Cycle completed in %v", time.Since(start))
}

func (c *Controller) stop() {
	c.setState(StateStopped)
	c.closeOnce.Do(func() {
		for _, closer := range c.closers {
			if err := closer.Close(); err != nil {
				logger.Warn("Failed to close resource: %v", err)
			}
		}
	})
	logger.Info("Controller stopped")
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

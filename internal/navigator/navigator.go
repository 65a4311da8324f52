// Package navigator wraps a snapshot provider with bounded retries, turning a
// flaky external call into a best-effort fetch.
package navigator

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/oddsradar/internal/logger"
	"github.com/rewired-gh/oddsradar/internal/models"
	"github.com/rewired-gh/oddsradar/internal/provider"
)

// Config holds retry behavior. Delays are fixed, matching the upstream
// source's settle/retry pacing; worst-case fetch time per cycle is bounded by
// MaxAttempts*(PerAttemptTimeout+InterAttemptDelay)+SettleDelay.
type Config struct {
	MaxAttempts       int
	PerAttemptTimeout time.Duration
	InterAttemptDelay time.Duration
	SettleDelay       time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		PerAttemptTimeout: 15 * time.Second,
		InterAttemptDelay: 5 * time.Second,
		SettleDelay:       3 * time.Second,
	}
}

// Navigator retries snapshot fetches up to MaxAttempts times per cycle.
type Navigator struct {
	provider provider.Provider
	cfg      Config
}

// New creates a Navigator. MaxAttempts below 1 is clamped to 1.
func New(p provider.Provider, cfg Config) *Navigator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Navigator{provider: p, cfg: cfg}
}

// Fetch attempts to obtain the current snapshot. On failure it sleeps the
// inter-attempt delay and retries; after MaxAttempts consecutive failures it
// returns a terminal error for this cycle. All sleeps abort promptly when ctx
// is cancelled. A successful attempt is followed by the settle delay before
// the snapshot is returned.
func (n *Navigator) Fetch(ctx context.Context) (models.MarketSnapshot, error) {
	var lastErr error

	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return models.MarketSnapshot{}, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, n.cfg.PerAttemptTimeout)
		snapshot, err := n.provider.Fetch(attemptCtx)
		cancel()

		if err == nil {
			logger.Info("Fetch attempt %d/%d succeeded: %d entities", attempt, n.cfg.MaxAttempts, snapshot.Len())
			if err := sleep(ctx, n.cfg.SettleDelay); err != nil {
				return models.MarketSnapshot{}, err
			}
			return snapshot, nil
		}

		if ctx.Err() != nil {
			return models.MarketSnapshot{}, ctx.Err()
		}

		lastErr = err
		logger.Warn("Fetch attempt %d/%d failed (%s): %v", attempt, n.cfg.MaxAttempts, kindLabel(err), err)

		if attempt < n.cfg.MaxAttempts {
			if err := sleep(ctx, n.cfg.InterAttemptDelay); err != nil {
				return models.MarketSnapshot{}, err
			}
		}
	}

	return models.MarketSnapshot{}, fmt.Errorf("all %d fetch attempts failed: %w", n.cfg.MaxAttempts, lastErr)
}

func kindLabel(err error) string {
	if kind := provider.KindOf(err); kind != "" {
		return string(kind)
	}
	return "unclassified"
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

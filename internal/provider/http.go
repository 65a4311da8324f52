package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/oddsradar/internal/logger"
	"github.com/rewired-gh/oddsradar/internal/models"
)

// HTTPConfig holds HTTP provider configuration.
type HTTPConfig struct {
	Name          string
	FeedURL       string
	Timeout       time.Duration
	RatePerSecond float64
	RateBurst     int
}

// HTTPProvider fetches a line snapshot from a JSON feed endpoint. Requests are
// paced by a token-bucket limiter so a tight retry loop cannot hammer the
// upstream.
type HTTPProvider struct {
	name       string
	feedURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPProvider creates an HTTP-backed snapshot provider.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	return &HTTPProvider{
		name:       cfg.Name,
		feedURL:    cfg.FeedURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// feedEntry is the wire shape of one entity in the upstream feed. Optional
// fields stay pointers so missing data is resolved here, once, instead of
// leaking untyped values downstream.
type feedEntry struct {
	EntityID    string             `json:"entity_id"`
	EventName   string             `json:"event_name"`
	League      string             `json:"league"`
	Sport       string             `json:"sport"`
	IsLive      bool               `json:"is_live"`
	MatchMinute *int               `json:"match_minute"`
	Odds        map[string]float64 `json:"odds"`
	MaxStake    *float64           `json:"max_stake"`
	MoneyVolume *float64           `json:"money_volume"`
	FlowPercent *float64           `json:"flow_percent"`
}

// Fetch retrieves the current snapshot from the feed endpoint. Failures are
// returned as classified FetchErrors.
func (p *HTTPProvider) Fetch(ctx context.Context) (models.MarketSnapshot, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return models.MarketSnapshot{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.feedURL, nil)
	if err != nil {
		return models.MarketSnapshot{}, NewFetchError(ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.MarketSnapshot{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.MarketSnapshot{}, NewFetchError(ErrNetwork, fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	var entries []feedEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return models.MarketSnapshot{}, NewFetchError(ErrParse, err)
	}

	capturedAt := time.Now()
	entities := make([]models.MarketEntity, 0, len(entries))
	for _, entry := range entries {
		if entry.EntityID == "" {
			logger.Debug("Dropping feed entry without entity ID (event: %q)", entry.EventName)
			continue
		}
		entities = append(entities, models.MarketEntity{
			EntityID:    entry.EntityID,
			EventName:   entry.EventName,
			League:      entry.League,
			Sport:       entry.Sport,
			IsLive:      entry.IsLive,
			MatchMinute: entry.MatchMinute,
			Quotes:      entry.Odds,
			MaxStake:    entry.MaxStake,
			MoneyVolume: entry.MoneyVolume,
			FlowPercent: entry.FlowPercent,
			CapturedAt:  capturedAt,
		})
	}

	return models.NewSnapshot(capturedAt, entities), nil
}

// Close releases idle connections held by the underlying HTTP client.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// Name returns the provider name used for log and state labeling.
func (p *HTTPProvider) Name() string {
	return p.name
}

func classifyTransportError(err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewFetchError(ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewFetchError(ErrTimeout, err)
	}
	return NewFetchError(ErrNetwork, err)
}

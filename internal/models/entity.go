// Package models defines the core domain entities: market entities, snapshots, and anomalies.
package models

import (
	"errors"
	"fmt"
	"time"
)

// MarketEntity is one tradable event-market pair observed at a point in time.
// The EntityID must be stable across polls; diffing degrades to "new entity"
// when a provider cannot guarantee that. Optional fields surfaced by the
// provider are pointers so missing data is resolved once, at parse time.
type MarketEntity struct {
	EntityID    string             `json:"entity_id"`
	EventName   string             `json:"event_name,omitempty"`
	League      string             `json:"league,omitempty"`
	Sport       string             `json:"sport,omitempty"`
	IsLive      bool               `json:"is_live"`
	MatchMinute *int               `json:"match_minute,omitempty"`
	Quotes      map[string]float64 `json:"quotes"`
	MaxStake    *float64           `json:"max_stake,omitempty"`
	MoneyVolume *float64           `json:"money_volume,omitempty"`
	FlowPercent *float64           `json:"flow_percent,omitempty"`
	CapturedAt  time.Time          `json:"captured_at"`
}

// Validate checks entity field constraints.
func (e *MarketEntity) Validate() error {
	if e.EntityID == "" {
		return errors.New("entity ID must not be empty")
	}
	for label, odd := range e.Quotes {
		if odd <= 1.0 {
			return fmt.Errorf("quote %q must be greater than 1.0, got %v", label, odd)
		}
	}
	if e.MaxStake != nil && *e.MaxStake < 0 {
		return errors.New("max stake must not be negative")
	}
	if e.MoneyVolume != nil && *e.MoneyVolume < 0 {
		return errors.New("money volume must not be negative")
	}
	if e.FlowPercent != nil && (*e.FlowPercent < 0 || *e.FlowPercent > 100) {
		return errors.New("flow percent must be between 0 and 100")
	}
	return nil
}

// MarketSnapshot is the set of entities observed at approximately one instant,
// keyed by entity ID.
type MarketSnapshot struct {
	CapturedAt time.Time               `json:"captured_at"`
	Entities   map[string]MarketEntity `json:"entities"`
}

// NewSnapshot builds a snapshot from a slice of entities. Duplicate entity IDs
// resolve last-write-wins; providers should not emit them.
func NewSnapshot(capturedAt time.Time, entities []MarketEntity) MarketSnapshot {
	byID := make(map[string]MarketEntity, len(entities))
	for _, e := range entities {
		byID[e.EntityID] = e
	}
	return MarketSnapshot{CapturedAt: capturedAt, Entities: byID}
}

// Len returns the number of entities in the snapshot.
func (s MarketSnapshot) Len() int {
	return len(s.Entities)
}

package models

import "time"

// AnomalyKind enumerates the detectable deviation types.
type AnomalyKind string

const (
	KindSharpDrop      AnomalyKind = "sharp_drop"
	KindSharpRise      AnomalyKind = "sharp_rise"
	KindValueBet       AnomalyKind = "value_bet"
	KindUnbalancedFlow AnomalyKind = "unbalanced_flow"
	KindTotalOverSpike AnomalyKind = "total_over_spike"
	KindLateGameSpike  AnomalyKind = "late_game_spike"
	KindCorridorBreach AnomalyKind = "corridor_breach"
	KindLimitCut       AnomalyKind = "limit_cut"
)

// AllKinds lists every shipped anomaly kind, in stable order.
func AllKinds() []AnomalyKind {
	return []AnomalyKind{
		KindSharpDrop, KindSharpRise, KindValueBet, KindUnbalancedFlow,
		KindTotalOverSpike, KindLateGameSpike, KindCorridorBreach, KindLimitCut,
	}
}

// ValidKind reports whether k is one of the shipped kinds.
func ValidKind(k AnomalyKind) bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Severity ranks an anomaly by magnitude. It is always derived from the
// numeric inputs that triggered detection, never hand-set.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal position of the severity, low first.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// Escalate bumps the severity one tier, saturating at critical.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	case SeverityHigh, SeverityCritical:
		return SeverityCritical
	}
	return s
}

// EntityRef is the human-readable identity of an entity, frozen at detection
// time. It is never re-resolved: the source entity may be gone from later
// snapshots.
type EntityRef struct {
	EntityID  string `json:"entity_id"`
	EventName string `json:"event_name,omitempty"`
	League    string `json:"league,omitempty"`
	Sport     string `json:"sport,omitempty"`
}

// Anomaly is one detected deviation. Records are created once, immutable, and
// owned by the sink thereafter.
type Anomaly struct {
	ID            string      `json:"id,omitempty"`
	Kind          AnomalyKind `json:"kind"`
	Severity      Severity    `json:"severity"`
	Entity        EntityRef   `json:"entity"`
	MarketLabel   string      `json:"market_label"`
	Before        float64     `json:"before"`
	After         float64     `json:"after"`
	ChangePercent float64     `json:"change_percent"`
	IsLive        bool        `json:"is_live"`
	MatchMinute   *int        `json:"match_minute,omitempty"`
	MoneyVolume   *float64    `json:"money_volume,omitempty"`
	FlowPercent   *float64    `json:"flow_percent,omitempty"`
	Comment       string      `json:"comment,omitempty"`
	DetectedAt    time.Time   `json:"detected_at"`
}

// SkippedEntity is a data-quality diagnostic emitted when a malformed entity
// is dropped from a classification pass.
type SkippedEntity struct {
	EntityID string `json:"entity_id"`
	Reason   string `json:"reason"`
}

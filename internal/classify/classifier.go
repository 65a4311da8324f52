// Package classify turns a pair of market snapshots into a set of classified,
// severity-ranked anomalies. The classifier is a pure function of its inputs
// apart from reading the clock for detection timestamps.
package classify

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/oddsradar/internal/models"
)

// Config holds all detection thresholds. Severity tier boundaries live here,
// not in the rule control flow, so deployments can retune them.
type Config struct {
	DropThresholdPct  float64
	RiseThresholdPct  float64
	SeverityTiers     [3]float64 // ascending |change%| boundaries: medium, high, critical
	FlowThresholdPct  float64
	HighVolume        float64
	TotalPrefixes     []string
	LateGameMinute    int
	CorridorWidthPct  float64
	ValueThresholdPct float64
	LimitCutPct       float64
}

// DefaultConfig returns the shipped thresholds.
func DefaultConfig() Config {
	return Config{
		DropThresholdPct:  5,
		RiseThresholdPct:  5,
		SeverityTiers:     [3]float64{10, 20, 40},
		FlowThresholdPct:  80,
		HighVolume:        10000,
		TotalPrefixes:     []string{"Total", "Over", "Under"},
		LateGameMinute:    80,
		CorridorWidthPct:  12,
		ValueThresholdPct: 13,
		LimitCutPct:       30,
	}
}

// ReferenceSource supplies the corridor baseline for an outcome, typically a
// second bookmaker's price. It is a separate data source from the previous
// snapshot and therefore injected.
type ReferenceSource interface {
	ReferenceOdd(entityID, marketLabel string) (float64, bool)
}

// StaticReferenceSource serves corridor baselines from a fixed map keyed by
// entity ID then market label.
type StaticReferenceSource map[string]map[string]float64

func (s StaticReferenceSource) ReferenceOdd(entityID, marketLabel string) (float64, bool) {
	odd, ok := s[entityID][marketLabel]
	return odd, ok
}

// FairOddsFunc returns the fair-odds estimate for an outcome, or false when
// none is known. Fair odds computation itself is out of scope and injected.
type FairOddsFunc func(entityID, marketLabel string) (float64, bool)

// StaticFairOdds adapts a fixed map into a FairOddsFunc.
func StaticFairOdds(fair map[string]map[string]float64) FairOddsFunc {
	return func(entityID, marketLabel string) (float64, bool) {
		odd, ok := fair[entityID][marketLabel]
		return odd, ok
	}
}

// Result is the outcome of one classification pass. Skipped carries
// data-quality diagnostics for malformed entities; a malformed entity never
// aborts the pass.
type Result struct {
	Anomalies []models.Anomaly
	Skipped   []models.SkippedEntity
}

// Classifier evaluates detection rules over snapshot pairs.
type Classifier struct {
	cfg      Config
	refs     ReferenceSource
	fairOdds FairOddsFunc
	now      func() time.Time
}

// New creates a Classifier. refs and fairOdds may be nil, disabling corridor
// breach and value bet detection respectively.
func New(cfg Config, refs ReferenceSource, fairOdds FairOddsFunc) *Classifier {
	return &Classifier{cfg: cfg, refs: refs, fairOdds: fairOdds, now: time.Now}
}

// Classify diffs current against previous and returns all detected anomalies
// ordered by entity ID, then kind, then market label. previous may be nil on
// the first cycle; odds-movement rules are then skipped while snapshot-only
// rules still run.
func (c *Classifier) Classify(previous *models.MarketSnapshot, current models.MarketSnapshot) Result {
	detectedAt := c.now()
	var result Result

	for _, id := range sortedIDs(current.Entities) {
		entity := current.Entities[id]
		if err := entity.Validate(); err != nil {
			result.Skipped = append(result.Skipped, models.SkippedEntity{EntityID: id, Reason: err.Error()})
			continue
		}

		var prevEntity *models.MarketEntity
		if previous != nil {
			if pe, ok := previous.Entities[id]; ok {
				prevEntity = &pe
			}
		}

		found := c.classifyEntity(prevEntity, entity, detectedAt)
		result.Anomalies = append(result.Anomalies, found...)
	}

	if previous != nil {
		result.Anomalies = append(result.Anomalies, c.removedEntities(previous, current, detectedAt)...)
	}

	sort.Slice(result.Anomalies, func(i, j int) bool {
		a, b := result.Anomalies[i], result.Anomalies[j]
		if a.Entity.EntityID != b.Entity.EntityID {
			return a.Entity.EntityID < b.Entity.EntityID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.MarketLabel < b.MarketLabel
	})

	return result
}

// classifyEntity runs every rule for one entity and applies the high-volume
// severity modifier to whatever the rules raised.
func (c *Classifier) classifyEntity(prev *models.MarketEntity, cur models.MarketEntity, detectedAt time.Time) []models.Anomaly {
	var found []models.Anomaly

	if prev != nil {
		found = append(found, c.oddsMovementRules(prev, cur, detectedAt)...)
		found = append(found, c.limitRules(prev, cur, detectedAt)...)
	}
	found = append(found, c.flowRule(cur, detectedAt)...)
	found = append(found, c.corridorRule(cur, detectedAt)...)
	found = append(found, c.valueBetRule(cur, detectedAt)...)

	if cur.MoneyVolume != nil && *cur.MoneyVolume >= c.cfg.HighVolume {
		if len(found) > 0 {
			for i := range found {
				found[i].Severity = found[i].Severity.Escalate()
			}
		} else {
			// High money with no other signal still surfaces as its own
			// low-severity flow anomaly for determinism.
			found = append(found, c.newAnomaly(cur, models.KindUnbalancedFlow, models.SeverityLow, "", *cur.MoneyVolume, flowOrZero(cur), 0,
				fmt.Sprintf("high money volume: %.0f", *cur.MoneyVolume), detectedAt))
		}
	}

	return found
}

// oddsMovementRules diffs each outcome present in both quote maps and emits
// sharp drop/rise anomalies plus the total-market and late-game specializations.
func (c *Classifier) oddsMovementRules(prev *models.MarketEntity, cur models.MarketEntity, detectedAt time.Time) []models.Anomaly {
	var found []models.Anomaly

	for _, label := range sortedLabels(cur.Quotes) {
		oldOdd, ok := prev.Quotes[label]
		if !ok || oldOdd <= 0 {
			continue
		}
		newOdd := cur.Quotes[label]
		change := changePct(oldOdd, newOdd)

		isDrop := change <= -c.cfg.DropThresholdPct
		isRise := change >= c.cfg.RiseThresholdPct
		if !isDrop && !isRise {
			continue
		}

		severity := c.severityFor(change)
		comment := fmt.Sprintf("%s: %.3f → %.3f (%+.2f%%)", label, oldOdd, newOdd, change)

		kind := models.KindSharpRise
		if isDrop {
			kind = models.KindSharpDrop
		}
		found = append(found, c.newAnomaly(cur, kind, severity, label, oldOdd, newOdd, change, comment, detectedAt))

		if c.isTotalMarket(label) {
			found = append(found, c.newAnomaly(cur, models.KindTotalOverSpike, severity, label, oldOdd, newOdd, change, comment, detectedAt))
		}
		if cur.IsLive && cur.MatchMinute != nil && *cur.MatchMinute >= c.cfg.LateGameMinute {
			found = append(found, c.newAnomaly(cur, models.KindLateGameSpike, severity, label, oldOdd, newOdd, change, comment, detectedAt))
		}
	}

	return found
}

// limitRules detects stake limit cuts and markets pulled from the line
// between snapshots. Both are always critical.
func (c *Classifier) limitRules(prev *models.MarketEntity, cur models.MarketEntity, detectedAt time.Time) []models.Anomaly {
	var found []models.Anomaly

	if prev.MaxStake != nil && cur.MaxStake != nil && *prev.MaxStake > 0 {
		cutPct := -changePct(*prev.MaxStake, *cur.MaxStake)
		if cutPct >= c.cfg.LimitCutPct {
			comment := fmt.Sprintf("max stake cut: %.0f → %.0f (-%.1f%%)", *prev.MaxStake, *cur.MaxStake, cutPct)
			found = append(found, c.newAnomaly(cur, models.KindLimitCut, models.SeverityCritical, "", *prev.MaxStake, *cur.MaxStake, -cutPct, comment, detectedAt))
		}
	}

	for _, label := range sortedLabels(prev.Quotes) {
		if _, still := cur.Quotes[label]; still {
			continue
		}
		oldOdd := prev.Quotes[label]
		if oldOdd <= 0 {
			continue
		}
		comment := fmt.Sprintf("market %s removed from line (was %.3f)", label, oldOdd)
		found = append(found, c.newAnomaly(cur, models.KindLimitCut, models.SeverityCritical, label, oldOdd, 0, -100, comment, detectedAt))
	}

	return found
}

// removedEntities emits limit-cut anomalies for entities that were tradable in
// the previous snapshot and are gone from the current one. The entity
// reference is frozen from the previous snapshot since the source is gone.
func (c *Classifier) removedEntities(previous *models.MarketSnapshot, current models.MarketSnapshot, detectedAt time.Time) []models.Anomaly {
	var found []models.Anomaly

	for _, id := range sortedIDs(previous.Entities) {
		if _, still := current.Entities[id]; still {
			continue
		}
		prev := previous.Entities[id]
		for _, label := range sortedLabels(prev.Quotes) {
			oldOdd := prev.Quotes[label]
			if oldOdd <= 0 {
				continue
			}
			comment := fmt.Sprintf("entity removed from line, market %s was %.3f", label, oldOdd)
			found = append(found, c.newAnomaly(prev, models.KindLimitCut, models.SeverityCritical, label, oldOdd, 0, -100, comment, detectedAt))
		}
	}

	return found
}

// flowRule fires on stake imbalance toward one outcome. It only needs the
// current snapshot.
func (c *Classifier) flowRule(cur models.MarketEntity, detectedAt time.Time) []models.Anomaly {
	if cur.FlowPercent == nil || *cur.FlowPercent <= c.cfg.FlowThresholdPct {
		return nil
	}
	flow := *cur.FlowPercent
	comment := fmt.Sprintf("%.1f%% of money on one outcome", flow)
	return []models.Anomaly{
		c.newAnomaly(cur, models.KindUnbalancedFlow, c.flowSeverity(flow), "", volumeOrZero(cur), flow, 0, comment, detectedAt),
	}
}

// corridorRule fires when a quote leaves the configured band around an
// injected reference price.
func (c *Classifier) corridorRule(cur models.MarketEntity, detectedAt time.Time) []models.Anomaly {
	if c.refs == nil {
		return nil
	}
	var found []models.Anomaly
	w := c.cfg.CorridorWidthPct / 100

	for _, label := range sortedLabels(cur.Quotes) {
		ref, ok := c.refs.ReferenceOdd(cur.EntityID, label)
		if !ok || ref <= 0 {
			continue
		}
		odd := cur.Quotes[label]
		lo, hi := ref*(1-w), ref*(1+w)
		if odd >= lo && odd <= hi {
			continue
		}
		change := changePct(ref, odd)
		comment := fmt.Sprintf("%s: %.3f outside corridor [%.3f, %.3f] around %.3f", label, odd, lo, hi, ref)
		found = append(found, c.newAnomaly(cur, models.KindCorridorBreach, c.severityFor(change), label, ref, odd, change, comment, detectedAt))
	}

	return found
}

// valueBetRule fires when the quoted odds imply a lower probability than the
// injected fair-odds estimate by at least the value threshold.
func (c *Classifier) valueBetRule(cur models.MarketEntity, detectedAt time.Time) []models.Anomaly {
	if c.fairOdds == nil {
		return nil
	}
	var found []models.Anomaly

	for _, label := range sortedLabels(cur.Quotes) {
		fair, ok := c.fairOdds(cur.EntityID, label)
		if !ok || fair <= 0 {
			continue
		}
		odd := cur.Quotes[label]
		if odd < fair*(1+c.cfg.ValueThresholdPct/100) {
			continue
		}
		change := changePct(fair, odd)
		comment := fmt.Sprintf("%s: quoted %.3f vs fair %.3f (%+.2f%%)", label, odd, fair, change)
		found = append(found, c.newAnomaly(cur, models.KindValueBet, c.severityFor(change), label, fair, odd, change, comment, detectedAt))
	}

	return found
}

func (c *Classifier) newAnomaly(e models.MarketEntity, kind models.AnomalyKind, severity models.Severity, label string, before, after, change float64, comment string, detectedAt time.Time) models.Anomaly {
	return models.Anomaly{
		Kind:     kind,
		Severity: severity,
		Entity: models.EntityRef{
			EntityID:  e.EntityID,
			EventName: e.EventName,
			League:    e.League,
			Sport:     e.Sport,
		},
		MarketLabel:   label,
		Before:        before,
		After:         after,
		ChangePercent: change,
		IsLive:        e.IsLive,
		MatchMinute:   e.MatchMinute,
		MoneyVolume:   e.MoneyVolume,
		FlowPercent:   e.FlowPercent,
		Comment:       comment,
		DetectedAt:    detectedAt,
	}
}

// changePct returns the relative change from oldV to newV in percent, rounded
// to two decimals. Unrounded float64 division leaves noise like
// -9.999999999999998 for an exact -10% move, which would land in the wrong
// severity tier.
func changePct(oldV, newV float64) float64 {
	return math.Round((newV-oldV)/oldV*100*100) / 100
}

// severityFor maps |change%| onto the configured tier boundaries.
func (c *Classifier) severityFor(changePct float64) models.Severity {
	magnitude := changePct
	if magnitude < 0 {
		magnitude = -magnitude
	}
	switch {
	case magnitude >= c.cfg.SeverityTiers[2]:
		return models.SeverityCritical
	case magnitude >= c.cfg.SeverityTiers[1]:
		return models.SeverityHigh
	case magnitude >= c.cfg.SeverityTiers[0]:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// flowSeverity ranks a flow reading by how far it exceeds the threshold, in
// 5-point steps.
func (c *Classifier) flowSeverity(flowPct float64) models.Severity {
	excess := flowPct - c.cfg.FlowThresholdPct
	switch {
	case excess >= 15:
		return models.SeverityCritical
	case excess >= 10:
		return models.SeverityHigh
	case excess >= 5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func (c *Classifier) isTotalMarket(label string) bool {
	for _, prefix := range c.cfg.TotalPrefixes {
		if strings.HasPrefix(label, prefix) {
			return true
		}
	}
	return false
}

func flowOrZero(e models.MarketEntity) float64 {
	if e.FlowPercent != nil {
		return *e.FlowPercent
	}
	return 0
}

func volumeOrZero(e models.MarketEntity) float64 {
	if e.MoneyVolume != nil {
		return *e.MoneyVolume
	}
	return 0
}

func sortedIDs(entities map[string]models.MarketEntity) []string {
	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedLabels(quotes map[string]float64) []string {
	labels := make([]string, 0, len(quotes))
	for label := range quotes {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

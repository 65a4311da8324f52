package notify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/oddsradar/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "hello world", "hello world"},
		{"underscores", "sharp_drop", "sharp\\_drop"},
		{"dots and dashes", "2.10 -> 1.80", "2\\.10 \\-\\> 1\\.80"},
		{"brackets and parens", "[live] (85')", "\\[live\\] \\(85'\\)"},
		{"all specials", "_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
		{"empty", "", ""},
		{"unicode kept", "Köln → München", "Köln → München"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeMarkdownV2(tt.input))
		})
	}
}

func sampleAnomaly() models.Anomaly {
	return models.Anomaly{
		Kind:     models.KindSharpDrop,
		Severity: models.SeverityMedium,
		Entity: models.EntityRef{
			EntityID:  "E1",
			EventName: "Team A vs Team B",
			League:    "Premier League",
		},
		MarketLabel:   "1",
		Before:        2.0,
		After:         1.8,
		ChangePercent: -10,
		DetectedAt:    time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestFormatBatch(t *testing.T) {
	a := sampleAnomaly()
	b := sampleAnomaly()
	b.Kind = models.KindLimitCut
	b.Entity = models.EntityRef{EntityID: "E2"}
	b.Entity.League = ""

	text := formatBatch([]models.Anomaly{a, b})

	assert.Contains(t, text, "*Odds Anomalies Detected*")
	assert.Contains(t, text, "2026\\-08\\-30 12:00:00") // date line is escaped
	assert.Contains(t, text, "📉")
	assert.Contains(t, text, "✂️")
	assert.Contains(t, text, "Team A vs Team B")
	assert.Contains(t, text, "Premier League")
	// Entities without an event name fall back to the ID.
	assert.Contains(t, text, "*E2*")
	assert.Contains(t, text, "\\[medium\\]")
}

func TestFormatBatchUnknownKindGetsFallbackEmoji(t *testing.T) {
	a := sampleAnomaly()
	a.Kind = models.AnomalyKind("mystery")

	text := formatBatch([]models.Anomaly{a})
	assert.Contains(t, text, "🔔")
}

func TestKindEmojiCoversAllKinds(t *testing.T) {
	for _, kind := range models.AllKinds() {
		assert.NotEmpty(t, kindEmoji[kind], "missing emoji for %s", kind)
	}
}

func TestConsoleCompactOutput(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleWriter(&buf, false)

	require.NoError(t, sink.Append(context.Background(), []models.Anomaly{sampleAnomaly()}))

	out := buf.String()
	assert.Contains(t, out, "sharp_drop")
	assert.Contains(t, out, "medium")
	assert.Contains(t, out, "Team A vs Team B")
	assert.Contains(t, out, "2.000→1.800")
	assert.Contains(t, out, "-10.0%")
}

func TestConsoleTableOutput(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleWriter(&buf, true)

	minute := 85
	a := sampleAnomaly()
	a.IsLive = true
	a.MatchMinute = &minute

	require.NoError(t, sink.Append(context.Background(), []models.Anomaly{a}))

	out := buf.String()
	assert.Contains(t, out, "1 anomalies")
	assert.Contains(t, out, "Team A vs Team B")
	assert.Contains(t, out, "sharp_drop")
	assert.Contains(t, out, "live 85'")
}

func TestConsoleEmptyBatch(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleWriter(&buf, false)

	require.NoError(t, sink.Append(context.Background(), nil))
	assert.Contains(t, buf.String(), "no anomalies")
}

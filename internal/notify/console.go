package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/rewired-gh/oddsradar/internal/models"
)

// Console writes anomaly batches to a terminal, either as compact one-liners
// or as a full table.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole creates a console sink writing to stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a console sink for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Append prints the batch in the configured mode.
func (c *Console) Append(_ context.Context, batch []models.Anomaly) error {
	if len(batch) == 0 {
		fmt.Fprintf(c.out, "[%s] no anomalies\n", time.Now().Format("15:04:05"))
		return nil
	}

	if c.table {
		c.printTable(batch)
	} else {
		c.printCompact(batch)
	}
	return nil
}

func (c *Console) printCompact(batch []models.Anomaly) {
	for _, a := range batch {
		name := a.Entity.EventName
		if name == "" {
			name = a.Entity.EntityID
		}
		fmt.Fprintf(c.out, "[%s] %s %s %s %s %.3f→%.3f (%+.1f%%)\n",
			a.DetectedAt.Format("15:04:05"), a.Severity, a.Kind,
			name, a.MarketLabel, a.Before, a.After, a.ChangePercent)
	}
}

func (c *Console) printTable(batch []models.Anomaly) {
	fmt.Fprintf(c.out, "\n[%s] %d anomalies\n", batch[0].DetectedAt.Format("15:04:05"), len(batch))

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Event", "League", "Market", "Kind", "Severity", "Before", "After", "Δ%", "Live")

	for i, a := range batch {
		name := a.Entity.EventName
		if name == "" {
			name = a.Entity.EntityID
		}
		live := "prematch"
		if a.IsLive {
			live = "live"
			if a.MatchMinute != nil {
				live = fmt.Sprintf("live %d'", *a.MatchMinute)
			}
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			name,
			a.Entity.League,
			a.MarketLabel,
			string(a.Kind),
			string(a.Severity),
			fmt.Sprintf("%.3f", a.Before),
			fmt.Sprintf("%.3f", a.After),
			fmt.Sprintf("%+.1f", a.ChangePercent),
			live,
		)
	}

	table.Render()
}

// Package storage provides SQLite-backed persistence for anomalies and the
// controller's previous snapshot.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/oddsradar/internal/models"
)

// Storage wraps a SQLite database for all persistence operations. Append is
// safe for concurrent callers: the pool is capped to a single writer
// connection and inserts are deduplicated, giving at-least-once sinks
// effectively idempotent delivery.
type Storage struct {
	db           *sql.DB
	maxAnomalies int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/oddsradar/data.db.
func New(dbPath string, maxAnomalies int) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "oddsradar", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxAnomalies: maxAnomalies}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS anomalies (
			id             TEXT PRIMARY KEY,
			entity_id      TEXT NOT NULL,
			event_name     TEXT,
			league         TEXT,
			sport          TEXT,
			market_label   TEXT NOT NULL DEFAULT '',
			kind           TEXT NOT NULL,
			severity       TEXT NOT NULL,
			before_value   REAL NOT NULL,
			after_value    REAL NOT NULL,
			change_percent REAL NOT NULL,
			is_live        INTEGER NOT NULL DEFAULT 0,
			match_minute   INTEGER,
			money_volume   REAL,
			flow_percent   REAL,
			comment        TEXT,
			detected_at    INTEGER NOT NULL,
			UNIQUE(entity_id, kind, market_label, detected_at)
		)`,
		`CREATE TABLE IF NOT EXISTS prev_snapshot (
			name        TEXT PRIMARY KEY,
			captured_at INTEGER NOT NULL,
			payload     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_detected_at ON anomalies(detected_at)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_kind ON anomalies(kind)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append inserts an anomaly batch. Re-delivered rows are ignored via the
// dedup constraint on (entity_id, kind, market_label, detected_at). The stored
// set is then trimmed to the configured cap, oldest first.
func (s *Storage) Append(ctx context.Context, batch []models.Anomaly) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, a := range batch {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO anomalies
				(id, entity_id, event_name, league, sport, market_label, kind, severity,
				 before_value, after_value, change_percent, is_live, match_minute,
				 money_volume, flow_percent, comment, detected_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			uuid.New().String(), a.Entity.EntityID, a.Entity.EventName, a.Entity.League, a.Entity.Sport,
			a.MarketLabel, string(a.Kind), string(a.Severity),
			a.Before, a.After, a.ChangePercent, boolToInt(a.IsLive), nullableInt(a.MatchMinute),
			nullableFloat(a.MoneyVolume), nullableFloat(a.FlowPercent), a.Comment,
			a.DetectedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert anomaly: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM anomalies WHERE id NOT IN (
			SELECT id FROM anomalies ORDER BY detected_at DESC LIMIT ?
		)`, s.maxAnomalies); err != nil {
		return fmt.Errorf("failed to enforce anomaly cap: %w", err)
	}

	return tx.Commit()
}

// QueryFilter narrows a feed query. Zero values mean "no constraint" except
// Hours, which callers should default to a sane recency window.
type QueryFilter struct {
	Kinds []models.AnomalyKind
	Hours int
	Live  *bool
	Limit int
}

// QueryAnomalies returns stored anomalies matching the filter, newest first.
func (s *Storage) QueryAnomalies(filter QueryFilter) ([]models.Anomaly, error) {
	query := `SELECT ` + anomalyCols + ` FROM anomalies WHERE 1=1`
	var args []any

	if filter.Hours > 0 {
		cutoff := time.Now().Add(-time.Duration(filter.Hours) * time.Hour)
		query += ` AND detected_at >= ?`
		args = append(args, cutoff.UnixNano())
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, kind := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, string(kind))
		}
		query += ` AND kind IN (` + strings.Join(placeholders, ",") + `)`
	}
	if filter.Live != nil {
		query += ` AND is_live = ?`
		args = append(args, boolToInt(*filter.Live))
	}

	query += ` ORDER BY detected_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	anomalies := []models.Anomaly{}
	for rows.Next() {
		a, err := scanAnomaly(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		anomalies = append(anomalies, a)
	}
	return anomalies, rows.Err()
}

// CountByKind returns the number of stored anomalies per kind within the
// recency window.
func (s *Storage) CountByKind(hours int) (map[models.AnomalyKind]int, error) {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	rows, err := s.db.Query(`
		SELECT kind, COUNT(*) FROM anomalies
		WHERE detected_at >= ?
		GROUP BY kind`, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to count anomalies: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.AnomalyKind]int)
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.AnomalyKind(kind)] = count
	}
	return counts, rows.Err()
}

// SnapshotStore adapts the prev_snapshot table to one named slot, so multiple
// independent controllers can share the database.
type SnapshotStore struct {
	s    *Storage
	name string
}

// SnapshotStore returns the named previous-snapshot slot.
func (s *Storage) SnapshotStore(name string) *SnapshotStore {
	return &SnapshotStore{s: s, name: name}
}

// LoadPrevSnapshot returns the persisted snapshot, or nil when none is stored.
func (st *SnapshotStore) LoadPrevSnapshot() (*models.MarketSnapshot, error) {
	row := st.s.db.QueryRow(`SELECT payload FROM prev_snapshot WHERE name = ?`, st.name)
	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	var snapshot models.MarketSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// SavePrevSnapshot replaces the stored snapshot in a single statement, so a
// reader never observes a partially written state.
func (st *SnapshotStore) SavePrevSnapshot(snapshot models.MarketSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	_, err = st.s.db.Exec(`
		INSERT OR REPLACE INTO prev_snapshot (name, captured_at, payload)
		VALUES (?,?,?)`,
		st.name, snapshot.CapturedAt.UnixNano(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

const anomalyCols = `id, entity_id, event_name, league, sport, market_label, kind, severity,
	before_value, after_value, change_percent, is_live, match_minute,
	money_volume, flow_percent, comment, detected_at`

func scanAnomaly(scan func(...any) error) (models.Anomaly, error) {
	var a models.Anomaly
	var kind, severity string
	var isLive int
	var matchMinute sql.NullInt64
	var moneyVolume, flowPercent sql.NullFloat64
	var comment sql.NullString
	var detectedAtNano int64

	err := scan(
		&a.ID, &a.Entity.EntityID, &a.Entity.EventName, &a.Entity.League, &a.Entity.Sport,
		&a.MarketLabel, &kind, &severity,
		&a.Before, &a.After, &a.ChangePercent, &isLive, &matchMinute,
		&moneyVolume, &flowPercent, &comment, &detectedAtNano,
	)
	if err != nil {
		return models.Anomaly{}, err
	}

	a.Kind = models.AnomalyKind(kind)
	a.Severity = models.Severity(severity)
	a.IsLive = isLive != 0
	if matchMinute.Valid {
		minute := int(matchMinute.Int64)
		a.MatchMinute = &minute
	}
	if moneyVolume.Valid {
		v := moneyVolume.Float64
		a.MoneyVolume = &v
	}
	if flowPercent.Valid {
		v := flowPercent.Float64
		a.FlowPercent = &v
	}
	a.Comment = comment.String
	a.DetectedAt = time.Unix(0, detectedAtNano)
	return a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

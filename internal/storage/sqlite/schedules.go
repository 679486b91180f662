package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/flightfusion/internal/schedule"
	"github.com/yegors/flightfusion/pkg/logger"
	_ "modernc.org/sqlite"
)

// StoredSchedule is a schedule document as persisted in flight_schedules
type StoredSchedule struct {
	Record       schedule.Record `json:"record"`
	SourceStatus string          `json:"source_status"`
	LastUpdated  time.Time       `json:"last_updated"`
}

// ScheduleStore is a SQLite document store for schedule records keyed by flight number
type ScheduleStore struct {
	db     *sql.DB
	logger *logger.Logger
	now    func() time.Time
}

// NewScheduleStore opens (or creates) the schedule database at dbPath
func NewScheduleStore(dbPath string, log *logger.Logger) (*ScheduleStore, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=10000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &ScheduleStore{
		db:     db,
		logger: storageLogger,
		now:    time.Now,
	}, nil
}

// Close closes the database connection
func (s *ScheduleStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS flight_schedules (
			flight_number TEXT PRIMARY KEY,
			document TEXT NOT NULL,         -- JSON encoded schedule.Record
			source_status TEXT,
			last_updated TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create flight_schedules table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_flight_schedules_last_updated ON flight_schedules(last_updated)`)
	if err != nil {
		return fmt.Errorf("failed to create last_updated index: %w", err)
	}

	return nil
}

// UpsertSchedules writes one document per flight number, replacing any previous version
// and stamping last_updated. statusOf derives the source_status column.
func (s *ScheduleStore) UpsertSchedules(ctx context.Context, records []schedule.Record, statusOf func(schedule.Record) string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flight_schedules (flight_number, document, source_status, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(flight_number) DO UPDATE SET
			document = excluded.document,
			source_status = excluded.source_status,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	written := 0
	for _, rec := range records {
		if rec.FlightNumber == "" || rec.Placeholder {
			continue
		}
		doc, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("failed to encode schedule %s: %w", rec.FlightNumber, err)
		}
		status := rec.Status
		if statusOf != nil {
			status = statusOf(rec)
		}
		if _, err := stmt.ExecContext(ctx, rec.FlightNumber, string(doc), status, now.Format(time.RFC3339Nano)); err != nil {
			return 0, fmt.Errorf("failed to upsert schedule %s: %w", rec.FlightNumber, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit schedules: %w", err)
	}

	s.logger.Debug("Upserted schedules", logger.Int("count", written))
	return written, nil
}

// GetSchedule returns the stored document for a flight number, or nil when none exists
func (s *ScheduleStore) GetSchedule(ctx context.Context, flightNumber string) (*StoredSchedule, error) {
	var doc, lastUpdated string
	var status sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT document, source_status, last_updated FROM flight_schedules WHERE flight_number = ?`,
		flightNumber,
	).Scan(&doc, &status, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule %s: %w", flightNumber, err)
	}

	stored := &StoredSchedule{SourceStatus: status.String}
	if err := json.Unmarshal([]byte(doc), &stored.Record); err != nil {
		return nil, fmt.Errorf("failed to decode schedule %s: %w", flightNumber, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, lastUpdated); err == nil {
		stored.LastUpdated = t
	}

	return stored, nil
}

// CountSchedules returns the number of stored documents
func (s *ScheduleStore) CountSchedules(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flight_schedules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count schedules: %w", err)
	}
	return n, nil
}

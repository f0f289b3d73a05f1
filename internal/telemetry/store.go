package telemetry

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fluxaudio/corehost/internal/enginecore"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a sql.DB connection opened against a local sqlite file, the
// same way the teacher's database package opens its operational store:
// WAL mode, a single writer connection, and embedded SQL migrations applied
// at startup.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens the telemetry database under dataDir and runs
// any pending migrations.
func OpenStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "telemetry.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", dbPath)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening telemetry database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging telemetry database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running telemetry migrations: %w", err)
	}
	slog.Info("telemetry store opened", "path", dbPath)
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}
		slog.Info("applied telemetry migration", "version", version)
	}
	return nil
}

// RecordTiming appends one worker timing-report row (spec §4.6).
func (s *Store) RecordTiming(stats enginecore.EngineStats, workerTick time.Duration) error {
	_, err := s.db.Exec(
		`INSERT INTO timing_reports (blocks_processed, missed_deadlines, unknown_target_drops, worker_tick_nanos) VALUES (?, ?, ?, ?)`,
		stats.BlocksProcessed, stats.MissedDeadlines, stats.UnknownTargetDrops, workerTick.Nanoseconds(),
	)
	return err
}

// RecordFatal appends one fatal-condition row (spec §7: "reported once via
// telemetry; the engine does not attempt automatic recovery").
func (s *Store) RecordFatal(kind, detail string) error {
	_, err := s.db.Exec(`INSERT INTO fatal_conditions (kind, detail) VALUES (?, ?)`, kind, detail)
	return err
}

// Recorder adapts Store to the worker.TimingReporter interface, logging
// failures rather than propagating them (telemetry writes must never block
// or fail the worker's own tick).
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder wraps store as a worker.TimingReporter.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger.With("subsystem", "telemetry")}
}

// ReportTiming implements worker.TimingReporter.
func (r *Recorder) ReportTiming(stats enginecore.EngineStats, workerTick time.Duration) {
	if err := r.store.RecordTiming(stats, workerTick); err != nil {
		r.logger.Error("failed to record timing report", "error", err)
	}
}

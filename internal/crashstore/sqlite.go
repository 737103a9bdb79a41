package crashstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vburojevic/crashwatch/internal/domain"
)

// SQLiteStore keeps crash records in <rootDir>/<extensionId>/crashedSessions.db
type SQLiteStore struct {
	loc   domain.Location
	db    *sql.DB
	retry RetryPolicy
}

// SQLitePath returns the database file used for a location
func SQLitePath(loc domain.Location) string {
	return loc.Dir() + ".db"
}

// NewSQLiteStore opens (creating if needed) the database for a location
func NewSQLiteStore(loc domain.Location, retry RetryPolicy) (*SQLiteStore, error) {
	path := SQLitePath(loc)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}

	// WAL + busy timeout: several detectors may share one database
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{loc: loc, db: db, retry: retry}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS crashed_sessions (
		session_id TEXT PRIMARY KEY,
		last_heartbeat INTEGER NOT NULL,
		declared_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shutdown_markers (
		reason TEXT PRIMARY KEY,
		detail BLOB,
		written_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Location() domain.Location { return s.loc }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Declare(ctx context.Context, rec domain.CrashRecord) error {
	if err := domain.ValidateSessionID(rec.SessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO crashed_sessions (session_id, last_heartbeat, declared_at)
		VALUES (?, ?, ?)
	`, rec.SessionID, rec.LastHeartbeat, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to declare crash: %w", err)
	}
	return nil
}

func (s *SQLiteStore) WriteMarker(ctx context.Context, reason domain.ShutdownReason, detail []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO shutdown_markers (reason, detail, written_at)
		VALUES (?, ?, ?)
	`, string(reason), detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.CrashRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, last_heartbeat FROM crashed_sessions ORDER BY session_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list crashes: %w", err)
	}
	defer rows.Close()

	var recs []domain.CrashRecord
	for rows.Next() {
		var rec domain.CrashRecord
		if err := rows.Scan(&rec.SessionID, &rec.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("failed to scan crash row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ScanAndDrain claims each row with a conditional delete; a row deleted by
// another drainer affects zero rows and is skipped.
func (s *SQLiteStore) ScanAndDrain(ctx context.Context, yield func(domain.CrashRecord) error) (ScanStats, error) {
	var stats ScanStats
	recs, err := s.List(ctx)
	if err != nil {
		return stats, err
	}

	for _, rec := range recs {
		removed, err := retryDelete(ctx, s.retry, func() (bool, error) {
			res, err := s.db.ExecContext(ctx, `
				DELETE FROM crashed_sessions WHERE session_id = ? AND last_heartbeat = ?
			`, rec.SessionID, rec.LastHeartbeat)
			if err != nil {
				return false, err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return false, err
			}
			return n > 0, nil
		})
		if err == nil && !removed {
			stats.Skipped++
			continue
		}
		if err := yield(rec); err != nil {
			if removed {
				if rerr := s.Declare(ctx, rec); rerr != nil {
					return stats, fmt.Errorf("failed to restore %s after %v: %w", rec.SessionID, err, rerr)
				}
			}
			return stats, err
		}
		stats.Yielded++
	}
	return stats, nil
}

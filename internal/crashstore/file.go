package crashstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vburojevic/crashwatch/internal/domain"
)

// FileStore keeps one document per crashed session in <location>/crashedSessions
type FileStore struct {
	loc        domain.Location
	codec      Codec
	retry      RetryPolicy
	removeFile func(string) error
}

// FileOption configures a FileStore
type FileOption func(*FileStore)

// WithCodec sets the format used to write records
func WithCodec(c Codec) FileOption {
	return func(s *FileStore) { s.codec = c }
}

// WithRetry sets the delete retry policy
func WithRetry(p RetryPolicy) FileOption {
	return func(s *FileStore) { s.retry = p }
}

// NewFileStore creates a file-backed store. The directory is created on the
// first Declare or WriteMarker.
func NewFileStore(loc domain.Location, opts ...FileOption) *FileStore {
	s := &FileStore{
		loc:        loc,
		codec:      jsonCodec{},
		retry:      DefaultRetryPolicy(),
		removeFile: os.Remove,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) Location() domain.Location { return s.loc }

func (s *FileStore) Close() error { return nil }

// Declare writes the record atomically so scans never read a torn document
func (s *FileStore) Declare(_ context.Context, rec domain.CrashRecord) error {
	if err := domain.ValidateSessionID(rec.SessionID); err != nil {
		return err
	}
	data, err := s.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("failed to encode crash record: %w", err)
	}
	return s.writeAtomic(rec.SessionID, data)
}

func (s *FileStore) WriteMarker(_ context.Context, reason domain.ShutdownReason, detail []byte) error {
	return s.writeAtomic(string(reason), detail)
}

func (s *FileStore) writeAtomic(name string, data []byte) error {
	dir := s.loc.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create crash dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}

// candidate is a parsed record and the file it came from
type candidate struct {
	path string
	rec  domain.CrashRecord
}

// readAll parses every regular, non-hidden file in the crash directory except
// shutdown markers. A missing directory holds no records.
func (s *FileStore) readAll() ([]candidate, int, error) {
	dir := s.loc.Dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read crash dir: %w", err)
	}

	var out []candidate
	malformed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || domain.IsShutdownMarker(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			// Removed or locked since ReadDir; try again next scan
			continue
		}
		rec, err := DecodeRecord(data)
		if err != nil {
			malformed++
			continue
		}
		out = append(out, candidate{path: path, rec: rec})
	}
	return out, malformed, nil
}

func (s *FileStore) List(_ context.Context) ([]domain.CrashRecord, error) {
	cands, _, err := s.readAll()
	if err != nil {
		return nil, err
	}
	recs := make([]domain.CrashRecord, 0, len(cands))
	for _, c := range cands {
		recs = append(recs, c.rec)
	}
	return recs, nil
}

// ScanAndDrain deletes each record before yielding it. Losing the delete
// race to another drainer means the record is theirs to report.
func (s *FileStore) ScanAndDrain(ctx context.Context, yield func(domain.CrashRecord) error) (ScanStats, error) {
	var stats ScanStats
	cands, malformed, err := s.readAll()
	stats.Malformed = malformed
	if err != nil {
		return stats, err
	}

	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		removed, err := retryDelete(ctx, s.retry, func() (bool, error) {
			err := s.removeFile(c.path)
			switch {
			case err == nil:
				return true, nil
			case errors.Is(err, fs.ErrNotExist):
				return false, nil
			default:
				return false, err
			}
		})
		if err == nil && !removed {
			stats.Skipped++
			continue
		}
		// A record that could not be deleted is still reported; a later
		// scan may report it again.
		if err := yield(c.rec); err != nil {
			if removed {
				if rerr := s.Declare(ctx, c.rec); rerr != nil {
					return stats, fmt.Errorf("failed to restore %s after %v: %w", c.rec.SessionID, err, rerr)
				}
			}
			return stats, err
		}
		stats.Yielded++
	}
	return stats, nil
}

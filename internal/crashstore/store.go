// Package crashstore persists crash records where a later, possibly
// different, process can find and report them.
package crashstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vburojevic/crashwatch/internal/domain"
)

// Backend names
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ErrUnknownBackend is returned by Open for unsupported backends
var ErrUnknownBackend = errors.New("unknown crash store backend")

// Store is an append/scan/delete queue of crash records for one location
type Store interface {
	// Declare writes or overwrites the record for rec.SessionID
	Declare(ctx context.Context, rec domain.CrashRecord) error

	// ScanAndDrain removes every valid record and hands it to yield.
	// Records that fail to parse are skipped and left in place. If yield
	// returns an error the record is restored and the scan stops.
	ScanAndDrain(ctx context.Context, yield func(domain.CrashRecord) error) (ScanStats, error)

	// List returns every valid record without consuming it
	List(ctx context.Context) ([]domain.CrashRecord, error)

	// WriteMarker records which shutdown signal ended a detector
	WriteMarker(ctx context.Context, reason domain.ShutdownReason, detail []byte) error

	// Location returns the location this store serves
	Location() domain.Location

	Close() error
}

// ScanStats summarizes one ScanAndDrain pass
type ScanStats struct {
	Yielded   int // records handed to yield
	Malformed int // entries that could not be parsed
	Skipped   int // records already consumed by a concurrent drainer
}

// RetryPolicy bounds how hard a store tries to delete a consumed record
type RetryPolicy struct {
	MaxTries uint
	Delay    time.Duration
}

// DefaultRetryPolicy returns four attempts spaced 100ms apart
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 4, Delay: 100 * time.Millisecond}
}

// Options configures Open
type Options struct {
	Backend      string
	RecordFormat string
	Retry        RetryPolicy
}

// Opener opens the store for a location
type Opener func(loc domain.Location) (Store, error)

// NewOpener returns an Opener for the configured backend
func NewOpener(opts Options) (Opener, error) {
	if opts.Retry.MaxTries == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	switch opts.Backend {
	case "", BackendFile:
		codec, err := CodecFor(opts.RecordFormat)
		if err != nil {
			return nil, err
		}
		return func(loc domain.Location) (Store, error) {
			return NewFileStore(loc, WithCodec(codec), WithRetry(opts.Retry)), nil
		}, nil
	case BackendSQLite:
		return func(loc domain.Location) (Store, error) {
			return NewSQLiteStore(loc, opts.Retry)
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, opts.Backend)
	}
}

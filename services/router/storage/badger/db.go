// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger wraps a BadgerDB instance used for service-local caches.
//
// The router keeps resolved person and operator identities between restarts
// so repeated "tickets for <name>" queries skip the lookup round trip. The
// data is small, service-owned, and expires via native TTL, which makes an
// embedded store the right shape: no network call, no availability
// dependency.
package badger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// defaultGCInterval controls how often value-log garbage collection runs.
// Badger only reclaims space when GC is invoked by the application.
const defaultGCInterval = 10 * time.Minute

// gcDiscardRatio is the value-log rewrite threshold passed to RunValueLogGC.
// 0.5 is the value recommended by the Badger documentation.
const gcDiscardRatio = 0.5

// Config holds the options needed to open a DB.
type Config struct {
	// Path is the on-disk directory. Ignored when InMemory is true.
	Path string

	// InMemory opens a non-persistent instance. Used by tests.
	InMemory bool

	// GCInterval is the period between value-log GC passes started by
	// StartGC. Zero means the default (10 minutes).
	GCInterval time.Duration

	// Logger receives open/close/GC diagnostics. May be nil.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with production defaults. The caller sets
// Path before opening.
func DefaultConfig() Config {
	return Config{GCInterval: defaultGCInterval}
}

// DB is a thin lifecycle wrapper around a BadgerDB instance.
//
// Description:
//
//	Owns open/close and value-log GC scheduling. Stores built on top of it
//	(the resolution cache) run their reads and writes through WithReadTxn
//	and WithTxn so context cancellation is honored before touching the
//	store.
//
// Thread Safety: Safe for concurrent use. Badger transactions are
// per-goroutine.
type DB struct {
	db     *dgbadger.DB
	gcTick time.Duration
	logger *slog.Logger
}

// OpenDB opens (and creates if needed) a BadgerDB instance.
//
// Inputs:
//
//	cfg - Open options. Path must be set unless InMemory is true.
//
// Outputs:
//
//	*DB - Opened wrapper. Caller owns Close.
//	error - Non-nil when the directory cannot be created or Badger fails
//	to open it.
func OpenDB(cfg Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gcTick := cfg.GCInterval
	if gcTick <= 0 {
		gcTick = defaultGCInterval
	}

	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger: config path is empty")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("badger: create directory %s: %w", cfg.Path, err)
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	// Badger's default logger writes to stderr outside slog; silence it and
	// surface lifecycle events through our own logger instead.
	opts = opts.WithLogger(nil)

	db, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", cfg.Path, err)
	}

	logger.Info("badger store opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory),
	)
	return &DB{db: db, gcTick: gcTick, logger: logger}, nil
}

// OpenInMemory opens a non-persistent instance for tests.
func OpenInMemory() (*DB, error) {
	cfg := DefaultConfig()
	cfg.InMemory = true
	return OpenDB(cfg)
}

// WithTxn runs fn inside a read-write transaction.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// StartGC runs periodic value-log garbage collection until ctx is done.
// Call in a goroutine after opening. No-op for in-memory instances.
func (d *DB) StartGC(ctx context.Context) {
	if d.db.Opts().InMemory {
		return
	}
	ticker := time.NewTicker(d.gcTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to reclaim.
			err := d.db.RunValueLogGC(gcDiscardRatio)
			if err != nil && err != dgbadger.ErrNoRewrite {
				d.logger.Warn("badger value-log gc failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close flushes and closes the underlying store.
func (d *DB) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("badger: close: %w", err)
	}
	return nil
}

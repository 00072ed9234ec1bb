// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package router

// =============================================================================
// ResolutionCache: Identity Persistence
// =============================================================================
//
// Person and operator lookups are the slow half of every two-step plan: the
// backend resolves a name to an ID before the incident query can run. The
// mapping is stable over days, so resolved identities are persisted in
// BadgerDB between restarts.
//
// Storage layout:
//
//	resolve/v1/{sha256(lookup FIQL)}  →  JSON {id, name}
//	                                      TTL: 7 days
//
// The lookup FIQL is the cache key source: it already encodes tool, field,
// and the normalized name, so two queries that resolve the same person hit
// the same entry. TTL expiry is BadgerDB-native; an expired key reads as a
// miss and the next lookup re-resolves and overwrites.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/deskrouter/services/router/storage/badger"
)

// resolutionCacheDefaultTTL is how long a resolved identity stays valid.
// Long enough to cover a work week; short enough that renames and
// deactivations propagate without an invalidation API.
const resolutionCacheDefaultTTL = 7 * 24 * time.Hour

// resolutionKeyPrefix versions the storage layout.
const resolutionKeyPrefix = "resolve/v1/"

var errResolutionMiss = errors.New("resolution cache miss")

// ResolvedIdentity is a cached person or operator resolution.
type ResolvedIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResolutionCache persists name-to-ID resolutions across restarts.
//
// Description:
//
//	Lookup returns (nil, nil) on miss. Store failures are non-fatal for
//	callers: the executor logs and continues, and the identity is simply
//	re-resolved next time. The executor also treats a nil ResolutionCache
//	as always-miss, which is the mode used in tests and in deployments
//	without a cache directory.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ResolutionCache interface {
	Lookup(ctx context.Context, fiqlQuery string) (*ResolvedIdentity, error)
	Store(ctx context.Context, fiqlQuery string, identity ResolvedIdentity) error
}

// BadgerResolutionCache implements ResolutionCache on a BadgerDB instance
// opened at startup. The caller owns the DB lifecycle.
type BadgerResolutionCache struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerResolutionCache creates a cache backed by db. Pass ttl 0 for the
// 7-day default. The db must not be nil and must outlive the cache.
func NewBadgerResolutionCache(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *BadgerResolutionCache {
	if db == nil {
		panic("NewBadgerResolutionCache: db must not be nil")
	}
	if ttl <= 0 {
		ttl = resolutionCacheDefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerResolutionCache{db: db, ttl: ttl, logger: logger}
}

// Lookup retrieves a cached identity for the given lookup FIQL. Returns
// (nil, nil) on miss or TTL expiry.
func (c *BadgerResolutionCache) Lookup(ctx context.Context, fiqlQuery string) (*ResolvedIdentity, error) {
	key := resolutionKey(fiqlQuery)

	var raw []byte
	err := c.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errResolutionMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errResolutionMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolution cache load: %w", err)
	}

	var identity ResolvedIdentity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return nil, fmt.Errorf("resolution cache decode: %w", err)
	}
	if identity.ID == "" {
		return nil, nil
	}

	c.logger.Debug("resolution cache: hit", slog.String("id", identity.ID))
	return &identity, nil
}

// Store persists a resolved identity under the lookup FIQL with the
// configured TTL. Identities without an ID are not stored.
func (c *BadgerResolutionCache) Store(ctx context.Context, fiqlQuery string, identity ResolvedIdentity) error {
	if identity.ID == "" {
		return nil
	}

	raw, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("resolution cache encode: %w", err)
	}

	key := resolutionKey(fiqlQuery)
	err = c.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, raw).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("resolution cache save: %w", err)
	}

	c.logger.Debug("resolution cache: saved",
		slog.String("id", identity.ID),
		slog.Duration("ttl", c.ttl),
	)
	return nil
}

// resolutionKey builds the BadgerDB key for a lookup FIQL string.
func resolutionKey(fiqlQuery string) []byte {
	sum := sha256.Sum256([]byte(fiqlQuery))
	return []byte(resolutionKeyPrefix + hex.EncodeToString(sum[:]))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// SchemaVersion tags every stored envelope. A version mismatch on
	// read is treated identically to "not present": the caller gets
	// its default back. Migration is an explicit non-goal.
	SchemaVersion = 1

	// KeyPrefix namespaces every key this store owns. ClearAll sweeps
	// exactly this prefix and nothing else.
	KeyPrefix = "study/state/"
)

var (
	// ErrClosed is returned internally once Close has run. Callers of
	// Load never see it; they get their default.
	ErrClosed = errors.New("store is closed")

	errVersionMismatch = errors.New("schema version mismatch")
)

var (
	storeSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "study_store_saves_total",
		Help: "Snapshot save attempts by status",
	}, []string{"status"})

	storeLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "study_store_loads_total",
		Help: "Snapshot load attempts by status",
	}, []string{"status"})

	storeClearsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "study_store_clears_total",
		Help: "Clear-all sweeps executed",
	})
)

// envelope wraps every stored value with a schema version and a write
// timestamp (Unix milliseconds UTC).
type envelope struct {
	Version   int             `json:"version"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Store is a versioned, prefixed key/value mirror for channel state.
//
// All operations are best-effort: Save and Remove absorb and log their
// failures, Load degrades to the supplied default. Nothing here ever
// propagates an error into channel operation.
//
// Thread Safety: safe for concurrent use. Each key's write is one
// atomic badger commit.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) the snapshot store at cfg.Path.
func Open(cfg DBConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// OpenInMemory opens a throwaway store for tests.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	return Open(InMemoryDBConfig(), logger)
}

// Close releases the underlying database. Safe to call once.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes data under the namespaced key, wrapped in a versioned
// envelope. Failures are logged and counted, never returned: the
// in-memory state remains the source of truth and a later save will
// catch up.
func (s *Store) Save(ctx context.Context, key string, data json.RawMessage) {
	env := envelope{
		Version:   SchemaVersion,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		storeSavesTotal.WithLabelValues("marshal_error").Inc()
		s.logger.Error("snapshot marshal failed", "key", key, "error", err)
		return
	}

	err = withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return txn.Set([]byte(KeyPrefix+key), raw)
	})
	if err != nil {
		storeSavesTotal.WithLabelValues("write_error").Inc()
		s.logger.Error("snapshot write failed", "key", key, "error", err)
		return
	}
	storeSavesTotal.WithLabelValues("ok").Inc()
}

// Load reads the value stored under key. Any failure — missing key,
// corrupt envelope, schema version mismatch, closed store — returns
// the caller-supplied default. The bool reports whether stored data
// was actually used.
func (s *Store) Load(ctx context.Context, key string, def json.RawMessage) (json.RawMessage, bool) {
	var out json.RawMessage

	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(KeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var env envelope
			if err := json.Unmarshal(val, &env); err != nil {
				return fmt.Errorf("corrupt envelope: %w", err)
			}
			if env.Version != SchemaVersion {
				return fmt.Errorf("%w: stored=%d want=%d", errVersionMismatch, env.Version, SchemaVersion)
			}
			out = append([]byte(nil), env.Data...)
			return nil
		})
	})

	switch {
	case err == nil:
		storeLoadsTotal.WithLabelValues("ok").Inc()
		return out, true
	case errors.Is(err, badger.ErrKeyNotFound):
		storeLoadsTotal.WithLabelValues("not_found").Inc()
		return def, false
	case errors.Is(err, errVersionMismatch):
		storeLoadsTotal.WithLabelValues("version_mismatch").Inc()
		s.logger.Warn("snapshot schema mismatch, using defaults", "key", key, "error", err)
		return def, false
	default:
		storeLoadsTotal.WithLabelValues("error").Inc()
		s.logger.Warn("snapshot load failed, using defaults", "key", key, "error", err)
		return def, false
	}
}

// Remove deletes the value stored under key. Best-effort.
func (s *Store) Remove(ctx context.Context, key string) {
	err := withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return txn.Delete([]byte(KeyPrefix + key))
	})
	if err != nil {
		s.logger.Warn("snapshot delete failed", "key", key, "error", err)
	}
}

// ClearAll removes every key under the store's namespace prefix in one
// pass. Used by the "clear all local data" action.
func (s *Store) ClearAll(ctx context.Context) error {
	var keys [][]byte
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(KeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enumerate snapshot keys: %w", err)
	}

	err = withTxn(ctx, s.db, func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear snapshot keys: %w", err)
	}
	storeClearsTotal.Inc()
	s.logger.Info("cleared persisted snapshots", "keys", len(keys))
	return nil
}

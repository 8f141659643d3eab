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
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestStore_SaveLoadRoundtrip verifies a saved snapshot comes back
// byte-identical.
func TestStore_SaveLoadRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"status":"completed","transcript":[{"id":"1","content":"hi"}]}`)
	s.Save(ctx, "chat", payload)

	got, found := s.Load(ctx, "chat", json.RawMessage(`{}`))
	require.True(t, found)
	assert.JSONEq(t, string(payload), string(got))
}

// TestStore_LoadMissing returns the default and reports not-found.
func TestStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)

	def := json.RawMessage(`{"status":"idle"}`)
	got, found := s.Load(context.Background(), "research", def)
	assert.False(t, found)
	assert.Equal(t, def, got)
}

// TestStore_VersionMismatch treats a foreign schema version exactly
// like a missing key.
func TestStore_VersionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Plant an envelope with a future schema version directly.
	env := envelope{Version: SchemaVersion + 1, Timestamp: 1, Data: json.RawMessage(`{"status":"completed"}`)}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(KeyPrefix+"chat"), raw)
	}))

	def := json.RawMessage(`{"status":"idle"}`)
	got, found := s.Load(ctx, "chat", def)
	assert.False(t, found)
	assert.Equal(t, def, got)
}

// TestStore_CorruptEnvelope degrades to the default instead of failing.
func TestStore_CorruptEnvelope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(KeyPrefix+"solver"), []byte(`{{{not json`))
	}))

	def := json.RawMessage(`{"status":"idle"}`)
	got, found := s.Load(ctx, "solver", def)
	assert.False(t, found)
	assert.Equal(t, def, got)
}

// TestStore_Remove deletes a single key.
func TestStore_Remove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Save(ctx, "guide", json.RawMessage(`{"a":1}`))
	s.Remove(ctx, "guide")

	_, found := s.Load(ctx, "guide", json.RawMessage(`{}`))
	assert.False(t, found)
}

// TestStore_ClearAll sweeps only the namespace prefix.
func TestStore_ClearAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"chat", "solver", "research"} {
		s.Save(ctx, key, json.RawMessage(`{"status":"completed"}`))
	}
	// A foreign key outside the prefix must survive the sweep.
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("other/data"), []byte("keep"))
	}))

	require.NoError(t, s.ClearAll(ctx))

	for _, key := range []string{"chat", "solver", "research"} {
		_, found := s.Load(ctx, key, json.RawMessage(`{}`))
		assert.False(t, found, "key %s should be gone", key)
	}
	require.NoError(t, s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("other/data"))
		return err
	}))
}

// TestStore_SaveOverwrite: the latest save wins.
func TestStore_SaveOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Save(ctx, "chat", json.RawMessage(`{"v":1}`))
	s.Save(ctx, "chat", json.RawMessage(`{"v":2}`))

	got, found := s.Load(ctx, "chat", nil)
	require.True(t, found)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

// TestStore_ContextCancelled: a cancelled context degrades the load to
// the default rather than blocking.
func TestStore_ContextCancelled(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	def := json.RawMessage(`{"status":"idle"}`)
	got, found := s.Load(ctx, "chat", def)
	assert.False(t, found)
	assert.Equal(t, def, got)
}

// TestOpen_RequiresPath mirrors the underlying database contract.
func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(DBConfig{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

// TestStore_PersistsAcrossReopen exercises the on-disk path.
func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(DefaultDBConfig(dir), nil)
	require.NoError(t, err)
	s.Save(ctx, "chat", json.RawMessage(`{"status":"completed"}`))
	require.NoError(t, s.Close())

	s2, err := Open(DefaultDBConfig(dir), nil)
	require.NoError(t, err)
	defer s2.Close()

	got, found := s2.Load(ctx, "chat", nil)
	require.True(t, found)
	assert.JSONEq(t, `{"status":"completed"}`, string(got))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot reconciles in-memory channel state with its
// persisted mirror.
//
// Three rules keep the two from corrupting each other:
//
//  1. Exclusion: telemetry fields are filtered out by JSON field name
//     before anything reaches the store, and are always re-defaulted
//     on restore — even when an older on-disk snapshot still carries
//     them.
//  2. Hydration gate: no write happens until the one-time restore pass
//     has finished, closing the write-before-read race that would
//     otherwise overwrite history with fresh defaults on every reload.
//  3. Debounce: rapid state changes (token-by-token streaming) coalesce
//     into one trailing-edge write of the latest state.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// Exclude returns the JSON object for v with the named top-level
// fields removed. This is the only path state takes toward the store.
func Exclude(v any, fields []string) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("state is not a JSON object: %w", err)
	}
	for _, f := range fields {
		delete(m, f)
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal filtered state: %w", err)
	}
	return out, nil
}

// MergeWithDefaults overlays a persisted partial snapshot onto the
// defaults and unmarshals the result into out.
//
// Merge rules, in order:
//   - a field in excluded is always taken from defaults, even when the
//     partial still carries it (stale pre-exclusion data on disk);
//   - a field absent from the partial falls back to defaults;
//   - every other field in the partial overrides defaults.
func MergeWithDefaults(partial json.RawMessage, defaults any, excluded []string, out any) error {
	defRaw, err := json.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(defRaw, &merged); err != nil {
		return fmt.Errorf("defaults are not a JSON object: %w", err)
	}

	var part map[string]json.RawMessage
	if err := json.Unmarshal(partial, &part); err != nil {
		return fmt.Errorf("corrupt partial snapshot: %w", err)
	}

	skip := make(map[string]struct{}, len(excluded))
	for _, f := range excluded {
		skip[f] = struct{}{}
	}
	for k, v := range part {
		if _, ok := skip[k]; ok {
			continue
		}
		merged[k] = v
	}

	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal merged state: %w", err)
	}
	if err := json.Unmarshal(mergedRaw, out); err != nil {
		return fmt.Errorf("unmarshal merged state: %w", err)
	}
	return nil
}

// Gate is the one-shot hydration latch. It starts closed; the
// orchestrator opens it exactly once, at the end of the restore pass.
// Writers drop everything while it is closed.
//
// Thread Safety: safe for concurrent use.
type Gate struct {
	open atomic.Bool
}

// NewGate returns a closed gate.
func NewGate() *Gate { return &Gate{} }

// Open latches the gate open. Idempotent.
func (g *Gate) Open() { g.open.Store(true) }

// IsOpen reports whether the restore pass has completed.
func (g *Gate) IsOpen() bool { return g.open.Load() }

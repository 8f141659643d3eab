// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianStudy/services/study/store"
)

// DefaultDebounce is the trailing-edge coalescing window for snapshot
// writes. Tunable per channel via WriterConfig.
const DefaultDebounce = 500 * time.Millisecond

var (
	writerFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "study_snapshot_flushes_total",
		Help: "Debounced snapshot flushes by channel",
	}, []string{"channel"})

	writerSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "study_snapshot_suppressed_total",
		Help: "Writes dropped because the hydration gate was closed",
	}, []string{"channel"})
)

// WriterConfig configures one channel's debounced writer.
type WriterConfig struct {
	// Key is the store key this writer owns (the channel name).
	Key string

	// Debounce is the trailing-edge window. Zero means DefaultDebounce.
	Debounce time.Duration

	// Gate is the shared hydration latch. Required.
	Gate *Gate

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Writer coalesces state changes into debounced store writes.
//
// One Writer exists per channel for the life of the orchestrator; it
// is constructed once, not per state change. Enqueue replaces any
// pending payload and (re)arms the trailing-edge timer, so a burst of
// streaming updates produces a single write of the latest state.
//
// Thread Safety: safe for concurrent use.
type Writer struct {
	store    *store.Store
	key      string
	debounce time.Duration
	gate     *Gate
	logger   *slog.Logger

	mu      sync.Mutex
	pending []byte
	timer   *time.Timer
	closed  bool
}

// NewWriter builds a writer bound to one store key.
func NewWriter(st *store.Store, cfg WriterConfig) *Writer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Writer{
		store:    st,
		key:      cfg.Key,
		debounce: debounce,
		gate:     cfg.Gate,
		logger:   logger,
	}
}

// Enqueue schedules a write of the already-filtered snapshot payload.
// While the hydration gate is closed the payload is dropped outright;
// a freshly-initialized default must never overwrite a snapshot that
// has not been read yet.
func (w *Writer) Enqueue(payload []byte) {
	if !w.gate.IsOpen() {
		writerSuppressedTotal.WithLabelValues(w.key).Inc()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = payload
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.flushPending)
	} else {
		w.timer.Reset(w.debounce)
	}
}

// flushPending runs on the debounce timer goroutine.
func (w *Writer) flushPending() {
	w.mu.Lock()
	payload := w.pending
	w.pending = nil
	w.timer = nil
	closed := w.closed
	w.mu.Unlock()

	if closed || payload == nil {
		return
	}
	w.store.Save(context.Background(), w.key, payload)
	writerFlushesTotal.WithLabelValues(w.key).Inc()
}

// Flush writes any pending payload immediately. Used on shutdown so a
// final state change inside the debounce window is not lost.
func (w *Writer) Flush(ctx context.Context) {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	payload := w.pending
	w.pending = nil
	w.mu.Unlock()

	if payload != nil {
		w.store.Save(ctx, w.key, payload)
		writerFlushesTotal.WithLabelValues(w.key).Inc()
	}
}

// Discard drops any pending payload and disarms the timer without
// writing. Used when the persisted snapshot is being removed: a
// trailing debounced flush would otherwise resurrect the key one
// window later. The writer stays usable afterwards.
func (w *Writer) Discard() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = nil
}

// Close stops the timer and discards anything still pending. Call
// Flush first when the pending state should survive.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.pending = nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator is the streaming session orchestrator.
//
// One Orchestrator owns all five pipeline channels. Per channel it
// holds the transport manager, the flavor's reducer, the current state
// snapshot and a debounced snapshot writer. Screens and commands get
// read access to state plus a narrow command surface (Start, Stop,
// Reset, LoadHistory) and never mutate state directly.
//
// All mutation for one channel is serialized behind that channel's
// mutex, which preserves the transport's frame-arrival order end to
// end. Channels share nothing mutable, so they run fully
// independently.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianStudy/services/study/channel"
	"github.com/AleutianAI/AleutianStudy/services/study/datatypes"
	"github.com/AleutianAI/AleutianStudy/services/study/history"
	"github.com/AleutianAI/AleutianStudy/services/study/protocol"
	"github.com/AleutianAI/AleutianStudy/services/study/snapshot"
	"github.com/AleutianAI/AleutianStudy/services/study/store"
	"github.com/AleutianAI/AleutianStudy/services/study/transport"
)

var tracer = otel.Tracer("study.orchestrator")

var (
	// ErrUnknownChannel is returned for a channel name outside the
	// fixed set.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrNotHydrated is returned when a command arrives before
	// RestoreAll has run.
	ErrNotHydrated = errors.New("orchestrator not hydrated yet")
)

// loggerWithTrace returns a logger with trace context attached.
func loggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// Subscriber receives every state transition for every channel. Called
// outside the channel mutex with an immutable snapshot.
type Subscriber func(ch datatypes.Channel, s datatypes.State)

// Config configures the Orchestrator.
type Config struct {
	// Endpoints maps each channel to its websocket URL. Channels
	// without an endpoint can still restore and serve history but
	// refuse Start.
	Endpoints map[datatypes.Channel]string

	// Store is the snapshot store. Required.
	Store *store.Store

	// History is the out-of-band session/history client. Optional;
	// LoadHistory fails cleanly without it.
	History *history.Client

	// Debounce overrides the default snapshot debounce for every
	// channel; DebouncePerChannel wins over both.
	Debounce           time.Duration
	DebouncePerChannel map[datatypes.Channel]time.Duration

	// Dialer is shared by all transport managers. Optional.
	Dialer *websocket.Dialer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store must not be nil")
	}
	for ch := range c.Endpoints {
		if !ch.Valid() {
			return fmt.Errorf("%w: %q in endpoints", ErrUnknownChannel, ch)
		}
	}
	return nil
}

// line is one channel's live wiring. All fields past the immutable
// ones are guarded by mu.
type line struct {
	flavor  *channel.Flavor
	manager *transport.Manager // nil when no endpoint configured
	writer  *snapshot.Writer

	mu    sync.Mutex
	state datatypes.State
	epoch string // current transport epoch, "" when none
}

// Orchestrator owns the channel map and the hydration gate.
type Orchestrator struct {
	cfg     Config
	logger  *slog.Logger
	store   *store.Store
	history *history.Client
	gate    *snapshot.Gate
	lines   map[datatypes.Channel]*line

	subMu sync.RWMutex
	subs  []Subscriber
}

// New constructs the orchestrator with default state everywhere. Call
// RestoreAll before issuing commands; until then every channel shows
// its hard-coded default and no snapshot write can occur.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		store:   cfg.Store,
		history: cfg.History,
		gate:    snapshot.NewGate(),
		lines:   make(map[datatypes.Channel]*line),
	}

	for name, flavor := range channel.Registry() {
		ln := &line{
			flavor: flavor,
			state:  flavor.Default(),
		}
		ln.writer = snapshot.NewWriter(cfg.Store, snapshot.WriterConfig{
			Key:      name.String(),
			Debounce: o.debounceFor(name),
			Gate:     o.gate,
			Logger:   logger,
		})

		if url := cfg.Endpoints[name]; url != "" {
			ch := name // bound per iteration for the callbacks
			mgr, err := transport.NewManager(transport.Config{
				Channel:    ch,
				URL:        url,
				Vocabulary: flavor.Vocabulary,
				Dialer:     cfg.Dialer,
				Logger:     logger,
				Callbacks: transport.Callbacks{
					OnOpen:  func(epoch string) { o.adoptEpoch(ch, epoch) },
					OnEvent: func(epoch string, ev protocol.Event) { o.handleEvent(ch, epoch, ev) },
					OnError: func(epoch string, err error) { o.handleTransportError(ch, epoch, err) },
				},
			})
			if err != nil {
				return nil, fmt.Errorf("channel %s: %w", name, err)
			}
			ln.manager = mgr
		}
		o.lines[name] = ln
	}
	return o, nil
}

func (o *Orchestrator) debounceFor(ch datatypes.Channel) time.Duration {
	if d, ok := o.cfg.DebouncePerChannel[ch]; ok && d > 0 {
		return d
	}
	if o.cfg.Debounce > 0 {
		return o.cfg.Debounce
	}
	return snapshot.DefaultDebounce
}

// -----------------------------------------------------------------------------
// Hydration
// -----------------------------------------------------------------------------

// RestoreAll runs the one-time restore pass: every channel's last
// snapshot is loaded, merged onto defaults and sanitized before any
// transport can open. Live statuses are rewritten to idle because no
// server-side run survives a reload. The hydration gate opens only
// after the whole pass finishes, so nothing can be written over a
// not-yet-read snapshot.
func (o *Orchestrator) RestoreAll(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "orchestrator.restore_all")
	defer span.End()

	g, ctx := errgroup.WithContext(ctx)
	for name, ln := range o.lines {
		name, ln := name, ln
		g.Go(func() error {
			restored, err := o.restoreOne(ctx, name, ln)
			if err != nil {
				// Persistence is best-effort: restore failures degrade
				// to the default state, they never block startup.
				loggerWithTrace(ctx, o.logger).Warn("restore failed, using defaults",
					"channel", name, "error", err)
				restored = ln.flavor.Default()
			}
			ln.mu.Lock()
			ln.state = restored
			ln.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	o.gate.Open()
	loggerWithTrace(ctx, o.logger).Info("hydration complete",
		"channels", len(o.lines))
	return nil
}

func (o *Orchestrator) restoreOne(ctx context.Context, name datatypes.Channel, ln *line) (datatypes.State, error) {
	def := ln.flavor.Default()
	defRaw, err := json.Marshal(def)
	if err != nil {
		return def, fmt.Errorf("marshal default state: %w", err)
	}

	partial, found := o.store.Load(ctx, name.String(), defRaw)
	if !found {
		return def, nil
	}

	var merged datatypes.State
	if err := snapshot.MergeWithDefaults(partial, def, ln.flavor.Excluded, &merged); err != nil {
		return def, fmt.Errorf("merge snapshot: %w", err)
	}
	return channel.SanitizeRestored(merged), nil
}

// Hydrated reports whether RestoreAll has completed.
func (o *Orchestrator) Hydrated() bool { return o.gate.IsOpen() }

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

// Start begins a new run on ch, superseding any run in flight. The
// previous connection is closed and its late frames are discarded by
// epoch. The initiating frame carries the channel's current session id
// so the server can continue the conversation, or null to start fresh.
func (o *Orchestrator) Start(ctx context.Context, ch datatypes.Channel, req transport.StartRequest) error {
	ctx, span := tracer.Start(ctx, "orchestrator.start",
		trace.WithAttributes(attribute.String("channel", ch.String())))
	defer span.End()

	ln, err := o.lineFor(ch)
	if err != nil {
		return err
	}
	if !o.gate.IsOpen() {
		return ErrNotHydrated
	}
	if ln.manager == nil {
		return fmt.Errorf("channel %s: %w", ch, transport.ErrNotConfigured)
	}
	if err := req.Validate(ch); err != nil {
		return err
	}

	// Phase 1: enter connecting and echo the config before dialing so
	// a reload during the dial still shows the user's parameters.
	ln.mu.Lock()
	ln.state.Status = datatypes.StatusConnecting
	ln.state.Config = transport.EchoConfig(req)
	ln.state.UpdatedAt = time.Now().UnixMilli()
	sessionID := ln.state.SessionID
	st := ln.state
	ln.mu.Unlock()
	o.persistAndNotify(ch, ln, st)

	// Phase 2: dial. The manager serializes Starts internally; the
	// last one to run owns the only live connection. Epoch adoption
	// happens in the OnOpen callback, which the manager invokes before
	// the connection's read pump exists, so even a server that pushes
	// frames immediately after the upgrade cannot have its first frame
	// dropped as stale.
	if _, err := ln.manager.Start(ctx, transport.InitFrame(ch, req, sessionID)); err != nil {
		loggerWithTrace(ctx, o.logger).Error("transport open failed",
			"channel", ch, "error", err)
		ln.mu.Lock()
		ln.epoch = ""
		ln.state = ln.flavor.Reduce(ln.state, protocol.ErrorEvent{
			Message: fmt.Sprintf("connection failed: %v", err),
		})
		st = ln.state
		ln.mu.Unlock()
		o.persistAndNotify(ch, ln, st)
		return err
	}
	return nil
}

// adoptEpoch records a freshly opened connection's epoch. Runs from
// the transport's Start path before the connection's read pump is
// spawned, so adoption strictly precedes first frame delivery. The
// manager serializes Starts, so on supersession the newest epoch is
// always the last one adopted.
func (o *Orchestrator) adoptEpoch(ch datatypes.Channel, epoch string) {
	ln := o.lines[ch]
	ln.mu.Lock()
	ln.epoch = epoch
	ln.mu.Unlock()
}

// Stop cancels the current run: the transport is closed without server
// acknowledgement, accumulated transcript stays intact, status leaves
// the live range. Frames already queued on the dead connection carry a
// stale epoch and are never applied.
func (o *Orchestrator) Stop(ctx context.Context, ch datatypes.Channel) error {
	ln, err := o.lineFor(ch)
	if err != nil {
		return err
	}
	// Forget the epoch before closing the transport: a frame already
	// decoded when the close lands then fails the epoch check instead
	// of sneaking in one last transition.
	ln.mu.Lock()
	ln.epoch = ""
	ln.state = channel.Interrupt(ln.state)
	st := ln.state
	ln.mu.Unlock()
	if ln.manager != nil {
		ln.manager.Stop()
	}
	o.persistAndNotify(ch, ln, st)
	return nil
}

// Reset is Stop plus a wipe: session id, transcript and accumulated
// results are cleared back to the hard-coded default, ready for an
// unrelated new run.
func (o *Orchestrator) Reset(ctx context.Context, ch datatypes.Channel) error {
	ln, err := o.lineFor(ch)
	if err != nil {
		return err
	}
	ln.mu.Lock()
	ln.epoch = ""
	ln.state = ln.flavor.Default()
	st := ln.state
	ln.mu.Unlock()
	if ln.manager != nil {
		ln.manager.Stop()
	}
	o.persistAndNotify(ch, ln, st)
	return nil
}

// LoadHistory replaces the channel's transcript and session id with a
// previously completed session. The result is never a live run: status
// is idle regardless of how the historical session ended, and no
// transport is opened.
func (o *Orchestrator) LoadHistory(ctx context.Context, ch datatypes.Channel, sessionID string) error {
	ctx, span := tracer.Start(ctx, "orchestrator.load_history",
		trace.WithAttributes(attribute.String("channel", ch.String())))
	defer span.End()

	ln, err := o.lineFor(ch)
	if err != nil {
		return err
	}
	if o.history == nil {
		return errors.New("history client not configured")
	}

	record, err := o.history.GetSession(ctx, ch, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	ln.mu.Lock()
	ln.epoch = ""
	st := ln.flavor.Default()
	st.SessionID = record.SessionID
	st.Transcript = record.Messages
	st.Config.KBName = record.KBName
	st.UpdatedAt = time.Now().UnixMilli()
	ln.state = st
	ln.mu.Unlock()
	if ln.manager != nil {
		ln.manager.Stop()
	}
	o.persistAndNotify(ch, ln, st)
	return nil
}

// ClearAll stops every run, resets every channel to its default and
// removes every persisted snapshot under the store prefix. Pending
// debounced writes are discarded, not flushed: a trailing flush after
// the sweep would resurrect the keys this call exists to remove.
func (o *Orchestrator) ClearAll(ctx context.Context) error {
	for ch, ln := range o.lines {
		ln.mu.Lock()
		ln.epoch = ""
		ln.state = ln.flavor.Default()
		st := ln.state
		ln.mu.Unlock()
		if ln.manager != nil {
			ln.manager.Stop()
		}
		ln.writer.Discard()
		o.notify(ch, st)
	}
	return o.store.ClearAll(ctx)
}

// -----------------------------------------------------------------------------
// Read access
// -----------------------------------------------------------------------------

// StateOf returns the channel's current state snapshot. The value is
// safe to retain: reducers never mutate slices shared with previous
// snapshots.
func (o *Orchestrator) StateOf(ch datatypes.Channel) (datatypes.State, error) {
	ln, err := o.lineFor(ch)
	if err != nil {
		return datatypes.State{}, err
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.state, nil
}

// Subscribe registers fn for every subsequent state transition on any
// channel.
func (o *Orchestrator) Subscribe(fn Subscriber) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	o.subs = append(o.subs, fn)
}

// History exposes the out-of-band client for listings the core does
// not interpret (recent sessions, knowledge bases).
func (o *Orchestrator) History() *history.Client { return o.history }

// -----------------------------------------------------------------------------
// Event plumbing
// -----------------------------------------------------------------------------

// handleEvent applies one decoded frame. Frames from a superseded
// connection are identified by epoch and dropped before they can touch
// state.
func (o *Orchestrator) handleEvent(ch datatypes.Channel, epoch string, ev protocol.Event) {
	ln := o.lines[ch]

	ln.mu.Lock()
	if ln.epoch != epoch {
		ln.mu.Unlock()
		o.logger.Debug("dropping frame from superseded transport",
			"channel", ch, "epoch", epoch, "type", string(ev.EventType()))
		return
	}
	ln.state = ln.flavor.Reduce(ln.state, ev)
	switch ev.EventType() {
	case protocol.TypeResult, protocol.TypeComplete, protocol.TypeError:
		// The manager already closed the connection; forget the epoch
		// so anything still in flight is stale.
		ln.epoch = ""
	}
	st := ln.state
	ln.mu.Unlock()

	o.persistAndNotify(ch, ln, st)
}

// handleTransportError surfaces a dropped/refused connection as state:
// a visible error entry plus an error status. Recovery is always
// user-initiated (Start again).
func (o *Orchestrator) handleTransportError(ch datatypes.Channel, epoch string, err error) {
	ln := o.lines[ch]

	ln.mu.Lock()
	if ln.epoch != epoch {
		ln.mu.Unlock()
		return
	}
	ln.epoch = ""
	ln.state = ln.flavor.Reduce(ln.state, protocol.ErrorEvent{
		Message: fmt.Sprintf("connection lost: %v", err),
	})
	st := ln.state
	ln.mu.Unlock()

	o.persistAndNotify(ch, ln, st)
}

// persistAndNotify schedules a debounced snapshot write and fans the
// new state out to subscribers. Runs outside the channel mutex.
func (o *Orchestrator) persistAndNotify(ch datatypes.Channel, ln *line, st datatypes.State) {
	payload, err := snapshot.Exclude(st, ln.flavor.Excluded)
	if err != nil {
		o.logger.Error("snapshot filtering failed", "channel", ch, "error", err)
	} else {
		ln.writer.Enqueue(payload)
	}
	o.notify(ch, st)
}

// notify fans one state transition out to subscribers without touching
// the store.
func (o *Orchestrator) notify(ch datatypes.Channel, st datatypes.State) {
	o.subMu.RLock()
	subs := make([]Subscriber, len(o.subs))
	copy(subs, o.subs)
	o.subMu.RUnlock()
	for _, fn := range subs {
		fn(ch, st)
	}
}

func (o *Orchestrator) lineFor(ch datatypes.Channel) (*line, error) {
	ln, ok := o.lines[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
	return ln, nil
}

// Close stops every transport and flushes pending snapshot writes. The
// store itself belongs to the caller.
func (o *Orchestrator) Close(ctx context.Context) error {
	for _, ln := range o.lines {
		ln.mu.Lock()
		ln.epoch = ""
		ln.mu.Unlock()
		if ln.manager != nil {
			ln.manager.Stop()
		}
		ln.writer.Flush(ctx)
		ln.writer.Close()
	}
	return nil
}

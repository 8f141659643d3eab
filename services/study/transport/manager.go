// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport owns the duplex websocket connection per channel.
//
// Each channel has exactly one Manager for the life of the process and
// at most one open connection at any instant. Every connection carries
// an epoch id; events are delivered tagged with the epoch they arrived
// on, so frames from a superseded connection can be discarded by the
// receiver even when they race a newer connection's frames.
//
// Closing the connection is the only cancellation primitive. There is
// no cancel message on the wire; the server notices the closed socket
// and abandons the run. From the client's point of view cancellation
// is immediate and local.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianStudy/services/study/datatypes"
	"github.com/AleutianAI/AleutianStudy/services/study/protocol"
)

// DefaultDialTimeout bounds the websocket handshake.
const DefaultDialTimeout = 15 * time.Second

var (
	// ErrNotConfigured is returned when the manager has no endpoint.
	ErrNotConfigured = errors.New("transport manager has no endpoint")
)

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "study_transport_frames_total",
		Help: "Inbound frames by channel and outcome",
	}, []string{"channel", "outcome"})

	dialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "study_transport_dials_total",
		Help: "Websocket dials by channel and status",
	}, []string{"channel", "status"})
)

// Callbacks are invoked one at a time. OnEvent and OnError run on the
// read pump goroutine in strict frame arrival order; both carry the
// epoch the connection was opened with, and the receiver must ignore
// epochs it no longer considers current.
type Callbacks struct {
	// OnOpen announces a successfully opened connection. It runs on
	// the Start path before the read pump exists, so the receiver can
	// adopt the epoch with a happens-before guarantee against the
	// connection's first frame. A server that pushes frames immediately
	// after the upgrade therefore can never have them mistaken for
	// stale ones.
	OnOpen func(epoch string)

	// OnEvent delivers one decoded event.
	OnEvent func(epoch string, ev protocol.Event)

	// OnError reports a transport failure after a successful open
	// (read error, unexpected close). Never called for a connection
	// the manager closed itself.
	OnError func(epoch string, err error)
}

// Config configures one channel's Manager.
type Config struct {
	Channel    datatypes.Channel
	URL        string
	Vocabulary protocol.Vocabulary
	Callbacks  Callbacks

	// Dialer defaults to a gorilla dialer with DefaultDialTimeout.
	Dialer *websocket.Dialer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Manager owns the websocket lifecycle for one channel.
//
// Thread Safety: safe for concurrent use. Connection state is guarded
// by mu; the read pump never touches it without the lock.
type Manager struct {
	channel datatypes.Channel
	url     string
	vocab   protocol.Vocabulary
	cb      Callbacks
	dialer  *websocket.Dialer
	logger  *slog.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	epoch string
}

// NewManager builds a Manager. It does not dial.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	if !cfg.Channel.Valid() {
		return nil, fmt.Errorf("unknown channel %q", cfg.Channel)
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: DefaultDialTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channel: cfg.Channel,
		url:     cfg.URL,
		vocab:   cfg.Vocabulary,
		cb:      cfg.Callbacks,
		dialer:  dialer,
		logger:  logger.With("channel", cfg.Channel.String()),
	}, nil
}

// Start opens a new connection and transmits the initiating frame.
//
// Any existing connection is closed first (supersession) — its late
// frames will carry a stale epoch and be dropped by the receiver. On
// success exactly one connection is open and its epoch is returned.
// On failure no connection remains and the error is returned for the
// caller to surface as an error status.
func (m *Manager) Start(ctx context.Context, initFrame any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()

	conn, resp, err := m.dialer.DialContext(ctx, m.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		dialsTotal.WithLabelValues(m.channel.String(), "error").Inc()
		return "", fmt.Errorf("dial %s: %w", m.url, err)
	}

	if err := conn.WriteJSON(initFrame); err != nil {
		_ = conn.Close()
		dialsTotal.WithLabelValues(m.channel.String(), "error").Inc()
		return "", fmt.Errorf("send initiating frame: %w", err)
	}

	epoch := uuid.NewString()
	m.conn = conn
	m.epoch = epoch
	dialsTotal.WithLabelValues(m.channel.String(), "ok").Inc()
	m.logger.Debug("transport opened", "epoch", epoch)

	// Announce the epoch before the read pump can deliver anything.
	if m.cb.OnOpen != nil {
		m.cb.OnOpen(epoch)
	}

	go m.readPump(conn, epoch)
	return epoch, nil
}

// Stop closes the current connection without waiting for server
// acknowledgement. Best-effort cancellation; no-op when nothing is
// open.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// Epoch returns the current connection's epoch, or "" when none is
// open.
func (m *Manager) Epoch() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// closeLocked tears down the current connection. Caller holds mu.
func (m *Manager) closeLocked() {
	if m.conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = m.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = m.conn.Close()
	m.logger.Debug("transport closed", "epoch", m.epoch)
	m.conn = nil
	m.epoch = ""
}

// closeIfCurrent tears down the connection only when epoch is still
// the live one. Used by the read pump after terminal events so a
// superseding connection is never collateral damage.
func (m *Manager) closeIfCurrent(epoch string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch == epoch {
		m.closeLocked()
	}
}

func (m *Manager) isCurrent(epoch string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch == epoch
}

// readPump drains one connection until a terminal event, a read
// failure, or supersession. Frames are decoded and delivered strictly
// in arrival order; malformed or out-of-vocabulary frames are logged
// and dropped without disturbing the channel.
func (m *Manager) readPump(conn *websocket.Conn, epoch string) {
	ch := m.channel.String()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if m.isCurrent(epoch) {
				m.logger.Warn("transport read failed", "epoch", epoch, "error", err)
				m.closeIfCurrent(epoch)
				if m.cb.OnError != nil {
					m.cb.OnError(epoch, err)
				}
			}
			return
		}

		ev, err := protocol.DecodeFor(m.vocab, raw)
		if err != nil {
			framesTotal.WithLabelValues(ch, "dropped").Inc()
			m.logger.Warn("dropping undecodable frame", "epoch", epoch, "error", err)
			continue
		}
		framesTotal.WithLabelValues(ch, "ok").Inc()

		if m.cb.OnEvent != nil {
			m.cb.OnEvent(epoch, ev)
		}

		// The server signaled the end of the run: free the connection
		// without waiting for its close handshake. An error event ends
		// the run the same way, just with a failed status upstream.
		switch ev.EventType() {
		case protocol.TypeResult, protocol.TypeComplete, protocol.TypeError:
			m.closeIfCurrent(epoch)
			return
		}
	}
}

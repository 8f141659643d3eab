// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStudy/services/study/datatypes"
	"github.com/AleutianAI/AleutianStudy/services/study/history"
	"github.com/AleutianAI/AleutianStudy/services/study/store"
	"github.com/AleutianAI/AleutianStudy/services/study/transport"
)

var upgrader = websocket.Upgrader{}

// wsServer handles each inbound connection by reading the initiating
// frame and then running script.
func wsServer(t *testing.T, script func(conn *websocket.Conn, init map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var init map[string]any
		if err := conn.ReadJSON(&init); err != nil {
			return
		}
		script(conn, init)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func sendFrames(conn *websocket.Conn, frames ...string) {
	for _, f := range frames {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
	}
}

// newTestOrchestrator wires an orchestrator over an in-memory store
// with a short debounce. Hydration runs unless skipRestore is set.
func newTestOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg.Store = st
	if cfg.Debounce == 0 {
		cfg.Debounce = 20 * time.Millisecond
	}
	o, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close(context.Background()) })
	return o, st
}

func hydrate(t *testing.T, o *Orchestrator) {
	t.Helper()
	require.NoError(t, o.RestoreAll(context.Background()))
}

// waitForStatus blocks until the channel reaches want.
func waitForStatus(t *testing.T, o *Orchestrator, ch datatypes.Channel, want datatypes.Status) datatypes.State {
	t.Helper()
	var st datatypes.State
	require.Eventually(t, func() bool {
		var err error
		st, err = o.StateOf(ch)
		return err == nil && st.Status == want
	}, 3*time.Second, 10*time.Millisecond, "channel %s never reached %s", ch, want)
	return st
}

// -----------------------------------------------------------------------------
// Hydration and commands
// -----------------------------------------------------------------------------

// TestStart_BeforeHydration: commands are refused until RestoreAll has
// run, so a write can never race the one-time restore.
func TestStart_BeforeHydration(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{
		Endpoints: map[datatypes.Channel]string{datatypes.ChannelChat: "ws://127.0.0.1:1"},
	})

	err := o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "hi"})
	assert.ErrorIs(t, err, ErrNotHydrated)
	assert.False(t, o.Hydrated())
}

// TestStart_UnknownChannel rejects names outside the fixed set.
func TestStart_UnknownChannel(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{})
	hydrate(t, o)

	err := o.Start(context.Background(), datatypes.Channel("bogus"), transport.StartRequest{Message: "hi"})
	assert.ErrorIs(t, err, ErrUnknownChannel)

	_, err = o.StateOf(datatypes.Channel("bogus"))
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

// TestStart_Unconfigured: a channel without an endpoint still restores
// and reads, but refuses to open a transport.
func TestStart_Unconfigured(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{})
	hydrate(t, o)

	err := o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "hi"})
	assert.ErrorIs(t, err, transport.ErrNotConfigured)

	st, err := o.StateOf(datatypes.ChannelChat)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusIdle, st.Status)
}

// TestNew_InvalidConfig rejects a nil store and unknown endpoint keys.
func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	st, err := store.OpenInMemory(nil)
	require.NoError(t, err)
	defer st.Close()

	_, err = New(Config{
		Store:     st,
		Endpoints: map[datatypes.Channel]string{datatypes.Channel("bogus"): "ws://x"},
	})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

// -----------------------------------------------------------------------------
// Full runs
// -----------------------------------------------------------------------------

// TestChatRun drives a complete chat exchange end to end: connect,
// stream, finalize, persist. The persisted snapshot must carry the
// transcript but never the telemetry.
func TestChatRun(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, init map[string]any) {
		assert.Equal(t, "what is entropy", init["message"])
		val, present := init["session_id"]
		assert.True(t, present)
		assert.Nil(t, val)

		sendFrames(conn,
			`{"type":"session","session_id":"s-1"}`,
			`{"type":"stream","content":"Entropy "}`,
			`{"type":"stream","content":"Entropy is disorder."}`,
			`{"type":"token_stats","tokens":321,"calls":2}`,
			`{"type":"result","content":"Entropy is disorder."}`,
		)
	})

	o, st := newTestOrchestrator(t, Config{
		Endpoints: map[datatypes.Channel]string{datatypes.ChannelChat: wsURL(srv)},
	})
	hydrate(t, o)

	var mu sync.Mutex
	var transitions []datatypes.Status
	o.Subscribe(func(ch datatypes.Channel, s datatypes.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, s.Status)
	})

	err := o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "what is entropy", KBName: "physics"})
	require.NoError(t, err)

	final := waitForStatus(t, o, datatypes.ChannelChat, datatypes.StatusCompleted)
	assert.Equal(t, "s-1", final.SessionID)
	assert.Equal(t, "physics", final.Config.KBName)
	require.Len(t, final.Transcript, 1)
	assert.Equal(t, "Entropy is disorder.", final.Transcript[0].Content)
	assert.False(t, final.Transcript[0].Streaming)

	mu.Lock()
	assert.Equal(t, datatypes.StatusConnecting, transitions[0], "config echo precedes the dial")
	mu.Unlock()

	// The debounced write lands with telemetry filtered out.
	require.Eventually(t, func() bool {
		_, found := st.Load(context.Background(), "chat", nil)
		return found
	}, 2*time.Second, 10*time.Millisecond)

	raw, _ := st.Load(context.Background(), "chat", nil)
	var persisted map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &persisted))
	assert.NotContains(t, persisted, "token_stats")
	assert.Contains(t, persisted, "transcript")
}

// TestStart_ImmediateFrames: a server that pushes its frames the
// moment the upgrade completes, before even reading the initiating
// frame, must never lose them. Epoch adoption happens before the
// connection's read pump starts, so the first frame cannot be
// discarded as stale and a consumed terminal frame cannot strand the
// channel in connecting.
func TestStart_ImmediateFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sendFrames(conn,
			`{"type":"session","session_id":"s-fast"}`,
			`{"type":"result","content":"already done"}`,
		)
		var init map[string]any
		_ = conn.ReadJSON(&init)
	}))
	t.Cleanup(srv.Close)

	o, _ := newTestOrchestrator(t, Config{
		Endpoints: map[datatypes.Channel]string{datatypes.ChannelChat: wsURL(srv)},
	})
	hydrate(t, o)

	// Repeat to give the race a chance; every run must land completed
	// with the full transcript.
	for i := 0; i < 25; i++ {
		require.NoError(t, o.Reset(context.Background(), datatypes.ChannelChat))
		require.NoError(t, o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "hi"}))

		final := waitForStatus(t, o, datatypes.ChannelChat, datatypes.StatusCompleted)
		assert.Equal(t, "s-fast", final.SessionID, "run %d lost the session frame", i)
		require.Len(t, final.Transcript, 1, "run %d lost the result frame", i)
		assert.Equal(t, "already done", final.Transcript[0].Content)
	}
}

// TestStart_ContinuesSession: a channel holding a session id sends it
// in the next initiating frame.
func TestStart_ContinuesSession(t *testing.T) {
	var mu sync.Mutex
	var sessionIDs []any

	srv := wsServer(t, func(conn *websocket.Conn, init map[string]any) {
		mu.Lock()
		sessionIDs = append(sessionIDs, init["session_id"])
		mu.Unlock()
		sendFrames(conn,
			`{"type":"session","session_id":"s-9"}`,
			`{"type":"result","content":"ok"}`,
		)
	})

	o, _ := newTestOrchestrator(t, Config{
		Endpoints: map[datatypes.Channel]string{datatypes.ChannelChat: wsURL(srv)},
	})
	hydrate(t, o)

	require.NoError(t, o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "first"}))
	waitForStatus(t, o, datatypes.ChannelChat, datatypes.StatusCompleted)

	require.NoError(t, o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "second"}))
	waitForStatus(t, o, datatypes.ChannelChat, datatypes.StatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sessionIDs, 2)
	assert.Nil(t, sessionIDs[0], "fresh channel starts with a null session")
	assert.Equal(t, "s-9", sessionIDs[1], "second turn continues the adopted session")
}

// TestStart_DialFailure: a refused dial becomes a visible error state,
// and Start returns the error.
func TestStart_DialFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{
		Endpoints: map[datatypes.Channel]string{datatypes.ChannelChat: "ws://127.0.0.1:1"},
		Dialer:    &websocket.Dialer{HandshakeTimeout: 200 * time.Millisecond},
	})
	hydrate(t, o)

	err := o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "hi"})
	require.Error(t, err)

	st, err := o.StateOf(datatypes.ChannelChat)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusError, st.Status)
	require.NotEmpty(t, st.Transcript)
	last := st.Transcript[len(st.Transcript)-1]
	assert.Equal(t, datatypes.KindError, last.Kind)
	assert.Contains(t, last.Content, "connection failed")
}

// TestServerDrop: an abrupt server close mid-stream keeps the partial
// transcript and lands in error status.
func TestServerDrop(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, init map[string]any) {
		sendFrames(conn, `{"type":"stream","content":"partial answer"}`)
		// returning closes the socket without a terminal frame
	})

	o, _ := newTestOrchestrator(t, Config{
		Endpoints: map[datatypes.Channel]string{datatypes.ChannelChat: wsURL(srv)},
	})
	hydrate(t, o)

	require.NoError(t, o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "hi"}))
	st := waitForStatus(t, o, datatypes.ChannelChat, datatypes.StatusError)

	require.Len(t, st.Transcript, 2, "partial entry plus error entry")
	assert.Equal(t, "partial answer", st.Transcript[0].Content)
	assert.False(t, st.Transcript[0].Streaming, "partial is finalized on error")
	assert.Contains(t, st.Transcript[1].Content, "connection lost")
}

// TestSupersession: starting again mid-run closes the old connection,
// and its late frames never reach state.
func TestSupersession(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var conns int

	srv := wsServer(t, func(conn *websocket.Conn, init map[string]any) {
		mu.Lock()
		conns++
		n := conns
		mu.Unlock()

		if n == 1 {
			sendFrames(conn, `{"type":"stream","content":"old"}`)
			<-release
			sendFrames(conn, `{"type":"stream","content":"stale"}`)
			return
		}
		sendFrames(conn,
			`{"type":"session","session_id":"s-2"}`,
			`{"type":"result","content":"new answer"}`,
		)
	})

	o, _ := newTestOrchestrator(t, Config{
		Endpoints: map[datatypes.Channel]string{datatypes.ChannelChat: wsURL(srv)},
	})
	hydrate(t, o)

	require.NoError(t, o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "first"}))
	require.Eventually(t, func() bool {
		st, _ := o.StateOf(datatypes.ChannelChat)
		return len(st.Transcript) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "second"}))
	final := waitForStatus(t, o, datatypes.ChannelChat, datatypes.StatusCompleted)

	close(release)
	time.Sleep(50 * time.Millisecond)

	st, err := o.StateOf(datatypes.ChannelChat)
	require.NoError(t, err)
	assert.Equal(t, final.UpdatedAt, st.UpdatedAt, "stale frame must not produce a transition")
	for _, e := range st.Transcript {
		assert.NotEqual(t, "stale", e.Content)
	}
}

// -----------------------------------------------------------------------------
// Stop / Reset / ClearAll
// -----------------------------------------------------------------------------

// TestStop keeps the partial transcript and leaves the live range
// without waiting for the server.
func TestStop(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	srv := wsServer(t, func(conn *websocket.Conn, init map[string]any) {
		sendFrames(conn,
			`{"type":"session","session_id":"s-1"}`,
			`{"type":"stream","content":"thinking..."}`,
		)
		<-block
	})

	o, _ := newTestOrchestrator(t, Config{
		Endpoints: map[datatypes.Channel]string{datatypes.ChannelChat: wsURL(srv)},
	})
	hydrate(t, o)

	require.NoError(t, o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "hi"}))
	require.Eventually(t, func() bool {
		st, _ := o.StateOf(datatypes.ChannelChat)
		return len(st.Transcript) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, o.Stop(context.Background(), datatypes.ChannelChat))

	st, err := o.StateOf(datatypes.ChannelChat)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusIdle, st.Status)
	assert.Equal(t, "s-1", st.SessionID, "session survives a stop")
	require.Len(t, st.Transcript, 1)
	assert.False(t, st.Transcript[0].Streaming, "trailing entry finalized on stop")
}

// TestReset wipes the channel back to its default.
func TestReset(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, init map[string]any) {
		sendFrames(conn,
			`{"type":"session","session_id":"s-1"}`,
			`{"type":"result","content":"done"}`,
		)
	})

	o, _ := newTestOrchestrator(t, Config{
		Endpoints: map[datatypes.Channel]string{datatypes.ChannelChat: wsURL(srv)},
	})
	hydrate(t, o)

	require.NoError(t, o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "hi"}))
	waitForStatus(t, o, datatypes.ChannelChat, datatypes.StatusCompleted)

	require.NoError(t, o.Reset(context.Background(), datatypes.ChannelChat))

	st, err := o.StateOf(datatypes.ChannelChat)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusIdle, st.Status)
	assert.Empty(t, st.SessionID)
	assert.Empty(t, st.Transcript)
}

// TestClearAll resets every channel and empties the snapshot store.
func TestClearAll(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, init map[string]any) {
		sendFrames(conn,
			`{"type":"session","session_id":"s-1"}`,
			`{"type":"result","content":"done"}`,
		)
	})

	o, st := newTestOrchestrator(t, Config{
		Endpoints: map[datatypes.Channel]string{datatypes.ChannelChat: wsURL(srv)},
		Debounce:  5 * time.Millisecond,
	})
	hydrate(t, o)

	require.NoError(t, o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "hi"}))
	waitForStatus(t, o, datatypes.ChannelChat, datatypes.StatusCompleted)
	require.Eventually(t, func() bool {
		_, found := st.Load(context.Background(), "chat", nil)
		return found
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, o.ClearAll(context.Background()))

	state, err := o.StateOf(datatypes.ChannelChat)
	require.NoError(t, err)
	assert.Empty(t, state.SessionID)

	// Pending debounced writes are discarded, so the namespace stays
	// empty even after the window would have elapsed.
	time.Sleep(50 * time.Millisecond)
	_, found := st.Load(context.Background(), "chat", nil)
	assert.False(t, found, "cleared key resurrected by a trailing flush")
}

// TestClearAll_DiscardsPendingWrites: a transition still inside the
// debounce window when ClearAll runs must not reappear in the store
// after the sweep.
func TestClearAll_DiscardsPendingWrites(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	srv := wsServer(t, func(conn *websocket.Conn, init map[string]any) {
		sendFrames(conn,
			`{"type":"session","session_id":"s-1"}`,
			`{"type":"stream","content":"partial"}`,
		)
		<-block
	})

	o, st := newTestOrchestrator(t, Config{
		Endpoints: map[datatypes.Channel]string{datatypes.ChannelChat: wsURL(srv)},
		Debounce:  time.Hour, // transitions stay pending until ClearAll
	})
	hydrate(t, o)

	require.NoError(t, o.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "hi"}))
	require.Eventually(t, func() bool {
		s, _ := o.StateOf(datatypes.ChannelChat)
		return len(s.Transcript) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, o.ClearAll(context.Background()))

	time.Sleep(50 * time.Millisecond)
	_, found := st.Load(context.Background(), "chat", nil)
	assert.False(t, found)
}

// -----------------------------------------------------------------------------
// Restore
// -----------------------------------------------------------------------------

// TestRestoreAcrossRestart: a completed run written by one orchestrator
// is visible after a second orchestrator hydrates from the same store,
// sanitized for the no-transport world.
func TestRestoreAcrossRestart(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn, init map[string]any) {
		sendFrames(conn,
			`{"type":"session","session_id":"s-1"}`,
			`{"type":"stream","content":"42"}`,
			`{"type":"token_stats","tokens":100}`,
			`{"type":"result","content":"42"}`,
		)
	})

	st, err := store.OpenInMemory(nil)
	require.NoError(t, err)
	defer st.Close()

	first, err := New(Config{
		Store:     st,
		Endpoints: map[datatypes.Channel]string{datatypes.ChannelChat: wsURL(srv)},
		Debounce:  5 * time.Millisecond,
	})
	require.NoError(t, err)
	hydrate(t, first)

	require.NoError(t, first.Start(context.Background(), datatypes.ChannelChat, transport.StartRequest{Message: "life"}))
	waitForStatus(t, first, datatypes.ChannelChat, datatypes.StatusCompleted)
	require.NoError(t, first.Close(context.Background()))

	second, err := New(Config{Store: st})
	require.NoError(t, err)
	defer second.Close(context.Background())
	hydrate(t, second)

	restored, err := second.StateOf(datatypes.ChannelChat)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, restored.Status, "terminal status survives restore")
	assert.Equal(t, "s-1", restored.SessionID)
	require.Len(t, restored.Transcript, 1)
	assert.Equal(t, "42", restored.Transcript[0].Content)
	assert.Nil(t, restored.TokenStats, "telemetry never comes back from disk")
}

// TestRestore_LiveStatusSanitized: a snapshot that captured a mid-run
// state hydrates as idle because no server run survives a reload.
func TestRestore_LiveStatusSanitized(t *testing.T) {
	st, err := store.OpenInMemory(nil)
	require.NoError(t, err)
	defer st.Close()

	st.Save(context.Background(), "solver", json.RawMessage(
		`{"status":"running","session_id":"s-5","transcript":[{"id":"1","role":"assistant","kind":"message","content":"half an answ","created_at":1,"streaming":true}]}`,
	))

	o, err := New(Config{Store: st})
	require.NoError(t, err)
	defer o.Close(context.Background())
	hydrate(t, o)

	restored, err := o.StateOf(datatypes.ChannelSolver)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusIdle, restored.Status)
	assert.Equal(t, "s-5", restored.SessionID)
	require.Len(t, restored.Transcript, 1)
	assert.False(t, restored.Transcript[0].Streaming)
}

// TestRestore_CorruptSnapshot degrades to defaults instead of failing
// startup.
func TestRestore_CorruptSnapshot(t *testing.T) {
	st, err := store.OpenInMemory(nil)
	require.NoError(t, err)
	defer st.Close()

	st.Save(context.Background(), "chat", json.RawMessage(`[1,2,3]`))

	o, err := New(Config{Store: st})
	require.NoError(t, err)
	defer o.Close(context.Background())
	hydrate(t, o)

	restored, err := o.StateOf(datatypes.ChannelChat)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusIdle, restored.Status)
	assert.Empty(t, restored.Transcript)
	assert.True(t, o.Hydrated(), "a bad snapshot must not block hydration")
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

// TestLoadHistory swaps in a completed session without opening any
// transport.
func TestLoadHistory(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/sessions/s-7", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"session_id": "s-7",
			"kb_name": "math",
			"messages": [
				{"id":"1","role":"user","kind":"message","content":"prove it","created_at":1},
				{"id":"2","role":"assistant","kind":"message","content":"QED","created_at":2}
			]
		}`))
	}))
	defer backend.Close()

	hc, err := history.NewClient(backend.URL, nil)
	require.NoError(t, err)

	o, _ := newTestOrchestrator(t, Config{History: hc})
	hydrate(t, o)

	require.NoError(t, o.LoadHistory(context.Background(), datatypes.ChannelChat, "s-7"))

	st, err := o.StateOf(datatypes.ChannelChat)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusIdle, st.Status, "a loaded session is never live")
	assert.Equal(t, "s-7", st.SessionID)
	assert.Equal(t, "math", st.Config.KBName)
	require.Len(t, st.Transcript, 2)
	assert.Equal(t, "QED", st.Transcript[1].Content)
}

// TestLoadHistory_NoClient fails cleanly when history is not wired.
func TestLoadHistory_NoClient(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{})
	hydrate(t, o)

	err := o.LoadHistory(context.Background(), datatypes.ChannelChat, "s-1")
	assert.Error(t, err)
}

// TestLoadHistory_NotFound propagates the lookup failure and leaves
// state untouched.
func TestLoadHistory_NotFound(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	defer backend.Close()

	hc, err := history.NewClient(backend.URL, nil)
	require.NoError(t, err)

	o, _ := newTestOrchestrator(t, Config{History: hc})
	hydrate(t, o)

	err = o.LoadHistory(context.Background(), datatypes.ChannelChat, "nope")
	assert.ErrorIs(t, err, history.ErrNotFound)

	st, _ := o.StateOf(datatypes.ChannelChat)
	assert.Empty(t, st.SessionID)
}

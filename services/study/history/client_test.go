// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStudy/services/study/datatypes"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)
	return c
}

// TestGetSession fetches and normalizes a completed session.
func TestGetSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/sessions/s-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"session_id": "s-1",
			"title": "backprop",
			"kb_name": "ml",
			"messages": [
				{"id":"1","role":"user","kind":"message","content":"explain backprop","created_at":10},
				{"id":"2","role":"assistant","kind":"message","content":"sure...","created_at":11}
			],
			"created_at": 10, "updated_at": 11
		}`))
	})

	rec, err := c.GetSession(context.Background(), datatypes.ChannelChat, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", rec.SessionID)
	assert.Equal(t, "ml", rec.KBName)
	require.Len(t, rec.Messages, 2)
	assert.Equal(t, datatypes.RoleAssistant, rec.Messages[1].Role)
}

// TestGetSession_NilMessagesNormalized: a null messages array becomes
// an empty slice.
func TestGetSession_NilMessagesNormalized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"session_id":"s-2","messages":null}`))
	})

	rec, err := c.GetSession(context.Background(), datatypes.ChannelChat, "s-2")
	require.NoError(t, err)
	assert.NotNil(t, rec.Messages)
	assert.Empty(t, rec.Messages)
}

// TestGetSession_NotFound maps 404 to ErrNotFound.
func TestGetSession_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.GetSession(context.Background(), datatypes.ChannelChat, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestGetSession_EmptyID is rejected locally.
func TestGetSession_EmptyID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server")
	})
	_, err := c.GetSession(context.Background(), datatypes.ChannelChat, "")
	assert.Error(t, err)
}

// TestListSessions passes the limit and unwraps the listing.
func TestListSessions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/research/sessions", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"sessions":[
			{"session_id":"r-2","title":"llms","updated_at":20},
			{"session_id":"r-1","title":"gans","updated_at":10}
		]}`))
	})

	sessions, err := c.ListSessions(context.Background(), datatypes.ChannelResearch, 5)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "r-2", sessions[0].SessionID)
}

// TestDeleteSession covers ok, no-content, and not-found responses.
func TestDeleteSession(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		wantErr error
	}{
		{"ok", http.StatusOK, nil},
		{"no content", http.StatusNoContent, nil},
		{"not found", http.StatusNotFound, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				w.WriteHeader(tt.code)
			})
			err := c.DeleteSession(context.Background(), datatypes.ChannelChat, "s-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestListKnowledgeBases unwraps the listing payload.
func TestListKnowledgeBases(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/knowledge/list", r.URL.Path)
		_, _ = w.Write([]byte(`{"knowledge_bases":[{"name":"physics","documents":42}]}`))
	})

	kbs, err := c.ListKnowledgeBases(context.Background())
	require.NoError(t, err)
	require.Len(t, kbs, 1)
	assert.Equal(t, "physics", kbs[0].Name)
	assert.Equal(t, 42, kbs[0].Documents)
}

// TestNewClient_Validation rejects an empty base URL.
func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", nil)
	assert.Error(t, err)
}

// TestGetJSON_ServerError surfaces unexpected status codes.
func TestGetJSON_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.ListSessions(context.Background(), datatypes.ChannelChat, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

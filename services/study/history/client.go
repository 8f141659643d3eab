// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history is the out-of-band request/response client for
// completed sessions and knowledge-base metadata.
//
// Loading a historical session is plain HTTP, not streaming: the
// result replaces a channel's transcript and session id but is never
// treated as resuming a live run. Knowledge-base listings are consumed
// only to populate outgoing initiating frames; the core never
// interprets them.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianStudy/services/study/datatypes"
)

// DefaultTimeout bounds a single history request.
const DefaultTimeout = 10 * time.Second

var (
	// ErrNotFound is returned when the session id is unknown to the
	// backend.
	ErrNotFound = errors.New("session not found")
)

// SessionRecord is one completed session as stored by the backend.
type SessionRecord struct {
	SessionID string            `json:"session_id"`
	Title     string            `json:"title,omitempty"`
	KBName    string            `json:"kb_name,omitempty"`
	Messages  []datatypes.Entry `json:"messages"`
	CreatedAt int64             `json:"created_at"`
	UpdatedAt int64             `json:"updated_at"`
}

// SessionSummary is one row of a session listing.
type SessionSummary struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title,omitempty"`
	UpdatedAt int64  `json:"updated_at"`
}

// KnowledgeBase describes one selectable knowledge base.
type KnowledgeBase struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Documents   int    `json:"documents,omitempty"`
}

// Client talks to the backend's REST surface.
//
// Thread Safety: safe for concurrent use.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds a client for the backend at baseURL (e.g.
// "http://localhost:8000").
func NewClient(baseURL string, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL must not be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   baseURL,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: logger,
	}, nil
}

// GetSession fetches a completed session by id.
func (c *Client) GetSession(ctx context.Context, ch datatypes.Channel, sessionID string) (*SessionRecord, error) {
	if sessionID == "" {
		return nil, errors.New("session id must not be empty")
	}
	endpoint := fmt.Sprintf("%s/api/%s/sessions/%s", c.base, ch, url.PathEscape(sessionID))

	var record SessionRecord
	if err := c.getJSON(ctx, endpoint, &record); err != nil {
		return nil, err
	}
	if record.Messages == nil {
		record.Messages = []datatypes.Entry{}
	}
	return &record, nil
}

// ListSessions returns up to limit recent sessions for a channel,
// newest first. A non-positive limit uses the backend default.
func (c *Client) ListSessions(ctx context.Context, ch datatypes.Channel, limit int) ([]SessionSummary, error) {
	endpoint := fmt.Sprintf("%s/api/%s/sessions", c.base, ch)
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}

	var out struct {
		Sessions []SessionSummary `json:"sessions"`
	}
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// DeleteSession removes a completed session from the backend.
func (c *Client) DeleteSession(ctx context.Context, ch datatypes.Channel, sessionID string) error {
	endpoint := fmt.Sprintf("%s/api/%s/sessions/%s", c.base, ch, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("delete session: unexpected status %d", resp.StatusCode)
	}
}

// ListKnowledgeBases returns the selectable knowledge bases.
func (c *Client) ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error) {
	var out struct {
		KnowledgeBases []KnowledgeBase `json:"knowledge_bases"`
	}
	if err := c.getJSON(ctx, c.base+"/api/knowledge/list", &out); err != nil {
		return nil, err
	}
	return out.KnowledgeBases, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fallthrough to decode
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("request %s: unexpected status %d", endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

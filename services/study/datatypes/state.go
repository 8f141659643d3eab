// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// TokenStats mirrors the backend's per-session token accounting. It is
// telemetry: meaningless without a live run, never persisted.
type TokenStats struct {
	Model        string  `json:"model,omitempty"`
	Calls        int     `json:"calls"`
	Tokens       int     `json:"tokens"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// AgentStatus is the last reported state of one server-side agent in a
// multi-agent run (research). Telemetry, never persisted.
type AgentStatus struct {
	Agent  string `json:"agent"`
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

// BatchSummary is the question generator's running tally. Telemetry,
// never persisted.
type BatchSummary struct {
	Requested int `json:"requested"`
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
}

// RunConfig is the config echo: the last-used parameters for a channel.
// It is persisted so a reload re-shows the user's previous selections.
type RunConfig struct {
	KBName     string   `json:"kb_name,omitempty"`
	Topic      string   `json:"topic,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	Tools      []string `json:"tools,omitempty"`
	Count      int      `json:"count,omitempty"`
	Difficulty string   `json:"difficulty,omitempty"`
}

// State is the reducer-owned snapshot of one channel.
//
// The shape is structurally common to all five flavors; each flavor
// uses the subset of fields its event vocabulary can touch. JSON field
// names matter: the snapshot layer excludes telemetry fields by name
// (see services/study/channel for the per-flavor exclusion sets) and
// merges persisted partials back onto defaults at the field level.
//
// State values are treated as immutable by convention: reducers return
// a new value with fresh slices for any sequence they change, so a
// caller holding an old State never observes later events.
type State struct {
	Status     Status  `json:"status"`
	SessionID  string  `json:"session_id,omitempty"`
	Transcript []Entry `json:"transcript"`

	// Flavor-specific accumulations.
	Questions []Question `json:"questions,omitempty"`
	Plan      []PlanStep `json:"plan,omitempty"`
	Report    string     `json:"report,omitempty"`

	// Config echo, persisted.
	Config RunConfig `json:"config"`

	// Telemetry. Excluded from persistence per flavor.
	TokenStats   *TokenStats   `json:"token_stats,omitempty"`
	Agents       []AgentStatus `json:"agents,omitempty"`
	Progress     float64       `json:"progress,omitempty"`
	Phase        string        `json:"phase,omitempty"`
	BatchSummary *BatchSummary `json:"batch_summary,omitempty"`

	// UpdatedAt is the Unix-millisecond time of the last transition.
	UpdatedAt int64 `json:"updated_at"`
}

// NewState returns the hard-coded default state every channel starts
// from.
func NewState() State {
	return State{
		Status:     StatusIdle,
		Transcript: []Entry{},
	}
}

// LastEntry returns the trailing transcript entry, or nil when the
// transcript is empty. The returned pointer addresses a copy.
func (s State) LastEntry() *Entry {
	if len(s.Transcript) == 0 {
		return nil
	}
	e := s.Transcript[len(s.Transcript)-1]
	return &e
}

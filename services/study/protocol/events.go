// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol decodes the backend's discriminated websocket event
// envelope into a tagged union of typed events.
//
// Every inbound frame is one JSON object with a "type" discriminator.
// Decoding never panics past the transport boundary: a frame that is
// not JSON, or whose type is unrecognized, yields an error that the
// transport logs and drops. Unknown fields inside a known event are
// ignored for forward compatibility.
package protocol

import "github.com/AleutianAI/AleutianStudy/services/study/datatypes"

// Type is the event discriminator carried in the "type" field.
type Type string

const (
	TypeSession        Type = "session"
	TypeTaskID         Type = "task_id"
	TypeLog            Type = "log"
	TypeStatus         Type = "status"
	TypeProgress       Type = "progress"
	TypeAgentStatus    Type = "agent_status"
	TypeTokenStats     Type = "token_stats"
	TypeStream         Type = "stream"
	TypeSources        Type = "sources"
	TypeResult         Type = "result"
	TypeComplete       Type = "complete"
	TypeError          Type = "error"
	TypeQuestionUpdate Type = "question_update"
	TypePlanReady      Type = "plan_ready"
	TypeBatchSummary   Type = "batch_summary"
	TypeKnowledgeSaved Type = "knowledge_saved"
	TypeSummary        Type = "summary"
)

// Event is one decoded inbound frame.
type Event interface {
	EventType() Type
}

// SessionEvent assigns or confirms the server session id. It is the
// only way a session id enters client state.
type SessionEvent struct {
	SessionID string `json:"session_id"`
}

func (SessionEvent) EventType() Type { return TypeSession }

// TaskIDEvent is the research pipeline's session assignment. The
// research flavor treats it exactly like a session event.
type TaskIDEvent struct {
	TaskID string `json:"task_id"`
}

func (TaskIDEvent) EventType() Type { return TypeTaskID }

// LogEvent is a diagnostic line appended to the transcript.
type LogEvent struct {
	Content string `json:"content"`
	Level   string `json:"level,omitempty"`
}

func (LogEvent) EventType() Type { return TypeLog }

// StatusEvent carries a coarse lifecycle notice, e.g. "started".
type StatusEvent struct {
	Content string `json:"content"`
}

func (StatusEvent) EventType() Type { return TypeStatus }

// ProgressEvent is telemetry: overall progress of a multi-step run.
type ProgressEvent struct {
	Phase   string  `json:"phase,omitempty"`
	Percent float64 `json:"percent,omitempty"`
	Content string  `json:"content,omitempty"`
}

func (ProgressEvent) EventType() Type { return TypeProgress }

// AgentStatusEvent is telemetry: one server-side agent's state.
type AgentStatusEvent struct {
	Agent  string `json:"agent"`
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

func (AgentStatusEvent) EventType() Type { return TypeAgentStatus }

// TokenStatsEvent is telemetry: cumulative token accounting.
type TokenStatsEvent struct {
	Model        string  `json:"model,omitempty"`
	Calls        int     `json:"calls"`
	Tokens       int     `json:"tokens"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

func (TokenStatsEvent) EventType() Type { return TypeTokenStats }

// StreamEvent is an incremental text delta for the in-progress entry.
// Deltas are concatenated strictly in receipt order.
type StreamEvent struct {
	Content string `json:"content"`
}

func (StreamEvent) EventType() Type { return TypeStream }

// SourcesEvent attaches citations to the trailing transcript entry.
type SourcesEvent struct {
	RAG []datatypes.SourceInfo `json:"rag,omitempty"`
	Web []datatypes.SourceInfo `json:"web,omitempty"`
}

func (SourcesEvent) EventType() Type { return TypeSources }

// ResultEvent finalizes a run. Chat and solver carry the full assistant
// text in Content; research carries the report body and metadata.
type ResultEvent struct {
	Content    string         `json:"content,omitempty"`
	Report     string         `json:"report,omitempty"`
	ResearchID string         `json:"research_id,omitempty"`
	OutputDir  string         `json:"outputDir,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (ResultEvent) EventType() Type { return TypeResult }

// CompleteEvent finalizes a multi-step run (question generation,
// parallel research) without replacing accumulated partial results.
type CompleteEvent struct{}

func (CompleteEvent) EventType() Type { return TypeComplete }

// ErrorEvent signals a server-reported failure. The backend is
// inconsistent about the field name, so both are accepted.
type ErrorEvent struct {
	Message string `json:"message,omitempty"`
	Content string `json:"content,omitempty"`
}

func (ErrorEvent) EventType() Type { return TypeError }

// Text returns the best available error text.
func (e ErrorEvent) Text() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Content != "" {
		return e.Content
	}
	return "unknown pipeline error"
}

// QuestionUpdateEvent delivers one generated question incrementally.
type QuestionUpdateEvent struct {
	ID         string `json:"id,omitempty"`
	Prompt     string `json:"prompt"`
	Answer     string `json:"answer,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Index      int    `json:"index,omitempty"`
	Total      int    `json:"total,omitempty"`
}

func (QuestionUpdateEvent) EventType() Type { return TypeQuestionUpdate }

// PlanReadyEvent delivers the decomposed research plan or a guided
// learning path.
type PlanReadyEvent struct {
	Steps []PlanStep `json:"steps"`
}

// PlanStep is one wire-level plan step.
type PlanStep struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func (PlanReadyEvent) EventType() Type { return TypePlanReady }

// BatchSummaryEvent is the question generator's running tally.
type BatchSummaryEvent struct {
	Requested int `json:"requested"`
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
}

func (BatchSummaryEvent) EventType() Type { return TypeBatchSummary }

// KnowledgeSavedEvent confirms generated material was written into a
// knowledge base.
type KnowledgeSavedEvent struct {
	KBName string `json:"kb_name"`
	Count  int    `json:"count"`
}

func (KnowledgeSavedEvent) EventType() Type { return TypeKnowledgeSaved }

// SummaryEvent is the guide pipeline's step summary.
type SummaryEvent struct {
	Content string `json:"content"`
}

func (SummaryEvent) EventType() Type { return TypeSummary }

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Transcript entry types shared by all channel flavors.
//
// A transcript is append-only during a run. The single exception is the
// trailing streamed entry, which reducers replace (never mutate in
// place) as stream deltas arrive; see services/study/channel.
package datatypes

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// EntryKind classifies a transcript entry for rendering and history.
type EntryKind string

const (
	// KindMessage is a normal conversational turn.
	KindMessage EntryKind = "message"

	// KindLog is a diagnostic line pushed by the pipeline.
	KindLog EntryKind = "log"

	// KindError is a user-visible failure notice.
	KindError EntryKind = "error"

	// KindReport is a finalized research report body.
	KindReport EntryKind = "report"
)

// SourceInfo describes one citation attached to an entry. Origin is
// "rag" for knowledge-base hits and "web" for web search hits.
type SourceInfo struct {
	Title   string `json:"title,omitempty"`
	Path    string `json:"path,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Origin  string `json:"origin,omitempty"`
}

// Entry is one record in a channel transcript.
//
// Timestamps are Unix milliseconds UTC.
type Entry struct {
	ID        string       `json:"id"`
	Role      Role         `json:"role"`
	Kind      EntryKind    `json:"kind"`
	Content   string       `json:"content"`
	Level     string       `json:"level,omitempty"`
	Streaming bool         `json:"streaming,omitempty"`
	Sources   []SourceInfo `json:"sources,omitempty"`
	OutputDir string       `json:"outputDir,omitempty"`
	CreatedAt int64        `json:"created_at"`
}

// Question is one generated practice question. The question channel
// accumulates these incrementally; a complete event must not clobber
// them.
type Question struct {
	ID         string `json:"id"`
	Prompt     string `json:"prompt"`
	Answer     string `json:"answer,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Index      int    `json:"index,omitempty"`
	Total      int    `json:"total,omitempty"`
}

// PlanStep is one step of a research plan or a guided-learning path.
type PlanStep struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Done   bool   `json:"done,omitempty"`
}

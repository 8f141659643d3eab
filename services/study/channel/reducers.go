// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package channel

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianStudy/services/study/datatypes"
	"github.com/AleutianAI/AleutianStudy/services/study/protocol"
)

// nowMillis is a hook for tests that need deterministic timestamps.
var nowMillis = func() int64 { return time.Now().UnixMilli() }

// -----------------------------------------------------------------------------
// Transcript helpers
//
// The transcript is append-only with one exception: the trailing
// streamed entry is replaced (as the last element of a fresh slice) as
// deltas arrive. No helper ever writes through a slice shared with a
// previous snapshot.
// -----------------------------------------------------------------------------

func appendEntry(transcript []datatypes.Entry, e datatypes.Entry) []datatypes.Entry {
	out := make([]datatypes.Entry, len(transcript), len(transcript)+1)
	copy(out, transcript)
	return append(out, e)
}

func replaceTrailing(transcript []datatypes.Entry, e datatypes.Entry) []datatypes.Entry {
	out := make([]datatypes.Entry, len(transcript))
	copy(out, transcript)
	out[len(out)-1] = e
	return out
}

// finalizeTrailing clears the streaming flag on the trailing entry.
func finalizeTrailing(transcript []datatypes.Entry) []datatypes.Entry {
	if len(transcript) == 0 {
		return transcript
	}
	last := transcript[len(transcript)-1]
	if !last.Streaming {
		return transcript
	}
	last.Streaming = false
	return replaceTrailing(transcript, last)
}

func newEntry(role datatypes.Role, kind datatypes.EntryKind, content string) datatypes.Entry {
	return datatypes.Entry{
		ID:        uuid.NewString(),
		Role:      role,
		Kind:      kind,
		Content:   content,
		CreatedAt: nowMillis(),
	}
}

// -----------------------------------------------------------------------------
// Shared event handling
// -----------------------------------------------------------------------------

// applyCommon handles the events whose semantics are identical across
// flavors. The bool result reports whether the event was consumed.
func applyCommon(s datatypes.State, ev protocol.Event) (datatypes.State, bool) {
	switch e := ev.(type) {
	case protocol.SessionEvent:
		// A session event sets the session id and nothing else in the
		// record; the connecting->running transition is the state
		// machine's, not the event payload's.
		s.SessionID = e.SessionID
		if s.Status == datatypes.StatusConnecting {
			s.Status = datatypes.StatusRunning
		}
		return touch(s), true

	case protocol.TaskIDEvent:
		s.SessionID = e.TaskID
		if s.Status == datatypes.StatusConnecting {
			s.Status = datatypes.StatusRunning
		}
		return touch(s), true

	case protocol.StatusEvent:
		if e.Content == "started" && !s.Status.Terminal() {
			s.Status = datatypes.StatusRunning
		}
		return touch(s), true

	case protocol.LogEvent:
		entry := newEntry(datatypes.RoleSystem, datatypes.KindLog, e.Content)
		entry.Level = e.Level
		s.Transcript = appendEntry(s.Transcript, entry)
		return touch(s), true

	case protocol.StreamEvent:
		s.Transcript = mergeStreamDelta(s.Transcript, e.Content)
		return touch(s), true

	case protocol.SourcesEvent:
		if len(s.Transcript) == 0 {
			return s, true
		}
		last := s.Transcript[len(s.Transcript)-1]
		last.Sources = combineSources(last.Sources, e)
		s.Transcript = replaceTrailing(s.Transcript, last)
		return touch(s), true

	case protocol.ProgressEvent:
		s.Progress = e.Percent
		if e.Phase != "" {
			s.Phase = e.Phase
		}
		return touch(s), true

	case protocol.AgentStatusEvent:
		s.Agents = upsertAgent(s.Agents, datatypes.AgentStatus{
			Agent:  e.Agent,
			State:  e.State,
			Detail: e.Detail,
		})
		return touch(s), true

	case protocol.TokenStatsEvent:
		s.TokenStats = &datatypes.TokenStats{
			Model:        e.Model,
			Calls:        e.Calls,
			Tokens:       e.Tokens,
			InputTokens:  e.InputTokens,
			OutputTokens: e.OutputTokens,
			Cost:         e.Cost,
		}
		return touch(s), true

	case protocol.ErrorEvent:
		s.Transcript = finalizeTrailing(s.Transcript)
		s.Transcript = appendEntry(s.Transcript, newEntry(datatypes.RoleSystem, datatypes.KindError, e.Text()))
		s.Status = datatypes.StatusError
		return touch(s), true
	}
	return s, false
}

// mergeStreamDelta concatenates a delta into the in-progress entry, or
// opens a new streamed entry when the trailing one is not streaming.
// Implemented as replace-last on a fresh slice, never in-place.
func mergeStreamDelta(transcript []datatypes.Entry, delta string) []datatypes.Entry {
	if n := len(transcript); n > 0 && transcript[n-1].Streaming {
		last := transcript[n-1]
		last.Content += delta
		return replaceTrailing(transcript, last)
	}
	e := newEntry(datatypes.RoleAssistant, datatypes.KindMessage, delta)
	e.Streaming = true
	return appendEntry(transcript, e)
}

func combineSources(existing []datatypes.SourceInfo, e protocol.SourcesEvent) []datatypes.SourceInfo {
	out := make([]datatypes.SourceInfo, 0, len(existing)+len(e.RAG)+len(e.Web))
	out = append(out, existing...)
	for _, src := range e.RAG {
		src.Origin = "rag"
		out = append(out, src)
	}
	for _, src := range e.Web {
		src.Origin = "web"
		out = append(out, src)
	}
	return out
}

func upsertAgent(agents []datatypes.AgentStatus, st datatypes.AgentStatus) []datatypes.AgentStatus {
	out := make([]datatypes.AgentStatus, len(agents))
	copy(out, agents)
	for i := range out {
		if out[i].Agent == st.Agent {
			out[i] = st
			return out
		}
	}
	return append(out, st)
}

// finalize marks the run completed: trailing streamed entry closed,
// terminal status set. Accumulated partial results stay untouched.
func finalize(s datatypes.State) datatypes.State {
	s.Transcript = finalizeTrailing(s.Transcript)
	s.Status = datatypes.StatusCompleted
	return touch(s)
}

func touch(s datatypes.State) datatypes.State {
	s.UpdatedAt = nowMillis()
	return s
}

// -----------------------------------------------------------------------------
// Flavor reducers
// -----------------------------------------------------------------------------

func reduceChat(s datatypes.State, ev protocol.Event) datatypes.State {
	if next, ok := applyCommon(s, ev); ok {
		return next
	}
	if e, ok := ev.(protocol.ResultEvent); ok {
		return finalizeWithContent(s, e)
	}
	return s
}

func reduceSolver(s datatypes.State, ev protocol.Event) datatypes.State {
	if next, ok := applyCommon(s, ev); ok {
		return next
	}
	if e, ok := ev.(protocol.ResultEvent); ok {
		s = finalizeWithContent(s, e)
		if e.OutputDir != "" && len(s.Transcript) > 0 {
			last := s.Transcript[len(s.Transcript)-1]
			last.OutputDir = e.OutputDir
			s.Transcript = replaceTrailing(s.Transcript, last)
		}
		return s
	}
	return s
}

func reduceQuestion(s datatypes.State, ev protocol.Event) datatypes.State {
	if next, ok := applyCommon(s, ev); ok {
		return next
	}
	switch e := ev.(type) {
	case protocol.QuestionUpdateEvent:
		q := datatypes.Question{
			ID:         e.ID,
			Prompt:     e.Prompt,
			Answer:     e.Answer,
			Difficulty: e.Difficulty,
			Index:      e.Index,
			Total:      e.Total,
		}
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		questions := make([]datatypes.Question, len(s.Questions), len(s.Questions)+1)
		copy(questions, s.Questions)
		s.Questions = append(questions, q)
		return touch(s)

	case protocol.BatchSummaryEvent:
		s.BatchSummary = &datatypes.BatchSummary{
			Requested: e.Requested,
			Generated: e.Generated,
			Failed:    e.Failed,
		}
		return touch(s)

	case protocol.KnowledgeSavedEvent:
		note := fmt.Sprintf("saved %d questions to knowledge base %q", e.Count, e.KBName)
		s.Transcript = appendEntry(s.Transcript, newEntry(datatypes.RoleSystem, datatypes.KindLog, note))
		return touch(s)

	case protocol.CompleteEvent:
		// Accumulated questions stay as-is; complete only closes the run.
		return finalize(s)
	}
	return s
}

func reduceResearch(s datatypes.State, ev protocol.Event) datatypes.State {
	if next, ok := applyCommon(s, ev); ok {
		return next
	}
	switch e := ev.(type) {
	case protocol.PlanReadyEvent:
		// The plan event carries the full replacement payload.
		plan := make([]datatypes.PlanStep, 0, len(e.Steps))
		for _, step := range e.Steps {
			plan = append(plan, datatypes.PlanStep{Title: step.Title, Detail: step.Detail})
		}
		s.Plan = plan
		return touch(s)

	case protocol.ResultEvent:
		s.Transcript = finalizeTrailing(s.Transcript)
		if e.Report != "" {
			s.Report = e.Report
			s.Transcript = appendEntry(s.Transcript, newEntry(datatypes.RoleAssistant, datatypes.KindReport, e.Report))
		}
		if e.ResearchID != "" && s.SessionID == "" {
			s.SessionID = e.ResearchID
		}
		s.Status = datatypes.StatusCompleted
		return touch(s)

	case protocol.CompleteEvent:
		return finalize(s)
	}
	return s
}

func reduceGuide(s datatypes.State, ev protocol.Event) datatypes.State {
	if next, ok := applyCommon(s, ev); ok {
		return next
	}
	switch e := ev.(type) {
	case protocol.PlanReadyEvent:
		plan := make([]datatypes.PlanStep, 0, len(e.Steps))
		for _, step := range e.Steps {
			plan = append(plan, datatypes.PlanStep{Title: step.Title, Detail: step.Detail})
		}
		s.Plan = plan
		return touch(s)

	case protocol.SummaryEvent:
		s.Transcript = finalizeTrailing(s.Transcript)
		s.Transcript = appendEntry(s.Transcript, newEntry(datatypes.RoleAssistant, datatypes.KindMessage, e.Content))
		return touch(s)

	case protocol.ResultEvent:
		return finalizeWithContent(s, e)

	case protocol.CompleteEvent:
		return finalize(s)
	}
	return s
}

// finalizeWithContent closes the run. When the result carries the full
// assistant text it replaces the streamed entry's content wholesale;
// otherwise the concatenated deltas stand.
func finalizeWithContent(s datatypes.State, e protocol.ResultEvent) datatypes.State {
	if e.Content != "" {
		if n := len(s.Transcript); n > 0 && s.Transcript[n-1].Streaming {
			last := s.Transcript[n-1]
			last.Content = e.Content
			last.Streaming = false
			s.Transcript = replaceTrailing(s.Transcript, last)
		} else {
			s.Transcript = appendEntry(s.Transcript, newEntry(datatypes.RoleAssistant, datatypes.KindMessage, e.Content))
		}
	} else {
		s.Transcript = finalizeTrailing(s.Transcript)
	}
	s.Status = datatypes.StatusCompleted
	return touch(s)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package channel defines the per-pipeline state machines.
//
// Each flavor is a pure reducer mapping protocol events onto an
// immutable State snapshot, plus the flavor's event vocabulary and its
// persistence exclusion set. The orchestrator serializes all reducer
// calls for one channel behind a mutex, so reducers never see
// concurrent invocations.
package channel

import (
	"github.com/AleutianAI/AleutianStudy/services/study/datatypes"
	"github.com/AleutianAI/AleutianStudy/services/study/protocol"
)

// Reducer maps one decoded event onto a new state snapshot. Reducers
// must not mutate s or any slice it references.
type Reducer func(s datatypes.State, ev protocol.Event) datatypes.State

// Flavor bundles everything channel-specific: the event vocabulary the
// codec accepts, the reducer, and the exclusion set of JSON field
// names that are never persisted.
//
// The exclusion sets are hand-maintained, centrally, right here. A
// telemetry field added to State but not to its flavor's set will be
// persisted until someone adds it; that is the documented behavior,
// not a silent repair.
type Flavor struct {
	Name       datatypes.Channel
	Vocabulary protocol.Vocabulary
	Excluded   []string
	Reduce     Reducer
}

// Default returns the flavor's hard-coded initial state.
func (f *Flavor) Default() datatypes.State {
	return datatypes.NewState()
}

// Registry returns the five flavors keyed by channel name. The result
// is freshly built; callers may not share Flavor pointers across
// orchestrators.
func Registry() map[datatypes.Channel]*Flavor {
	return map[datatypes.Channel]*Flavor{
		datatypes.ChannelChat: {
			Name: datatypes.ChannelChat,
			Vocabulary: protocol.NewVocabulary(
				protocol.TypeSession,
				protocol.TypeLog,
				protocol.TypeStream,
				protocol.TypeSources,
				protocol.TypeTokenStats,
				protocol.TypeResult,
				protocol.TypeError,
			),
			Excluded: []string{"token_stats"},
			Reduce:   reduceChat,
		},
		datatypes.ChannelSolver: {
			Name: datatypes.ChannelSolver,
			Vocabulary: protocol.NewVocabulary(
				protocol.TypeSession,
				protocol.TypeLog,
				protocol.TypeStatus,
				protocol.TypeStream,
				protocol.TypeSources,
				protocol.TypeTokenStats,
				protocol.TypeResult,
				protocol.TypeError,
			),
			Excluded: []string{"token_stats"},
			Reduce:   reduceSolver,
		},
		datatypes.ChannelQuestion: {
			Name: datatypes.ChannelQuestion,
			Vocabulary: protocol.NewVocabulary(
				protocol.TypeSession,
				protocol.TypeLog,
				protocol.TypeStatus,
				protocol.TypeProgress,
				protocol.TypeQuestionUpdate,
				protocol.TypeBatchSummary,
				protocol.TypeKnowledgeSaved,
				protocol.TypeComplete,
				protocol.TypeError,
			),
			Excluded: []string{"progress", "phase", "batch_summary"},
			Reduce:   reduceQuestion,
		},
		datatypes.ChannelResearch: {
			Name: datatypes.ChannelResearch,
			Vocabulary: protocol.NewVocabulary(
				protocol.TypeTaskID,
				protocol.TypeSession,
				protocol.TypeLog,
				protocol.TypeStatus,
				protocol.TypeProgress,
				protocol.TypeAgentStatus,
				protocol.TypeTokenStats,
				protocol.TypeStream,
				protocol.TypeSources,
				protocol.TypePlanReady,
				protocol.TypeResult,
				protocol.TypeComplete,
				protocol.TypeError,
			),
			Excluded: []string{"progress", "phase", "agents", "token_stats"},
			Reduce:   reduceResearch,
		},
		datatypes.ChannelGuide: {
			Name: datatypes.ChannelGuide,
			Vocabulary: protocol.NewVocabulary(
				protocol.TypeSession,
				protocol.TypeLog,
				protocol.TypeStatus,
				protocol.TypeStream,
				protocol.TypeSummary,
				protocol.TypePlanReady,
				protocol.TypeResult,
				protocol.TypeComplete,
				protocol.TypeError,
			),
			Excluded: []string{"progress", "phase"},
			Reduce:   reduceGuide,
		},
	}
}

// Interrupt is the user-initiated stop transition: the run ends
// locally, accumulated transcript stays intact, and the trailing
// streamed entry is finalized because no more deltas can arrive.
func Interrupt(s datatypes.State) datatypes.State {
	if s.Status.Live() {
		s.Status = datatypes.StatusIdle
	}
	s.Transcript = finalizeTrailing(s.Transcript)
	return touch(s)
}

// SanitizeRestored rewrites a snapshot loaded from disk into a state
// that is legal without a live transport. A mid-flight status becomes
// idle, the trailing streamed entry is finalized, and telemetry is
// zeroed regardless of what an older on-disk snapshot carried.
func SanitizeRestored(s datatypes.State) datatypes.State {
	if s.Status.Live() {
		s.Status = datatypes.StatusIdle
	}
	if last := s.LastEntry(); last != nil && last.Streaming {
		s.Transcript = finalizeTrailing(s.Transcript)
	}
	s.TokenStats = nil
	s.Agents = nil
	s.Progress = 0
	s.Phase = ""
	s.BatchSummary = nil
	if s.Transcript == nil {
		s.Transcript = []datatypes.Entry{}
	}
	return s
}

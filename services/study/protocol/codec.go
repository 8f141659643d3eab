// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrMalformedFrame is returned when a frame is not a JSON object
	// or lacks a usable "type" field.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownEventType is returned when the discriminator is not in
	// the decoder's vocabulary. The transport logs and drops the frame.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrMissingField is returned when a known event lacks a field the
	// state machine cannot proceed without.
	ErrMissingField = errors.New("missing required field")
)

// -----------------------------------------------------------------------------
// Vocabulary
// -----------------------------------------------------------------------------

// Vocabulary is the set of event types one channel accepts. Each
// flavor declares its own; see services/study/channel.
type Vocabulary map[Type]struct{}

// NewVocabulary builds a Vocabulary from a list of types.
func NewVocabulary(types ...Type) Vocabulary {
	v := make(Vocabulary, len(types))
	for _, t := range types {
		v[t] = struct{}{}
	}
	return v
}

// Allows reports whether t is in the vocabulary.
func (v Vocabulary) Allows(t Type) bool {
	_, ok := v[t]
	return ok
}

// -----------------------------------------------------------------------------
// Decoder
// -----------------------------------------------------------------------------

// envelope extracts only the discriminator; the remaining fields are
// re-parsed into the concrete event type.
type envelope struct {
	Type Type `json:"type"`
}

// Decode parses one raw inbound frame into a typed event.
//
// Unknown fields inside a known event are ignored. A frame that fails
// to parse returns ErrMalformedFrame; an unrecognized discriminator
// returns ErrUnknownEventType. Callers must treat both as log-and-drop,
// never as fatal to the channel.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: empty type", ErrMalformedFrame)
	}

	var (
		ev  Event
		err error
	)
	switch env.Type {
	case TypeSession:
		ev, err = decodeInto[SessionEvent](raw)
	case TypeTaskID:
		ev, err = decodeInto[TaskIDEvent](raw)
	case TypeLog:
		ev, err = decodeInto[LogEvent](raw)
	case TypeStatus:
		ev, err = decodeInto[StatusEvent](raw)
	case TypeProgress:
		ev, err = decodeInto[ProgressEvent](raw)
	case TypeAgentStatus:
		ev, err = decodeInto[AgentStatusEvent](raw)
	case TypeTokenStats:
		ev, err = decodeInto[TokenStatsEvent](raw)
	case TypeStream:
		ev, err = decodeInto[StreamEvent](raw)
	case TypeSources:
		ev, err = decodeInto[SourcesEvent](raw)
	case TypeResult:
		ev, err = decodeInto[ResultEvent](raw)
	case TypeComplete:
		ev, err = decodeInto[CompleteEvent](raw)
	case TypeError:
		ev, err = decodeInto[ErrorEvent](raw)
	case TypeQuestionUpdate:
		ev, err = decodeInto[QuestionUpdateEvent](raw)
	case TypePlanReady:
		ev, err = decodeInto[PlanReadyEvent](raw)
	case TypeBatchSummary:
		ev, err = decodeInto[BatchSummaryEvent](raw)
	case TypeKnowledgeSaved:
		ev, err = decodeInto[KnowledgeSavedEvent](raw)
	case TypeSummary:
		ev, err = decodeInto[SummaryEvent](raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return ev, validate(ev)
}

// DecodeFor decodes raw and additionally rejects events outside the
// channel's vocabulary. The rejection is reported as
// ErrUnknownEventType so the caller's drop path is uniform.
func DecodeFor(vocab Vocabulary, raw []byte) (Event, error) {
	ev, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if !vocab.Allows(ev.EventType()) {
		return nil, fmt.Errorf("%w: %q not in channel vocabulary", ErrUnknownEventType, ev.EventType())
	}
	return ev, nil
}

func decodeInto[E Event](raw []byte) (Event, error) {
	var ev E
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return ev, nil
}

// validate enforces the minimal required fields per event type.
// Session assignment without an id is the only frame worth rejecting
// outright; everything else degrades to an empty-but-typed event.
func validate(ev Event) error {
	switch e := ev.(type) {
	case SessionEvent:
		if e.SessionID == "" {
			return fmt.Errorf("%w: session.session_id", ErrMissingField)
		}
	case TaskIDEvent:
		if e.TaskID == "" {
			return fmt.Errorf("%w: task_id.task_id", ErrMissingField)
		}
	}
	return nil
}

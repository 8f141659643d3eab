// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianStudy/services/study/datatypes"
)

// MaxMessageBytes bounds a single user message. Mirrors the backend's
// input limit.
const MaxMessageBytes = 32 * 1024

var (
	// ErrEmptyMessage is returned when a conversational channel is
	// started without a message.
	ErrEmptyMessage = errors.New("message must not be empty")

	// ErrEmptyTopic is returned when a topic-driven channel is started
	// without a topic.
	ErrEmptyTopic = errors.New("topic must not be empty")
)

// validate is the shared struct validator. validator.Validate is
// thread-safe and caches struct metadata, so one instance serves all
// channels.
var validate = validator.New(validator.WithRequiredStructEnabled())

// StartRequest carries everything needed to build a channel's
// initiating frame. The session id is not part of the request: the
// orchestrator injects the channel's current one (or null) so the
// server can continue a conversation.
type StartRequest struct {
	// Message is the user turn for chat and solver.
	Message string `json:"message,omitempty" validate:"omitempty,max=32768"`

	// Topic drives question generation, research and guided learning.
	Topic string `json:"topic,omitempty" validate:"omitempty,max=2048"`

	// KBName selects the knowledge base backing the run.
	KBName string `json:"kb_name,omitempty" validate:"omitempty,max=128"`

	// Mode is the research plan mode (quick|medium|deep|auto) or the
	// chat mode, depending on the channel.
	Mode string `json:"mode,omitempty" validate:"omitempty,max=32"`

	// Tools restricts the research pipeline's retrieval tools.
	Tools []string `json:"tools,omitempty" validate:"omitempty,dive,oneof=RAG Paper Web"`

	// Count is the number of questions to generate.
	Count int `json:"count,omitempty" validate:"omitempty,min=1,max=50"`

	// Difficulty filters generated questions.
	Difficulty string `json:"difficulty,omitempty" validate:"omitempty,oneof=easy medium hard"`

	// SkipRephrase disables the research pipeline's rephrase step.
	SkipRephrase bool `json:"skip_rephrase,omitempty"`
}

// planModes is the research mode vocabulary accepted by the backend.
var planModes = map[string]struct{}{
	"quick": {}, "medium": {}, "deep": {}, "auto": {},
}

// Validate checks the request against the target channel's
// requirements.
func (r StartRequest) Validate(ch datatypes.Channel) error {
	if !ch.Valid() {
		return fmt.Errorf("unknown channel %q", ch)
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid start request: %w", err)
	}

	switch ch {
	case datatypes.ChannelChat, datatypes.ChannelSolver:
		if r.Message == "" {
			return ErrEmptyMessage
		}
	case datatypes.ChannelQuestion, datatypes.ChannelResearch, datatypes.ChannelGuide:
		if r.Topic == "" {
			return ErrEmptyTopic
		}
	}

	if ch == datatypes.ChannelResearch && r.Mode != "" {
		if _, ok := planModes[r.Mode]; !ok {
			return fmt.Errorf("invalid plan mode %q (want quick|medium|deep|auto)", r.Mode)
		}
	}
	return nil
}

// InitFrame builds the channel-specific initiating payload. The
// session_id field is always present and nullable; a non-empty id asks
// the server to continue that session, null starts fresh.
func InitFrame(ch datatypes.Channel, r StartRequest, sessionID string) map[string]any {
	frame := map[string]any{
		"session_id": nullableID(sessionID),
	}
	if r.KBName != "" {
		frame["kb_name"] = r.KBName
	}

	switch ch {
	case datatypes.ChannelChat, datatypes.ChannelSolver:
		frame["message"] = r.Message
		if r.Mode != "" {
			frame["mode"] = r.Mode
		}
	case datatypes.ChannelQuestion:
		frame["topic"] = r.Topic
		if r.Count > 0 {
			frame["count"] = r.Count
		}
		if r.Difficulty != "" {
			frame["difficulty"] = r.Difficulty
		}
	case datatypes.ChannelResearch:
		frame["topic"] = r.Topic
		mode := r.Mode
		if mode == "" {
			mode = "quick"
		}
		frame["plan_mode"] = mode
		tools := r.Tools
		if len(tools) == 0 {
			tools = []string{"RAG"}
		}
		frame["enabled_tools"] = tools
		frame["skip_rephrase"] = r.SkipRephrase
	case datatypes.ChannelGuide:
		frame["topic"] = r.Topic
		if r.Mode != "" {
			frame["mode"] = r.Mode
		}
	}
	return frame
}

// EchoConfig reflects the request into the persisted config echo so a
// reload can re-show the user's last parameters.
func EchoConfig(r StartRequest) datatypes.RunConfig {
	return datatypes.RunConfig{
		KBName:     r.KBName,
		Topic:      r.Topic,
		Mode:       r.Mode,
		Tools:      append([]string(nil), r.Tools...),
		Count:      r.Count,
		Difficulty: r.Difficulty,
	}
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

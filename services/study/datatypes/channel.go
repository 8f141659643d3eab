// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the shared data model for the study client.
//
// This file defines the channel and status vocabulary. A Channel is a
// logical pipeline on the study backend (solver, question generator,
// deep research, chat, guided learning). Each channel owns at most one
// live websocket at a time; see services/study/transport.
package datatypes

// Channel identifies a logical agent pipeline.
type Channel string

const (
	// ChannelSolver is the step-by-step problem solver pipeline.
	ChannelSolver Channel = "solver"

	// ChannelQuestion is the practice question generator pipeline.
	ChannelQuestion Channel = "question"

	// ChannelResearch is the deep research (multi-agent report) pipeline.
	ChannelResearch Channel = "research"

	// ChannelChat is the conversational chat pipeline.
	ChannelChat Channel = "chat"

	// ChannelGuide is the guided learning tutor pipeline.
	ChannelGuide Channel = "guide"
)

// AllChannels lists every channel in a stable order. Used for restore
// passes and "clear all" sweeps.
var AllChannels = []Channel{
	ChannelSolver,
	ChannelQuestion,
	ChannelResearch,
	ChannelChat,
	ChannelGuide,
}

// Valid reports whether c names a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSolver, ChannelQuestion, ChannelResearch, ChannelChat, ChannelGuide:
		return true
	default:
		return false
	}
}

// String returns the channel name.
func (c Channel) String() string { return string(c) }

// Status is the lifecycle tag of a channel's state.
//
// The vocabulary is shared across flavors. Persisted snapshots never
// contain a live status: the restore path rewrites StatusConnecting and
// StatusRunning to StatusIdle, because no websocket can resume a
// server-side run across a process restart.
type Status string

const (
	// StatusIdle means no run is active. The start action is enabled.
	StatusIdle Status = "idle"

	// StatusConnecting means a websocket dial is in flight.
	StatusConnecting Status = "connecting"

	// StatusRunning means the server accepted the run and is streaming.
	StatusRunning Status = "running"

	// StatusCompleted means the last run finished with a result.
	StatusCompleted Status = "completed"

	// StatusError means the last run failed. Start remains legal.
	StatusError Status = "error"
)

// Live reports whether the status denotes an in-flight run. Live
// statuses must never be persisted as-is.
func (s Status) Live() bool {
	return s == StatusConnecting || s == StatusRunning
}

// Terminal reports whether the status denotes a finished run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

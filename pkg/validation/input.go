// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up
// in URL paths, store keys, or initiating frames. Using these validators
// prevents injection attacks (path traversal, key collisions, malformed
// wire payloads).
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// kbNamePattern matches valid knowledge base names.
// Allows: letters, digits, underscores, hyphens, dots.
// Max length: 128 characters (mirrors the backend's limit).
var kbNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,127}$`)

// sessionIDPattern matches session ids issued by the backend.
// The backend uses UUIDs and UUID-derived slugs; accept hex, hyphens
// and underscores up to 64 characters.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)

// MaxTopicRunes bounds a study topic. Anything longer is almost
// certainly a paste error and the backend would reject it anyway.
const MaxTopicRunes = 2048

// ValidateKBName validates a knowledge base name before it is placed
// in an initiating frame or a URL path.
//
// Valid names:
//   - 1-128 characters
//   - Letters, digits, dots, underscores, hyphens
//   - Must start with a letter or digit
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateKBName(kb); err != nil {
//	    return fmt.Errorf("invalid knowledge base: %w", err)
//	}
func ValidateKBName(name string) error {
	if name == "" {
		return fmt.Errorf("knowledge base name cannot be empty")
	}
	if !kbNamePattern.MatchString(name) {
		return fmt.Errorf("invalid knowledge base name: %q (must be 1-128 alphanumeric chars, dots, underscores, or hyphens)", name)
	}
	return nil
}

// ValidateSessionID validates a session id before it is interpolated
// into a history URL path.
//
// Returns an error if the id is empty or contains characters outside
// the backend's id alphabet.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id: %q", id)
	}
	return nil
}

// SanitizeTopic normalizes and validates a study topic.
// Returns the trimmed topic if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	topic, err := validation.SanitizeTopic(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizeTopic(topic string) (string, error) {
	normalized := strings.TrimSpace(topic)
	if normalized == "" {
		return "", fmt.Errorf("topic cannot be empty")
	}
	if !utf8.ValidString(normalized) {
		return "", fmt.Errorf("topic contains invalid UTF-8")
	}
	if utf8.RuneCountInString(normalized) > MaxTopicRunes {
		return "", fmt.Errorf("topic too long: %d runes (max %d)", utf8.RuneCountInString(normalized), MaxTopicRunes)
	}
	if strings.ContainsAny(normalized, "\x00") {
		return "", fmt.Errorf("topic contains NUL byte")
	}
	return normalized, nil
}

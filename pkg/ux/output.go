// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the study CLI.
//
// Status lines, progress and the spinner all write to stderr so that
// streamed answer text on stdout stays pipeable. When stderr is not a
// terminal, everything degrades to plain unstyled lines.
package ux

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorSlate       = lipgloss.Color("#2C4A54")
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
)

// Styles provides the pre-configured lipgloss styles the commands use.
var Styles = struct {
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
}

// stderrIsTTY is resolved once; tests do not flip terminals mid-run.
var stderrIsTTY = isatty.IsTerminal(os.Stderr.Fd())

// StderrIsTerminal reports whether stderr is attached to a terminal.
func StderrIsTerminal() bool { return stderrIsTTY }

func statusLine(style lipgloss.Style, icon, msg string) {
	if !stderrIsTTY {
		fmt.Fprintf(os.Stderr, "%s %s\n", icon, msg)
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", style.Render(icon), msg)
}

// Success prints a success status line.
func Success(msg string) { statusLine(Styles.Success, "✓", msg) }

// Warning prints a warning status line.
func Warning(msg string) { statusLine(Styles.Warning, "⚠", msg) }

// Error prints an error status line.
func Error(msg string) { statusLine(Styles.Error, "✗", msg) }

// Info prints a muted informational line.
func Info(msg string) {
	if !stderrIsTTY {
		fmt.Fprintln(os.Stderr, msg)
		return
	}
	fmt.Fprintln(os.Stderr, Styles.Muted.Render(msg))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianStudy/pkg/ux"
	"github.com/AleutianAI/AleutianStudy/pkg/validation"
	"github.com/AleutianAI/AleutianStudy/services/study/datatypes"
	"github.com/AleutianAI/AleutianStudy/services/study/transport"
)

var (
	flagCount      int
	flagDifficulty string
	flagMode       string
	flagTools      []string
	flagSkipReph   bool
	flagSession    string

	chatCmd = &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a chat message and stream the answer",
		Long: `Sends a message to the chat pipeline. Pass --session to continue
a previous conversation; the session id is also remembered locally, so a
bare "study chat" continues where the last run left off.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannel(cmd.Context(), datatypes.ChannelChat, transport.StartRequest{
				Message: strings.Join(args, " "),
				KBName:  kbName(),
				Mode:    flagMode,
			})
		},
	}

	solveCmd = &cobra.Command{
		Use:   "solve [problem]",
		Short: "Send a problem to the step-by-step solver",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChannel(cmd.Context(), datatypes.ChannelSolver, transport.StartRequest{
				Message: strings.Join(args, " "),
				KBName:  kbName(),
			})
		},
	}

	questionsCmd = &cobra.Command{
		Use:   "questions [topic]",
		Short: "Generate practice questions for a topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, err := validation.SanitizeTopic(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return runChannel(cmd.Context(), datatypes.ChannelQuestion, transport.StartRequest{
				Topic:      topic,
				KBName:     kbName(),
				Count:      flagCount,
				Difficulty: flagDifficulty,
			})
		},
	}

	researchCmd = &cobra.Command{
		Use:   "research [topic]",
		Short: "Run a deep research pipeline and print the report",
		Long: `Runs the multi-agent research pipeline. Mode controls planning
depth (quick|medium|deep|auto); --tools restricts retrieval to a subset
of RAG, Paper, and Web.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, err := validation.SanitizeTopic(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return runChannel(cmd.Context(), datatypes.ChannelResearch, transport.StartRequest{
				Topic:        topic,
				KBName:       kbName(),
				Mode:         flagMode,
				Tools:        flagTools,
				SkipRephrase: flagSkipReph,
			})
		},
	}

	guideCmd = &cobra.Command{
		Use:   "guide [topic]",
		Short: "Start a guided learning session on a topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, err := validation.SanitizeTopic(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return runChannel(cmd.Context(), datatypes.ChannelGuide, transport.StartRequest{
				Topic:  topic,
				KBName: kbName(),
				Mode:   flagMode,
			})
		},
	}
)

func init() {
	chatCmd.Flags().StringVar(&flagMode, "mode", "", "chat mode")
	chatCmd.Flags().StringVar(&flagSession, "session", "", "continue a specific session id")

	questionsCmd.Flags().IntVar(&flagCount, "count", 0, "number of questions (1-50)")
	questionsCmd.Flags().StringVar(&flagDifficulty, "difficulty", "", "easy|medium|hard")

	researchCmd.Flags().StringVar(&flagMode, "mode", "", "plan mode: quick|medium|deep|auto")
	researchCmd.Flags().StringSliceVar(&flagTools, "tools", nil, "retrieval tools: RAG,Paper,Web")
	researchCmd.Flags().BoolVar(&flagSkipReph, "skip-rephrase", false, "skip the query rephrase step")

	guideCmd.Flags().StringVar(&flagMode, "mode", "", "guide mode")

	rootCmd.AddCommand(chatCmd, solveCmd, questionsCmd, researchCmd, guideCmd)
}

// runChannel drives one run to completion: restore, optionally load a
// prior session, start, render state transitions until the channel
// leaves the live range, then print the terminal output.
func runChannel(ctx context.Context, ch datatypes.Channel, req transport.StartRequest) error {
	orch, cleanup, err := openOrchestrator(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if flagSession != "" {
		if err := validation.ValidateSessionID(flagSession); err != nil {
			return err
		}
		if err := orch.LoadHistory(ctx, ch, flagSession); err != nil {
			return err
		}
	}

	r := newRenderer(ch)
	spin := ux.NewSpinner(fmt.Sprintf("connecting to %s pipeline", ch))
	done := make(chan datatypes.State, 1)
	orch.Subscribe(func(c datatypes.Channel, s datatypes.State) {
		if c != ch {
			return
		}
		if s.Status != datatypes.StatusConnecting {
			spin.Stop()
		}
		r.render(s)
		if s.Status.Terminal() {
			select {
			case done <- s:
			default:
			}
		}
	})

	spin.Start()
	if err := orch.Start(ctx, ch, req); err != nil {
		spin.Stop()
		return err
	}

	select {
	case final := <-done:
		r.finish(final)
		if final.Status == datatypes.StatusError {
			return fmt.Errorf("%s run failed", ch)
		}
		return nil
	case <-ctx.Done():
		// User interrupt: stop preserves the transcript locally.
		spin.Stop()
		stopCtx := context.Background()
		_ = orch.Stop(stopCtx, ch)
		fmt.Println()
		ux.Warning("interrupted; partial output kept locally")
		return ctx.Err()
	}
}

// renderer incrementally prints streamed output. On a terminal it also
// shows a transient progress line; when piped it emits plain text only.
type renderer struct {
	channel datatypes.Channel
	tty     bool

	mu           sync.Mutex
	printed      int    // runes of the trailing streamed entry already written
	streamID     string // entry id the printed count belongs to
	progressLine bool
}

func newRenderer(ch datatypes.Channel) *renderer {
	return &renderer{
		channel: ch,
		tty:     isatty.IsTerminal(os.Stdout.Fd()),
	}
}

func (r *renderer) render(s datatypes.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last := s.LastEntry()
	if last != nil && last.Role == datatypes.RoleAssistant && last.Kind == datatypes.KindMessage {
		if last.ID != r.streamID {
			r.streamID = last.ID
			r.printed = 0
		}
		runes := []rune(last.Content)
		if len(runes) > r.printed {
			r.clearProgressLocked()
			fmt.Print(string(runes[r.printed:]))
			r.printed = len(runes)
		}
	}

	if r.tty && s.Phase != "" && s.Status.Live() {
		r.clearProgressLocked()
		fmt.Fprintf(os.Stderr, "\r[%s] %s (%.0f%%)", r.channel, s.Phase, s.Progress)
		r.progressLine = true
	}
}

// finish prints channel-specific terminal output that is not part of
// the token stream.
func (r *renderer) finish(s datatypes.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearProgressLocked()
	fmt.Println()

	switch r.channel {
	case datatypes.ChannelQuestion:
		for i, q := range s.Questions {
			fmt.Printf("%d. %s\n", i+1, q.Prompt)
			if q.Answer != "" {
				fmt.Printf("   Answer: %s\n", q.Answer)
			}
		}
	case datatypes.ChannelResearch:
		if s.Report != "" && r.printed == 0 {
			fmt.Println(s.Report)
		}
	}

	if s.SessionID != "" {
		ux.Info("session: " + s.SessionID)
	}
	if last := s.LastEntry(); last != nil && last.OutputDir != "" {
		ux.Info("output written to: " + last.OutputDir)
	}
}

func (r *renderer) clearProgressLocked() {
	if r.progressLine {
		fmt.Fprint(os.Stderr, "\r\033[K")
		r.progressLine = false
	}
}

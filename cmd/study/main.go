// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command study is the CLI front end for the Aleutian study client.
//
// It drives the five backend pipelines over websocket, mirrors every
// run into a local snapshot store, and restores the last state of each
// channel on startup. All state handling lives in the orchestrator;
// this command only renders it.
//
// Usage:
//
//	study chat "explain backpropagation"
//	study solve "integrate x^2 sin(x)"
//	study questions --count 10 --difficulty medium "linear algebra"
//	study research --mode deep --tools RAG,Web "transformer scaling laws"
//	study guide "intro to topology"
//	study sessions list chat
//	study clear
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianStudy/pkg/logging"
	"github.com/AleutianAI/AleutianStudy/services/study/history"
	"github.com/AleutianAI/AleutianStudy/services/study/orchestrator"
	"github.com/AleutianAI/AleutianStudy/services/study/store"
)

var (
	flagConfig string
	flagKB     string

	cliConfig CLIConfig
	logger    *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "study",
		Short: "A CLI for the Aleutian study backend",
		Long: `Study drives the Aleutian learning pipelines (chat, solver,
question generation, deep research, guided learning) from the terminal,
with crash-tolerant local session state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := flagConfig
			if path == "" {
				path = DefaultConfigPath()
			}
			var err error
			cliConfig, err = LoadCLIConfig(path)
			if err != nil {
				return err
			}
			logger = logging.New(logging.Config{
				Level:   logging.ParseLevel(cliConfig.LogLevel),
				LogDir:  filepath.Join(cliConfig.DataDir, "logs"),
				Service: "study",
				JSON:    cliConfig.LogJSON,
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.aleutian/study/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagKB, "kb", "", "knowledge base name (overrides config)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openOrchestrator builds the full stack for commands that need live
// state: store, history client, orchestrator, hydration. The returned
// cleanup closes everything in order.
func openOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, func(), error) {
	st, err := store.Open(
		store.DefaultDBConfig(filepath.Join(cliConfig.DataDir, "snapshots")),
		logger.Slog(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("open snapshot store: %w", err)
	}

	hist, err := history.NewClient(cliConfig.BackendURL, logger.Slog())
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	var debounce time.Duration
	if cliConfig.DebounceMS > 0 {
		debounce = time.Duration(cliConfig.DebounceMS) * time.Millisecond
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Endpoints: wsEndpoints(cliConfig.BackendURL),
		Store:     st,
		History:   hist,
		Debounce:  debounce,
		Logger:    logger.Slog(),
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	if err := orch.RestoreAll(ctx); err != nil {
		_ = orch.Close(ctx)
		st.Close()
		return nil, nil, err
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Close(shutdownCtx)
		st.Close()
	}
	return orch, cleanup, nil
}

// kbName resolves the knowledge base for a run: flag beats config.
func kbName() string {
	if flagKB != "" {
		return flagKB
	}
	return cliConfig.KBName
}

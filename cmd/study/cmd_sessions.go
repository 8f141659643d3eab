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
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianStudy/pkg/ux"
	"github.com/AleutianAI/AleutianStudy/pkg/validation"
	"github.com/AleutianAI/AleutianStudy/services/study/datatypes"
	"github.com/AleutianAI/AleutianStudy/services/study/history"
	"github.com/AleutianAI/AleutianStudy/services/study/store"
)

var (
	flagLimit int

	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage completed sessions on the backend",
	}

	sessionsListCmd = &cobra.Command{
		Use:   "list [channel]",
		Short: "List recent sessions for a channel, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch := datatypes.Channel(args[0])
			if !ch.Valid() {
				return fmt.Errorf("unknown channel %q", args[0])
			}
			client, err := history.NewClient(cliConfig.BackendURL, logger.Slog())
			if err != nil {
				return err
			}
			sessions, err := client.ListSessions(cmd.Context(), ch, flagLimit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range sessions {
				title := s.Title
				if title == "" {
					title = "(untitled)"
				}
				ts := time.UnixMilli(s.UpdatedAt).Format("2006-01-02 15:04")
				fmt.Printf("%-38s %-17s %s\n", s.SessionID, ts, title)
			}
			return nil
		},
	}

	sessionsDeleteCmd = &cobra.Command{
		Use:   "delete [channel] [session-id]",
		Short: "Delete a completed session from the backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch := datatypes.Channel(args[0])
			if !ch.Valid() {
				return fmt.Errorf("unknown channel %q", args[0])
			}
			if err := validation.ValidateSessionID(args[1]); err != nil {
				return err
			}
			client, err := history.NewClient(cliConfig.BackendURL, logger.Slog())
			if err != nil {
				return err
			}
			if err := client.DeleteSession(cmd.Context(), ch, args[1]); err != nil {
				return err
			}
			ux.Success("deleted " + args[1])
			return nil
		},
	}

	kbCmd = &cobra.Command{
		Use:   "kb",
		Short: "List the knowledge bases available on the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := history.NewClient(cliConfig.BackendURL, logger.Slog())
			if err != nil {
				return err
			}
			kbs, err := client.ListKnowledgeBases(cmd.Context())
			if err != nil {
				return err
			}
			if len(kbs) == 0 {
				fmt.Println("no knowledge bases")
				return nil
			}
			for _, kb := range kbs {
				fmt.Printf("%-32s %6d docs  %s\n", kb.Name, kb.Documents, kb.Description)
			}
			return nil
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Erase all locally persisted channel state",
		Long: `Removes every snapshot under the local store's namespace. Backend
session history is not touched; use "study sessions delete" for that.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(
				store.DefaultDBConfig(filepath.Join(cliConfig.DataDir, "snapshots")),
				logger.Slog(),
			)
			if err != nil {
				return fmt.Errorf("open snapshot store: %w", err)
			}
			defer st.Close()

			if err := st.ClearAll(cmd.Context()); err != nil {
				return err
			}
			ux.Success("local state cleared")
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the last known state of every channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, cleanup, err := openOrchestrator(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			for _, ch := range datatypes.AllChannels {
				st, err := orch.StateOf(ch)
				if err != nil {
					return err
				}
				session := st.SessionID
				if session == "" {
					session = "-"
				}
				fmt.Printf("%-10s %-10s entries=%-4d session=%s\n",
					ch, st.Status, len(st.Transcript), session)
			}
			return nil
		},
	}
)

func init() {
	sessionsListCmd.Flags().IntVar(&flagLimit, "limit", 20, "maximum sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd, kbCmd, clearCmd, statusCmd)
}

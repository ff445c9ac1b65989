// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(outboxCmd, syncCmd, clearCmd, statusCmd)
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Show changes waiting to sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		entries := s.client.Outbox()
		if len(entries) == 0 {
			fmt.Println("outbox is empty")
			return nil
		}
		for _, e := range entries {
			line := fmt.Sprintf("%-7s %s/%s  queued %s", e.Kind, e.Collection, e.EntityID, e.EnqueuedAt.Format(time.RFC3339))
			if e.Conflict != "" {
				line += "  [conflict: " + e.Conflict + "]"
			}
			fmt.Println(line)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay pending changes against the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		report, err := s.client.SyncNow(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("synced %d, failed %d, skipped %d, deferred %d\n",
			len(report.Succeeded), len(report.Failed), report.Skipped, report.Deferred)
		for _, r := range report.Succeeded {
			if r.ServerID != "" {
				fmt.Printf("  %s/%s -> %s\n", r.Collection, r.EntityID, r.ServerID)
			}
		}
		for _, c := range report.Conflicts {
			action := "kept"
			if c.Dropped {
				action = "dropped"
			}
			fmt.Printf("  conflict %s %s/%s: %s %s (%s)\n", c.Kind, c.Collection, c.EntityID, c.Reason, c.Message, action)
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all offline data, including unsynced changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		lost := s.client.PendingCount()
		if err := s.client.ClearOfflineData(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("offline data cleared (%d unsynced change(s) discarded)\n", lost)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and pending changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Printf("Server:   %s\n", valueOrDefault(s.cfg.Server.URL, "(not set)"))
		fmt.Printf("Online:   %t\n", s.client.IsOnline())
		storage := s.cfg.Client.DB
		if s.store.Degraded() {
			storage += " (unavailable, memory only)"
		}
		fmt.Printf("Storage:  %s\n", storage)
		fmt.Printf("Pending:  %d\n", s.client.PendingCount())
		if creates := s.client.PendingCreates(""); len(creates) > 0 {
			fmt.Printf("Unsynced: %d new record(s)\n", len(creates))
		}
		return nil
	},
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

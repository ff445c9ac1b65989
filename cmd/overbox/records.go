// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-overbox/overbox"
)

func init() {
	rootCmd.AddCommand(listCmd, getCmd, createCmd, updateCmd, deleteCmd, discardCmd)
}

var listCmd = &cobra.Command{
	Use:   "list <collection>",
	Short: "List a collection with pending local changes applied",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		items, err := s.client.MergedList(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(items)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <collection> <id>",
	Short: "Show one record with pending local changes applied",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		rec, ok, err := s.client.MergedGet(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s/%s not found", args[0], args[1])
		}
		return printJSON(rec)
	},
}

var createCmd = &cobra.Command{
	Use:     "create <collection> key=value...",
	Short:   "Create a record",
	Example: "overbox create games date=2025-01-01 opponent=alice",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}
		return write(cmd, overbox.Op{Collection: args[0], Kind: overbox.KindCreate, Payload: payload})
	},
}

var updateCmd = &cobra.Command{
	Use:     "update <collection> <id> key=value...",
	Short:   "Update fields of a record",
	Example: "overbox update games 3f2a... result=win",
	Args:    cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := parseAssignments(args[2:])
		if err != nil {
			return err
		}
		return write(cmd, overbox.Op{Collection: args[0], EntityID: args[1], Kind: overbox.KindUpdate, Payload: payload})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <collection> <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return write(cmd, overbox.Op{Collection: args[0], EntityID: args[1], Kind: overbox.KindDelete})
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard <collection> <id>",
	Short: "Abandon the pending change for a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close()

		removed, err := s.client.Discard(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if !removed {
			fmt.Println("nothing pending")
			return nil
		}
		fmt.Println("discarded")
		return nil
	},
}

func write(cmd *cobra.Command, op overbox.Op) error {
	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.client.EnqueueOrSend(cmd.Context(), op)
	if err != nil {
		return err
	}
	switch {
	case res.Dropped:
		fmt.Printf("%s: pending create cancelled\n", res.ID)
	case res.Queued:
		fmt.Printf("%s: queued, %d change(s) waiting to sync\n", res.ID, s.client.PendingCount())
	default:
		fmt.Printf("%s: saved\n", res.ID)
	}
	return nil
}

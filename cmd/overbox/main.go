// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-overbox/kvstore"
	"github.com/mobiletoly/go-overbox/netstate"
	"github.com/mobiletoly/go-overbox/overbox"
	"github.com/mobiletoly/go-overbox/remote"
)

var (
	flagConfig  string
	flagOffline bool
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "overbox",
	Short: "Offline-capable client for a gamestore server",
	Long: "Read and edit server collections with or without a network connection.\n" +
		"Writes made offline are kept in a local outbox and replayed by 'overbox sync'.",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.overbox/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&flagOffline, "offline", false, "do not contact the server")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

// session is an opened client plus the resources it owns.
type session struct {
	client  *overbox.Client
	store   *kvstore.Fallback
	network *netstate.Monitor
	cfg     *Config
}

func (s *session) Close() {
	_ = s.client.Close()
	s.network.Close()
	_ = s.store.Close()
}

// openSession loads configuration and opens the offline client.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	store := kvstore.OpenDurable(cfg.Client.DB, cfg.Client.Namespace, logger)

	var src netstate.Source
	if cfg.Client.Offline || cfg.Server.URL == "" {
		src = netstate.NewManualSource(false)
	} else {
		src = netstate.NewHTTPProbe(ctx, netstate.ProbeConfig{
			URL:    strings.TrimRight(cfg.Server.URL, "/") + "/health",
			Logger: logger,
		})
	}
	network := netstate.NewMonitor(src)

	rc := remote.NewHTTPClient(cfg.Server.URL, remote.StaticToken(cfg.Server.Token))

	clientCfg := overbox.DefaultConfig()
	clientCfg.Logger = logger
	clientCfg.AutoFlush = false
	clientCfg.FlushOnOpen = false

	client, err := overbox.Open(ctx, store, rc, network, clientCfg)
	if err != nil {
		network.Close()
		_ = store.Close()
		return nil, err
	}
	return &session{client: client, store: store, network: network, cfg: cfg}, nil
}

// parseAssignments turns key=value arguments into a record. Values that parse
// as JSON keep their JSON type; everything else is a string.
func parseAssignments(args []string) (overbox.Record, error) {
	rec := overbox.Record{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		rec[key] = v
	}
	return rec, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

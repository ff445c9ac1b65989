// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-overbox/gamestore"
)

var (
	loginUser   string
	loginDevice string
)

func init() {
	loginCmd.Flags().StringVar(&loginUser, "user", "", "user name")
	loginCmd.Flags().StringVar(&loginDevice, "device", "", "device id (generated and remembered when empty)")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain a token from the server and store it in the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return err
		}
		effective := *cfg
		if err := applyEnv(&effective); err != nil {
			return err
		}
		if effective.Server.URL == "" {
			return fmt.Errorf("server.url is not set; run 'overbox config set server.url <url>'")
		}
		if loginUser != "" {
			cfg.Server.User = loginUser
		}
		if cfg.Server.User == "" {
			return fmt.Errorf("--user is required")
		}
		if loginDevice != "" {
			cfg.Server.Device = loginDevice
		}
		if cfg.Server.Device == "" {
			cfg.Server.Device = uuid.NewString()
		}

		body, _ := json.Marshal(gamestore.TokenRequest{User: cfg.Server.User, Device: cfg.Server.Device})
		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
			strings.TrimRight(effective.Server.URL, "/")+"/auth/token", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("token request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("token request failed: status %d", resp.StatusCode)
		}
		var out gamestore.TokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode token response: %w", err)
		}

		cfg.Server.Token = out.Token
		if err := saveConfig(path, cfg); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s on device %s (token valid %ds)\n", out.User, out.Device, out.ExpiresIn)
		return nil
	},
}

// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-overbox/kvstore"
)

// Config is the CLI configuration stored in ~/.overbox/config.toml.
type Config struct {
	Server ConfigServer `toml:"server"`
	Client ConfigClient `toml:"client"`
}

// ConfigServer locates and authenticates against the gamestore server.
type ConfigServer struct {
	URL    string `toml:"url"`
	Token  string `toml:"token"`
	User   string `toml:"user"`
	Device string `toml:"device"`
}

// ConfigClient controls local storage.
type ConfigClient struct {
	DB        string `toml:"db"`
	Namespace string `toml:"namespace"`
	Offline   bool   `toml:"offline"`
}

// envOverrides are applied on top of the config file.
type envOverrides struct {
	ServerURL string `env:"OVERBOX_SERVER_URL"`
	Token     string `env:"OVERBOX_TOKEN"`
	DB        string `env:"OVERBOX_DB"`
	Offline   string `env:"OVERBOX_OFFLINE"`
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage overbox configuration",
	Long:  "View or modify the configuration stored in ~/.overbox/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		if cfg.Server.Token != "" {
			cfg.Server.Token = maskToken(cfg.Server.Token)
		}
		data, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: overbox config set server.url http://localhost:8080",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(path, cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Set %s\n", key)
		return nil
	},
}

// configPath returns the config file path, creating ~/.overbox when needed.
func configPath() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".overbox")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// loadConfig reads and parses the config file.
// A missing file yields a zero-value Config.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

func saveConfig(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// resolveConfig loads the file, applies environment overrides, flags and defaults.
func resolveConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if flagOffline {
		cfg.Client.Offline = true
	}
	if cfg.Client.Namespace == "" {
		cfg.Client.Namespace = kvstore.DefaultNamespace
	}
	if cfg.Client.DB == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		cfg.Client.DB = filepath.Join(dir, "offline.db")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.ServerURL != "" {
		cfg.Server.URL = o.ServerURL
	}
	if o.Token != "" {
		cfg.Server.Token = o.Token
	}
	if o.DB != "" {
		cfg.Client.DB = o.DB
	}
	if o.Offline != "" {
		offline, err := strconv.ParseBool(o.Offline)
		if err != nil {
			return fmt.Errorf("OVERBOX_OFFLINE: %w", err)
		}
		cfg.Client.Offline = offline
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "server.url").
func setConfigValue(cfg *Config, key, value string) error {
	section, field, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.url)")
	}

	switch section {
	case "server":
		switch field {
		case "url":
			cfg.Server.URL = value
		case "token":
			cfg.Server.Token = value
		case "user":
			cfg.Server.User = value
		case "device":
			cfg.Server.Device = value
		default:
			return fmt.Errorf("unknown field %q in section [server]", field)
		}
	case "client":
		switch field {
		case "db":
			cfg.Client.DB = value
		case "namespace":
			cfg.Client.Namespace = value
		case "offline":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("client.offline must be true or false")
			}
			cfg.Client.Offline = b
		default:
			return fmt.Errorf("unknown field %q in section [client]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: server, client)", section)
	}
	return nil
}

func maskToken(tok string) string {
	if len(tok) <= 12 {
		return "****"
	}
	return tok[:6] + "..." + tok[len(tok)-4:]
}

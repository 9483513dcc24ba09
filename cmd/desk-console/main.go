// ABOUTME: Entry point for the agent console: cobra root command, config and token lookup
// ABOUTME: Subcommands are run (interactive), groups and history (one-shot listings)

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/coven-desk/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

var (
	configPath string
	tokenFlag  string
)

var rootCmd = &cobra.Command{
	Use:          "desk-console",
	Short:        "Agent console for the customer-service desk",
	Long:         "desk-console lists waiting and active customer chats, and lets an agent accept, answer, transfer and end them.",
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $DESK_CONFIG or ~/.config/coven-desk/console.yaml)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "agent token (overrides $DESK_TOKEN and the config file)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getConfigPath returns the path to the console config file.
// Priority: DESK_CONFIG env var > XDG_CONFIG_HOME/coven-desk/console.yaml > ~/.config/coven-desk/console.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "console.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven-desk", "console.yaml")
}

// loadConfig loads the config file and resolves the agent token. A missing
// default config file yields the defaults; an explicit --config must exist.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	explicit := path != ""
	if !explicit {
		path = getConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("loading config: %w", err)
		}
		cfg = config.Default()
	}

	token, err := resolveToken(cfg)
	if err != nil {
		return nil, "", err
	}
	return cfg, token, nil
}

// resolveToken picks the token from --token, DESK_TOKEN, then the config.
func resolveToken(cfg *config.Config) (string, error) {
	if tokenFlag != "" {
		return strings.TrimSpace(tokenFlag), nil
	}
	if env := os.Getenv("DESK_TOKEN"); env != "" {
		return strings.TrimSpace(env), nil
	}
	token, err := cfg.ResolveToken()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("no agent token: pass --token, set DESK_TOKEN, or set auth.token in the config file")
	}
	return token, nil
}

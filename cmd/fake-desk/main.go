// ABOUTME: Entry point for the local fake desk backend
// ABOUTME: Serves the console's REST and websocket contract from SQLite and mints agent tokens

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-desk/internal/auth"
	"github.com/2389/coven-desk/internal/config"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/gateway"
	"github.com/2389/coven-desk/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __       _               _           _
 / _| __ _| | _____     __| | ___  ___| | __
| |_ / _' | |/ / _ \   / _' |/ _ \/ __| |/ /
|  _| (_| |   <  __/  | (_| |  __/\__ \   <
|_|  \__,_|_|\_\___|   \__,_|\___||___/_|\_\
`

// getDataPath returns the path to the fake desk data directory.
// Priority: XDG_DATA_HOME/coven-desk > ~/.local/share/coven-desk
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven-desk")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: fake-desk <command> [flags]")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the fake backend")
		fmt.Println("  token     Mint an agent token")
		fmt.Println("  health    Check backend health")
		fmt.Println("  ready     Check backend readiness")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runProbe(ctx, os.Args[2:], "/health")
	case "ready":
		err = runProbe(ctx, os.Args[2:], "/health/ready")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveSecret returns the flag value, DESK_JWT_SECRET, or a fresh random
// secret, in that order. generated reports the last case.
func resolveSecret(flagValue string) (secret string, generated bool, err error) {
	if flagValue != "" {
		return flagValue, false, nil
	}
	if env := os.Getenv("DESK_JWT_SECRET"); env != "" {
		return env, false, nil
	}
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", false, fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), true, nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", "localhost:8080", "HTTP listen address")
	dbPath := fs.String("db", filepath.Join(getDataPath(), "desk.db"), "SQLite database path")
	secretFlag := fs.String("secret", "", "JWT secret (default $DESK_JWT_SECRET or random)")
	simulate := fs.Bool("simulate", false, "run the customer simulator")
	interval := fs.Duration("simulate-interval", 5*time.Second, "pause between simulated customer actions")
	agentID := fs.String("agent", "agent-1", "agent id for the startup token")
	logLevel := fs.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "text", "log format (text, json)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, generated, err := resolveSecret(*secretFlag)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger, closer := logging.Setup(config.LoggingConfig{Level: *logLevel, Format: *logFormat})
	defer closer.Close()

	gw, err := gateway.New(gateway.Config{
		HTTPAddr:         *addr,
		DBPath:           *dbPath,
		JWTSecret:        secret,
		Simulate:         *simulate,
		SimulateInterval: *interval,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	token, err := gw.MintToken(&desk.Identity{UserID: *agentID, Name: *agentID, Role: auth.RoleAgent}, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("minting startup token: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("HTTP:      http://%s\n", *addr)
	green.Print("    ▶ ")
	fmt.Printf("Websocket: ws://%s/ws\n", *addr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", *dbPath)
	if *simulate {
		green.Print("    ▶ ")
		fmt.Printf("Simulator: every %s\n", *interval)
	}
	if generated {
		yellow.Print("    ! ")
		fmt.Println("Using a random JWT secret; tokens stop working after restart")
	}
	green.Print("    ▶ ")
	fmt.Printf("Token (%s): ", *agentID)
	cyan.Println(token)
	fmt.Println()

	return gw.Run(ctx)
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secretFlag := fs.String("secret", "", "JWT secret (default $DESK_JWT_SECRET)")
	userID := fs.String("id", "agent-1", "agent user id")
	name := fs.String("name", "", "agent display name")
	role := fs.String("role", auth.RoleAgent, "agent role (admin, agent, supervisor, observer)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, generated, err := resolveSecret(*secretFlag)
	if err != nil {
		return err
	}
	if generated {
		return fmt.Errorf("a secret is required: pass -secret or set DESK_JWT_SECRET")
	}
	if auth.DefaultCapabilities(*role) == nil {
		return fmt.Errorf("unknown role %q", *role)
	}

	displayName := *name
	if displayName == "" {
		displayName = *userID
	}

	id := &desk.Identity{
		UserID:       *userID,
		Name:         displayName,
		Role:         *role,
		Capabilities: auth.DefaultCapabilities(*role),
	}
	token, err := auth.NewVerifier([]byte(secret)).Generate(id, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runProbe(ctx context.Context, args []string, path string) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	addr := fs.String("addr", "localhost:8080", "backend HTTP address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s%s", *addr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}

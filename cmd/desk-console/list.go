// ABOUTME: One-shot REST listings: directory snapshots and a session's history
// ABOUTME: Useful for scripting and for checking a token against the backend

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-desk/internal/api"
	"github.com/2389/coven-desk/internal/auth"
	"github.com/2389/coven-desk/internal/console"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/logging"
	"github.com/2389/coven-desk/internal/messages"
)

var (
	groupsScope  string
	historyLimit int
	historyPages int
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List waiting chats (or your active chats with --scope chat)",
	Args:  cobra.NoArgs,
	RunE:  runGroups,
}

var historyCmd = &cobra.Command{
	Use:   "history <sessionId>",
	Short: "Print a session's message history",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	groupsCmd.Flags().StringVar(&groupsScope, "scope", string(api.ScopeQueue), "queue or chat")
	historyCmd.Flags().IntVar(&historyLimit, "limit", messages.DefaultPageSize, "messages per page")
	historyCmd.Flags().IntVar(&historyPages, "pages", 1, "number of pages to walk back")
	rootCmd.AddCommand(groupsCmd, historyCmd)
}

// newClient builds a REST client for one-shot commands.
func newClient() (*api.Client, func(), error) {
	cfg, token, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	identity, err := auth.ParseIdentity(token)
	if err != nil {
		return nil, nil, fmt.Errorf("reading agent token: %w", err)
	}
	logger, closer := logging.Setup(cfg.Logging)
	client := api.NewClient(cfg.Server.APIURL, token, identity.UserID, api.WithLogger(logger))
	return client, func() { _ = closer.Close() }, nil
}

func runGroups(cmd *cobra.Command, args []string) error {
	scope := api.Scope(groupsScope)
	if scope != api.ScopeQueue && scope != api.ScopeChat {
		return fmt.Errorf("scope must be %q or %q", api.ScopeQueue, api.ScopeChat)
	}

	client, done, err := newClient()
	if err != nil {
		return err
	}
	defer done()

	groups, err := client.FetchGroups(cmd.Context(), scope)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(groups) == 0 {
		fmt.Fprintln(out, "(none)")
		return nil
	}
	for i, g := range groups {
		fmt.Fprintf(out, "%s  %s\n", console.FormatSession(i, g.Session), g.Session.SessionID)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit <= 0 || historyPages <= 0 {
		return fmt.Errorf("--limit and --pages must be positive")
	}

	client, done, err := newClient()
	if err != nil {
		return err
	}
	defer done()

	var (
		all    []desk.Message
		before *time.Time
	)
	for page := 0; page < historyPages; page++ {
		msgs, err := client.FetchMessages(cmd.Context(), args[0], before, historyLimit)
		if err != nil {
			return err
		}
		all = messages.Merge(msgs, all)
		if len(msgs) < historyLimit {
			break
		}
		oldest := msgs[0].ServerTimestamp
		before = &oldest
	}

	out := cmd.OutOrStdout()
	if len(all) == 0 {
		fmt.Fprintln(out, "(no messages)")
		return nil
	}
	for _, m := range all {
		fmt.Fprintln(out, console.FormatMessage(m))
	}
	return nil
}

// ABOUTME: Interactive command loop over the Queue and Chat views
// ABOUTME: Slash commands drive navigation and actions; any other line is sent to the focused chat

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-desk/internal/console"
	"github.com/2389/coven-desk/internal/desk"
	"github.com/2389/coven-desk/internal/realtime"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the interactive console",
	Args:  cobra.NoArgs,
	RunE:  runConsole,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, token, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(ctx, cfg, token, out)
	if err != nil {
		return err
	}
	defer a.Close()

	color.New(color.FgCyan).Fprintf(out, "desk-console %s\n", version)
	fmt.Fprintf(out, "Signed in as %s (%s). /help for commands, /quit to exit.\n\n", a.identity.UserID, a.identity.Role)

	r := &repl{app: a, out: out}
	r.showList(ctx)
	err = r.loop(ctx, cmd.InOrStdin())
	fmt.Fprintln(out, "\nGoodbye!")
	return err
}

// repl executes console commands against an app.
type repl struct {
	app *app
	out io.Writer
}

func (r *repl) prompt() string {
	v := r.app.View()
	label := "queue"
	if v.Mode() == realtime.ModeChat {
		label = "chats"
	}
	if s, ok := v.Focused(); ok {
		name := s.CustomerName
		if name == "" {
			name = s.SessionID
		}
		label += ":" + name
		if v.ChatEnded() {
			label += " (ended)"
		}
	}
	return "[" + label + "]> "
}

func (r *repl) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, r.prompt())

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else if err := scanner.Err(); err != nil {
				errCh <- err
			} else {
				errCh <- io.EOF
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		if quit := r.handle(ctx, input); quit {
			return nil
		}
	}
}

// handle runs one input line. It reports true when the console should exit.
func (r *repl) handle(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}
	if !strings.HasPrefix(input, "/") {
		r.reportErr(r.app.View().Send(ctx, input))
		return false
	}

	command, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/quit", "/exit", "/q":
		return true
	case "/help":
		r.printHelp()
	case "/queue":
		r.app.Switch(r.app.queue)
		r.showList(ctx)
	case "/chats":
		r.app.Switch(r.app.chat)
		r.showList(ctx)
	case "/list":
		r.showList(ctx)
	case "/dept":
		r.selectDepartment(arg)
	case "/select":
		r.selectSession(ctx, arg)
	case "/more":
		r.loadMore(ctx)
	case "/accept":
		r.accept(ctx, arg)
	case "/transfer":
		r.transfer(ctx, arg)
	case "/end":
		r.reportErr(r.app.View().EndChat(ctx))
	case "/leave":
		r.app.View().Leave()
		fmt.Fprintln(r.out, "Left the chat.")
	case "/reconnect":
		if err := r.app.View().Logout(ctx); err != nil {
			r.reportErr(err)
		} else {
			fmt.Fprintln(r.out, "Reconnected.")
		}
	default:
		fmt.Fprintf(r.out, "Unknown command %s. Type /help for commands.\n", command)
	}
	return false
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, `Commands:
  /queue              Show waiting chats
  /chats              Show your active chats
  /list               Reprint the current list
  /dept [name]        Filter by department (no name lists departments)
  /select <n>         Open chat n from the list
  /more               Load older messages
  /accept [n]         Accept chat n, or the open chat
  /transfer [deptId]  Transfer the open chat (no id lists departments)
  /end                End the open chat
  /leave              Close the open chat
  /reconnect          Reset the realtime connection
  /quit               Exit
Anything else is sent to the open chat.`)
}

func (r *repl) showList(ctx context.Context) {
	v := r.app.View()
	if err := v.Refresh(ctx); err != nil {
		r.reportErr(err)
	}

	title := "Waiting chats"
	if v.Mode() == realtime.ModeChat {
		title = "Your chats"
	}
	color.New(color.Bold).Fprintf(r.out, "%s [%s]\n", title, v.Department())

	sessions := v.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(r.out, "  (none)")
		return
	}
	for i, s := range sessions {
		fmt.Fprintln(r.out, console.FormatSession(i, s))
	}
}

func (r *repl) selectDepartment(name string) {
	v := r.app.View()
	if name == "" {
		fmt.Fprintln(r.out, "Departments: "+strings.Join(v.Departments(), ", "))
		return
	}
	effective := v.SelectDepartment(name)
	if effective != name {
		fmt.Fprintf(r.out, "No chats in %s, showing %s.\n", name, effective)
	}
	for i, s := range v.Sessions() {
		fmt.Fprintln(r.out, console.FormatSession(i, s))
	}
}

// sessionArg resolves a one-based list position.
func (r *repl) sessionArg(arg string) (desk.Session, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return desk.Session{}, fmt.Errorf("expected a list number, got %q", arg)
	}
	return r.app.View().SessionAt(n - 1)
}

func (r *repl) selectSession(ctx context.Context, arg string) {
	s, err := r.sessionArg(arg)
	if err != nil {
		r.reportErr(err)
		return
	}
	v := r.app.View()
	snap, err := v.Select(ctx, s)
	if err != nil {
		r.reportErr(err)
	}
	r.printWindow(snap.Messages, snap.HasMore)
}

func (r *repl) loadMore(ctx context.Context) {
	v := r.app.View()
	if !v.HasMore() {
		fmt.Fprintln(r.out, "No older messages.")
		return
	}
	snap, err := v.LoadMore(ctx)
	if err != nil {
		r.reportErr(err)
		return
	}
	r.printWindow(snap.Messages, snap.HasMore)
}

func (r *repl) printWindow(msgs []desk.Message, hasMore bool) {
	r.app.markPrinted(msgs)
	if hasMore {
		fmt.Fprintln(r.out, color.HiBlackString("  ... /more for older messages"))
	}
	for _, m := range msgs {
		fmt.Fprintln(r.out, console.FormatMessage(m))
	}
}

func (r *repl) accept(ctx context.Context, arg string) {
	v := r.app.View()
	var target *desk.Session
	if arg != "" {
		s, err := r.sessionArg(arg)
		if err != nil {
			r.reportErr(err)
			return
		}
		target = &s
	}
	if _, err := v.Accept(ctx, target); err != nil {
		r.reportErr(err)
		return
	}
	fmt.Fprintln(r.out, "Use /chats to continue the conversation.")
}

func (r *repl) transfer(ctx context.Context, deptID string) {
	if deptID == "" {
		depts, err := r.app.client.ListDepartments(ctx)
		if err != nil {
			r.reportErr(err)
			return
		}
		for _, d := range depts {
			state := ""
			if !d.IsActive {
				state = color.HiBlackString(" (inactive)")
			}
			fmt.Fprintf(r.out, "  %-10s %s%s\n", d.DeptID, d.Name, state)
		}
		return
	}
	r.reportErr(r.app.View().Transfer(ctx, deptID))
}

// reportErr prints errors the notifier has not already shown.
func (r *repl) reportErr(err error) {
	switch {
	case err == nil, errors.Is(err, desk.ErrStaleFocus), errors.Is(err, desk.ErrEmptyBody):
		return
	case errors.Is(err, desk.ErrNoFocus):
		fmt.Fprintln(r.out, "No chat open. Use /select <n> first.")
	case errors.Is(err, desk.ErrInFlight):
		fmt.Fprintln(r.out, "Still working on that.")
	case errors.Is(err, desk.ErrDenied), errors.Is(err, desk.ErrNetwork),
		errors.Is(err, desk.ErrNotQueued), errors.Is(err, desk.ErrSameDepartment),
		errors.Is(err, desk.ErrUnknownDepartment), errors.Is(err, desk.ErrNotConnected):
		// already reported
	default:
		fmt.Fprintf(r.out, "[error] %v\n", err)
	}
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"shortlist/pkg/logx"
	"shortlist/pkg/metrics"
	"shortlist/pkg/workflow"
)

type chatFlags struct {
	session string
}

func newChatCmd(flags *rootFlags) *cobra.Command {
	cf := chatFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start (or resume) a research conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), flags, cf)
		},
	}
	cmd.Flags().StringVarP(&cf.session, "session", "s", "", "resume a stored session by ID")
	return cmd
}

func runChat(ctx context.Context, flags *rootFlags, cf chatFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := flags.setup()
	if err != nil {
		return err
	}
	a, err := newApp(flags, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logx.Warnf("⚠️  %v", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &repl{app: a, in: os.Stdin, out: os.Stdout, session: cf.session}

	g, gctx := errgroup.WithContext(ctx)
	replCtx, cancelRepl := context.WithCancel(gctx)
	g.Go(func() error {
		return a.serveMetrics(replCtx)
	})
	g.Go(func() error {
		defer cancelRepl()
		return r.run(replCtx)
	})
	return g.Wait()
}

// repl is the interactive chat loop.
type repl struct {
	app     *app
	in      io.Reader
	out     io.Writer
	session string
	last    *workflow.TurnResult
}

const helpText = `Commands:
  /choose <choice>   answer the pending question (e.g. /choose confirm)
  /table             show the full comparison table
  /export [file]     export the table as CSV
  /history           show every message of this session
  /sessions          list stored sessions
  /logs [n]          show recent log lines
  /metrics           dump metrics
  /reset             start over
  /quit              leave`

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintln(r.out, "🛒 What are you looking for? (/help for commands)")
	if r.session != "" {
		if err := r.resume(ctx); err != nil {
			return err
		}
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		fmt.Fprint(r.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			line = l
		}

		quit, err := r.handle(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(r.out, "❌ %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (r *repl) resume(ctx context.Context) error {
	s, err := r.app.orch.Session(ctx, r.session)
	if err != nil {
		return fmt.Errorf("failed to resume session %s: %w", r.session, err)
	}
	fmt.Fprintf(r.out, "↩️  Resumed session %s (%s)\n", s.ID, s.Phase)
	if n := len(s.Transcript); n > 0 {
		fmt.Fprintf(r.out, "\n%s\n\n", s.Transcript[n-1].Content)
	}
	r.last = &workflow.TurnResult{SessionID: s.ID, Phase: s.Phase, Table: s.Table, Checkpoint: s.Checkpoint, ErrorContext: s.ErrorContext, Version: s.Version}
	return nil
}

// command is a parsed REPL line.
type command struct {
	name string // "" for plain text
	args []string
	text string
}

func parseLine(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{text: line}
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{text: line}
	}
	return command{name: strings.ToLower(fields[0]), args: fields[1:], text: line}
}

// handle processes one line and reports whether the loop should end.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	cmd := parseLine(line)
	switch cmd.name {
	case "":
		if cmd.text == "" {
			return false, nil
		}
		return false, r.turn(ctx, workflow.UserText{Text: cmd.text})
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(r.out, helpText)
	case "choose":
		return false, r.choose(ctx, cmd.args)
	case "table":
		return false, r.showTable(ctx)
	case "export":
		return false, r.export(ctx, cmd.args)
	case "history":
		return false, r.history(ctx)
	case "sessions":
		return false, printSessions(ctx, r.out, r.app.sessions, 20)
	case "logs":
		r.logs(cmd.args)
	case "metrics":
		return false, metrics.WriteText(r.out, r.app.registry)
	case "reset":
		if r.session == "" {
			return false, nil
		}
		if err := r.app.orch.Reset(ctx, r.session); err != nil {
			return false, err
		}
		r.last = nil
		fmt.Fprintln(r.out, "🔄 Starting over. What are you looking for?")
	default:
		fmt.Fprintf(r.out, "Unknown command /%s (try /help)\n", cmd.name)
	}
	return false, nil
}

func (r *repl) choose(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /choose <choice>")
	}
	if r.last == nil || r.last.Checkpoint == nil {
		fmt.Fprintln(r.out, "There's nothing to choose right now.")
		return nil
	}
	return r.turn(ctx, workflow.CheckpointConfirmation{
		ID:     r.last.Checkpoint.ID,
		Choice: workflow.Choice(strings.ToLower(args[0])),
	})
}

func (r *repl) turn(ctx context.Context, in workflow.Inbound) error {
	fmt.Fprintln(r.out, "⏳ Working...")
	res, err := r.app.orch.HandleTurn(ctx, r.session, in)
	if err != nil {
		return err
	}
	r.session = res.SessionID
	r.last = &res

	fmt.Fprintf(r.out, "\n%s\n", res.Message)
	if res.Progress.Total > 0 {
		fmt.Fprintf(r.out, "\n[%s · %d/%d cells researched]\n", res.Phase, res.Progress.Enriched, res.Progress.Total)
	}
	if res.Checkpoint != nil {
		fmt.Fprintf(r.out, "👉 Reply with %s\n", choiceHint(res.Checkpoint.Choices))
	}
	if res.ExportCSV != "" {
		path, err := writeExport(res.SessionID, "", res.ExportCSV)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "💾 Saved %s\n", path)
	}
	fmt.Fprintln(r.out)
	return nil
}

func choiceHint(choices []workflow.Choice) string {
	parts := make([]string, 0, len(choices))
	for _, c := range choices {
		parts = append(parts, "/choose "+string(c))
	}
	return strings.Join(parts, " or ")
}

func (r *repl) showTable(ctx context.Context) error {
	if r.session == "" {
		fmt.Fprintln(r.out, "No research yet.")
		return nil
	}
	s, err := r.app.orch.Session(ctx, r.session)
	if err != nil {
		return err
	}
	if s.Table == nil || s.Table.RowCount() == 0 {
		fmt.Fprintln(r.out, "No research yet.")
		return nil
	}
	fmt.Fprintln(r.out, s.Table.DisplayTable(0, true))
	return nil
}

func (r *repl) export(ctx context.Context, args []string) error {
	if r.session == "" {
		fmt.Fprintln(r.out, "Nothing to export yet.")
		return nil
	}
	csv, err := r.app.orch.Export(ctx, r.session)
	if err != nil {
		return err
	}
	target := ""
	if len(args) > 0 {
		target = args[0]
	}
	path, err := writeExport(r.session, target, csv)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "💾 Saved %s\n", path)
	return nil
}

// writeExport writes csv to path, or to shortlist-<session>.csv when path is empty.
func writeExport(sessionID, path, csv string) (string, error) {
	if path == "" {
		short := sessionID
		if len(short) > 8 {
			short = short[:8]
		}
		path = "shortlist-" + short + ".csv"
	}
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}

func (r *repl) history(ctx context.Context) error {
	if r.session == "" {
		return nil
	}
	var turns []workflow.Turn
	if r.app.sessions != nil {
		logged, err := r.app.sessions.History(ctx, r.session)
		if err != nil {
			return err
		}
		turns = logged
	} else {
		s, err := r.app.orch.Session(ctx, r.session)
		if err != nil {
			return err
		}
		turns = s.Transcript
	}
	for _, t := range turns {
		fmt.Fprintf(r.out, "[%s] %s: %s\n", t.At.Local().Format("15:04"), t.Role, t.Content)
	}
	return nil
}

func (r *repl) logs(args []string) {
	n := 20
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
			n = v
		}
	}
	for _, e := range logx.Recent(n) {
		fmt.Fprintf(r.out, "%s [%s] %s: %s\n", e.Timestamp.Local().Format("15:04:05"), e.Level, e.Component, e.Message)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"shortlist/pkg/config"
	"shortlist/pkg/persistence"
)

var errNoSQLite = errors.New("stored sessions need session.store: sqlite")

func newSessionsCmd(flags *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSessionStore(flags, func(store *persistence.SessionStore) error {
				return printSessions(cmd.Context(), cmd.OutOrStdout(), store, limit)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum sessions to list")

	cmd.AddCommand(&cobra.Command{
		Use:   "history <session-id>",
		Short: "Print every logged message of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(flags, func(store *persistence.SessionStore) error {
				turns, err := store.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, t := range turns {
					fmt.Fprintf(out, "[%s] %s: %s\n", t.At.Local().Format("2006-01-02 15:04"), t.Role, t.Content)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Forget a stored session (its message log is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(flags, func(store *persistence.SessionStore) error {
				if err := store.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Deleted %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func withSessionStore(flags *rootFlags, fn func(*persistence.SessionStore) error) error {
	cfg, err := flags.setup()
	if err != nil {
		return err
	}
	if cfg.Session.Store != config.StoreSQLite {
		return errNoSQLite
	}
	if _, statErr := os.Stat(cfg.Session.SQLitePath); statErr != nil {
		return fmt.Errorf("no session database at %s: %w", cfg.Session.SQLitePath, statErr)
	}
	db, err := persistence.Open(cfg.Session.SQLitePath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(persistence.NewSessionStore(db))
}

func printSessions(ctx context.Context, out io.Writer, store *persistence.SessionStore, limit int) error {
	if store == nil {
		return errNoSQLite
	}
	list, err := store.List(ctx, limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No stored sessions.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tPHASE\tPRODUCT\tUPDATED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.SessionID, s.Phase, s.ProductType, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

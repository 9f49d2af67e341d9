package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MrWong99/parley/internal/history"
)

func newHistoryCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse stored practice sessions",
	}
	cmd.AddCommand(newHistoryListCmd(g), newHistoryShowCmd(g))
	return cmd
}

func newHistoryListCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), g, func(ctx context.Context, s history.Store) error {
				sums, err := s.List(ctx, limit)
				if err != nil {
					return err
				}
				printSummaries(cmd.OutOrStdout(), sums)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of sessions to list (0 lists all)")
	return cmd
}

func newHistoryShowCmd(g *globals) *cobra.Command {
	var exportDir string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored session's transcript and critique",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session id %q: %w", args[0], err)
			}
			return withStore(cmd.Context(), g, func(ctx context.Context, s history.Store) error {
				rec, err := s.Get(ctx, id)
				if errors.Is(err, history.ErrNotFound) {
					return fmt.Errorf("no session with id %s", id)
				}
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Session %s\n", rec.ID)
				fmt.Fprintf(out, "  started   %s\n", rec.StartedAt.Local().Format(time.DateTime))
				fmt.Fprintf(out, "  duration  %s\n", rec.Duration().Round(time.Second))
				fmt.Fprintf(out, "  provider  %s\n", rec.Provider)
				fmt.Fprintf(out, "  persona   %s, %s\n\n", rec.Persona.Name, rec.Persona.Role)
				fmt.Fprintln(out, rec.Transcript)
				newConsole(out).report(rec.Vocal, rec.Critique)

				if exportDir != "" {
					n, err := exportTurns(exportDir, rec)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "\nExported %d recordings to %s\n", n, exportDir)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&exportDir, "export", "", "write each turn's recording as a WAV file into this directory")
	return cmd
}

// withStore loads the config, opens the history store, and runs fn.
func withStore(ctx context.Context, g *globals, fn func(context.Context, history.Store) error) error {
	if err := g.load(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openHistory(ctx, g.cfg.History)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("history is disabled; set history.postgres_dsn or history.dir in the config")
	}
	defer store.Close()
	return fn(ctx, store)
}

func printSummaries(w io.Writer, sums []history.Summary) {
	if len(sums) == 0 {
		fmt.Fprintln(w, "No sessions stored yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tPERSONA\tTOPIC\tTURNS\tPACE\tSCORE")
	for _, s := range sums {
		score := "-"
		if s.Overall >= 0 {
			score = fmt.Sprint(s.Overall)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID, s.StartedAt.Local().Format(time.DateTime), s.Duration.Round(time.Second),
			s.Persona, s.Topic, s.Turns, s.Pace, score)
	}
	tw.Flush()
}

// exportTurns writes every turn that has audio as <seq>-<role>.wav.
func exportTurns(dir string, rec *history.Record) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	n := 0
	for i, t := range rec.Turns {
		if t.Audio == nil || t.Audio.Released() {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%02d-%s.wav", i, t.Role))
		if err := os.WriteFile(path, t.Audio.Bytes(), 0o644); err != nil {
			return n, fmt.Errorf("write %s: %w", path, err)
		}
		n++
	}
	return n, nil
}

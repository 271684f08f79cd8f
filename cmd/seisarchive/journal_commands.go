package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"seisarchive/internal/journal"
)

func newJournalCommand(ctx *commandContext) *cobra.Command {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the run journal",
	}
	journalCmd.AddCommand(newJournalListCommand(ctx))
	journalCmd.AddCommand(newJournalShowCommand(ctx))
	journalCmd.AddCommand(newJournalStatsCommand(ctx))
	journalCmd.AddCommand(newJournalPruneCommand(ctx))
	return journalCmd
}

func newJournalListCommand(ctx *commandContext) *cobra.Command {
	var filter journal.Filter
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJournal(cmd.Context(), func(store *journal.Store) error {
				entries, err := store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, entries)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No runs journaled")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						strconv.FormatInt(e.ID, 10),
						e.File,
						e.Policy,
						stateLabel(e.State, colorize),
						e.Stage,
						e.ReasonCode,
						e.FinishedAt.Local().Format("2006-01-02 15:04:05"),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "File", "Policy", "State", "Stage", "Reason", "Finished"},
					rows,
					0,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter.File, "file", "", "Only runs of this canonical filename")
	cmd.Flags().StringVar(&filter.Policy, "policy", "", "Only runs of this policy")
	cmd.Flags().StringVar(&filter.State, "state", "", "Only runs ending in this state (ok or error)")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "Maximum rows to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newJournalShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one journaled run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			return ctx.withJournal(cmd.Context(), func(store *journal.Store) error {
				entry, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if entry == nil {
					return fmt.Errorf("run %d not found", id)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run %d: %s\n", entry.ID, entry.File)
				fmt.Fprintf(out, "  Policy:     %s\n", entry.Policy)
				fmt.Fprintf(out, "  State:      %s (%s)\n", entry.State, entry.Exit)
				fmt.Fprintf(out, "  Stage:      %s\n", entry.Stage)
				if entry.ReasonCode != "" {
					fmt.Fprintf(out, "  Reason:     %s [%s] %s\n", entry.ReasonCode, entry.ReasonClass, entry.ReasonMessage)
				}
				if entry.Identifier != "" {
					fmt.Fprintf(out, "  Identifier: %s\n", entry.Identifier)
				}
				fmt.Fprintf(out, "  Source:     %s\n", entry.SourcePath)
				fmt.Fprintf(out, "  Location:   %s\n", displayPath(entry.FinalPath))
				fmt.Fprintf(out, "  Trail:      %s\n", strings.Join(entry.Trail, " -> "))
				fmt.Fprintf(out, "  Duration:   %s\n", entry.FinishedAt.Sub(entry.StartedAt).Round(time.Millisecond))
				if entry.ErrorMessage != "" {
					fmt.Fprintf(out, "  Error:      %s\n", entry.ErrorMessage)
				}
				if entry.SessionJSON != "" {
					fmt.Fprintf(out, "  Session:    %s\n", entry.SessionJSON)
				}
				return nil
			})
		},
	}
}

func newJournalStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count journaled runs by final state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJournal(cmd.Context(), func(store *journal.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				states := make([]string, 0, len(stats))
				for state := range stats {
					states = append(states, state)
				}
				sort.Strings(states)
				rows := make([][]string, 0, len(states))
				for _, state := range states {
					rows = append(rows, []string{state, strconv.Itoa(stats[state])})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"State", "Runs"}, rows, 1))
				return nil
			})
		},
	}
}

func newJournalPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal rows older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return ctx.withJournal(cmd.Context(), func(store *journal.Store) error {
				removed, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age of rows to delete")
	return cmd
}

package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"seisarchive/internal/config"
	"seisarchive/internal/logging"
	"seisarchive/internal/metadata/backend"
	"seisarchive/internal/policy"
	"seisarchive/internal/sds"
)

func newVersionsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "versions <identifier>",
		Short: "Show the version chain of a persistent identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			manager, err := backend.NewManager(cmd.Context(), cfg, logging.NewNop())
			if err != nil {
				return err
			}
			defer manager.Store().Close()

			identifier := strings.TrimSpace(args[0])
			versions, err := manager.Versions(cmd.Context(), identifier)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, versions)
			}
			out := cmd.OutOrStdout()
			if len(versions) == 0 {
				fmt.Fprintf(out, "No versions recorded for %s\n", identifier)
				return nil
			}
			rows := make([][]string, 0, len(versions))
			for _, v := range versions {
				rows = append(rows, []string{
					v.Number,
					yesNo(v.Enabled),
					v.File.Name,
					v.File.Position,
					v.StartDate.UTC().Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Version", "Enabled", "File", "Position", "Started"},
				rows,
				0,
			))
			if err := manager.Verify(cmd.Context(), identifier); err != nil {
				fmt.Fprintf(out, "warning: %v\n", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var rootName string

	cmd := &cobra.Command{
		Use:   "resolve <filename>...",
		Short: "Print the archive path of canonical filenames",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root, err := archiveRoot(cfg, rootName)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, arg := range args {
				name := strings.TrimSpace(arg)
				if sds.IsVersioned(name) {
					canonical, _, err := sds.SplitVersioned(name)
					if err != nil {
						return err
					}
					name = canonical
				}
				path, err := sds.Resolve(root, name)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rootName, "root", "trusted", "Archive root: trusted, warning, bad, noauth, versions, working or past")
	return cmd
}

func archiveRoot(cfg *config.Config, name string) (string, error) {
	roots := map[string]string{
		"trusted":  cfg.Archive.TrustedDir,
		"warning":  cfg.Archive.WarningDir,
		"bad":      cfg.Archive.BadDir,
		"noauth":   cfg.Archive.NoAuthDir,
		"versions": cfg.Archive.VersionDir,
		"working":  cfg.Archive.WorkingDir,
		"past":     cfg.Archive.PastDir,
	}
	root, ok := roots[strings.ToLower(strings.TrimSpace(name))]
	if !ok || root == "" {
		return "", fmt.Errorf("unknown archive root %q", name)
	}
	return root, nil
}

func newPoliciesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the available policies and their stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			set, err := policy.Load(cfg.Paths.PolicyDir)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(set))
			for _, name := range set.Names() {
				p, _ := set.Get(name)
				stages := strings.Join(p.Stages, ", ")
				if len(p.Detours) > 0 {
					stages += " (detours: " + strings.Join(p.Detours, ", ") + ")"
				}
				rows = append(rows, []string{name, stages, p.Source})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Policy", "Stages", "Source"}, rows))
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show readiness checks and journal totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := ctx.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			status := env.manager.Status(cmd.Context())
			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(status.Readiness))
			for _, r := range status.Readiness {
				rows = append(rows, []string{r.Name, yesNo(r.Passed), r.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "Passed", "Detail"}, rows))

			states := make([]string, 0, len(status.JournalStats))
			for state := range status.JournalStats {
				states = append(states, state)
			}
			sort.Strings(states)
			parts := make([]string, 0, len(states))
			for _, state := range states {
				parts = append(parts, state+"="+strconv.Itoa(status.JournalStats[state]))
			}
			if len(parts) == 0 {
				parts = append(parts, "none")
			}
			fmt.Fprintf(out, "Journaled runs: %s\n", strings.Join(parts, " "))
			return nil
		},
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"seisarchive/internal/daemon"
	"seisarchive/internal/pipeline"
	"seisarchive/internal/session"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var policyName string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Run files through a policy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := ctx.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			var results []pipeline.Result
			for _, arg := range args {
				res, err := env.manager.ProcessFile(cmd.Context(), policyName, arg)
				if err != nil && res.Session == nil {
					return err
				}
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
				}
				results = append(results, res)
			}
			if jsonOutput {
				if err := writeJSON(cmd, resultViews(results)); err != nil {
					return err
				}
			} else {
				printResults(cmd.OutOrStdout(), results)
			}
			return failedRuns(results)
		},
	}
	cmd.Flags().StringVarP(&policyName, "policy", "p", "", "Policy to apply (defaults to workflow.default_policy)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var policyName string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every file currently in the incoming directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := ctx.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			summary, err := env.manager.RunOnce(cmd.Context(), policyName)
			out := cmd.OutOrStdout()
			if len(summary.Results) > 0 {
				printResults(out, summary.Results)
			}
			fmt.Fprintf(out, "Processed %d file(s): %d halted, %d failed in %s\n",
				summary.Processed, summary.Halted, summary.Failed, summary.Duration.Round(time.Millisecond))
			if err != nil {
				return err
			}
			return failedRuns(summary.Results)
		},
	}
	cmd.Flags().StringVarP(&policyName, "policy", "p", "", "Policy to apply (defaults to workflow.default_policy)")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var policyName string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Process files as they arrive in the incoming directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			env, err := ctx.openRuntime(sigCtx)
			if err != nil {
				return err
			}
			defer env.close()

			d, err := daemon.New(env.cfg, env.manager, policyName, env.logger)
			if err != nil {
				return err
			}
			if err := d.Run(sigCtx); err != nil && sigCtx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&policyName, "policy", "p", "", "Policy to apply (defaults to workflow.default_policy)")
	return cmd
}

type resultView struct {
	File    string   `json:"file"`
	State   string   `json:"state"`
	Exit    string   `json:"exit"`
	Stage   string   `json:"stage"`
	Code    string   `json:"code,omitempty"`
	Class   string   `json:"class,omitempty"`
	Message string   `json:"message,omitempty"`
	Path    string   `json:"path"`
	Trail   []string `json:"trail"`
}

func resultViews(results []pipeline.Result) []resultView {
	views := make([]resultView, 0, len(results))
	for _, res := range results {
		views = append(views, resultView{
			File:    res.Session.CanonicalName(),
			State:   string(res.State),
			Exit:    res.Session.Exit().String(),
			Stage:   res.Stage,
			Code:    res.Reason.Code,
			Class:   string(res.Reason.Class),
			Message: res.Reason.Message,
			Path:    res.Path,
			Trail:   res.Trail,
		})
	}
	return views
}

func printResults(out io.Writer, results []pipeline.Result) {
	colorize := shouldColorize(out)
	rows := make([][]string, 0, len(results))
	for _, v := range resultViews(results) {
		rows = append(rows, []string{
			v.File,
			stateLabel(v.State, colorize),
			v.Stage,
			v.Code,
			displayPath(v.Path),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"File", "State", "Stage", "Reason", "Location"},
		rows,
	))
}

func displayPath(path string) string {
	if path == "" {
		return "-"
	}
	if wd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(wd, path); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return path
}

// failedRuns turns hard failures into a non-zero exit. Policy rejections
// are expected outcomes and keep the exit status clean.
func failedRuns(results []pipeline.Result) error {
	failed := 0
	for _, res := range results {
		if res.Session != nil && res.Session.Exit() == session.ExitHardFail {
			failed++
		}
	}
	if failed == 0 {
		return nil
	}
	return &runFailure{count: failed}
}

// runFailure reports files that ended in a hard failure.
type runFailure struct {
	count int
}

func (e *runFailure) Error() string {
	return fmt.Sprintf("%d file(s) failed", e.count)
}

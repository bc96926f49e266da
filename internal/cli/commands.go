package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"trainpipe/internal/state"
)

func newRunCommand(app *App) *cobra.Command {
	var (
		resume    bool
		dryRun    bool
		tracePath string
		logDir    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the download, train and evaluate steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := app.graph()
			if err != nil {
				return err
			}
			if dryRun {
				return writePlan(app.Stdout, g, planFormatText)
			}
			_, err = Execute(cmd.Context(), RunRequest{
				Config:    app.cfg,
				Graph:     g,
				Resume:    resume,
				TracePath: tracePath,
				LogDir:    logDir,
				Stdout:    app.Stdout,
				Stderr:    app.Stderr,
				Logger:    app.logger,
				Executor:  app.Executor,
			})
			return err
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&resume, "resume", false, "reuse the steps completed by the latest failed run of the same plan")
	flags.BoolVar(&dryRun, "dry-run", false, "print the commands without running them")
	flags.StringVar(&tracePath, "trace", "", "write the execution trace (JSON) to this file")
	flags.StringVar(&logDir, "log-dir", "", "also write each step's output to <log-dir>/<step>.log")
	return cmd
}

func newPlanCommand(app *App) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the commands run would execute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := app.graph()
			if err != nil {
				return err
			}
			return writePlan(app.Stdout, g, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", planFormatText, "output format: text, yaml or json")
	return cmd
}

func newHistoryCommand(app *App) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var runs []state.Run
			store, err := state.OpenExisting(app.cfg.StateDBPath())
			switch {
			case errors.Is(err, state.ErrNoHistory):
				app.logger.Debug("no run history", zap.String("state_db", app.cfg.StateDBPath()))
			case err != nil:
				return configError(err)
			default:
				defer store.Close()
				if runs, err = store.ListRuns(cmd.Context(), limit); err != nil {
					return configError(err)
				}
			}
			tw := tabwriter.NewWriter(app.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN ID\tSTARTED\tDURATION\tMODE\tSTATUS\tEXIT\tFAILED STEP")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID,
					r.StartedAt.Local().Format(time.DateTime),
					runDuration(r),
					r.Mode,
					r.Status,
					r.ExitCode,
					dashIfEmpty(r.FailedStep))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list (0 for all)")
	cmd.AddCommand(newHistoryShowCommand(app))
	return cmd
}

type runReport struct {
	Run         state.Run                `yaml:"run"`
	Steps       []state.StepRecord       `yaml:"steps"`
	Checkpoints []state.CheckpointRecord `yaml:"checkpoints,omitempty"`
}

func newHistoryShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the steps and checkpoints of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := state.OpenExisting(app.cfg.StateDBPath())
			if errors.Is(err, state.ErrNoHistory) {
				return invalidInvocationf("no run with id %q", args[0])
			}
			if err != nil {
				return configError(err)
			}
			defer store.Close()

			ctx := cmd.Context()
			run, err := store.LoadRun(ctx, args[0])
			if errors.Is(err, state.ErrRunNotFound) {
				return invalidInvocationf("no run with id %q", args[0])
			}
			if err != nil {
				return configError(err)
			}
			steps, err := store.LoadSteps(ctx, run.ID)
			if err != nil {
				return configError(err)
			}
			checkpoints, err := store.LoadCheckpoints(ctx, run.ID)
			if err != nil {
				return configError(err)
			}

			enc := yaml.NewEncoder(app.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(runReport{Run: run, Steps: steps, Checkpoints: checkpoints}); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newConfigCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := app.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = app.Stdout.Write(b)
			return err
		},
	}
}

func runDuration(r state.Run) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

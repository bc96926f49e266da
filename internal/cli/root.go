package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"trainpipe/internal/config"
	"trainpipe/internal/dag"
	"trainpipe/internal/logging"
	"trainpipe/internal/recipe"
)

// App holds the state shared by the trainpipe commands.
type App struct {
	Stdout io.Writer
	Stderr io.Writer

	// Logger, when set, is used instead of building one from the flags.
	Logger *zap.Logger

	// Executor, when set, replaces the dag executor for `run`.
	Executor GraphExecutor

	viper     *viper.Viper
	logFormat string
	verbose   bool

	// started is set once flag and argument parsing succeeded.
	started bool
	logger  *zap.Logger
	cfg     *config.Config
}

// NewRootCommand builds the trainpipe command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	if app.Stdout == nil {
		app.Stdout = os.Stdout
	}
	if app.Stderr == nil {
		app.Stderr = os.Stderr
	}
	app.viper = viper.New()

	root := &cobra.Command{
		Use:   "trainpipe",
		Short: "Run the CifarNet training recipe: download, train, evaluate",
		Long: `trainpipe runs the three CifarNet recipe programs in order:

  1. download_and_convert_data.py  fetch and convert CIFAR-10
  2. train_image_classifier.py     train CifarNet
  3. eval_image_classifier.py      evaluate the latest checkpoint

It stops at the first program that fails and exits with that program's exit
code. Runs are recorded under the training directory and a failed run can be
resumed with "trainpipe run --resume".`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app.started = true
			return app.init()
		},
	}
	root.SetOut(app.Stdout)
	root.SetErr(app.Stderr)
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &ExitError{Code: ExitInvalidInvocation, Err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&app.logFormat, "log-format", logging.FormatJSON, "log encoding: json or console")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "enable debug logging")
	if err := config.BindFlags(flags, app.viper); err != nil {
		panic(err)
	}

	root.AddCommand(
		newRunCommand(app),
		newPlanCommand(app),
		newHistoryCommand(app),
		newConfigCommand(app),
	)
	return root
}

func (a *App) init() error {
	if a.Logger != nil {
		a.logger = a.Logger
	} else {
		logger, err := logging.New(logging.Options{Format: a.logFormat, Verbose: a.verbose})
		if err != nil {
			return &ExitError{Code: ExitInvalidInvocation, Err: err}
		}
		a.logger = logger
	}

	cfg, err := config.Load(a.viper)
	if err != nil {
		return configError(err)
	}
	if err := cfg.Validate(); err != nil {
		return configError(fmt.Errorf("invalid configuration: %w", err))
	}
	a.cfg = cfg
	a.logger.Debug("configuration loaded",
		zap.String("train_dir", cfg.TrainDir),
		zap.String("dataset_dir", cfg.DatasetDir),
		zap.String("config_file", a.viper.ConfigFileUsed()))
	return nil
}

func (a *App) graph() (*dag.Graph, error) {
	g, err := recipe.CifarNet(a.cfg)
	if err != nil {
		return nil, configError(err)
	}
	return g, nil
}

func (a *App) sync() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

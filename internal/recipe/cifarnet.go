// Package recipe builds the step graph of the CifarNet training recipe.
package recipe

import (
	"fmt"
	"path/filepath"

	"trainpipe/internal/config"
	"trainpipe/internal/core"
	"trainpipe/internal/dag"
)

// Step names, in pipeline order.
const (
	StepDownload = "download"
	StepTrain    = "train"
	StepEvaluate = "evaluate"
)

// CifarNet builds the download -> train -> evaluate graph from cfg.
func CifarNet(cfg *config.Config) (*dag.Graph, error) {
	if cfg == nil {
		return nil, fmt.Errorf("recipe: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("recipe: %w", err)
	}
	return dag.Chain(
		DownloadStep(cfg),
		TrainStep(cfg),
		EvaluateStep(cfg),
	)
}

// DownloadStep fetches CIFAR-10 and converts it to the training format.
func DownloadStep(cfg *config.Config) core.Step {
	flags := core.Flags{}.
		Str("dataset_name", cfg.DatasetName).
		Str("dataset_dir", cfg.DatasetDir)
	return pythonStep(cfg, StepDownload, cfg.Download.Script, flags, cfg.Download.ExtraArgs)
}

// TrainStep trains CifarNet, writing checkpoints to the training directory.
func TrainStep(cfg *config.Config) core.Step {
	t := cfg.Train
	flags := core.Flags{}.
		Str("train_dir", cfg.TrainDir).
		Str("dataset_name", cfg.DatasetName).
		Str("dataset_split_name", t.SplitName).
		Str("dataset_dir", cfg.DatasetDir).
		Str("model_name", cfg.ModelName).
		Str("preprocessing_name", cfg.PreprocessingName).
		Int("max_number_of_steps", t.MaxNumberOfSteps).
		Int("batch_size", t.BatchSize).
		Int("save_interval_secs", t.SaveIntervalSecs).
		Int("save_summaries_secs", t.SaveSummariesSecs).
		Int("log_every_n_steps", t.LogEveryNSteps).
		Str("optimizer", t.Optimizer).
		Float("learning_rate", t.LearningRate).
		Float("learning_rate_decay_factor", t.LearningRateDecayFactor).
		Float("num_epochs_per_decay", t.NumEpochsPerDecay).
		Float("weight_decay", t.WeightDecay)
	step := pythonStep(cfg, StepTrain, t.Script, flags, t.ExtraArgs)
	step.WatchDir = cfg.TrainDir
	return step
}

// EvaluateStep evaluates the latest checkpoint on the test split.
func EvaluateStep(cfg *config.Config) core.Step {
	flags := core.Flags{}.
		Str("checkpoint_path", cfg.TrainDir).
		Str("eval_dir", cfg.TrainDir).
		Str("dataset_name", cfg.DatasetName).
		Str("dataset_split_name", cfg.Eval.SplitName).
		Str("dataset_dir", cfg.DatasetDir).
		Str("model_name", cfg.ModelName)
	return pythonStep(cfg, StepEvaluate, cfg.Eval.Script, flags, cfg.Eval.ExtraArgs)
}

func pythonStep(cfg *config.Config, name, script string, flags core.Flags, extra []string) core.Step {
	args := make([]string, 0, 1+len(flags)+len(extra))
	args = append(args, scriptPath(cfg.ScriptsDir, script))
	args = append(args, flags.Args()...)
	args = append(args, extra...)

	env := make(map[string]string, len(cfg.Env))
	for k, v := range cfg.Env {
		env[k] = v
	}
	return core.Step{
		Name:    name,
		Program: cfg.Python,
		Args:    args,
		Env:     env,
	}
}

func scriptPath(dir, script string) string {
	if dir == "" || filepath.IsAbs(script) {
		return script
	}
	return filepath.Join(dir, script)
}

// Package config resolves the pipeline configuration from defaults, an
// optional YAML file, the environment and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"trainpipe/internal/state"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TRAINPIPE"

// Config is the resolved pipeline configuration.
type Config struct {
	TrainDir   string `mapstructure:"train_dir" yaml:"train_dir"`
	DatasetDir string `mapstructure:"dataset_dir" yaml:"dataset_dir"`

	// Python is the interpreter used for every step.
	Python string `mapstructure:"python" yaml:"python"`

	// ScriptsDir, when set, is joined to every relative script path.
	ScriptsDir string `mapstructure:"scripts_dir" yaml:"scripts_dir"`

	DatasetName       string `mapstructure:"dataset_name" yaml:"dataset_name"`
	ModelName         string `mapstructure:"model_name" yaml:"model_name"`
	PreprocessingName string `mapstructure:"preprocessing_name" yaml:"preprocessing_name"`

	// InheritEnv passes the parent environment to steps. Env is added on
	// top and wins over inherited values.
	InheritEnv bool              `mapstructure:"inherit_env" yaml:"inherit_env"`
	Env        map[string]string `mapstructure:"env" yaml:"env,omitempty"`

	// GracePeriod is how long an interrupted step may take to exit before it
	// is killed.
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`

	// StateDB is the run history database. Empty means a file under TrainDir.
	StateDB string `mapstructure:"state_db" yaml:"state_db,omitempty"`

	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Train    TrainConfig    `mapstructure:"train" yaml:"train"`
	Eval     EvalConfig     `mapstructure:"eval" yaml:"eval"`
}

type DownloadConfig struct {
	Script    string   `mapstructure:"script" yaml:"script"`
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args,omitempty"`
}

// TrainConfig holds the training hyperparameters.
type TrainConfig struct {
	Script                  string   `mapstructure:"script" yaml:"script"`
	SplitName               string   `mapstructure:"split_name" yaml:"split_name"`
	MaxNumberOfSteps        int      `mapstructure:"max_number_of_steps" yaml:"max_number_of_steps"`
	BatchSize               int      `mapstructure:"batch_size" yaml:"batch_size"`
	SaveIntervalSecs        int      `mapstructure:"save_interval_secs" yaml:"save_interval_secs"`
	SaveSummariesSecs       int      `mapstructure:"save_summaries_secs" yaml:"save_summaries_secs"`
	LogEveryNSteps          int      `mapstructure:"log_every_n_steps" yaml:"log_every_n_steps"`
	Optimizer               string   `mapstructure:"optimizer" yaml:"optimizer"`
	LearningRate            float64  `mapstructure:"learning_rate" yaml:"learning_rate"`
	LearningRateDecayFactor float64  `mapstructure:"learning_rate_decay_factor" yaml:"learning_rate_decay_factor"`
	NumEpochsPerDecay       float64  `mapstructure:"num_epochs_per_decay" yaml:"num_epochs_per_decay"`
	WeightDecay             float64  `mapstructure:"weight_decay" yaml:"weight_decay"`
	ExtraArgs               []string `mapstructure:"extra_args" yaml:"extra_args,omitempty"`
}

type EvalConfig struct {
	Script    string   `mapstructure:"script" yaml:"script"`
	SplitName string   `mapstructure:"split_name" yaml:"split_name"`
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args,omitempty"`
}

// Default returns the stock CifarNet recipe settings.
func Default() Config {
	return Config{
		TrainDir:          "/tmp/cifarnet-model",
		DatasetDir:        "/tmp/cifar10",
		Python:            "python",
		DatasetName:       "cifar10",
		ModelName:         "cifarnet",
		PreprocessingName: "cifarnet",
		InheritEnv:        true,
		Env:               map[string]string{},
		GracePeriod:       10 * time.Second,
		Download: DownloadConfig{
			Script: "download_and_convert_data.py",
		},
		Train: TrainConfig{
			Script:                  "train_image_classifier.py",
			SplitName:               "train",
			MaxNumberOfSteps:        100000,
			BatchSize:               128,
			SaveIntervalSecs:        120,
			SaveSummariesSecs:       120,
			LogEveryNSteps:          100,
			Optimizer:               "sgd",
			LearningRate:            0.1,
			LearningRateDecayFactor: 0.1,
			NumEpochsPerDecay:       200,
			WeightDecay:             0.004,
		},
		Eval: EvalConfig{
			Script:    "eval_image_classifier.py",
			SplitName: "test",
		},
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("train_dir", d.TrainDir)
	v.SetDefault("dataset_dir", d.DatasetDir)
	v.SetDefault("python", d.Python)
	v.SetDefault("scripts_dir", d.ScriptsDir)
	v.SetDefault("dataset_name", d.DatasetName)
	v.SetDefault("model_name", d.ModelName)
	v.SetDefault("preprocessing_name", d.PreprocessingName)
	v.SetDefault("inherit_env", d.InheritEnv)
	v.SetDefault("env", d.Env)
	v.SetDefault("grace_period", d.GracePeriod)
	v.SetDefault("state_db", d.StateDB)

	v.SetDefault("download.script", d.Download.Script)
	v.SetDefault("download.extra_args", d.Download.ExtraArgs)

	v.SetDefault("train.script", d.Train.Script)
	v.SetDefault("train.split_name", d.Train.SplitName)
	v.SetDefault("train.max_number_of_steps", d.Train.MaxNumberOfSteps)
	v.SetDefault("train.batch_size", d.Train.BatchSize)
	v.SetDefault("train.save_interval_secs", d.Train.SaveIntervalSecs)
	v.SetDefault("train.save_summaries_secs", d.Train.SaveSummariesSecs)
	v.SetDefault("train.log_every_n_steps", d.Train.LogEveryNSteps)
	v.SetDefault("train.optimizer", d.Train.Optimizer)
	v.SetDefault("train.learning_rate", d.Train.LearningRate)
	v.SetDefault("train.learning_rate_decay_factor", d.Train.LearningRateDecayFactor)
	v.SetDefault("train.num_epochs_per_decay", d.Train.NumEpochsPerDecay)
	v.SetDefault("train.weight_decay", d.Train.WeightDecay)
	v.SetDefault("train.extra_args", d.Train.ExtraArgs)

	v.SetDefault("eval.script", d.Eval.Script)
	v.SetDefault("eval.split_name", d.Eval.SplitName)
	v.SetDefault("eval.extra_args", d.Eval.ExtraArgs)
}

// BindFlags registers the configuration flags on fs and binds them to v.
// A flag only overrides lower layers when it is set explicitly.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	d := Default()
	fs.String("config", "", "YAML configuration file")
	fs.String("train-dir", d.TrainDir, "training and checkpoint directory")
	fs.String("dataset-dir", d.DatasetDir, "dataset directory")
	fs.String("python", d.Python, "python interpreter used to run the scripts")
	fs.String("scripts-dir", d.ScriptsDir, "directory holding the recipe scripts")
	fs.String("state-db", d.StateDB, "run history database (default <train-dir>/.trainpipe/runs.db)")
	fs.Duration("grace-period", d.GracePeriod, "time an interrupted step gets to exit before it is killed")

	bindings := map[string]string{
		"config":       "config",
		"train_dir":    "train-dir",
		"dataset_dir":  "dataset-dir",
		"python":       "python",
		"scripts_dir":  "scripts-dir",
		"state_db":     "state-db",
		"grace_period": "grace-period",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load resolves the configuration held by v. Sources are layered, lowest
// first: defaults, the YAML file named by the "config" key, environment
// variables (TRAINPIPE_*, plus bare TRAIN_DIR and DATASET_DIR), flags.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("train_dir", EnvPrefix+"_TRAIN_DIR", "TRAIN_DIR"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("dataset_dir", EnvPrefix+"_DATASET_DIR", "DATASET_DIR"); err != nil {
		return nil, err
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if path := v.ConfigFileUsed(); path != "" {
		env, err := readEnv(path)
		if err != nil {
			return nil, err
		}
		if env != nil {
			cfg.Env = env
		}
	}
	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
	return &cfg, nil
}

// readEnv reads the env section of a config file directly: viper lowercases
// map keys and environment variable names are case sensitive.
func readEnv(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var doc struct {
		Env map[string]string `yaml:"env"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return doc.Env, nil
}

// StateDBPath returns the run history database location.
func (c *Config) StateDBPath() string {
	if c.StateDB != "" {
		return c.StateDB
	}
	return state.DefaultPath(c.TrainDir)
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	required := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	positive := func(name string, value float64) {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %v", name, value))
		}
	}
	nonNegative := func(name string, value float64) {
		if value < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0, got %v", name, value))
		}
	}

	required("train_dir", c.TrainDir)
	required("dataset_dir", c.DatasetDir)
	required("python", c.Python)
	required("dataset_name", c.DatasetName)
	required("model_name", c.ModelName)
	required("preprocessing_name", c.PreprocessingName)
	required("download.script", c.Download.Script)
	required("train.script", c.Train.Script)
	required("train.split_name", c.Train.SplitName)
	required("train.optimizer", c.Train.Optimizer)
	required("eval.script", c.Eval.Script)
	required("eval.split_name", c.Eval.SplitName)

	positive("train.max_number_of_steps", float64(c.Train.MaxNumberOfSteps))
	positive("train.batch_size", float64(c.Train.BatchSize))
	positive("train.save_interval_secs", float64(c.Train.SaveIntervalSecs))
	positive("train.save_summaries_secs", float64(c.Train.SaveSummariesSecs))
	positive("train.log_every_n_steps", float64(c.Train.LogEveryNSteps))
	positive("train.learning_rate", c.Train.LearningRate)
	positive("train.num_epochs_per_decay", c.Train.NumEpochsPerDecay)
	nonNegative("train.learning_rate_decay_factor", c.Train.LearningRateDecayFactor)
	nonNegative("train.weight_decay", c.Train.WeightDecay)

	if c.GracePeriod <= 0 {
		errs = append(errs, fmt.Errorf("grace_period must be > 0, got %s", c.GracePeriod))
	}
	for k := range c.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			errs = append(errs, fmt.Errorf("env: invalid variable name %q", k))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// YAML renders the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

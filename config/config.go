// Package config loads the run configuration from defaults, an optional
// YAML file, CCKS_-prefixed environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid value")

// EnvPrefix is the prefix of environment overrides, e.g. CCKS_FOLD_NUM.
const EnvPrefix = "CCKS"

// Config is the immutable run configuration. Keys are snake_case, e.g.
// fold_num or train_bs.
type Config struct {
	FoldNum     int     `mapstructure:"fold_num"`
	Seed        int64   `mapstructure:"seed"`
	Model       string  `mapstructure:"model"`
	MaxLen      int     `mapstructure:"max_len"`
	Epochs      int     `mapstructure:"epochs"`
	TrainBS     int     `mapstructure:"train_bs"`
	ValidBS     int     `mapstructure:"valid_bs"`
	LR          float64 `mapstructure:"lr"`
	NumWorkers  int     `mapstructure:"num_workers"`
	AccumIter   int     `mapstructure:"accum_iter"`
	WeightDecay float64 `mapstructure:"weight_decay"`
	Device      int     `mapstructure:"device"`

	TrainTSV   string `mapstructure:"train_tsv"`
	TestTSV    string `mapstructure:"test_tsv"`
	TrainCSV   string `mapstructure:"train_csv"`
	TestCSV    string `mapstructure:"test_csv"`
	OutputDir  string `mapstructure:"output_dir"`
	ResultFile string `mapstructure:"result_file"`

	Checkpoints      []string `mapstructure:"checkpoints"`
	CheckpointTag    string   `mapstructure:"checkpoint_tag"`
	CheckpointFormat string   `mapstructure:"checkpoint_format"`
	SaveOptimizer    bool     `mapstructure:"save_optimizer"`
	Resume           string   `mapstructure:"resume"`

	Adversary  string  `mapstructure:"adversary"`
	FGMEpsilon float64 `mapstructure:"fgm_epsilon"`
	PGDEpsilon float64 `mapstructure:"pgd_epsilon"`
	PGDAlpha   float64 `mapstructure:"pgd_alpha"`
	PGDSteps   int     `mapstructure:"pgd_steps"`
	PGDEmbName string  `mapstructure:"pgd_emb_name"`

	Optimizer  string `mapstructure:"optimizer"`
	Scheduler  string `mapstructure:"scheduler"`
	AMP        bool   `mapstructure:"amp"`
	HiddenSize int    `mapstructure:"hidden_size"`

	Progress  bool   `mapstructure:"progress"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the configuration of the reference training run.
func Default() Config {
	return Config{
		FoldNum:     10,
		Seed:        2,
		Model:       "hfl/chinese-roberta-wwm-ext",
		MaxLen:      300,
		Epochs:      8,
		TrainBS:     9,
		ValidBS:     9,
		LR:          8e-6,
		NumWorkers:  0,
		AccumIter:   2,
		WeightDecay: 2e-4,
		Device:      0,

		TrainTSV:   "train.tsv",
		TestTSV:    "test.tsv",
		TrainCSV:   "train.csv",
		TestCSV:    "test.csv",
		OutputDir:  ".",
		ResultFile: "WENGSYX_valid_result.txt",

		CheckpointTag:    "roberta_fgm",
		CheckpointFormat: "proto",

		Adversary:  "fgm",
		FGMEpsilon: 1.0,
		PGDEpsilon: 1.0,
		PGDAlpha:   0.33,
		PGDSteps:   3,
		PGDEmbName: "word_embeddings",

		Optimizer:  "adamw",
		Scheduler:  "cosine",
		AMP:        true,
		HiddenSize: 64,

		Progress:  true,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Keys returns every configuration key in declaration order.
func Keys() []string {
	return []string{
		"fold_num", "seed", "model", "max_len", "epochs", "train_bs", "valid_bs",
		"lr", "num_workers", "accum_iter", "weight_decay", "device",
		"train_tsv", "test_tsv", "train_csv", "test_csv", "output_dir", "result_file",
		"checkpoints", "checkpoint_tag", "checkpoint_format", "save_optimizer", "resume",
		"adversary", "fgm_epsilon", "pgd_epsilon", "pgd_alpha", "pgd_steps", "pgd_emb_name",
		"optimizer", "scheduler", "amp", "hidden_size",
		"progress", "log_level", "log_format",
	}
}

// FlagName maps a key to its command-line flag, e.g. fold_num to fold-num.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// NewViper returns a viper instance carrying the defaults and reading
// CCKS_-prefixed environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Default()
	defaults := map[string]any{
		"fold_num": d.FoldNum, "seed": d.Seed, "model": d.Model, "max_len": d.MaxLen,
		"epochs": d.Epochs, "train_bs": d.TrainBS, "valid_bs": d.ValidBS, "lr": d.LR,
		"num_workers": d.NumWorkers, "accum_iter": d.AccumIter, "weight_decay": d.WeightDecay,
		"device": d.Device,

		"train_tsv": d.TrainTSV, "test_tsv": d.TestTSV, "train_csv": d.TrainCSV,
		"test_csv": d.TestCSV, "output_dir": d.OutputDir, "result_file": d.ResultFile,

		"checkpoints": []string{}, "checkpoint_tag": d.CheckpointTag,
		"checkpoint_format": d.CheckpointFormat, "save_optimizer": d.SaveOptimizer,
		"resume": d.Resume,

		"adversary": d.Adversary, "fgm_epsilon": d.FGMEpsilon, "pgd_epsilon": d.PGDEpsilon,
		"pgd_alpha": d.PGDAlpha, "pgd_steps": d.PGDSteps, "pgd_emb_name": d.PGDEmbName,

		"optimizer": d.Optimizer, "scheduler": d.Scheduler, "amp": d.AMP,
		"hidden_size": d.HiddenSize,

		"progress": d.Progress, "log_level": d.LogLevel, "log_format": d.LogFormat,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path into v, decodes the merged
// settings and validates them.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no run can use.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.FoldNum >= 2, "fold_num must be at least 2, got %d", c.FoldNum)
	check(c.MaxLen >= 3, "max_len must be at least 3, got %d", c.MaxLen)
	check(c.Epochs > 0, "epochs must be positive, got %d", c.Epochs)
	check(c.TrainBS > 0, "train_bs must be positive, got %d", c.TrainBS)
	check(c.ValidBS > 0, "valid_bs must be positive, got %d", c.ValidBS)
	check(c.LR > 0, "lr must be positive, got %g", c.LR)
	check(c.NumWorkers >= 0, "num_workers must not be negative, got %d", c.NumWorkers)
	check(c.AccumIter > 0, "accum_iter must be positive, got %d", c.AccumIter)
	check(c.WeightDecay >= 0, "weight_decay must not be negative, got %g", c.WeightDecay)
	check(c.Device == 0, "device %d is not available, only the CPU backend (0) exists", c.Device)
	check(c.HiddenSize > 0, "hidden_size must be positive, got %d", c.HiddenSize)
	check(c.FGMEpsilon >= 0, "fgm_epsilon must not be negative, got %g", c.FGMEpsilon)
	check(c.PGDEpsilon >= 0, "pgd_epsilon must not be negative, got %g", c.PGDEpsilon)
	check(c.PGDAlpha >= 0, "pgd_alpha must not be negative, got %g", c.PGDAlpha)
	check(c.PGDSteps > 0, "pgd_steps must be positive, got %d", c.PGDSteps)
	check(c.CheckpointTag != "", "checkpoint_tag must not be empty")

	check(oneOf(c.Adversary, "fgm", "pgd", "none"), "unknown adversary %q", c.Adversary)
	check(oneOf(c.Optimizer, "adamw", "sgd"), "unknown optimizer %q", c.Optimizer)
	check(oneOf(c.Scheduler, "cosine", "linear", "constant"), "unknown scheduler %q", c.Scheduler)
	check(oneOf(c.CheckpointFormat, "proto", "json"), "unknown checkpoint_format %q", c.CheckpointFormat)
	check(oneOf(strings.ToLower(c.LogLevel), "debug", "info", "warn", "warning", "error"), "unknown log_level %q", c.LogLevel)
	check(oneOf(c.LogFormat, "text", "json"), "unknown log_format %q", c.LogFormat)

	return errors.Join(errs...)
}

// VocabPath returns the vocabulary file of the configured model directory.
func (c *Config) VocabPath() string {
	return filepath.Join(c.Model, "vocab.txt")
}

// WeightsPath returns the optional pretrained weights of the model directory.
func (c *Config) WeightsPath() string {
	return filepath.Join(c.Model, "weights.pt")
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

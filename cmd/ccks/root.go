package main

import (
	"context"
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/WENGSYX/BASELINE-CCKS/config"
	"github.com/WENGSYX/BASELINE-CCKS/internal/logging"
)

var flagUsage = map[string]string{
	"fold_num":          "number of cross-validation folds",
	"seed":              "seed for weight init, fold split and shuffling",
	"model":             "pretrained model directory holding vocab.txt and optionally weights.pt",
	"max_len":           "maximum encoded sequence length",
	"epochs":            "epochs per fold",
	"train_bs":          "training batch size",
	"valid_bs":          "validation and prediction batch size",
	"lr":                "peak learning rate",
	"num_workers":       "batch prefetch workers",
	"accum_iter":        "micro-batches per optimizer step",
	"weight_decay":      "decoupled weight decay",
	"device":            "compute device index (only 0, the CPU, exists)",
	"train_tsv":         "raw training TSV",
	"test_tsv":          "raw test TSV",
	"train_csv":         "intermediate training CSV",
	"test_csv":          "intermediate test CSV",
	"output_dir":        "directory for checkpoints and results",
	"result_file":       "name of the prediction result file",
	"checkpoints":       "checkpoints to ensemble",
	"checkpoint_tag":    "tag embedded in checkpoint file names",
	"checkpoint_format": "checkpoint encoding: proto or json",
	"save_optimizer":    "store optimizer state in checkpoints",
	"resume":            "checkpoint loaded into every fold before training",
	"adversary":         "adversarial training: fgm, pgd or none",
	"fgm_epsilon":       "FGM perturbation radius",
	"pgd_epsilon":       "PGD projection radius",
	"pgd_alpha":         "PGD step size",
	"pgd_steps":         "PGD attack steps",
	"pgd_emb_name":      "substring selecting the PGD embedding parameter",
	"optimizer":         "optimizer: adamw or sgd",
	"scheduler":         "learning rate schedule: cosine, linear or constant",
	"amp":               "emulate fp16 autocast with dynamic loss scaling",
	"hidden_size":       "classifier hidden size",
	"progress":          "render progress bars on stderr",
	"log_level":         "log level: debug, info, warn or error",
	"log_format":        "log format: text or json",
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ccks",
		Short: "Cross-validated adversarial training for question/answer tagging",
		Long: heredoc.Doc(`
			ccks fine-tunes a classifier that tags whether an answer fits a
			question and its description.

			Run "prepare" once to convert the raw TSV files, "train" to run
			k-fold cross-validation with FGM or PGD adversarial training, and
			"predict" to ensemble the saved checkpoints over the test set.

			Every option can also be set in a YAML file (--config) or through
			CCKS_-prefixed environment variables such as CCKS_FOLD_NUM.
		`),
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "YAML configuration file")
	addPersistentFlags(cmd, "log_level", "log_format", "progress")

	cmd.AddCommand(newPrepareCommand(), newTrainCommand(), newPredictCommand())
	return cmd
}

// addFlags registers one flag per configuration key, typed after the key's
// default value.
func addFlags(cmd *cobra.Command, keys ...string) {
	defaults := config.NewViper()
	for _, key := range keys {
		name, usage := config.FlagName(key), flagUsage[key]
		flags := cmd.Flags()
		switch value := defaults.Get(key).(type) {
		case int:
			flags.Int(name, value, usage)
		case int64:
			flags.Int64(name, value, usage)
		case float64:
			flags.Float64(name, value, usage)
		case bool:
			flags.Bool(name, value, usage)
		case []string:
			flags.StringSlice(name, value, usage)
		default:
			flags.String(name, defaults.GetString(key), usage)
		}
	}
}

func addPersistentFlags(cmd *cobra.Command, keys ...string) {
	defaults := config.NewViper()
	for _, key := range keys {
		name, usage := config.FlagName(key), flagUsage[key]
		if value, ok := defaults.Get(key).(bool); ok {
			cmd.PersistentFlags().Bool(name, value, usage)
			continue
		}
		cmd.PersistentFlags().String(name, defaults.GetString(key), usage)
	}
}

// setup loads the configuration with the flags of cmd taking precedence and
// returns a context carrying the configured logger.
func setup(cmd *cobra.Command) (context.Context, *config.Config, error) {
	v := config.NewViper()
	if err := bindFlags(cmd, v); err != nil {
		return nil, nil, err
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(v, path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	if path != "" {
		logger.Debug("configuration loaded", "file", path)
	}
	return logging.NewContext(cmd.Context(), logger), cfg, nil
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for _, key := range config.Keys() {
		flag := cmd.Flags().Lookup(config.FlagName(key))
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", flag.Name, err)
		}
	}
	return nil
}

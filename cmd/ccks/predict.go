package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/WENGSYX/BASELINE-CCKS/checkpoints"
	"github.com/WENGSYX/BASELINE-CCKS/config"
	"github.com/WENGSYX/BASELINE-CCKS/data"
	"github.com/WENGSYX/BASELINE-CCKS/inference"
	"github.com/WENGSYX/BASELINE-CCKS/internal/logging"
	"github.com/WENGSYX/BASELINE-CCKS/tokenizer"
)

func newPredictCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict [checkpoint...]",
		Short: "Ensemble checkpoints over the test set and write the result file",
		Long: heredoc.Doc(`
			Loads every checkpoint in turn into one shared model, sums the
			logits each produces over the test CSV, and writes the arg-max
			labels as a tab-separated file with the columns Label, Docid,
			Question, Description and Answer.

			Checkpoints come from the arguments, or from --checkpoints when
			no arguments are given.
		`),
		Example: heredoc.Doc(`
			ccks predict 0_5_roberta_fgm_0.8333.pt 1_7_roberta_fgm_0.8125.pt
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			paths := cfg.Checkpoints
			if len(args) > 0 {
				paths = args
			}
			return runPredict(ctx, cfg, cmd, paths)
		},
	}
	addFlags(cmd, "model", "max_len", "valid_bs", "num_workers", "device",
		"test_csv", "output_dir", "result_file", "checkpoints")
	return cmd
}

func runPredict(ctx context.Context, cfg *config.Config, cmd *cobra.Command, paths []string) error {
	if len(paths) == 0 {
		return inference.ErrNoCheckpoints
	}
	logger := logging.FromContext(ctx)

	tok, err := tokenizer.Load(cfg.VocabPath())
	if err != nil {
		return fmt.Errorf("failed to load tokenizer: %w", err)
	}
	records, _, err := data.ReadCSVFile(cfg.TestCSV)
	if err != nil {
		return err
	}
	loader, err := data.NewDataLoader(data.NewDataset(records), data.NewCollator(tok, cfg.MaxLen), data.LoaderConfig{
		BatchSize:  cfg.ValidBS,
		NumWorkers: cfg.NumWorkers,
	})
	if err != nil {
		return err
	}

	// The first member fixes the model dimensions; the rest must match them.
	first, err := checkpoints.Load(paths[0])
	if err != nil {
		return err
	}
	model, err := first.BuildClassifier()
	if err != nil {
		return fmt.Errorf("%s: %w", paths[0], err)
	}
	if model.Config().VocabSize != tok.Vocab().Size() {
		return fmt.Errorf("%s expects %d tokens, vocabulary has %d", paths[0], model.Config().VocabSize, tok.Vocab().Size())
	}
	logger.Info("prediction started", "records", len(records), "checkpoints", len(paths))

	res, err := inference.NewEnsembler(model, cfg.ProgressWriter(cmd.ErrOrStderr())).Run(ctx, paths, loader)
	if err != nil {
		return err
	}

	out := filepath.Join(cfg.OutputDir, cfg.ResultFile)
	if err := inference.WriteResultsFile(out, records, res.Labels); err != nil {
		return err
	}
	logger.Info("results written", "path", out, "members", len(res.Members))
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/WENGSYX/BASELINE-CCKS/checkpoints"
	"github.com/WENGSYX/BASELINE-CCKS/config"
	"github.com/WENGSYX/BASELINE-CCKS/data"
	"github.com/WENGSYX/BASELINE-CCKS/internal/logging"
	"github.com/WENGSYX/BASELINE-CCKS/nn"
	"github.com/WENGSYX/BASELINE-CCKS/tokenizer"
	"github.com/WENGSYX/BASELINE-CCKS/training"
)

func newTrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run stratified k-fold training with adversarial perturbation",
		Long: heredoc.Doc(`
			Trains one fresh classifier per stratified fold of the training
			CSV and writes a checkpoint after every epoch, named
			<fold>_<epoch>_<tag>_<f1>.pt, into --output-dir.

			The model directory must contain vocab.txt. When it also holds
			weights.pt, every fold starts from those weights; otherwise the
			classifier is initialised from --seed.
		`),
		Example: heredoc.Doc(`
			ccks train --model ./roberta --fold-num 10 --epochs 8
			ccks train --adversary pgd --pgd-steps 3 --save-optimizer
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			return runTrain(ctx, cfg, cmd)
		},
	}
	addFlags(cmd,
		"fold_num", "seed", "model", "max_len", "epochs", "train_bs", "valid_bs",
		"lr", "num_workers", "accum_iter", "weight_decay", "device",
		"train_csv", "output_dir", "checkpoint_tag", "checkpoint_format", "save_optimizer", "resume",
		"adversary", "fgm_epsilon", "pgd_epsilon", "pgd_alpha", "pgd_steps", "pgd_emb_name",
		"optimizer", "scheduler", "amp", "hidden_size",
	)
	return cmd
}

func runTrain(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	logger := logging.FromContext(ctx)

	tok, err := tokenizer.Load(cfg.VocabPath())
	if err != nil {
		return fmt.Errorf("failed to load tokenizer: %w", err)
	}
	records, labeled, err := data.ReadCSVFile(cfg.TrainCSV)
	if err != nil {
		return err
	}
	if !labeled {
		return fmt.Errorf("%s has no label column", cfg.TrainCSV)
	}
	logger.Info("training data loaded", "records", len(records), "vocab", tok.Vocab().Size())

	factory, err := classifierFactory(ctx, cfg, tok.Vocab().Size())
	if err != nil {
		return err
	}
	ckptConfig, err := cfg.Checkpoint()
	if err != nil {
		return err
	}
	manager := training.NewCheckpointManager(ckptConfig)

	cv, err := training.NewCrossValidator(cfg.CrossValidation(cmd.ErrOrStderr()), data.NewDataset(records),
		data.NewCollator(tok, cfg.MaxLen), factory, manager)
	if err != nil {
		return err
	}
	logger.Info("training started", "run_id", manager.RunID(), "folds", cfg.FoldNum, "epochs", cfg.Epochs,
		"adversary", cfg.Adversary)

	results, err := cv.Run(ctx)
	if err != nil {
		return err
	}
	for _, fold := range results {
		if best, ok := fold.Best(); ok {
			logger.Info("fold summary", "fold", fold.Fold, "best_epoch", best.Epoch, "best_f1", best.Valid.F1,
				"checkpoint", best.Checkpoint)
		}
	}
	logger.Info("training finished", "checkpoints", len(manager.SavedFiles()))
	return nil
}

// classifierFactory returns the per-fold model constructor. Every fold starts
// from the same initial weights.
func classifierFactory(ctx context.Context, cfg *config.Config, vocabSize int) (training.ModelFactory, error) {
	pretrained, err := checkpoints.Load(cfg.WeightsPath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logging.FromContext(ctx).Warn("no pretrained weights found, initialising from seed",
			"path", cfg.WeightsPath(), "seed", cfg.Seed)
		pretrained = nil
	case err != nil:
		return nil, err
	}

	modelConfig := cfg.Classifier(vocabSize)
	if pretrained != nil {
		if pretrained.Model.VocabSize != vocabSize {
			return nil, fmt.Errorf("pretrained weights expect %d tokens, vocabulary has %d",
				pretrained.Model.VocabSize, vocabSize)
		}
		if pretrained.Model.MaxPositions < cfg.MaxLen {
			return nil, fmt.Errorf("pretrained weights support %d positions, max_len is %d",
				pretrained.Model.MaxPositions, cfg.MaxLen)
		}
		modelConfig = pretrained.Model
	}

	return func(fold int) (nn.Module, error) {
		model, err := nn.NewClassifier(modelConfig, rand.New(rand.NewSource(cfg.Seed)))
		if err != nil {
			return nil, err
		}
		if pretrained != nil {
			if err := pretrained.LoadInto(model.Parameters()); err != nil {
				return nil, err
			}
		}
		return model, nil
	}, nil
}

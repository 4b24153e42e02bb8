package main

import (
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/WENGSYX/BASELINE-CCKS/data"
	"github.com/WENGSYX/BASELINE-CCKS/internal/logging"
)

func newPrepareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Convert the raw TSV files into intermediate CSV files",
		Long: heredoc.Doc(`
			Reads the training TSV (label, docid, question, description,
			answer) and the test TSV (docid, question, description, answer),
			skipping their header rows, and writes the intermediate CSV files
			the train and predict commands consume.

			An empty --test-tsv skips the test file.
		`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cfg, err := setup(cmd)
			if err != nil {
				return err
			}
			n, err := convertTSV(cfg.TrainTSV, cfg.TrainCSV, true)
			if err != nil {
				return err
			}
			logging.FromContext(ctx).Info("training data prepared", "source", cfg.TrainTSV, "output", cfg.TrainCSV, "records", n)

			if cfg.TestTSV == "" {
				return nil
			}
			if n, err = convertTSV(cfg.TestTSV, cfg.TestCSV, false); err != nil {
				return err
			}
			logging.FromContext(ctx).Info("test data prepared", "source", cfg.TestTSV, "output", cfg.TestCSV, "records", n)
			return nil
		},
	}
	addFlags(cmd, "train_tsv", "test_tsv", "train_csv", "test_csv")
	return cmd
}

func convertTSV(src, dst string, labeled bool) (int, error) {
	records, err := data.ReadTSVFile(src, labeled)
	if err != nil {
		return 0, err
	}
	return len(records), data.WriteCSVFile(dst, records, labeled)
}

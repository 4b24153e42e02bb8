package inference

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/WENGSYX/BASELINE-CCKS/data"
)

// DefaultResultFile is the name the submission file gets by default.
const DefaultResultFile = "WENGSYX_valid_result.txt"

var resultColumns = []string{"Label", "Docid", "Question", "Description", "Answer"}

// WriteResults writes one tab-separated row per record with its predicted
// label, preceded by a header row.
func WriteResults(w io.Writer, records []data.Record, labels []int) error {
	if len(records) != len(labels) {
		return fmt.Errorf("%d records but %d labels", len(records), len(labels))
	}

	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(resultColumns); err != nil {
		return err
	}
	for i, r := range records {
		row := []string{strconv.Itoa(labels[i]), r.Docid, r.Question, r.Description, r.Answer}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteResultsFile writes the results to path, creating parent directories.
func WriteResultsFile(path string, records []data.Record, labels []int) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteResults(f, records, labels); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Column names of the intermediate CSV.
var (
	trainColumns = []string{"label", "docid", "question", "description", "answer"}
	testColumns  = []string{"docid", "question", "description", "answer"}
)

// WriteCSV writes records with a leading unnamed row-index column, the
// layout of a pandas DataFrame saved with its default index. The label column
// is written only when labeled is true.
func WriteCSV(w io.Writer, records []Record, labeled bool) error {
	columns := testColumns
	if labeled {
		columns = trainColumns
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{""}, columns...)); err != nil {
		return err
	}
	for i, r := range records {
		row := []string{strconv.Itoa(i)}
		if labeled {
			row = append(row, strconv.Itoa(r.Label))
		}
		row = append(row, r.Docid, r.Question, r.Description, r.Answer)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes the CSV to path, creating parent directories.
func WriteCSVFile(path string, records []Record, labeled bool) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, records, labeled); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

// ReadCSV parses an intermediate CSV by column name. A missing label column
// yields label 0 for every record. It reports whether labels were present.
func ReadCSV(r io.Reader) ([]Record, bool, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read CSV header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range testColumns {
		if _, ok := col[name]; !ok {
			return nil, false, fmt.Errorf("CSV has no %q column", name)
		}
	}
	labelCol, labeled := col["label"]

	var records []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(row) != len(header) {
			return nil, false, fmt.Errorf("line %d: expected %d fields, got %d", line, len(header), len(row))
		}
		rec := Record{
			Docid:       row[col["docid"]],
			Question:    row[col["question"]],
			Description: row[col["description"]],
			Answer:      row[col["answer"]],
		}
		if labeled {
			label, err := strconv.Atoi(row[labelCol])
			if err != nil {
				return nil, false, fmt.Errorf("line %d: invalid label %q: %w", line, row[labelCol], err)
			}
			rec.Label = label
		}
		records = append(records, rec)
	}
	return records, labeled, nil
}

// ReadCSVFile opens path and calls ReadCSV.
func ReadCSVFile(path string) ([]Record, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	records, labeled, err := ReadCSV(f)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, err)
	}
	return records, labeled, nil
}

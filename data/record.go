package data

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Record is one question/description/answer example. Test records carry
// label 0.
type Record struct {
	Label       int
	Docid       string
	Question    string
	Description string
	Answer      string
}

// Text returns the first model segment: question and description joined by
// a literal [SEP].
func (r Record) Text() string {
	return r.Question + "[SEP]" + r.Description
}

// ReadTSV parses the competition TSV layout. The first line is a header and
// is skipped. Columns are positional: label, docid, question, description,
// answer when labeled is true; docid, question, description, answer
// otherwise.
func ReadTSV(r io.Reader, labeled bool) ([]Record, error) {
	want := 4
	if labeled {
		want = 5
	}

	var records []Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if line == 1 {
			continue
		}
		text := strings.TrimSuffix(scanner.Text(), "\r")
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < want {
			return nil, fmt.Errorf("line %d: expected %d tab-separated fields, got %d", line, want, len(fields))
		}

		var rec Record
		if labeled {
			label, err := strconv.Atoi(strings.TrimSpace(fields[0]))
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid label %q: %w", line, fields[0], err)
			}
			rec.Label = label
			fields = fields[1:]
		}
		rec.Docid = fields[0]
		rec.Question = fields[1]
		rec.Description = fields[2]
		rec.Answer = fields[3]
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read TSV: %w", err)
	}
	return records, nil
}

// ReadTSVFile opens path and calls ReadTSV.
func ReadTSVFile(path string, labeled bool) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := ReadTSV(f, labeled)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Labels returns the label column.
func Labels(records []Record) []int {
	labels := make([]int, len(records))
	for i, r := range records {
		labels[i] = r.Label
	}
	return labels
}

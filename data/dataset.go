package data

import "fmt"

// Dataset is an indexable collection of records.
type Dataset struct {
	records []Record
}

// NewDataset wraps records without copying them.
func NewDataset(records []Record) *Dataset {
	return &Dataset{records: records}
}

// Len returns the number of records.
func (d *Dataset) Len() int { return len(d.records) }

// Get returns record idx.
func (d *Dataset) Get(idx int) (Record, error) {
	if idx < 0 || idx >= len(d.records) {
		return Record{}, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.records))
	}
	return d.records[idx], nil
}

// Records returns the underlying records.
func (d *Dataset) Records() []Record { return d.records }

// Labels returns the label of every record.
func (d *Dataset) Labels() []int { return Labels(d.records) }

// Subset returns a dataset of the given rows, in the given order.
func (d *Dataset) Subset(indices []int) (*Dataset, error) {
	out := make([]Record, len(indices))
	for i, idx := range indices {
		r, err := d.Get(idx)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return &Dataset{records: out}, nil
}

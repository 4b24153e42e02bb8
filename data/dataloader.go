package data

import (
	"context"
	"fmt"
	"iter"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// LoaderConfig controls batching.
type LoaderConfig struct {
	BatchSize  int
	Shuffle    bool
	NumWorkers int   // 0 collates on the consuming goroutine
	Seed       int64 // shuffle seed
}

// DataLoader provides batching, shuffling and parallel collation. Batches
// are always delivered in order. A DataLoader must not be iterated by more
// than one goroutine at a time.
type DataLoader struct {
	dataset  *Dataset
	collator *Collator
	config   LoaderConfig
	indices  []int
	rng      *rand.Rand
}

// NewDataLoader creates a new DataLoader
func NewDataLoader(dataset *Dataset, collator *Collator, config LoaderConfig) (*DataLoader, error) {
	if dataset == nil || collator == nil {
		return nil, fmt.Errorf("dataset and collator are required")
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", config.BatchSize)
	}
	if config.NumWorkers < 0 {
		return nil, fmt.Errorf("worker count must not be negative, got %d", config.NumWorkers)
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}
	return &DataLoader{
		dataset:  dataset,
		collator: collator,
		config:   config,
		indices:  indices,
		rng:      rand.New(rand.NewSource(config.Seed)),
	}, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.dataset.Len() + dl.config.BatchSize - 1) / dl.config.BatchSize
}

// Dataset returns the underlying dataset.
func (dl *DataLoader) Dataset() *Dataset { return dl.dataset }

// Batches yields one epoch of batches. With shuffling enabled each call
// draws a new permutation. Iteration stops at the first collation error or
// when ctx is done.
func (dl *DataLoader) Batches(ctx context.Context) iter.Seq2[*Batch, error] {
	if dl.config.Shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
	chunks := dl.chunks()

	if dl.config.NumWorkers == 0 {
		return func(yield func(*Batch, error) bool) {
			for _, chunk := range chunks {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
				if !yield(dl.loadBatch(chunk)) {
					return
				}
			}
		}
	}
	return dl.prefetch(ctx, chunks)
}

type loadResult struct {
	batch *Batch
	err   error
}

// prefetch collates up to NumWorkers batches concurrently, keeping at most
// 2*NumWorkers results queued ahead of the consumer.
func (dl *DataLoader) prefetch(ctx context.Context, chunks [][]int) iter.Seq2[*Batch, error] {
	return func(yield func(*Batch, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(dl.config.NumWorkers)

		slots := make(chan chan loadResult, 2*dl.config.NumWorkers)
		go func() {
			defer close(slots)
			for _, chunk := range chunks {
				slot := make(chan loadResult, 1)
				select {
				case slots <- slot:
				case <-gctx.Done():
					return
				}
				g.Go(func() error {
					b, err := dl.loadBatch(chunk)
					slot <- loadResult{b, err}
					return err
				})
			}
		}()
		defer func() {
			cancel()
			for range slots {
			}
			g.Wait()
		}()

		for slot := range slots {
			r := <-slot
			if r.err != nil {
				yield(nil, r.err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(r.batch, nil) {
				return
			}
		}
		// The dispatcher also stops early when the caller's context ends.
		if err := ctx.Err(); err != nil {
			yield(nil, err)
		}
	}
}

func (dl *DataLoader) chunks() [][]int {
	var chunks [][]int
	for start := 0; start < len(dl.indices); start += dl.config.BatchSize {
		end := min(start+dl.config.BatchSize, len(dl.indices))
		chunks = append(chunks, append([]int(nil), dl.indices[start:end]...))
	}
	return chunks
}

// loadBatch fetches the records of indices and collates them.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	records := make([]Record, len(indices))
	for i, idx := range indices {
		r, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %w", idx, err)
		}
		records[i] = r
	}
	batch, err := dl.collator.Collate(records, indices)
	if err != nil {
		return nil, fmt.Errorf("failed to collate batch: %w", err)
	}
	return batch, nil
}

// Package partition splits the ordered region list into chunks and batches
// for array submission.
//
// Partitioning is a pure function of the list length and the two size
// constants: re-partitioning the same list always yields identical
// boundaries. Chunks cover the region list exhaustively in original order
// with no gaps or overlaps; batches do the same for the 1-based index range
// of their chunk.
package partition

import (
	"fmt"

	"github.com/seqworks/peakscreen/pkg/regions"
)

// Default sizes. A chunk bounds how many regions one submission round
// covers; a batch is the array size of a single scheduler job.
const (
	DefaultChunkSize = 2500
	DefaultBatchSize = 1000
)

// Batch is a contiguous 1-based inclusive index range within one chunk,
// submitted as a single array job.
type Batch struct {
	// Chunk is the 0-based index of the owning chunk.
	Chunk int

	// First and Last are 1-based inclusive indexes into the chunk.
	First int
	Last  int
}

// Len returns the number of regions the batch covers.
func (b Batch) Len() int {
	return b.Last - b.First + 1
}

// ArrayRange formats the batch as a scheduler array range expression.
func (b Batch) ArrayRange() string {
	return fmt.Sprintf("%d-%d", b.First, b.Last)
}

// Chunk is a contiguous sub-sequence of the region list together with its
// batch subdivision.
type Chunk struct {
	// Index is the 0-based chunk position.
	Index int

	// Regions is a subslice of the source list; order is preserved.
	Regions []regions.Region

	// Batches subdivide [1, len(Regions)] exhaustively, in order.
	Batches []Batch
}

// Plan is the full partition of one region list.
type Plan struct {
	ChunkSize int
	BatchSize int
	Total     int
	Chunks    []Chunk
}

// NumBatches returns the total batch count across all chunks.
func (p *Plan) NumBatches() int {
	n := 0
	for _, c := range p.Chunks {
		n += len(c.Batches)
	}
	return n
}

// Split partitions list into chunks of at most chunkSize regions and each
// chunk into batches of at most batchSize indexes. Non-positive sizes fall
// back to the defaults. An empty list yields a plan with zero chunks.
func Split(list []regions.Region, chunkSize, batchSize int) *Plan {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	plan := &Plan{
		ChunkSize: chunkSize,
		BatchSize: batchSize,
		Total:     len(list),
	}

	for start := 0; start < len(list); start += chunkSize {
		end := start + chunkSize
		if end > len(list) {
			end = len(list)
		}
		idx := len(plan.Chunks)
		plan.Chunks = append(plan.Chunks, Chunk{
			Index:   idx,
			Regions: list[start:end],
			Batches: splitBatches(idx, end-start, batchSize),
		})
	}
	return plan
}

func splitBatches(chunkIdx, chunkLen, batchSize int) []Batch {
	var out []Batch
	for first := 1; first <= chunkLen; first += batchSize {
		last := first + batchSize - 1
		if last > chunkLen {
			last = chunkLen
		}
		out = append(out, Batch{Chunk: chunkIdx, First: first, Last: last})
	}
	return out
}

// ExpectedTokens returns the per-region output tokens the compute step is
// expected to produce for regions covered by b within c. The compiler
// checks discovered results against this manifest instead of trusting
// whatever the output directory happens to contain.
func ExpectedTokens(c Chunk, b Batch) []string {
	out := make([]string, 0, b.Len())
	for i := b.First; i <= b.Last; i++ {
		out = append(out, c.Regions[i-1].Token())
	}
	return out
}

// Manifest returns the expected output tokens for the whole plan, in
// region-list order.
func (p *Plan) Manifest() []string {
	out := make([]string, 0, p.Total)
	for _, c := range p.Chunks {
		for _, r := range c.Regions {
			out = append(out, r.Token())
		}
	}
	return out
}

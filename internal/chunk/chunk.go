// Package chunk splits an ordered sequence of work items into fixed-size
// groups and drives a caller-supplied transform over them, one group at a
// time, reporting fractional progress after each group.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrCanceled is returned by Process when the cancellation hook fires
// between groups. It is distinct from a transform failure: completed work is
// simply abandoned and no further groups run.
var ErrCanceled = errors.New("chunked processing canceled")

// GroupError identifies the group whose transform failed.
type GroupError struct {
	Index int // 0-based group index
	Total int
	Err   error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("failed at chunk %d/%d: %v", e.Index+1, e.Total, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }

// Group is one contiguous slice [Start, End) of the input sequence.
type Group struct {
	Index int // 0-based
	Total int
	Start int // inclusive, 0-based
	End   int // exclusive
}

// Size returns the number of items covered by the group.
func (g Group) Size() int { return g.End - g.Start }

// Transform processes one group and returns a partial result. Groups never
// execute concurrently; a group only begins after the previous one returned.
type Transform[R any] func(ctx context.Context, g Group) (R, error)

// ProgressFunc receives the rounded percent complete after each group along
// with a human-readable description. It is fire-and-forget: its outcome does
// not affect processing.
type ProgressFunc func(percent int, message string)

// Options tunes a Process run.
type Options struct {
	// Progress, when non-nil, is invoked after each group's transform returns.
	Progress ProgressFunc
	// Canceled, when non-nil, is polled before each group; returning true
	// aborts the run with ErrCanceled.
	Canceled func(ctx context.Context) bool
	// Observe, when non-nil, receives each group's transform duration.
	Observe func(g Group, d time.Duration)
}

// Process splits n items into ceil(n/size) groups and runs transform over
// them sequentially. It returns the ordered per-group results; merging is the
// caller's concern. A non-positive n yields an empty result without invoking
// the transform. On failure at group i no further groups run and no partial
// results are returned.
func Process[R any](ctx context.Context, n, size int, transform Transform[R], opts Options) ([]R, error) {
	if n <= 0 {
		return nil, nil
	}
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}

	total := int(math.Ceil(float64(n) / float64(size)))
	results := make([]R, 0, total)

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, ErrCanceled
		}
		if opts.Canceled != nil && opts.Canceled(ctx) {
			return nil, ErrCanceled
		}

		start := i * size
		end := start + size
		if end > n {
			end = n
		}
		g := Group{Index: i, Total: total, Start: start, End: end}

		began := time.Now()
		r, err := transform(ctx, g)
		if opts.Observe != nil {
			opts.Observe(g, time.Since(began))
		}
		if err != nil {
			return nil, &GroupError{Index: i, Total: total, Err: err}
		}
		results = append(results, r)

		if opts.Progress != nil {
			percent := int(math.Round(float64(i+1) / float64(total) * 100))
			msg := fmt.Sprintf("Processing chunk %d/%d (%d-%d of %d)", i+1, total, start+1, end, n)
			opts.Progress(percent, msg)
		}
	}

	return results, nil
}

// RowSpan maps a group over data rows back to 1-based sheet row numbers
// below a header block: the group's first row is headerRows+1+Start.
func RowSpan(g Group, headerRows int) (first, last int) {
	first = headerRows + 1 + g.Start
	last = headerRows + g.End
	return first, last
}

// Flatten concatenates per-group slice results preserving order.
func Flatten[T any](parts [][]T) []T {
	var out []T
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

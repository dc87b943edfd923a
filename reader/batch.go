package reader

import (
	"errors"
	"fmt"
	"slices"

	"github.com/arloliu/f3/errs"
	"github.com/arloliu/f3/ude"
)

// RowRange is a half-open range of row indexes [Start, End).
type RowRange struct {
	Start uint64
	End   uint64
}

// Len returns the number of rows in the range.
func (r RowRange) Len() uint64 {
	return r.End - r.Start
}

// normalizeRanges validates ranges against numRows, drops empty ones, sorts them and
// merges overlapping or adjacent ranges.
func normalizeRanges(ranges []RowRange, numRows uint64) ([]RowRange, error) {
	out := make([]RowRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Start > r.End || r.End > numRows {
			return nil, fmt.Errorf("%w: [%d, %d) with %d rows", errs.ErrRowRangeOutOfBounds, r.Start, r.End, numRows)
		}
		if r.Start < r.End {
			out = append(out, r)
		}
	}

	slices.SortFunc(out, func(a, b RowRange) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})

	merged := out[:0]
	for _, r := range out {
		if n := len(merged); n > 0 && r.Start <= merged[n-1].End {
			merged[n-1].End = max(merged[n-1].End, r.End)
			continue
		}
		merged = append(merged, r)
	}

	return merged, nil
}

// RecordBatch holds the projected columns of one contiguous row span.
//
// A column whose codec faulted inside the sandbox has a nil value and a non-nil error;
// the other columns are still decoded.
type RecordBatch struct {
	FirstRow uint64
	NumRows  int
	Schema   []ude.Column
	Values   []*ude.Batch
	Errors   []error
}

// Column returns the values of the named column.
//
// Returns:
//   - *ude.Batch: Column values
//   - error: ErrColumnNotFound, or the fault recorded for the column
func (rb *RecordBatch) Column(name string) (*ude.Batch, error) {
	for i, c := range rb.Schema {
		if c.Name == name {
			return rb.Values[i], rb.Errors[i]
		}
	}

	return nil, fmt.Errorf("%w: %q", errs.ErrColumnNotFound, name)
}

// Err joins the per-column errors, nil when every column decoded.
func (rb *RecordBatch) Err() error {
	return errors.Join(rb.Errors...)
}

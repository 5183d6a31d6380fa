// Package partition splits a contiguous ticket id range into static,
// non-overlapping slices, one per export worker.
package partition

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange is returned when the end id is below the start id.
	ErrInvalidRange = errors.New("invalid id range")

	// ErrInvalidCount is returned when fewer than one partition is requested.
	ErrInvalidCount = errors.New("partition count must be >= 1")
)

// RangeError carries the bounds of a rejected range.
type RangeError struct {
	Start int64
	End   int64
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: end %d < start %d", ErrInvalidRange, e.End, e.Start)
}

// Unwrap allows errors.Is(err, ErrInvalidRange).
func (e *RangeError) Unwrap() error {
	return ErrInvalidRange
}

// Partition is an ordered, contiguous slice of record ids.
type Partition struct {
	// Index identifies the partition in logs (0-based).
	Index int

	// IDs are the record ids in ascending order.
	IDs []int64
}

// Len returns the number of ids in the partition.
func (p Partition) Len() int {
	return len(p.IDs)
}

// First returns the lowest id, or 0 for an empty partition.
func (p Partition) First() int64 {
	if len(p.IDs) == 0 {
		return 0
	}
	return p.IDs[0]
}

// Last returns the highest id, or 0 for an empty partition.
func (p Partition) Last() int64 {
	if len(p.IDs) == 0 {
		return 0
	}
	return p.IDs[len(p.IDs)-1]
}

// String implements fmt.Stringer.
func (p Partition) String() string {
	return fmt.Sprintf("partition %d [%d-%d]", p.Index, p.First(), p.Last())
}

// Size returns the slice length Split uses for the closed range [start, end]
// divided across n partitions. It is at least 1.
func Size(start, end int64, n int) int64 {
	size := (end - start + 1) / int64(n)
	if size < 1 {
		return 1
	}
	return size
}

// Split divides [start, end] into consecutive partitions of Size ids each;
// the last one may be shorter. The result may hold more than n partitions
// when the range does not divide evenly (floor division), and fewer when the
// range holds fewer than n ids.
func Split(start, end int64, n int) ([]Partition, error) {
	if end < start {
		return nil, &RangeError{Start: start, End: end}
	}
	if n < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidCount, n)
	}

	size := Size(start, end, n)
	total := end - start + 1
	count := (total + size - 1) / size

	partitions := make([]Partition, 0, count)
	for lo := start; lo <= end; lo += size {
		hi := lo + size - 1
		if hi > end {
			hi = end
		}

		ids := make([]int64, 0, hi-lo+1)
		for id := lo; id <= hi; id++ {
			ids = append(ids, id)
		}

		partitions = append(partitions, Partition{
			Index: len(partitions),
			IDs:   ids,
		})

		// guard against overflow when end is near MaxInt64
		if hi == end {
			break
		}
	}

	return partitions, nil
}

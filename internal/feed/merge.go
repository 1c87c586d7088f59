// Package feed merges timestamped records into the newest-first timeline shown
// to responders and produces the periodic synthetic status updates.
package feed

import (
	"sort"
	"time"
)

type Timestamped interface {
	Timestamp() time.Time
}

// Merge concatenates seqs and orders the result newest first. Items with equal
// timestamps keep their input order. The inputs are not modified.
func Merge[T Timestamped](seqs ...[]T) []T {
	total := 0
	for _, seq := range seqs {
		total += len(seq)
	}

	merged := make([]T, 0, total)
	for _, seq := range seqs {
		merged = append(merged, seq...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp().After(merged[j].Timestamp())
	})
	return merged
}

// Limit returns at most n leading items. n <= 0 means no limit.
func Limit[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[:n]
}

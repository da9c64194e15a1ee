package ledger

import (
	"sort"
	"time"

	"production-ledger/internal/models"
)

// DefaultDedupWindow is the idle gap below which same-reason entries of a row merge
const DefaultDedupWindow = 5 * time.Second

// Dedupe collapses runs of consecutive same-reason entries of a row into one entry
// carrying the net effect of the run. A run continues while the next entry has the
// same reason and follows the previous one by less than window.
//
// The input is not modified. Output is ordered by created_at, row key and id.
func Dedupe(entries []models.MovementLogEntry, window time.Duration) []models.MovementLogEntry {
	if len(entries) == 0 {
		return []models.MovementLogEntry{}
	}

	groups := make(map[string][]models.MovementLogEntry)
	keys := make([]string, 0)
	for _, e := range entries {
		if _, ok := groups[e.RowKey]; !ok {
			keys = append(keys, e.RowKey)
		}
		groups[e.RowKey] = append(groups[e.RowKey], e)
	}
	sort.Strings(keys)

	out := make([]models.MovementLogEntry, 0, len(entries))
	for _, key := range keys {
		out = append(out, dedupeStream(groups[key], window)...)
	}
	sortEntries(out)
	return out
}

func dedupeStream(stream []models.MovementLogEntry, window time.Duration) []models.MovementLogEntry {
	sortEntries(stream)

	out := make([]models.MovementLogEntry, 0, len(stream))
	run := stream[0]
	last := stream[0]
	for _, next := range stream[1:] {
		if next.Reason == last.Reason && next.CreatedAt.Sub(last.CreatedAt) < window {
			run = merge(run, next)
			last = next
			continue
		}
		out = append(out, run)
		run = next
		last = next
	}
	return append(out, run)
}

// merge keeps the "before" side of first and the "after" side of last
func merge(first, last models.MovementLogEntry) models.MovementLogEntry {
	merged := first
	merged.StageAfter = last.StageAfter
	merged.QtyAfter = last.QtyAfter
	merged.PlusAfter = last.PlusAfter
	merged.DestQtyAfter = last.DestQtyAfter
	merged.Actor = last.Actor
	merged.CreatedAt = last.CreatedAt
	if first.DestQtyBefore == nil || last.DestQtyAfter == nil {
		merged.DestQtyBefore = nil
		merged.DestQtyAfter = nil
	}
	return merged
}

func sortEntries(entries []models.MovementLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.RowKey != b.RowKey {
			return a.RowKey < b.RowKey
		}
		return a.ID < b.ID
	})
}

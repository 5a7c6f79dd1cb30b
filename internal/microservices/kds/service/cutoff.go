package service

import "time"

// CutoffWindow bounds how far back ingestion looks.
type CutoffWindow struct {
	// DefaultLookback applies when the display has never held an order.
	DefaultLookback time.Duration
	// MaxLookback is the hard floor; nothing older than now-MaxLookback is read.
	MaxLookback time.Duration
}

// ComputeCutoff returns the instant after which POS receipts are considered new.
// The latest known order time is the candidate (now-DefaultLookback when there
// is none), a later clear marker overrides it, and the result is clamped so it
// is never before now-MaxLookback.
func ComputeCutoff(now time.Time, lastOrderTime, lastClear *time.Time, w CutoffWindow) time.Time {
	cutoff := now.Add(-w.DefaultLookback)
	if lastOrderTime != nil {
		cutoff = *lastOrderTime
	}
	if lastClear != nil && lastClear.After(cutoff) {
		cutoff = *lastClear
	}
	if floor := now.Add(-w.MaxLookback); cutoff.Before(floor) {
		cutoff = floor
	}
	return cutoff
}

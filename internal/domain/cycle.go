package domain

import "time"

// CycleStats holds statistics about one poll cycle of a feed.
type CycleStats struct {
	Feed          string
	Unmodified    bool
	Fetched       int
	New           int
	AlreadyPosted int
	Posted        int
	Failed        int
	Trimmed       int64
	Duration      time.Duration
}

// DeliveryReport summarizes the fan-out of one item across destinations.
type DeliveryReport struct {
	Delivered int
	Recorded  bool
	// Incomplete is set when any destination was rate limited or failed; the
	// caller must invalidate the feed fingerprint so the item is reconsidered.
	Incomplete bool
	Skipped    bool
}

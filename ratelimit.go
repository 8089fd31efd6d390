package main

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// RateCounter tracks per-sender message counts over a trailing window. Entries
// expire on their own; go-cache shards writes internally so concurrent bumps
// from many ingestion goroutines do not contend on one lock.
type RateCounter struct {
	counts *cache.Cache
}

func NewRateCounter(window time.Duration) *RateCounter {
	return &RateCounter{
		counts: cache.New(window, 2*window),
	}
}

// Bump increments the sender's count and returns the new value. The window
// starts at the sender's first message and resets once the entry expires.
func (rc *RateCounter) Bump(sender string) (int, error) {
	if err := rc.counts.Add(sender, 1, cache.DefaultExpiration); err == nil {
		return 1, nil
	}
	return rc.counts.IncrementInt(sender, 1)
}

// Count returns the sender's current count without incrementing.
func (rc *RateCounter) Count(sender string) int {
	if v, found := rc.counts.Get(sender); found {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return 0
}

package ratelimit

import (
	"math"
	"time"
)

// BucketState is the persisted state of one bucket
type BucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

// Decision is the outcome of taking a token from a bucket
type Decision struct {
	Allowed    bool
	Tokens     float64
	RetryAfter time.Duration
	ResetIn    time.Duration
}

// Take refills the bucket described by prev up to now and consumes one
// token if at least one is available. A nil prev is a bucket that has
// never been used and starts full. The returned state must be persisted
// whether or not the token was granted.
func Take(def Definition, prev *BucketState, now time.Time) (BucketState, Decision) {
	if def.Disabled() {
		return BucketState{Tokens: 0, LastRefill: now}, Decision{}
	}

	capacity := float64(def.Capacity)
	state := BucketState{Tokens: capacity, LastRefill: now}

	if prev != nil {
		state = refill(def, *prev, now)
	}

	dec := Decision{}
	if state.Tokens >= 1 {
		state.Tokens--
		dec.Allowed = true
	} else {
		dec.RetryAfter = durationFor(def, 1-state.Tokens)
	}

	dec.Tokens = state.Tokens
	dec.ResetIn = durationFor(def, capacity-state.Tokens)
	return state, dec
}

// refill adds elapsed/period*rate tokens. A clock that reads earlier than
// the stored refill time adds nothing and keeps the stored time.
func refill(def Definition, prev BucketState, now time.Time) BucketState {
	capacity := float64(def.Capacity)
	tokens := math.Max(0, math.Min(prev.Tokens, capacity))

	elapsed := now.Sub(prev.LastRefill)
	if elapsed <= 0 {
		return BucketState{Tokens: tokens, LastRefill: prev.LastRefill}
	}

	added := float64(elapsed) * def.Rate / float64(def.Period)
	return BucketState{
		Tokens:     math.Min(capacity, tokens+added),
		LastRefill: now,
	}
}

// durationFor returns the time needed to accumulate n tokens, rounded up
// to whole milliseconds
func durationFor(def Definition, n float64) time.Duration {
	if n <= 0 {
		return 0
	}
	d := n * float64(def.Period) / def.Rate
	// Tolerate float noise so exact multiples do not round up a millisecond.
	ms := math.Ceil(d/float64(time.Millisecond) - 1e-9)
	return time.Duration(ms) * time.Millisecond
}

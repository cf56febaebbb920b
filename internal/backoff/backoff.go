// Package backoff holds the retry policy for CRM push attempts. The policy is
// a pure value so the schedule can be unit tested without timers.
package backoff

import (
	"math/rand"
	"time"
)

// Policy computes the delay before the next push attempt and bounds the total
// attempt count. Delays are measured from attempt failure time.
type Policy struct {
	// Base is the delay after the first failed attempt.
	Base time.Duration
	// MaxAttempts bounds the total number of attempts, the initial one included.
	MaxAttempts int
	// Jitter adds up to 10% of the computed delay to avoid synchronized
	// retry storms across many records.
	Jitter bool
}

// New constructs a Policy with sane fallbacks.
func New(base time.Duration, maxAttempts int) Policy {
	if base <= 0 {
		base = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return Policy{Base: base, MaxAttempts: maxAttempts}
}

// Delay returns the wait before attempt n+1, given that attempt n (1-indexed)
// just failed: Base × 2^(n-1).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	d := p.Base << uint(shift)
	if p.Jitter && d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/10 + 1))
	}
	return d
}

// Allows reports whether attempt n (1-indexed) is within the attempt budget.
func (p Policy) Allows(attempt int) bool {
	return attempt <= p.MaxAttempts
}

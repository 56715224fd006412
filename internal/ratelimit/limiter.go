// Package ratelimit paces outbound calls to the hosting platform with
// token-bucket limiters, one per call family.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Call families. Each one draws from its own bucket so a burst of blob
// transfers does not starve REST listing calls.
const (
	REST     = "rest"
	Download = "download"
	Upload   = "upload"
)

// Rates configures per-family request rates (requests per second).
type Rates struct {
	REST     float64
	Download float64
	Upload   float64
}

// DefaultRates stays well under the REST secondary rate limits for a single
// workflow token.
func DefaultRates() Rates {
	return Rates{
		REST:     10,
		Download: 4,
		Upload:   4,
	}
}

// Limiter rate-limits provider calls per family.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// New creates a limiter with the given per-family rates. A zero or negative
// rate leaves that family unlimited.
func New(rates Rates) *Limiter {
	l := &Limiter{limiters: make(map[string]*rate.Limiter)}
	l.set(REST, rates.REST)
	l.set(Download, rates.Download)
	l.set(Upload, rates.Upload)
	return l
}

func (l *Limiter) set(family string, rps float64) {
	if rps <= 0 {
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	l.limiters[family] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Wait blocks until a token is available for family, or ctx is cancelled.
// A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, family string) error {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	limiter, ok := l.limiters[family]
	l.mu.RUnlock()
	if !ok {
		return nil // unknown family = no limit
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: %s: %w", family, err)
	}
	return nil
}

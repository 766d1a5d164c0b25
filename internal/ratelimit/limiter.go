// Package ratelimit enforces a per-user posting budget over the HTTP API.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// PerUser keeps an independent token bucket per user ID. Buckets refill
// continuously, so an hourly budget of N admits roughly one request every
// 3600/N seconds once the burst allowance is spent.
type PerUser struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	refill  rate.Limit
	burst   int
	hourly  int
}

// PerHour builds a limiter admitting requests per hour for each user, with
// up to burst of them back to back.
func PerHour(requests, burst int) *PerUser {
	return &PerUser{
		buckets: make(map[string]*rate.Limiter),
		refill:  rate.Limit(float64(requests) / 3600.0),
		burst:   burst,
		hourly:  requests,
	}
}

func (p *PerUser) bucket(userID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[userID]
	if !ok {
		b = rate.NewLimiter(p.refill, p.burst)
		p.buckets[userID] = b
	}
	return b
}

// Allow reports whether userID may make another request right now.
func (p *PerUser) Allow(userID string) bool {
	return p.bucket(userID).Allow()
}

// Remaining reports how many requests userID can still make without waiting.
func (p *PerUser) Remaining(userID string) int {
	if n := int(p.bucket(userID).Tokens()); n > 0 {
		return n
	}
	return 0
}

// Hourly returns the configured per-hour budget.
func (p *PerUser) Hourly() int {
	return p.hourly
}

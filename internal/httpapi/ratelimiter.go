package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter enforces a maximum number of events per window,
// independently per key. Rather than keep a growing log of event
// timestamps per key (which a caller sending a steady trickle of requests
// would never let shrink), it tracks two adjacent fixed buckets per key
// and estimates the sliding-window count as a weighted blend of the two —
// the same approximate-sliding-window technique used by most production
// HTTP rate limiters, trading a small amount of precision at the bucket
// boundary for O(1) memory per key instead of O(events).
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucketPair
}

type bucketPair struct {
	currentStart time.Time
	current      int
	previous     int
}

// NewSlidingWindowLimiter constructs a limiter allowing up to limit events
// per window, tracked independently for every key passed to Allow.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &SlidingWindowLimiter{
		window:  window,
		limit:   limit,
		now:     timeSource,
		buckets: make(map[string]*bucketPair),
	}
}

// Allow reports whether key may proceed under the current rate limit.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucketPair{currentStart: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.currentStart)
	switch {
	case elapsed >= 2*l.window:
		b.previous = 0
		b.current = 0
		b.currentStart = now
		elapsed = 0
	case elapsed >= l.window:
		b.previous = b.current
		b.current = 0
		b.currentStart = b.currentStart.Add(l.window)
		elapsed -= l.window
	}

	weight := 1 - float64(elapsed)/float64(l.window)
	if weight < 0 {
		weight = 0
	}
	estimate := float64(b.previous)*weight + float64(b.current)
	if estimate >= float64(l.limit) {
		return false
	}
	b.current++
	return true
}

// Forget discards rate-limit state for every key whose current bucket
// started before olderThan; the caller chooses the cutoff. Called
// periodically by the owner, it keeps long-lived deployments from
// accumulating one bucketPair per distinct caller forever. Allow never
// calls it.
func (l *SlidingWindowLimiter) Forget(olderThan time.Time) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.currentStart.Before(olderThan) {
			delete(l.buckets, key)
		}
	}
}

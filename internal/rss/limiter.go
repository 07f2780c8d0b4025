package rss

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// Per-host politeness limits.
const (
	// MaxConcurrencyPerHost limits parallel requests to any single host.
	MaxConcurrencyPerHost = 2
	// DelayBetweenHostRequests is the minimum delay between requests to the same host.
	DelayBetweenHostRequests = 500 * time.Millisecond
)

// hostLimiter keeps parallel runs from hammering a host that serves
// several subscribed feeds.
type hostLimiter struct {
	mu          sync.Mutex
	slots       map[string]chan struct{}
	lastRequest map[string]time.Time
	perHost     int
	delay       time.Duration
}

func newHostLimiter(perHost int, delay time.Duration) *hostLimiter {
	return &hostLimiter{
		slots:       make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
		perHost:     perHost,
		delay:       delay,
	}
}

// acquire blocks until a slot for host is free and the minimum delay since
// the previous request has passed. The returned func releases the slot.
func (l *hostLimiter) acquire(ctx context.Context, host string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[host]
	if !ok {
		slot = make(chan struct{}, l.perHost)
		l.slots[host] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.Lock()
	last := l.lastRequest[host]
	l.mu.Unlock()

	if wait := l.delay - time.Since(last); !last.IsZero() && wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			<-slot
			return nil, ctx.Err()
		}
	}

	return func() {
		l.mu.Lock()
		l.lastRequest[host] = time.Now()
		l.mu.Unlock()
		<-slot
	}, nil
}

// hostOf returns the host part of a feed URL, or the URL itself when it
// does not parse.
func hostOf(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

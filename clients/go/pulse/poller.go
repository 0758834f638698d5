package pulse

import (
	"context"
	"errors"
	"time"
)

const defaultSeenLimit = 1024

// Poller fetches a window of recent items on a fixed interval and hands each
// item to the caller once. Reads on the server are idempotent, so the only
// state is the set of keys already emitted.
type Poller[T any] struct {
	Interval time.Duration
	// Fetch returns the current window, oldest first.
	Fetch func(ctx context.Context) ([]T, error)
	// Key identifies an item across polls.
	Key func(T) string
	// SkipBacklog marks the first window as seen without emitting it.
	SkipBacklog bool
	// OnError is called for failed polls. Polling continues.
	OnError func(error)

	seen  map[string]struct{}
	order []string
}

// Run polls until ctx is done and returns ctx.Err().
func (p *Poller[T]) Run(ctx context.Context, emit func(T)) error {
	if p.Interval <= 0 {
		p.Interval = 2 * time.Second
	}
	p.seen = make(map[string]struct{})
	p.order = p.order[:0]

	first := true
	wait := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = p.Interval

		items, err := p.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p.OnError != nil {
				p.OnError(err)
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > wait {
				wait = apiErr.RetryAfter
			}
			continue
		}

		for _, item := range items {
			if !p.markSeen(p.Key(item)) {
				continue
			}
			if first && p.SkipBacklog {
				continue
			}
			emit(item)
		}
		first = false
	}
}

// markSeen records key and reports whether it was new.
func (p *Poller[T]) markSeen(key string) bool {
	if _, ok := p.seen[key]; ok {
		return false
	}
	p.seen[key] = struct{}{}
	p.order = append(p.order, key)
	if len(p.order) > defaultSeenLimit {
		delete(p.seen, p.order[0])
		p.order = p.order[1:]
	}
	return true
}

package api

import (
	"context"
	"sync"
	"time"
)

const refreshTimeout = 15 * time.Second

type refreshResult struct {
	token string
	err   error
}

// refresher runs at most one token refresh at a time. Requests that hit 401
// while a refresh is in flight queue up as waiters and all receive the same
// outcome.
type refresher struct {
	mu       sync.Mutex
	inFlight bool
	waiters  []chan refreshResult
	runs     int
}

func (r *refresher) await(ctx context.Context, refresh func(context.Context) (string, error)) (string, error) {
	ch := make(chan refreshResult, 1)

	r.mu.Lock()
	r.waiters = append(r.waiters, ch)
	if !r.inFlight {
		r.inFlight = true
		r.runs++
		go r.run(refresh)
	}
	r.mu.Unlock()

	select {
	case res := <-ch:
		return res.token, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// run is detached from any single caller's context so one cancelled request
// cannot fail the refresh for everyone else.
func (r *refresher) run(refresh func(context.Context) (string, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	token, err := refresh(ctx)

	r.mu.Lock()
	waiters := r.waiters
	r.waiters = nil
	r.inFlight = false
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}
}

func (r *refresher) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

func (r *refresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

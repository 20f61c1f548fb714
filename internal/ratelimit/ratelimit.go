// Package ratelimit provides a fixed-window per-client request limiter.
//
// Each client gets an independent window of MaxRequests requests. A client
// that exhausts its window is blocked until the oldest in-window request ages
// out. RecordSuccess and RecordFailure can retroactively exclude a request
// from the window when the corresponding skip option is set.
package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds limiter settings.
type Config struct {
	Window                 time.Duration `json:"windowMs" mapstructure:"windowMs"`
	MaxRequests            int           `json:"maxRequests" mapstructure:"maxRequests"`
	SkipSuccessfulRequests bool          `json:"skipSuccessfulRequests" mapstructure:"skipSuccessfulRequests"`
	SkipFailedRequests     bool          `json:"skipFailedRequests" mapstructure:"skipFailedRequests"`
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeSuccess
	outcomeFailure
)

type request struct {
	id      string
	at      time.Time
	outcome outcome
}

// Result describes the outcome of an Allow call.
type Result struct {
	Allowed    bool
	RequestID  string        // set when Allowed, used for RecordSuccess/Failure
	Remaining  int           // requests left in the current window
	RetryAfter time.Duration // wait time when not allowed
}

// Limiter is a thread-safe fixed-window rate limiter.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	clients map[string][]request
	nowFunc func() time.Time
}

// New creates a Limiter with the given configuration.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string][]request),
		nowFunc: time.Now,
	}
}

// Allow records a request for clientID and reports whether it is within the
// window budget.
func (l *Limiter) Allow(clientID string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	reqs := l.pruneLocked(clientID, now)

	counted := 0
	var oldest time.Time
	for _, r := range reqs {
		if l.excluded(r) {
			continue
		}
		counted++
		if oldest.IsZero() || r.at.Before(oldest) {
			oldest = r.at
		}
	}

	if counted >= l.cfg.MaxRequests {
		retryAfter := l.cfg.Window - now.Sub(oldest)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	id := uuid.New().String()
	l.clients[clientID] = append(reqs, request{id: id, at: now})
	return Result{Allowed: true, RequestID: id, Remaining: l.cfg.MaxRequests - counted - 1}
}

// RecordSuccess marks a previously allowed request as successful.
func (l *Limiter) RecordSuccess(clientID, requestID string) {
	l.record(clientID, requestID, outcomeSuccess)
}

// RecordFailure marks a previously allowed request as failed.
func (l *Limiter) RecordFailure(clientID, requestID string) {
	l.record(clientID, requestID, outcomeFailure)
}

func (l *Limiter) record(clientID, requestID string, o outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	reqs := l.clients[clientID]
	for i := range reqs {
		if reqs[i].id == requestID {
			reqs[i].outcome = o
			return
		}
	}
}

// Reset clears all recorded requests for a client.
func (l *Limiter) Reset(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, clientID)
}

// excluded reports whether a request no longer counts against the window.
func (l *Limiter) excluded(r request) bool {
	switch r.outcome {
	case outcomeSuccess:
		return l.cfg.SkipSuccessfulRequests
	case outcomeFailure:
		return l.cfg.SkipFailedRequests
	default:
		return false
	}
}

// pruneLocked drops requests that aged out of the window. Caller holds the lock.
func (l *Limiter) pruneLocked(clientID string, now time.Time) []request {
	reqs := l.clients[clientID]
	cutoff := now.Add(-l.cfg.Window)

	kept := reqs[:0]
	for _, r := range reqs {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}

	if len(kept) == 0 {
		delete(l.clients, clientID)
		return nil
	}
	l.clients[clientID] = kept
	return kept
}

// Package coalesce collapses viewport requests from many clients onto one
// outbound upstream call per scheduler tick.
package coalesce

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

var (
	// ErrInvalidRequest is returned for requests without a complete bounding box.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownRemote is returned for requests naming a provider the queue does not serve.
	ErrUnknownRemote = errors.New("unknown remote provider")
)

// DefaultMaxPending bounds the queue; the oldest request is dropped beyond it.
const DefaultMaxPending = 1024

// Request is one pending viewport query of a client.
type Request struct {
	ID     uuid.UUID
	Time   time.Time
	Client string

	// Bounds is nil when the client did not send a complete box
	Bounds *orb.Bound

	// Remote names the upstream provider
	Remote string
}

// NewRequest creates a request stamped with a fresh id and the current time.
func NewRequest(client string, bounds *orb.Bound, remote string) Request {
	return Request{
		ID:     uuid.New(),
		Time:   time.Now(),
		Client: client,
		Bounds: bounds,
		Remote: remote,
	}
}

// Center returns the center of the bounding box.
func (r Request) Center() orb.Point {
	if r.Bounds == nil {
		return orb.Point{}
	}
	return r.Bounds.Center()
}

// Queue is a multi-producer, single-consumer request queue.
// Push never waits on the consumer; Next selects and removes atomically.
type Queue struct {
	providers  map[string]bool
	maxPending int

	mu      sync.Mutex
	pending []Request
	dropped int
}

// NewQueue creates a queue accepting requests for the given providers.
func NewQueue(maxPending int, providers ...string) *Queue {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	known := make(map[string]bool, len(providers))
	for _, p := range providers {
		known[p] = true
	}
	return &Queue{
		providers:  known,
		maxPending: maxPending,
	}
}

// Push enqueues a request. When the queue is full the oldest request is dropped.
func (q *Queue) Push(r Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) >= q.maxPending {
		q.pending = q.pending[1:]
		q.dropped++
	}
	q.pending = append(q.pending, r)
}

// Next takes the oldest pending request, lets the newest request of the same
// client supersede it and removes every request of that client. It reports
// false when the queue is empty.
func (q *Queue) Next() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Request{}, false
	}

	oldest := 0
	for i, r := range q.pending {
		if r.Time.Before(q.pending[oldest].Time) {
			oldest = i
		}
	}

	selected := q.pending[oldest]
	for _, r := range q.pending {
		// Equal times resolve to the later push
		if r.Client == selected.Client && !r.Time.Before(selected.Time) {
			selected = r
		}
	}

	q.pending = slices.DeleteFunc(q.pending, func(r Request) bool {
		return r.Client == selected.Client && !r.Time.After(selected.Time)
	})
	return selected, true
}

// Validate checks that r has a complete bounding box and a served provider.
func (q *Queue) Validate(r Request) error {
	if r.Bounds == nil {
		return fmt.Errorf("%w: request %s has no bounding box", ErrInvalidRequest, r.ID)
	}
	b := *r.Bounds
	if b.Min.Lat() < -90 || b.Max.Lat() > 90 || b.Min.Lon() < -180 || b.Max.Lon() > 180 ||
		b.Min.Lat() > b.Max.Lat() || b.Min.Lon() > b.Max.Lon() {
		return fmt.Errorf("%w: request %s has bounding box out of range", ErrInvalidRequest, r.ID)
	}
	if !q.providers[r.Remote] {
		return fmt.Errorf("%w: %q", ErrUnknownRemote, r.Remote)
	}
	return nil
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dropped returns how many requests were discarded because the queue was full.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

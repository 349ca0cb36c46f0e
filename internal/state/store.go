// Package state holds the live vehicle stores and the merge engine that turns
// normalized samples into long-lived records.
package state

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/unklstewy/adsb-feedhub/pkg/adsb"
)

// Namespace separates stores whose records never merge with each other.
type Namespace string

const (
	NamespaceLocal      Namespace = "local"
	NamespaceRemote     Namespace = "remote"
	NamespaceSpacecraft Namespace = "spacecraft"
)

// Store is a concurrent map of records keyed by lower-cased hex.
//
// Records are copy-on-write: Put takes ownership of the record it is given and
// readers always receive clones, so a reader never observes a half-merged record.
type Store struct {
	namespace Namespace

	mu      sync.RWMutex
	records map[string]*adsb.Record
}

// NewStore creates an empty store.
func NewStore(ns Namespace) *Store {
	return &Store{
		namespace: ns,
		records:   make(map[string]*adsb.Record),
	}
}

// Namespace returns the namespace of the store.
func (s *Store) Namespace() Namespace {
	return s.namespace
}

func key(hex string) string {
	return strings.ToLower(strings.TrimSpace(hex))
}

// Get returns a copy of the record for hex.
func (s *Store) Get(hex string) (*adsb.Record, bool) {
	s.mu.RLock()
	rec, ok := s.records[key(hex)]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Put stores rec, replacing any record with the same hex.
// The caller must not modify rec afterwards.
func (s *Store) Put(rec *adsb.Record) {
	rec.Hex = key(rec.Hex)

	s.mu.Lock()
	s.records[rec.Hex] = rec
	s.mu.Unlock()
}

// Update applies fn to a copy of the record for hex and stores the result.
// It reports false when there is no such record.
func (s *Store) Update(hex string, fn func(*adsb.Record)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[key(hex)]
	if !ok {
		return false
	}
	next := cur.Clone()
	fn(next)
	next.Hex = cur.Hex
	s.records[cur.Hex] = next
	return true
}

// Upsert replaces the record for hex with the result of fn while holding the
// write lock. fn receives a copy of the current record, or nil when there is
// none, and must return a non-nil record the store then owns.
func (s *Store) Upsert(hex string, fn func(cur *adsb.Record) *adsb.Record) {
	k := key(hex)

	s.mu.Lock()
	defer s.mu.Unlock()

	var cur *adsb.Record
	if rec, ok := s.records[k]; ok {
		cur = rec.Clone()
	}
	next := fn(cur)
	next.Hex = k
	s.records[k] = next
}

// Delete removes the record for hex.
func (s *Store) Delete(hex string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(hex)
	if _, ok := s.records[k]; !ok {
		return false
	}
	delete(s.records, k)
	return true
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns copies of all records ordered by hex.
func (s *Store) Snapshot() []*adsb.Record {
	return s.filter(func(*adsb.Record) bool { return true })
}

// InBounds returns copies of the records positioned inside bound.
func (s *Store) InBounds(bound orb.Bound) []*adsb.Record {
	return s.filter(func(r *adsb.Record) bool {
		pos, ok := r.Position()
		return ok && bound.Contains(orb.Point{pos.Longitude, pos.Latitude})
	})
}

// IdleSince returns copies of the records last updated before cutoff.
func (s *Store) IdleSince(cutoff time.Time) []*adsb.Record {
	return s.filter(func(r *adsb.Record) bool { return r.LastUpdate.Before(cutoff) })
}

func (s *Store) filter(keep func(*adsb.Record) bool) []*adsb.Record {
	s.mu.RLock()
	out := make([]*adsb.Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *adsb.Record) int { return strings.Compare(a.Hex, b.Hex) })
	return out
}

package subs

import (
	"sort"
	"sync"

	"futu-bridge/internal/gateway"
)

// Record is one live subscription: the normalized symbol, the gateway's
// native code, and the requested data kinds.
type Record struct {
	Symbol string
	Code   string
	Kinds  []gateway.SubKind
}

// Registry tracks the subscribed set. The reconnection controller
// enumerates it read-only to replay after an outage; only subscribe and
// unsubscribe mutate it.
type Registry struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]Record)}
}

// Add records a subscription, merging kinds when the code is already
// subscribed.
func (r *Registry) Add(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[rec.Code]
	if !ok {
		r.records[rec.Code] = Record{Symbol: rec.Symbol, Code: rec.Code, Kinds: append([]gateway.SubKind(nil), rec.Kinds...)}
		return
	}
	for _, kind := range rec.Kinds {
		if !hasKind(existing.Kinds, kind) {
			existing.Kinds = append(existing.Kinds, kind)
		}
	}
	r.records[rec.Code] = existing
}

// Remove drops the given kinds for a code; a record with no kinds left is
// removed entirely. Empty kinds removes the whole record.
func (r *Registry) Remove(code string, kinds []gateway.SubKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[code]
	if !ok {
		return
	}
	if len(kinds) == 0 {
		delete(r.records, code)
		return
	}
	kept := existing.Kinds[:0]
	for _, k := range existing.Kinds {
		if !hasKind(kinds, k) {
			kept = append(kept, k)
		}
	}
	if len(kept) == 0 {
		delete(r.records, code)
		return
	}
	existing.Kinds = kept
	r.records[code] = existing
}

// Snapshot returns the records sorted by code so replay issues the same
// call sequence every time.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		copied := rec
		copied.Kinds = append([]gateway.SubKind(nil), rec.Kinds...)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func hasKind(kinds []gateway.SubKind, kind gateway.SubKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

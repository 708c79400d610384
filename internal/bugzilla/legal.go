package bugzilla

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the legal values of a field from the server.
type FetchFunc func(ctx context.Context, field string) ([]string, error)

// LegalValues caches the allowed values of Bugzilla fields. Entries live for
// the configured TTL (zero keeps them forever) or until invalidated.
// Concurrent misses on the same field share one fetch.
//
// A LegalValues is safe for concurrent use and may be shared by clients
// talking to the same server.
type LegalValues struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]legalEntry

	group singleflight.Group
}

type legalEntry struct {
	values  map[string]struct{}
	fetched time.Time
}

// NewLegalValues creates an empty cache.
func NewLegalValues(ttl time.Duration) *LegalValues {
	return &LegalValues{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]legalEntry),
	}
}

// Allowed reports whether value is legal for field, fetching the field's
// values on a miss.
func (l *LegalValues) Allowed(ctx context.Context, field, value string, fetch FetchFunc) (bool, error) {
	entry, err := l.entry(ctx, field, fetch)
	if err != nil {
		return false, err
	}
	_, ok := entry.values[value]
	return ok, nil
}

// Values returns the sorted legal values of field.
func (l *LegalValues) Values(ctx context.Context, field string, fetch FetchFunc) ([]string, error) {
	entry, err := l.entry(ctx, field, fetch)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entry.values))
	for v := range entry.values {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// Invalidate drops the cached values of field.
func (l *LegalValues) Invalidate(field string) {
	l.mu.Lock()
	delete(l.entries, field)
	l.mu.Unlock()
}

// InvalidateAll empties the cache.
func (l *LegalValues) InvalidateAll() {
	l.mu.Lock()
	l.entries = make(map[string]legalEntry)
	l.mu.Unlock()
}

func (l *LegalValues) lookup(field string) (legalEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[field]
	if !ok {
		return legalEntry{}, false
	}
	if l.ttl > 0 && l.now().Sub(entry.fetched) >= l.ttl {
		return legalEntry{}, false
	}
	return entry, true
}

func (l *LegalValues) entry(ctx context.Context, field string, fetch FetchFunc) (legalEntry, error) {
	if entry, ok := l.lookup(field); ok {
		return entry, nil
	}

	v, err, _ := l.group.Do(field, func() (any, error) {
		// A flight that finished just before this one started may have
		// filled the entry.
		if entry, ok := l.lookup(field); ok {
			return entry, nil
		}
		values, err := fetch(ctx, field)
		if err != nil {
			return nil, err
		}
		entry := legalEntry{
			values:  make(map[string]struct{}, len(values)),
			fetched: l.now(),
		}
		for _, v := range values {
			entry.values[v] = struct{}{}
		}
		l.mu.Lock()
		l.entries[field] = entry
		l.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return legalEntry{}, err
	}
	return v.(legalEntry), nil
}

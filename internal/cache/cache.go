// Package cache remembers resolved native commands keyed by normalized request text
// and platform profile, so the rule and model tiers are paid for at most once per
// distinct request.
package cache

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"jarvis-shell/internal/profile"
)

// DefaultMaxEntries bounds the cache when no size is configured.
const DefaultMaxEntries = 256

// Source records which tier produced a command.
type Source string

const (
	SourceCache Source = "cache"
	SourceRule  Source = "rule"
	SourceModel Source = "model"
)

// Entry is one cached resolution.
type Entry struct {
	Key     string `json:"key"`
	Command string `json:"command"`
	Source  Source `json:"source"`
	// Exact is the request text with its letter case kept. It is set when the
	// command carries operands copied from the request, and such an entry only
	// answers requests spelled the same way.
	Exact    string    `json:"exact,omitempty"`
	LastUsed time.Time `json:"last_used"`
}

// Matches reports whether the entry may answer text.
func (e Entry) Matches(text string) bool {
	return e.Exact == "" || e.Exact == Collapse(text)
}

// Normalize lower-cases text, trims it and collapses internal whitespace.
func Normalize(text string) string {
	return Collapse(strings.ToLower(text))
}

// Collapse trims text and collapses internal whitespace, keeping letter case.
func Collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Key builds the cache key for a request under a profile.
func Key(text string, id profile.ID) string {
	return string(id) + ":" + Normalize(text)
}

// KeyProfile returns the profile part of a key.
func KeyProfile(key string) profile.ID {
	id, _, _ := strings.Cut(key, ":")
	return profile.ID(id)
}

// Cache is a bounded least-recently-used map with an optional TTL counted from
// insertion. The zero TTL keeps entries until they are evicted by size or invalidated.
type Cache struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, *Entry]
	now func() time.Time
}

// New creates a cache holding at most maxEntries.
func New(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		lru: expirable.NewLRU[string, *Entry](maxEntries, nil, ttl),
		now: time.Now,
	}
}

// Lookup returns the entry for key and marks it as most recently used.
// A miss is not an error.
func (c *Cache) Lookup(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		return Entry{}, false
	}
	e.LastUsed = c.now()
	return *e, true
}

// Insert stores a validated command. Empty commands and cache-sourced values are ignored.
func (c *Cache) Insert(key, command string, src Source) {
	c.InsertExact(key, "", command, src)
}

// InsertExact stores a command that is only valid for text spelled exactly as
// given. An empty text behaves like Insert.
func (c *Cache) InsertExact(key, text, command string, src Source) {
	if key == "" || strings.TrimSpace(command) == "" || src == SourceCache {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, &Entry{Key: key, Command: command, Source: src, Exact: Collapse(text), LastUsed: c.now()})
}

// InvalidateAll drops every entry. Called when the active profile changes.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Entries returns live entries from least to most recently used.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	vals := c.lru.Values()
	out := make([]Entry, 0, len(vals))
	for _, e := range vals {
		out = append(out, *e)
	}
	return out
}

// Restore loads records into the cache, keeping only those for the active profile.
// Records are replayed oldest first so recency order survives a restart.
func (c *Cache) Restore(records []Entry, active profile.ID) int {
	kept := make([]Entry, 0, len(records))
	for _, r := range records {
		if r.Key == "" || r.Command == "" || KeyProfile(r.Key) != active {
			continue
		}
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].LastUsed.Before(kept[j].LastUsed) })

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range kept {
		r := kept[i]
		c.lru.Add(r.Key, &r)
	}
	return len(kept)
}

// Merge returns the records to persist: stored records of every profile other
// than active, followed by the live entries of active.
func Merge(stored, live []Entry, active profile.ID) []Entry {
	out := make([]Entry, 0, len(stored)+len(live))
	for _, r := range stored {
		if KeyProfile(r.Key) != active {
			out = append(out, r)
		}
	}
	return append(out, live...)
}

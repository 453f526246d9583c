// Package assets resolves theme descriptors to background references.
// The core treats the result as opaque and forwards it verbatim.
package assets

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// BackgroundProvider maps a {mood, genre, region} descriptor to a
// background reference, or "" when nothing matches.
type BackgroundProvider interface {
	Resolve(ctx context.Context, mood, genre, region string) (string, error)
}

// catalogEntry is one row of the theme catalog file. Empty fields match
// any value; more specific entries win.
type catalogEntry struct {
	Mood   string `yaml:"mood"`
	Genre  string `yaml:"genre"`
	Region string `yaml:"region"`
	URL    string `yaml:"url"`
}

type cacheEntry struct {
	url       string
	createdAt time.Time
}

// CatalogProvider serves backgrounds from a YAML catalog with an
// in-memory TTL cache over resolved lookups.
type CatalogProvider struct {
	entries []catalogEntry
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewCatalogProvider loads the catalog file. An empty path yields a
// provider that resolves everything to "", so theme changes still
// relay, just without a background.
func NewCatalogProvider(path string, ttl time.Duration) (*CatalogProvider, error) {
	p := &CatalogProvider{
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read theme catalog %s: %w", path, err)
	}

	var catalog struct {
		Backgrounds []catalogEntry `yaml:"backgrounds"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse theme catalog %s: %w", path, err)
	}

	p.entries = catalog.Backgrounds
	return p, nil
}

// Resolve returns the best catalog match: the entry with the most
// matching non-empty fields and no mismatched ones.
func (p *CatalogProvider) Resolve(ctx context.Context, mood, genre, region string) (string, error) {
	key := cacheKey(mood, genre, region)

	p.mu.RLock()
	if cached, ok := p.cache[key]; ok && (p.ttl == 0 || time.Since(cached.createdAt) < p.ttl) {
		p.mu.RUnlock()
		return cached.url, nil
	}
	p.mu.RUnlock()

	best := ""
	bestScore := -1
	for _, entry := range p.entries {
		score := 0
		if !matchField(entry.Mood, mood, &score) ||
			!matchField(entry.Genre, genre, &score) ||
			!matchField(entry.Region, region, &score) {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = entry.URL
		}
	}

	p.mu.Lock()
	p.cache[key] = cacheEntry{url: best, createdAt: time.Now()}
	p.mu.Unlock()

	return best, nil
}

// matchField scores one catalog field against a requested value. An
// empty catalog field is a wildcard worth nothing; a match scores one;
// a mismatch disqualifies the entry.
func matchField(have, want string, score *int) bool {
	if have == "" {
		return true
	}
	if strings.EqualFold(have, want) {
		*score++
		return true
	}
	return false
}

func cacheKey(mood, genre, region string) string {
	sum := md5.Sum([]byte(strings.ToLower(mood) + "|" + strings.ToLower(genre) + "|" + strings.ToLower(region)))
	return hex.EncodeToString(sum[:])
}

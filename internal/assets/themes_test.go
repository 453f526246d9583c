package assets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `backgrounds:
  - mood: "ominous"
    genre: "fantasy"
    region: "dungeon"
    url: "/bg/dungeon.jpg"
  - mood: ""
    genre: "fantasy"
    region: ""
    url: "/bg/fantasy-generic.jpg"
  - mood: "tense"
    genre: ""
    region: ""
    url: "/bg/tense.jpg"
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "themes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolvePrefersMostSpecificMatch(t *testing.T) {
	p, err := NewCatalogProvider(writeCatalog(t, testCatalog), time.Minute)
	require.NoError(t, err)

	url, err := p.Resolve(context.Background(), "ominous", "fantasy", "dungeon")
	require.NoError(t, err)
	assert.Equal(t, "/bg/dungeon.jpg", url)
}

func TestResolveFallsBackToWildcard(t *testing.T) {
	p, err := NewCatalogProvider(writeCatalog(t, testCatalog), time.Minute)
	require.NoError(t, err)

	url, err := p.Resolve(context.Background(), "cheerful", "fantasy", "tavern")
	require.NoError(t, err)
	assert.Equal(t, "/bg/fantasy-generic.jpg", url)
}

func TestResolveCaseInsensitive(t *testing.T) {
	p, err := NewCatalogProvider(writeCatalog(t, testCatalog), time.Minute)
	require.NoError(t, err)

	url, err := p.Resolve(context.Background(), "TENSE", "noir", "alley")
	require.NoError(t, err)
	assert.Equal(t, "/bg/tense.jpg", url)
}

func TestResolveNoMatchReturnsEmpty(t *testing.T) {
	p, err := NewCatalogProvider(writeCatalog(t, testCatalog), time.Minute)
	require.NoError(t, err)

	url, err := p.Resolve(context.Background(), "calm", "scifi", "station")
	require.NoError(t, err)
	assert.Equal(t, "", url)
}

func TestEmptyPathProviderResolvesEmpty(t *testing.T) {
	p, err := NewCatalogProvider("", time.Minute)
	require.NoError(t, err)

	url, err := p.Resolve(context.Background(), "any", "any", "any")
	require.NoError(t, err)
	assert.Equal(t, "", url)
}

func TestNewCatalogProviderRejectsBadFile(t *testing.T) {
	_, err := NewCatalogProvider(filepath.Join(t.TempDir(), "missing.yaml"), time.Minute)
	assert.Error(t, err)

	_, err = NewCatalogProvider(writeCatalog(t, "backgrounds: {not: [valid"), time.Minute)
	assert.Error(t, err)
}

func TestResolveCachesLookups(t *testing.T) {
	p, err := NewCatalogProvider(writeCatalog(t, testCatalog), time.Hour)
	require.NoError(t, err)

	url, err := p.Resolve(context.Background(), "ominous", "fantasy", "dungeon")
	require.NoError(t, err)

	// Mutating the entry set does not affect cached keys.
	p.entries = nil
	cached, err := p.Resolve(context.Background(), "ominous", "fantasy", "dungeon")
	require.NoError(t, err)
	assert.Equal(t, url, cached)
}

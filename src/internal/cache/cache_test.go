package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCache_SetGet(t *testing.T) {
	c := New[string](time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("pid:42", "node")
	v, ok := c.Get("pid:42")
	require.True(t, ok)
	assert.Equal(t, "node", v)
	assert.Equal(t, 1, c.items.ItemCount())

	c.Delete("pid:42")
	_, ok = c.Get("pid:42")
	assert.False(t, ok)
}

func TestTTLCache_Expiry(t *testing.T) {
	c := New[int](20 * time.Millisecond)
	c.Set("k", 1)

	time.Sleep(50 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok, "entry should expire after ttl")
}

func TestTTLCache_GetOrLoad(t *testing.T) {
	c := New[int](time.Minute)
	calls := 0
	load := func() (int, error) {
		calls++
		return 7, nil
	}

	v, err := c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = c.GetOrLoad("k", load)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, calls, "second lookup must be served from cache")
}

func TestTTLCache_GetOrLoadErrorNotCached(t *testing.T) {
	c := New[int](time.Minute)
	calls := 0

	_, err := c.GetOrLoad("k", func() (int, error) {
		calls++
		return 0, errors.New("lookup failed")
	})
	require.Error(t, err)

	_, err = c.GetOrLoad("k", func() (int, error) {
		calls++
		return 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "package.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"gateway"}`), 0600))

	h1, err := HashFile(path)
	require.NoError(t, err)
	assert.Len(t, h1, 64)

	require.NoError(t, os.WriteFile(path, []byte(`{"name":"gateway2"}`), 0600))
	h2, err := HashFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	_, err = HashFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

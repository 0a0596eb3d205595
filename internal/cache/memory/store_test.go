package memory

import (
	"context"
	"testing"

	"github.com/anonchat/edgeworker/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutMatchDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	entry := &cache.Entry{URL: "/a", Status: 200, Body: []byte("a")}
	require.NoError(t, s.Put(ctx, "c1", entry))
	entry.Body[0] = 'z'

	got, err := s.Match(ctx, "c1", "/a")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got.Body), "stored entries are copies")

	_, err = s.Match(ctx, "c2", "/a")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	require.NoError(t, s.PutAll(ctx, "c2", []*cache.Entry{{URL: "/b"}, {URL: "/c"}}))
	names, err := s.CacheNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, names)

	require.NoError(t, s.DeleteCache(ctx, "c1"))
	require.NoError(t, s.DeleteCache(ctx, "missing"))
	names, err = s.CacheNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, names)
}

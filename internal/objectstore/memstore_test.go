package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStorePutGetRoundTrip(t *testing.T) {
	s := NewMemStore("")
	ctx := context.Background()

	url, err := s.Put(ctx, "Listing/L1/M1.jpg", []byte("bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Contains(t, url, "Listing/L1/M1.jpg")

	body, ok := s.Get("Listing/L1/M1.jpg")
	require.True(t, ok)
	assert.Equal(t, []byte("bytes"), body)
}

func TestMemStoreDeleteBatchRemovesAll(t *testing.T) {
	s := NewMemStore("")
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		_, err := s.Put(ctx, k, []byte("x"), "")
		require.NoError(t, err)
	}

	require.NoError(t, s.DeleteBatch(ctx, []string{"a", "b"}))

	_, ok := s.Get("a")
	assert.False(t, ok)
	_, ok = s.Get("c")
	assert.True(t, ok)
}

func TestMemStoreListFiltersByPrefix(t *testing.T) {
	s := NewMemStore("")
	ctx := context.Background()
	_, _ = s.Put(ctx, "Listing/L1/M1.jpg", nil, "")
	_, _ = s.Put(ctx, "Listing/L2/M2.jpg", nil, "")
	_, _ = s.Put(ctx, "Member/MB1/M3.jpg", nil, "")

	keys, err := s.List(ctx, "Listing/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Listing/L1/M1.jpg", "Listing/L2/M2.jpg"}, keys)
}

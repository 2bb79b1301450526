package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKV_CopiesValues(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, kv.Set(ctx, KeyToken, buf))
	buf[0] = 'x'

	got, err := kv.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	require.NoError(t, kv.Delete(ctx, KeyToken))
	_, err = kv.Get(ctx, KeyToken)
	assert.ErrorIs(t, err, ErrNotFound)
}

package idalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetAndPut(t *testing.T) {
	b := New(4)

	ids := make(map[uint32]bool)
	for i := 0; i < 4; i++ {
		id, err := b.Get()
		require.NoError(t, err)
		require.False(t, ids[id], "id %d handed out twice", id)
		ids[id] = true
	}

	_, err := b.Get()
	require.Error(t, err, "capacity exhausted should fail")

	b.Put(2)
	id, err := b.Get()
	require.NoError(t, err)
	require.Equal(t, uint32(2), id)
}

func TestReserveRejectsDuplicate(t *testing.T) {
	b := New(16)
	require.NoError(t, b.Reserve(5))
	require.Error(t, b.Reserve(5))
	require.True(t, b.InUse(5))
}

func TestReserveOutOfRange(t *testing.T) {
	b := New(16)
	require.Error(t, b.Reserve(0))
	require.Error(t, b.Reserve(17))
}

package vkcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlign(t *testing.T) {
	assert.Equal(t, uint64(12), makeAlignUp(12, 3))
	assert.Equal(t, uint64(12), makeAlignUp(10, 3))
	assert.Equal(t, uint64(7), makeAlignUp(7, 0))
	assert.Equal(t, uint64(256), makeAlignUp(1, 256))
}

func TestAllocator(t *testing.T) {
	a := LinearAllocator{Size: 1024}

	assert.Nil(t, a.Allocate(2048, 1), "larger than the block")

	fa := a.Allocate(512, 1)
	require.NotNil(t, fa)

	assert.Nil(t, a.Allocate(768, 1))

	k := a.Allocate(500, 1)
	require.NotNil(t, k)
	assert.Equal(t, uint64(512), k.Offset)

	assert.Nil(t, a.Allocate(50, 1))
	require.NotNil(t, a.Allocate(5, 1))
	assert.Nil(t, a.Allocate(20, 1))

	a.Free(k)
	ra := a.Allocate(500, 1)
	require.NotNil(t, ra, "reuse the freed gap")
	assert.Equal(t, uint64(512), ra.Offset)

	a.Free(fa)
	ra = a.Allocate(20, 1)
	require.NotNil(t, ra)
	assert.Equal(t, uint64(0), ra.Offset, "head of the block is free again")

	require.NotNil(t, a.Allocate(40, 1))
	require.NotNil(t, a.Allocate(12, 1))
	assert.Nil(t, a.Allocate(500, 1))
	require.NotNil(t, a.Allocate(5, 1))
	assert.Equal(t, uint64(20+40+12+5+500+5), a.Used())
}

func TestAllocatorAlignment(t *testing.T) {
	a := LinearAllocator{Size: 4096}

	first := a.Allocate(10, 1)
	require.NotNil(t, first)
	second := a.Allocate(100, 256)
	require.NotNil(t, second)
	assert.Equal(t, uint64(256), second.Offset)

	third := a.Allocate(16, 16)
	require.NotNil(t, third)
	assert.Equal(t, uint64(16), third.Offset, "fills the gap before the aligned region")

	a.Free(first)
	a.Free(second)
	a.Free(third)
	assert.True(t, a.Empty())
	assert.Zero(t, a.Used())
	assert.Equal(t, "[]", a.String())
}

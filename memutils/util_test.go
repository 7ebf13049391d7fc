package memutils_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gurender/vram/memutils"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, 16))
	require.Equal(t, 16, memutils.AlignUp(1, 16))
	require.Equal(t, 16, memutils.AlignUp(16, 16))
	require.Equal(t, 32, memutils.AlignUp(17, 16))
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, 0, memutils.AlignDown(15, 16))
	require.Equal(t, 16, memutils.AlignDown(16, 16))
	require.Equal(t, 16, memutils.AlignDown(31, 16))
}

func TestNextPow2(t *testing.T) {
	require.Equal(t, 0, memutils.NextPow2(0))
	require.Equal(t, 2, memutils.NextPow2(1))
	require.Equal(t, 2, memutils.NextPow2(2))
	require.Equal(t, 4, memutils.NextPow2(3))
	require.Equal(t, 512, memutils.NextPow2(480))
	require.Equal(t, 512, memutils.NextPow2(512))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(64, "size"))
	err := memutils.CheckPow2(65, "size")
	require.Error(t, err)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)
}

package circbuf

import (
	"testing"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushEvictsOldest(t *testing.T) {
	var b Buffer[int64]
	for i := int64(1); i <= Capacity+1; i++ {
		b.Push(i)
	}
	assert.Equal(t, Capacity, b.Len())
	assert.Equal(t, []int64{2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, b.Values())
}

func TestMean(t *testing.T) {
	var b Buffer[int32]
	_, err := b.Mean()
	assert.ErrorIs(t, err, gaugeerr.ErrNoData)

	b.Push(2)
	b.Push(4)
	b.Push(6)
	mean, err := b.Mean()
	require.NoError(t, err)
	assert.Equal(t, int32(4), mean)

	b.Clear()
	b.Push(-3)
	b.Push(-4)
	mean, err = b.Mean()
	require.NoError(t, err)
	assert.Equal(t, int32(-3), mean)
}

func TestMedian(t *testing.T) {
	var b Buffer[int]
	_, err := b.Median()
	assert.ErrorIs(t, err, gaugeerr.ErrNoData)

	for _, v := range []int{9, 1, 5} {
		b.Push(v)
	}
	median, err := b.Median()
	require.NoError(t, err)
	assert.Equal(t, 5, median)

	// Even count takes the lower middle value.
	b.Push(7)
	median, err = b.Median()
	require.NoError(t, err)
	assert.Equal(t, 5, median)

	// The stored order is untouched.
	assert.Equal(t, []int{9, 1, 5, 7}, b.Values())
}

func TestMedianAfterWrap(t *testing.T) {
	var b Buffer[int]
	for i := 0; i < 25; i++ {
		b.Push(100 - i)
	}
	median, err := b.Median()
	require.NoError(t, err)
	// Holds 85..76.
	assert.Equal(t, 80, median)
}

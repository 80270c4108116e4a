package mathx

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(5, 0, 10))
	assert.Equal(t, 0, Clamp(-3, 0, 10))
	assert.Equal(t, 10, Clamp(42, 10, 0))
	assert.True(t, Between(int64(3), 3, 4))
	assert.False(t, Between(int64(5), 3, 4))
	assert.Equal(t, int32(7), Abs(int32(-7)))
}

func TestMulDivRound(t *testing.T) {
	cases := []struct {
		a, b, c int64
		want    int64
	}{
		{10, 1, 4, 3},
		{-10, 1, 4, -3},
		{7, 3, 2, 11},
		{9, 1, 4, 2},
		{3000, 2048, 100, 61440},
		{1 << 40, 1 << 30, 1, math.MaxInt64},
		{-(1 << 40), 1 << 30, 1, math.MinInt64},
		{math.MinInt64, 1, 1, math.MinInt64},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MulDivRound(c.a, c.b, c.c), "%d*%d/%d", c.a, c.b, c.c)
	}
}

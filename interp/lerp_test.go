package interp

import (
	"testing"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLerpClampsAtEnds(t *testing.T) {
	for _, table := range []Table{LnTable, OscTimebaseTable} {
		pts := table.Points()
		first, last := pts[0], pts[len(pts)-1]
		assert.Equal(t, first.Y, table.Lerp(first.X))
		assert.Equal(t, first.Y, table.Lerp(first.X-1))
		assert.Equal(t, first.Y, table.Lerp(-2_000_000_000))
		assert.Equal(t, last.Y, table.Lerp(last.X))
		assert.Equal(t, last.Y, table.Lerp(last.X+1))
		assert.Equal(t, last.Y, table.Lerp(2_000_000_000))
	}
}

func TestLerpExactAtPoints(t *testing.T) {
	for _, p := range LnTable.Points() {
		assert.Equal(t, p.Y, LnTable.Lerp(p.X))
	}
	for _, p := range OscTimebaseTable.Points() {
		assert.Equal(t, p.Y, OscTimebaseTable.Lerp(p.X))
	}
}

func TestLerpBetweenPoints(t *testing.T) {
	table, err := NewTable(Point{0, 0}, Point{10, 100}, Point{20, 50})
	require.NoError(t, err)
	assert.Equal(t, int32(50), table.Lerp(5))
	assert.Equal(t, int32(75), table.Lerp(15))
	assert.Equal(t, int32(1039), LnTable.Lerp(3000))

	// Truncates toward zero on both slopes.
	up, err := NewTable(Point{0, 0}, Point{3, 1})
	require.NoError(t, err)
	assert.Equal(t, int32(0), up.Lerp(2))
	down, err := NewTable(Point{0, 0}, Point{3, -1})
	require.NoError(t, err)
	assert.Equal(t, int32(0), down.Lerp(2))
}

func TestLerpLargeValues(t *testing.T) {
	table, err := NewTable(Point{0, 0}, Point{1_000_000, 1_000_000})
	require.NoError(t, err)
	assert.Equal(t, int32(999_999), table.Lerp(999_999))
}

func TestNewTableRejectsBadTables(t *testing.T) {
	_, err := NewTable()
	assert.ErrorIs(t, err, gaugeerr.ErrConfiguration)
	_, err = NewTable(Point{0, 0}, Point{0, 1})
	assert.ErrorIs(t, err, gaugeerr.ErrConfiguration)
	_, err = NewTable(Point{5, 0}, Point{4, 1})
	assert.ErrorIs(t, err, gaugeerr.ErrConfiguration)
	assert.Panics(t, func() { mustTable() })
}

func TestFromCurveDropsFlatSections(t *testing.T) {
	table, err := FromCurve(
		[]float32{2.5, 3.0, 3.25, 3.25, 3.3},
		[]float32{0, 10, 40, 50, 70},
		1000, 1,
	)
	require.NoError(t, err)
	assert.Equal(t, []Point{{2500, 0}, {3000, 10}, {3250, 40}, {3300, 70}}, table.Points())
	assert.Equal(t, int32(5), table.Lerp(2750))

	_, err = FromCurve([]float32{1}, nil, 1, 1)
	assert.ErrorIs(t, err, gaugeerr.ErrConfiguration)
}

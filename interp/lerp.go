/*
tc2-fuel-gauge - Battery fuel gauge estimation engine
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package interp provides piecewise-linear lookup tables.
package interp

import (
	"fmt"
	"sort"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
)

type Point struct {
	X, Y int32
}

// Table is an ordered set of points with strictly increasing X.
type Table struct {
	pts []Point
}

// NewTable validates points and returns a table over a copy of them.
func NewTable(pts ...Point) (Table, error) {
	if len(pts) == 0 {
		return Table{}, fmt.Errorf("%w: empty lerp table", gaugeerr.ErrConfiguration)
	}
	for i := 1; i < len(pts); i++ {
		if pts[i].X <= pts[i-1].X {
			return Table{}, fmt.Errorf("%w: lerp table x not increasing at %d (%d after %d)",
				gaugeerr.ErrConfiguration, i, pts[i].X, pts[i-1].X)
		}
	}
	return Table{pts: append([]Point(nil), pts...)}, nil
}

func mustTable(pts ...Point) Table {
	t, err := NewTable(pts...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Table) Len() int {
	return len(t.pts)
}

func (t Table) Points() []Point {
	return append([]Point(nil), t.pts...)
}

// Lerp returns y at x, clamping to the end points outside the table.
func (t Table) Lerp(x int32) int32 {
	n := len(t.pts)
	if n == 0 {
		return 0
	}
	if x <= t.pts[0].X {
		return t.pts[0].Y
	}
	if x >= t.pts[n-1].X {
		return t.pts[n-1].Y
	}
	// First point with X >= x, always 1..n-1 here.
	i := sort.Search(n, func(i int) bool { return t.pts[i].X >= x })
	p0, p1 := t.pts[i-1], t.pts[i]
	if p1.X == x {
		return p1.Y
	}
	dy := int64(p1.Y) - int64(p0.Y)
	dx := int64(p1.X) - int64(p0.X)
	return int32(int64(p0.Y) + dy*(int64(x)-int64(p0.X))/dx)
}

// FromCurve builds a table from a float curve, such as a chemistry discharge
// curve, scaling both axes to integers. Points that do not move x forward
// after scaling are dropped.
func FromCurve(xs, ys []float32, xScale, yScale float64) (Table, error) {
	if len(xs) != len(ys) {
		return Table{}, fmt.Errorf("%w: curve has %d x and %d y values", gaugeerr.ErrConfiguration, len(xs), len(ys))
	}
	var pts []Point
	for i := range xs {
		p := Point{X: int32(float64(xs[i])*xScale + 0.5), Y: int32(float64(ys[i])*yScale + 0.5)}
		if len(pts) > 0 && p.X <= pts[len(pts)-1].X {
			continue
		}
		pts = append(pts, p)
	}
	return NewTable(pts...)
}

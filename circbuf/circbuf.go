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

// Package circbuf is a small fixed-size ring of recent samples.
package circbuf

import (
	"sort"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"golang.org/x/exp/constraints"
)

// Capacity is the number of samples a Buffer keeps.
const Capacity = 10

// Buffer keeps the last Capacity values pushed. The zero value is empty and
// ready to use. It is not safe for concurrent use; owners lock around it.
type Buffer[T constraints.Integer] struct {
	arr  [Capacity]T
	head int
	size int
}

// Push stores v, overwriting the oldest value once full.
func (b *Buffer[T]) Push(v T) {
	b.arr[b.head] = v
	b.head = (b.head + 1) % Capacity
	if b.size < Capacity {
		b.size++
	}
}

func (b *Buffer[T]) Len() int {
	return b.size
}

func (b *Buffer[T]) Clear() {
	*b = Buffer[T]{}
}

// Values returns the stored values, oldest first.
func (b *Buffer[T]) Values() []T {
	out := make([]T, 0, b.size)
	start := (b.head - b.size + Capacity) % Capacity
	for i := 0; i < b.size; i++ {
		out = append(out, b.arr[(start+i)%Capacity])
	}
	return out
}

// Mean is the integer average of the stored values.
func (b *Buffer[T]) Mean() (T, error) {
	if b.size == 0 {
		return 0, gaugeerr.ErrNoData
	}
	var sum int64
	for _, v := range b.Values() {
		sum += int64(v)
	}
	return T(sum / int64(b.size)), nil
}

// Median returns the middle stored value. With an even count it returns the
// lower of the two middle values.
func (b *Buffer[T]) Median() (T, error) {
	if b.size == 0 {
		return 0, gaugeerr.ErrNoData
	}
	vals := b.Values()
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	return vals[(len(vals)-1)/2], nil
}

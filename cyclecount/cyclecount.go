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

// Package cyclecount counts charge cycles per state-of-charge octile.
package cyclecount

import (
	"fmt"
	"sync"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
)

const Buckets = 8

type Direction int

const (
	// Discharge counts a bucket when SOC runs down through it and back up.
	Discharge Direction = iota
	// Charge counts a bucket when SOC runs up through it and back down.
	Charge
)

func (d Direction) String() string {
	if d == Charge {
		return "charge"
	}
	return "discharge"
}

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "discharge":
		return Discharge, nil
	case "charge":
		return Charge, nil
	}
	return Discharge, fmt.Errorf("%w: cycle direction %q", gaugeerr.ErrConfiguration, s)
}

// Bound is the inclusive SOC range of one bucket, percent.
type Bound struct {
	Lo int `toml:"lo"`
	Hi int `toml:"hi"`
}

// DefaultBounds splits 0..100% into octiles: 0-12, 13-25, ... 88-100.
func DefaultBounds() [Buckets]Bound {
	var b [Buckets]Bound
	for i := range b {
		b[i].Hi = (i + 1) * 100 / Buckets
		if i > 0 {
			b[i].Lo = i*100/Buckets + 1
		}
	}
	b[Buckets-1].Hi = 100
	return b
}

func validateBounds(b [Buckets]Bound) error {
	for i, r := range b {
		if r.Lo < 0 || r.Hi > 100 || r.Lo >= r.Hi {
			return fmt.Errorf("%w: cycle bucket %d range %d..%d", gaugeerr.ErrConfiguration, i, r.Lo, r.Hi)
		}
	}
	return nil
}

type phase uint8

const (
	idle phase = iota
	armed
	started
	traversed
)

type bucket struct {
	Bound
	phase   phase
	started bool
	count   int
	lastSOC int
}

// edges report whether soc is at or past the bucket's entry and far edges.
func (b *bucket) edges(soc int, dir Direction) (entry, far bool) {
	if dir == Charge {
		return soc <= b.Lo, soc > b.Hi || (b.Hi == 100 && soc == 100)
	}
	return soc >= b.Hi, soc < b.Lo || (b.Lo == 0 && soc == 0)
}

// step advances the bucket and reports whether a cycle completed.
func (b *bucket) step(soc int, dir Direction) bool {
	defer func() { b.lastSOC = soc }()
	entry, far := b.edges(soc, dir)
	switch b.phase {
	case idle:
		if entry {
			b.phase = armed
		}
	case armed:
		if !entry {
			b.phase = started
			b.started = true
		}
	case started:
		if far {
			b.phase = traversed
		} else if entry {
			b.phase = armed
			b.started = false
		}
	case traversed:
		if entry {
			b.phase = armed
			b.started = false
			b.count++
			return true
		}
	}
	return false
}

// Counter holds the eight buckets. It is safe for concurrent use.
type Counter struct {
	mu      sync.Mutex
	dir     Direction
	buckets [Buckets]bucket
}

func New(dir Direction, bounds [Buckets]Bound) (*Counter, error) {
	if err := validateBounds(bounds); err != nil {
		return nil, err
	}
	c := &Counter{dir: dir}
	for i := range c.buckets {
		c.buckets[i].Bound = bounds[i]
	}
	return c, nil
}

// Update feeds one SOC sample, percent, to every bucket and returns the
// indexes of buckets whose count went up.
func (c *Counter) Update(soc int) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var inc []int
	for i := range c.buckets {
		if c.buckets[i].step(soc, c.dir) {
			inc = append(inc, i)
		}
	}
	return inc
}

func (c *Counter) Counts() [Buckets]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var counts [Buckets]int
	for i, b := range c.buckets {
		counts[i] = b.count
	}
	return counts
}

// Started reports which buckets have a traversal in progress.
func (c *Counter) Started() [Buckets]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s [Buckets]bool
	for i, b := range c.buckets {
		s[i] = b.started
	}
	return s
}

// Reconfigure switches to new bounds and direction, keeping the counts.
// Buckets whose range and direction are unchanged keep their traversal in
// progress. The rest start over.
func (c *Counter) Reconfigure(dir Direction, bounds [Buckets]Bound) error {
	if err := validateBounds(bounds); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.buckets {
		b := &c.buckets[i]
		if dir == c.dir && bounds[i] == b.Bound {
			continue
		}
		*b = bucket{Bound: bounds[i], count: b.count}
	}
	c.dir = dir
	return nil
}

// Restore loads counts persisted from an earlier run. Traversals in progress
// are dropped.
func (c *Counter) Restore(counts [Buckets]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.buckets {
		b := &c.buckets[i]
		*b = bucket{Bound: b.Bound, count: counts[i]}
	}
}

// Cycles is the mean bucket count.
func (c *Counter) Cycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sum := 0
	for _, b := range c.buckets {
		sum += b.count
	}
	return sum / Buckets
}

func (c *Counter) Reset() {
	c.Restore([Buckets]int{})
}

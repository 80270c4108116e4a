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

// Package esr tracks the battery's effective series resistance: which filter
// regime the gauge should run in, fast calibration of the measured ESR, and
// the state of health derived from it.
package esr

import (
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
)

// Regime is the ESR filter regime.
type Regime int

const (
	RegimeNone Regime = iota
	RoomTemp
	LowTemp
	RelaxTemp
)

func (r Regime) String() string {
	switch r {
	case RoomTemp:
		return "room-temp"
	case LowTemp:
		return "low-temp"
	case RelaxTemp:
		return "relax-temp"
	default:
		return "none"
	}
}

// FilterValues are the tight and broad ESR filter coefficients, micro-percent.
type FilterValues struct {
	TightUPct int64 `toml:"tight-upct"`
	BroadUPct int64 `toml:"broad-upct"`
}

type FilterConfig struct {
	// Room/low boundary and the low/relax boundary, 0.1 degC.
	SwitchTempDC      int `toml:"switch-temp"`
	RelaxSwitchTempDC int `toml:"relax-switch-temp"`
	HystDC            int `toml:"hysteresis"`
	// Below this the regime is left alone.
	SkipBelowDC int `toml:"skip-below-temp"`

	// RelaxDeltaCount delta-temperature events inside RelaxWindow move a
	// cold battery into the relax regime for RelaxDwell.
	RelaxDeltaCount int           `toml:"relax-delta-count"`
	RelaxWindow     time.Duration `toml:"relax-window"`
	RelaxDwell      time.Duration `toml:"relax-dwell"`

	Room  FilterValues `toml:"room"`
	Low   FilterValues `toml:"low"`
	Relax FilterValues `toml:"relax"`
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		SwitchTempDC:      100,
		RelaxSwitchTempDC: 0,
		HystDC:            20,
		SkipBelowDC:       -210,
		RelaxDeltaCount:   3,
		RelaxWindow:       5 * time.Minute,
		RelaxDwell:        10 * time.Minute,
		Room:              FilterValues{TightUPct: 3907, BroadUPct: 99610},
		Low:               FilterValues{TightUPct: 48829, BroadUPct: 1562500},
		Relax:             FilterValues{TightUPct: 5860, BroadUPct: 156250},
	}
}

func (c FilterConfig) Validate() error {
	switch {
	case c.HystDC < 0:
		return fmt.Errorf("%w: esr filter hysteresis %d", gaugeerr.ErrConfiguration, c.HystDC)
	case c.RelaxSwitchTempDC >= c.SwitchTempDC:
		return fmt.Errorf("%w: esr relax switch %d not below switch %d", gaugeerr.ErrConfiguration, c.RelaxSwitchTempDC, c.SwitchTempDC)
	case c.RelaxDeltaCount < 1:
		return fmt.Errorf("%w: esr relax delta count %d", gaugeerr.ErrConfiguration, c.RelaxDeltaCount)
	case c.RelaxWindow <= 0 || c.RelaxDwell <= 0:
		return fmt.Errorf("%w: esr relax window %v dwell %v", gaugeerr.ErrConfiguration, c.RelaxWindow, c.RelaxDwell)
	}
	return nil
}

// Filter picks the ESR filter regime from battery temperature.
type Filter struct {
	mu         sync.Mutex
	cfg        FilterConfig
	regime     Regime
	relaxSince time.Time
	deltas     []time.Time
}

func NewFilter(cfg FilterConfig) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Filter{cfg: cfg}, nil
}

func (f *Filter) Regime() Regime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.regime
}

// Reconfigure replaces the configuration, keeping the current regime.
func (f *Filter) Reconfigure(cfg FilterConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

// Values returns the filter coefficients for r.
func (f *Filter) Values(r Regime) FilterValues {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r {
	case LowTemp:
		return f.cfg.Low
	case RelaxTemp:
		return f.cfg.Relax
	default:
		return f.cfg.Room
	}
}

// DeltaTemp records a delta-temperature interrupt.
func (f *Filter) DeltaTemp(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = append(f.deltas, now)
	f.prune(now)
}

func (f *Filter) prune(now time.Time) {
	keep := f.deltas[:0]
	for _, t := range f.deltas {
		if now.Sub(t) <= f.cfg.RelaxWindow {
			keep = append(keep, t)
		}
	}
	f.deltas = keep
}

// Update moves to the regime tempDC calls for and reports whether it changed.
// Crossing the room/low boundary takes HystDC either side of it.
func (f *Filter) Update(tempDC int, now time.Time) (Regime, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if tempDC < f.cfg.SkipBelowDC {
		return f.regime, false
	}

	c := f.cfg
	prev := f.regime
	next := prev
	switch prev {
	case RegimeNone:
		next = LowTemp
		if tempDC > c.SwitchTempDC {
			next = RoomTemp
		}
	case RoomTemp:
		if tempDC <= c.SwitchTempDC-c.HystDC {
			next = LowTemp
		}
	case LowTemp:
		f.prune(now)
		if tempDC > c.SwitchTempDC+c.HystDC {
			next = RoomTemp
		} else if tempDC <= c.RelaxSwitchTempDC && len(f.deltas) >= c.RelaxDeltaCount {
			next = RelaxTemp
			f.relaxSince = now
			f.deltas = f.deltas[:0]
		}
	case RelaxTemp:
		if tempDC > c.SwitchTempDC+c.HystDC {
			next = RoomTemp
		} else if tempDC > c.RelaxSwitchTempDC+c.HystDC || now.Sub(f.relaxSince) >= c.RelaxDwell {
			next = LowTemp
		}
	}
	f.regime = next
	return next, next != prev
}

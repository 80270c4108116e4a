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

// Package kicoeff picks the gauge's slope limit and integral (KI) gain for the
// present temperature, charge direction, current and state of charge.
package kicoeff

import (
	"fmt"
	"sync"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/internal/mathx"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/sram"
)

const (
	KIMax         = 15564
	SlopeLimitMax = 31128
	SOCLevels     = 3
)

type SlopeStatus int

const (
	LowTempDischarge SlopeStatus = iota
	LowTempCharge
	HighTempDischarge
	HighTempCharge
	slopeStatusCount
)

func (s SlopeStatus) String() string {
	switch s {
	case LowTempCharge:
		return "low-temp-charge"
	case HighTempDischarge:
		return "high-temp-discharge"
	case HighTempCharge:
		return "high-temp-charge"
	default:
		return "low-temp-discharge"
	}
}

type Band int

const (
	BandLow Band = iota
	BandMed
	BandHigh
)

// Triple is a KI gain per current band.
type Triple struct {
	Low  int64 `toml:"low"`
	Med  int64 `toml:"med"`
	High int64 `toml:"high"`
}

func (t Triple) get(b Band) int64 {
	switch b {
	case BandMed:
		return t.Med
	case BandHigh:
		return t.High
	default:
		return t.Low
	}
}

type Config struct {
	SlopeLimitTempDC int                     `toml:"slope-limit-temp"`
	SlopeLimits      [slopeStatusCount]int64 `toml:"slope-limits"`
	SOCLevels        [SOCLevels]int          `toml:"soc-levels"`
	Discharge        [SOCLevels]Triple       `toml:"discharge"`
	DefaultDischarge Triple                  `toml:"default-discharge"`
	Charge           Triple                  `toml:"charge"`
	// FullSOC is the gain when full and discharging, above and below 0 degC.
	FullSOC   [2]int64 `toml:"full-soc"`
	Cutoff    int64    `toml:"cutoff"`
	CutoffSOC int      `toml:"cutoff-soc"`
	// Current band thresholds, mA.
	LoMedThresholdMA int64 `toml:"lo-med-threshold"`
	MedHiThresholdMA int64 `toml:"med-hi-threshold"`
}

func DefaultConfig() Config {
	return Config{
		SlopeLimitTempDC: 100,
		SlopeLimits:      [slopeStatusCount]int64{4882, 4882, 2441, 2441},
		SOCLevels:        [SOCLevels]int{30, 60, 90},
		Discharge: [SOCLevels]Triple{
			{Low: 366, Med: 244, High: 122},
			{Low: 488, Med: 366, High: 244},
			{Low: 610, Med: 488, High: 366},
		},
		DefaultDischarge: Triple{Low: 732, Med: 610, High: 488},
		Charge:           Triple{Low: 732, Med: 610, High: 488},
		FullSOC:          [2]int64{976, 2440},
		Cutoff:           1220,
		CutoffSOC:        5,
		LoMedThresholdMA: 50,
		MedHiThresholdMA: 100,
	}
}

func (c Config) Validate() error {
	if c.LoMedThresholdMA < 0 || c.MedHiThresholdMA < c.LoMedThresholdMA {
		return fmt.Errorf("%w: ki current thresholds %d/%d mA", gaugeerr.ErrConfiguration, c.LoMedThresholdMA, c.MedHiThresholdMA)
	}
	for i := 1; i < SOCLevels; i++ {
		if c.SOCLevels[i] <= c.SOCLevels[i-1] {
			return fmt.Errorf("%w: ki soc levels %v not increasing", gaugeerr.ErrConfiguration, c.SOCLevels)
		}
	}
	return nil
}

type Input struct {
	TempDC    int
	Charging  bool
	CurrentMA int64
	SOC       int
	Full      bool
}

// Selection is what the gauge should be running with.
type Selection struct {
	Status SlopeStatus
	Slope  int64
	KI     int64
	// KIParam is the parameter the gain is written to.
	KIParam sram.ParamID
}

// Select picks the slope limit and KI gain for in.
func Select(cfg Config, in Input) Selection {
	var sel Selection

	high := in.TempDC > cfg.SlopeLimitTempDC
	switch {
	case high && in.Charging:
		sel.Status = HighTempCharge
	case high:
		sel.Status = HighTempDischarge
	case in.Charging:
		sel.Status = LowTempCharge
	default:
		sel.Status = LowTempDischarge
	}
	sel.Slope = mathx.Clamp(cfg.SlopeLimits[sel.Status], 0, SlopeLimitMax)

	band := BandLow
	if cur := mathx.Abs(in.CurrentMA); cur > cfg.MedHiThresholdMA {
		band = BandHigh
	} else if cur > cfg.LoMedThresholdMA {
		band = BandMed
	}

	switch {
	case in.Full && !in.Charging:
		sel.KIParam = sram.KICoeffFullSOC
		sel.KI = cfg.FullSOC[0]
		if in.TempDC < 0 {
			sel.KI = cfg.FullSOC[1]
		}
	case !in.Charging && in.SOC <= cfg.CutoffSOC:
		sel.KIParam = sram.KICoeffCutoff
		sel.KI = cfg.Cutoff
	case in.Charging:
		sel.KIParam = [...]sram.ParamID{sram.KICoeffLowChg, sram.KICoeffMedChg, sram.KICoeffHiChg}[band]
		sel.KI = cfg.Charge.get(band)
	default:
		t := cfg.DefaultDischarge
		for i, level := range cfg.SOCLevels {
			if in.SOC < level {
				t = cfg.Discharge[i]
				break
			}
		}
		sel.KIParam = [...]sram.ParamID{sram.KICoeffLowDischg, sram.KICoeffMedDischg, sram.KICoeffHiDischg}[band]
		sel.KI = t.get(band)
	}
	sel.KI = mathx.Clamp(sel.KI, 0, KIMax)
	return sel
}

// Change lists the parts of a selection that differ from what was applied.
type Change struct {
	Slope bool
	KI    bool
}

func (c Change) Any() bool {
	return c.Slope || c.KI
}

// Selector remembers the selection last applied to the gauge.
type Selector struct {
	mu      sync.Mutex
	cfg     Config
	current Selection
	applied bool
}

func NewSelector(cfg Config) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Selector{cfg: cfg}, nil
}

// Apply selects for in and records the result as current.
func (s *Selector) Apply(in Input) (Selection, Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := Select(s.cfg, in)
	var ch Change
	if !s.applied {
		ch = Change{Slope: true, KI: true}
	} else {
		ch.Slope = sel.Status != s.current.Status || sel.Slope != s.current.Slope
		ch.KI = sel.KIParam != s.current.KIParam || sel.KI != s.current.KI
	}
	s.current = sel
	s.applied = true
	return sel, ch
}

// Reconfigure replaces the configuration. If it changed, the next Apply
// rewrites both values.
func (s *Selector) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg != s.cfg {
		s.applied = false
	}
	s.cfg = cfg
	return nil
}

func (s *Selector) Current() (Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.applied
}

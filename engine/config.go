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

package engine

import (
	"fmt"
	"time"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/caplearn"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/cyclecount"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/esr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/interp"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/kicoeff"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/sram"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/ttf"
)

// Config is everything the engine needs, built once at startup. Reload swaps
// in a new one.
type Config struct {
	Params []sram.Descriptor

	CapLearn  caplearn.Config
	ESRFilter esr.FilterConfig
	ESRCal    esr.CalConfig
	Health    esr.HealthConfig
	KI        kicoeff.Config
	TTF       ttf.Config

	CycleDirection cyclecount.Direction
	CycleBounds    [cyclecount.Buckets]cyclecount.Bound

	// Battery chemistry and cells in series. FloatMV and CutoffMV are pack
	// voltages written to the gauge at start and the OCV table turns a
	// resting pack voltage into a SOC.
	Chemistry string
	Cells     int
	FloatMV   int64
	CutoffMV  int64
	OCV       interp.Table

	// SOHSOC is the SOC crossed while discharging that triggers a SOH update.
	SOHSOC int
	// PacedChargers are charger types that set their own current steps.
	PacedChargers []string
	// Params written once at start, physical units.
	Thresholds map[sram.ParamID]int64

	QueueSize    int
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Params:         sram.DefaultParams(),
		CapLearn:       caplearn.DefaultConfig(),
		ESRFilter:      esr.DefaultFilterConfig(),
		ESRCal:         esr.DefaultCalConfig(),
		Health:         esr.DefaultHealthConfig(),
		KI:             kicoeff.DefaultConfig(),
		TTF:            ttf.DefaultConfig(),
		CycleDirection: cyclecount.Discharge,
		CycleBounds:    cyclecount.DefaultBounds(),
		Chemistry:      "li-ion",
		Cells:          1,
		FloatMV:        4200,
		CutoffMV:       3000,
		SOHSOC:         50,
		PacedChargers:  []string{"external"},
		Thresholds: map[sram.ParamID]int64{
			sram.SysTermCurr:    100,
			sram.ChgTermCurr:    100,
			sram.CutoffCurr:     500,
			sram.EmptyVolt:      2800,
			sram.DeltaMSOCThr:   1,
			sram.DeltaBSOCThr:   1,
			sram.RechargeSOCThr: 95,
			sram.BattTempCold:   0,
			sram.BattTempHot:    450,
		},
		QueueSize:    32,
		WriteTimeout: 2 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Cells < 1 {
		return fmt.Errorf("%w: %d cells", gaugeerr.ErrConfiguration, c.Cells)
	}
	if c.FloatMV <= c.CutoffMV || c.CutoffMV <= 0 {
		return fmt.Errorf("%w: float %d mV cutoff %d mV", gaugeerr.ErrConfiguration, c.FloatMV, c.CutoffMV)
	}
	if c.SOHSOC <= 0 || c.SOHSOC >= 100 {
		return fmt.Errorf("%w: soh soc %d%%", gaugeerr.ErrConfiguration, c.SOHSOC)
	}
	if c.QueueSize < 1 || c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: queue size %d write timeout %v", gaugeerr.ErrConfiguration, c.QueueSize, c.WriteTimeout)
	}
	for _, v := range []interface{ Validate() error }{c.CapLearn, c.ESRFilter, c.ESRCal, c.Health, c.KI, c.TTF} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) paced(charger string) bool {
	for _, p := range c.PacedChargers {
		if p == charger {
			return true
		}
	}
	return false
}

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
	"sort"
	"strconv"
	"time"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/cyclecount"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/sram"
	"periph.io/x/conn/v3/physic"
)

func (e *Engine) cached(id sram.ParamID) (int64, error) {
	v, ok := e.codec.Cached(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", gaugeerr.ErrUnavailable, id)
	}
	return v, nil
}

// SOC is the state of charge, percent.
func (e *Engine) SOC() (int, error) {
	soc, ok := e.soc()
	if !ok {
		return 0, fmt.Errorf("%w: soc", gaugeerr.ErrUnavailable)
	}
	return soc, nil
}

func (e *Engine) Voltage() (physic.ElectricPotential, error) {
	mv, err := e.cached(sram.VbattFilt)
	return physic.ElectricPotential(mv) * physic.MilliVolt, err
}

// Current is the battery current, positive when discharging.
func (e *Engine) Current() (physic.ElectricCurrent, error) {
	ma, err := e.cached(sram.IbattFilt)
	return physic.ElectricCurrent(ma) * physic.MilliAmpere, err
}

// Resistance is the calibrated ESR, or the gauge's own estimate before a
// calibration has been accepted.
func (e *Engine) Resistance() (physic.ElectricResistance, error) {
	if v, ok := e.parts.Load().cal.Accepted(); ok {
		return physic.ElectricResistance(v) * physic.MilliOhm, nil
	}
	v, err := e.cached(sram.ESR)
	return physic.ElectricResistance(v) * physic.MilliOhm, err
}

// LearnedCapacity is the learned capacity, mAh.
func (e *Engine) LearnedCapacity() (int64, error) {
	c, ok := e.parts.Load().learner.Learned()
	if !ok {
		return 0, fmt.Errorf("%w: learned capacity", gaugeerr.ErrUnavailable)
	}
	return c, nil
}

func (e *Engine) CycleCounts() [cyclecount.Buckets]int {
	return e.parts.Load().cycles.Counts()
}

// CycleCount is the mean of the bucket counts.
func (e *Engine) CycleCount() int {
	return e.parts.Load().cycles.Cycles()
}

func (e *Engine) TimeToFull() (time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.charging || !e.hasTTF {
		return 0, fmt.Errorf("%w: time to full", gaugeerr.ErrUnavailable)
	}
	return e.ttfEst.Duration(), nil
}

// SOH is the state of health, percent.
func (e *Engine) SOH() (int, error) {
	soh, _, ok := e.parts.Load().health.SOH()
	if !ok {
		return 0, fmt.Errorf("%w: soh", gaugeerr.ErrUnavailable)
	}
	return soh, nil
}

func (e *Engine) Temperature() (physic.Temperature, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasTemp {
		return 0, fmt.Errorf("%w: temperature", gaugeerr.ErrUnavailable)
	}
	return physic.ZeroCelsius + physic.Temperature(e.tempDC)*100*physic.MilliKelvin, nil
}

// VoltageSOC estimates SOC from the open circuit voltage and the chemistry's
// voltage curve.
func (e *Engine) VoltageSOC() (int, error) {
	table := e.parts.Load().cfg.OCV
	if table.Len() == 0 {
		return 0, fmt.Errorf("%w: no voltage curve configured", gaugeerr.ErrUnavailable)
	}
	mv, err := e.cached(sram.OCV)
	if err != nil {
		if mv, err = e.cached(sram.VbattFilt); err != nil {
			return 0, err
		}
	}
	return int(table.Lerp(int32(mv))), nil
}

// Status formats every accessor for display, "unavailable" for those without
// a value yet.
func (e *Engine) Status() map[string]string {
	const na = "unavailable"
	s := map[string]string{}
	put := func(key string, v fmt.Stringer, err error) {
		if err != nil {
			s[key] = na
			return
		}
		s[key] = v.String()
	}
	putInt := func(key string, v int64, unit string, err error) {
		if err != nil {
			s[key] = na
			return
		}
		s[key] = strconv.FormatInt(v, 10) + unit
	}

	soc, err := e.SOC()
	putInt("soc", int64(soc), "%", err)
	v, err := e.Voltage()
	put("voltage", v, err)
	c, err := e.Current()
	put("current", c, err)
	r, err := e.Resistance()
	put("resistance", r, err)
	capacity, err := e.LearnedCapacity()
	putInt("learned-capacity", capacity, "mAh", err)
	full, err := e.TimeToFull()
	put("time-to-full", full, err)
	soh, err := e.SOH()
	putInt("soh", int64(soh), "%", err)
	t, err := e.Temperature()
	put("temperature", t, err)
	vsoc, err := e.VoltageSOC()
	putInt("voltage-soc", int64(vsoc), "%", err)

	s["cycle-count"] = strconv.Itoa(e.CycleCount())
	s["cycle-counts"] = fmt.Sprint(e.CycleCounts())
	p := e.parts.Load()
	s["esr-calibration"] = p.cal.State().String()
	if next, ok := p.cal.NextAttempt(); ok {
		s["esr-next-attempt"] = next.Format(time.RFC3339)
	}
	s["esr-regime"] = p.filter.Regime().String()
	s["capacity-learning"] = p.learner.State().String()
	s["dropped-tasks"] = strconv.Itoa(e.sched.Dropped())
	return s
}

// StatusKeys returns the keys of a Status map, sorted.
func StatusKeys(s map[string]string) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

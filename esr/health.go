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

package esr

import (
	"fmt"
	"sync"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/internal/mathx"
)

type HealthConfig struct {
	// NominalESRmOhm is used when the gauge has not reported a nominal ESR.
	NominalESRmOhm int64 `toml:"nominal-esr-mohm"`
	// CycleInterval is how many charge cycles pass between SOH updates.
	CycleInterval int `toml:"soh-cycle-interval"`
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{NominalESRmOhm: 100, CycleInterval: 10}
}

func (c HealthConfig) Validate() error {
	if c.NominalESRmOhm <= 0 || c.CycleInterval < 1 {
		return fmt.Errorf("%w: soh nominal esr %d mOhm interval %d cycles", gaugeerr.ErrConfiguration, c.NominalESRmOhm, c.CycleInterval)
	}
	return nil
}

// Health tracks battery state of health as the ratio of nominal to actual ESR.
type Health struct {
	mu        sync.Mutex
	cfg       HealthConfig
	soh       int
	hasSOH    bool
	lastCycle int
}

func NewHealth(cfg HealthConfig) (*Health, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Health{cfg: cfg}, nil
}

func (h *Health) Reconfigure(cfg HealthConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
	return nil
}

// Restore loads a state of health from an earlier run.
func (h *Health) Restore(soh, cycle int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.soh = mathx.Clamp(soh, 0, 100)
	h.hasSOH = true
	h.lastCycle = cycle
}

// Update recomputes SOH if there is none yet or CycleInterval cycles have
// passed since the last update. A nominal of 0 falls back to the configured
// nominal ESR.
func (h *Health) Update(actualmOhm, nominalmOhm int64, cycles int) (int, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasSOH && cycles-h.lastCycle < h.cfg.CycleInterval {
		return h.soh, false, nil
	}
	if actualmOhm <= 0 {
		return h.soh, false, fmt.Errorf("%w: actual esr %d mOhm", gaugeerr.ErrPlausibility, actualmOhm)
	}
	if nominalmOhm <= 0 {
		nominalmOhm = h.cfg.NominalESRmOhm
	}
	h.soh = int(mathx.Clamp(100*nominalmOhm/actualmOhm, 0, 100))
	h.hasSOH = true
	h.lastCycle = cycles
	return h.soh, true, nil
}

func (h *Health) SOH() (soh, cycle int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.soh, h.lastCycle, h.hasSOH
}

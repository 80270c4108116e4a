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

// Package ttf estimates how long a charging battery has until it is full.
package ttf

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/circbuf"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/interp"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/internal/mathx"
)

var ErrNotCharging = fmt.Errorf("%w: battery is not charging", gaugeerr.ErrPrecondition)

type Mode int

const (
	// Normal is charging paced by the device's own charger.
	Normal Mode = iota
	// Paced is charging where an external charger sets the current steps.
	Paced
)

func (m Mode) String() string {
	if m == Paced {
		return "paced"
	}
	return "normal"
}

// Step is one stage of a stepped charge profile.
type Step struct {
	LimitMA  int64         `toml:"limit-ma"`
	Duration time.Duration `toml:"duration"`
}

type Config struct {
	// FloatMV less CVMarginMV is where constant voltage charging starts.
	FloatMV    int64 `toml:"float-mv"`
	CVMarginMV int64 `toml:"cv-margin-mv"`
	// CVChargePct is the share of capacity delivered in constant voltage.
	CVChargePct   int64 `toml:"cv-charge-pct"`
	TermCurrentMA int64 `toml:"term-current-ma"`

	Normal []Step `toml:"normal"`
	Paced  []Step `toml:"paced"`

	MinReportInterval time.Duration `toml:"min-report-interval"`
}

func DefaultConfig() Config {
	return Config{
		FloatMV:       4200,
		CVMarginMV:    20,
		CVChargePct:   10,
		TermCurrentMA: 100,
		Normal: []Step{
			{LimitMA: 3000},
		},
		Paced: []Step{
			{LimitMA: 3000, Duration: 30 * time.Minute},
			{LimitMA: 2000, Duration: 30 * time.Minute},
			{LimitMA: 1000},
		},
		MinReportInterval: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	switch {
	case c.FloatMV <= 0 || c.CVMarginMV < 0:
		return fmt.Errorf("%w: ttf float %d mV margin %d mV", gaugeerr.ErrConfiguration, c.FloatMV, c.CVMarginMV)
	case c.CVChargePct < 0 || c.CVChargePct > 100:
		return fmt.Errorf("%w: ttf cv charge %d%%", gaugeerr.ErrConfiguration, c.CVChargePct)
	case c.TermCurrentMA <= 0:
		return fmt.Errorf("%w: ttf termination current %d mA", gaugeerr.ErrConfiguration, c.TermCurrentMA)
	case c.MinReportInterval < 0:
		return fmt.Errorf("%w: ttf report interval %v", gaugeerr.ErrConfiguration, c.MinReportInterval)
	}
	for name, p := range map[string][]Step{"normal": c.Normal, "paced": c.Paced} {
		if len(p) == 0 {
			return fmt.Errorf("%w: ttf %s profile is empty", gaugeerr.ErrConfiguration, name)
		}
		for i, s := range p {
			if s.LimitMA <= 0 || (i < len(p)-1 && s.Duration <= 0) {
				return fmt.Errorf("%w: ttf %s profile step %d", gaugeerr.ErrConfiguration, name, i)
			}
		}
	}
	return nil
}

type Sample struct {
	// CurrentMA is negative while charging.
	CurrentMA   int64
	VoltageMV   int64
	SOC         int
	CapacityMAh int64
	Time        time.Time
}

// Estimate is a reported time to full.
type Estimate struct {
	Seconds int64
	At      time.Time
}

func (e Estimate) Duration() time.Duration {
	return time.Duration(e.Seconds) * time.Second
}

type Estimator struct {
	mu      sync.Mutex
	cfg     Config
	mode    Mode
	current circbuf.Buffer[int64]
	voltage circbuf.Buffer[int64]
	last    Estimate
	hasLast bool
}

func New(cfg Config) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{cfg: cfg}, nil
}

// Reconfigure replaces the configuration, keeping the mode and sample
// history. The next Update recomputes the estimate.
func (e *Estimator) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.hasLast = false
	return nil
}

func (e *Estimator) SetMode(m Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = m
}

func (e *Estimator) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Reset drops the sample history and the last estimate. Call it when charging
// starts.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current.Clear()
	e.voltage.Clear()
	e.last = Estimate{}
	e.hasLast = false
}

func (e *Estimator) Last() (Estimate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.hasLast
}

// Update records s and returns the time to full. Within MinReportInterval of
// the last report the previous estimate is returned unchanged.
func (e *Estimator) Update(s Sample) (Estimate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	chargeMA := -s.CurrentMA
	if chargeMA <= 0 {
		return e.last, ErrNotCharging
	}
	if s.CapacityMAh <= 0 {
		return e.last, fmt.Errorf("%w: capacity %d mAh", gaugeerr.ErrPrecondition, s.CapacityMAh)
	}
	e.current.Push(chargeMA)
	e.voltage.Push(s.VoltageMV)

	if e.hasLast && s.Time.Sub(e.last.At) < e.cfg.MinReportInterval {
		return e.last, nil
	}

	var secs int64
	if s.SOC < 100 {
		iMA, err := e.current.Median()
		if err != nil {
			return e.last, err
		}
		vMV, err := e.voltage.Mean()
		if err != nil {
			return e.last, err
		}
		secs = e.estimate(iMA, vMV, s.SOC, s.CapacityMAh)
		if e.hasLast {
			aged := e.last.Seconds - int64(s.Time.Sub(e.last.At)/time.Second)
			secs = max((aged+secs)/2, 0)
		}
	}
	e.last = Estimate{Seconds: secs, At: s.Time}
	e.hasLast = true
	return e.last, nil
}

func (e *Estimator) profile() []Step {
	if e.mode == Paced {
		return e.cfg.Paced
	}
	return e.cfg.Normal
}

// estimate is the charge time in seconds from soc at iMA and vMV.
func (e *Estimator) estimate(iMA, vMV int64, soc int, capMAh int64) int64 {
	c := e.cfg
	q := capMAh * int64(100-soc) / 100
	qcv := min(capMAh*c.CVChargePct/100, q)
	icv := iMA

	var secs int64
	if vMV >= c.FloatMV-c.CVMarginMV {
		qcv = q
	} else {
		cc := q - qcv
		steps := e.profile()
		for i, st := range steps {
			rate := min(st.LimitMA, iMA)
			icv = rate
			if cc <= 0 {
				break
			}
			stepQ := mathx.MulDivRound(rate, int64(st.Duration/time.Second), 3600)
			if i == len(steps)-1 || cc <= stepQ {
				secs += mathx.MulDivRound(cc, 3600, rate)
				break
			}
			cc -= stepQ
			secs += int64(st.Duration / time.Second)
		}
	}
	return secs + cvSeconds(qcv, icv, c.TermCurrentMA)
}

// cvSeconds is the taper time for qMAh starting at iMA and ending at termMA,
// q/i * ln(i/term).
func cvSeconds(qMAh, iMA, termMA int64) int64 {
	if qMAh <= 0 || iMA <= 0 || iMA <= termMA {
		return 0
	}
	ratio := min(mathx.MulDivRound(iMA, 1000, termMA), math.MaxInt32)
	ln := int64(interp.LnTable.Lerp(int32(ratio)))
	return mathx.MulDivRound(qMAh*3600, ln, iMA*1000)
}

// IsNotCharging reports whether err came from a sample taken off charge.
func IsNotCharging(err error) bool {
	return errors.Is(err, ErrNotCharging)
}

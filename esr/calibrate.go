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
	"time"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/internal/mathx"
)

type CalState int

const (
	// CalIdle waits for the periodic timer.
	CalIdle CalState = iota
	// CalPending has a cycle open and takes attempts.
	CalPending
	// CalExhausted used up its retries or its time this cycle.
	CalExhausted
	// CalDone has calibrated enough times to stop.
	CalDone
)

func (s CalState) String() string {
	switch s {
	case CalPending:
		return "pending"
	case CalExhausted:
		return "exhausted"
	case CalDone:
		return "done"
	default:
		return "idle"
	}
}

type Outcome int

const (
	Skipped Outcome = iota
	Gated
	Rejected
	Accepted
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Gated:
		return "gated"
	case Rejected:
		return "rejected"
	case Accepted:
		return "accepted"
	case TimedOut:
		return "timed-out"
	default:
		return "skipped"
	}
}

const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"
)

type CalConfig struct {
	// Plausible ESR band, mOhm.
	MinESRmOhm int64 `toml:"min-esr-mohm"`
	MaxESRmOhm int64 `toml:"max-esr-mohm"`

	MaxRetries int           `toml:"max-retries"`
	Backoff    string        `toml:"backoff"`
	RetryBase  time.Duration `toml:"retry-base"`
	RetryMax   time.Duration `toml:"retry-max"`
	// Interval is the calibration timer period, MaxDuration the most a single
	// cycle may take.
	Interval    time.Duration `toml:"interval"`
	MaxDuration time.Duration `toml:"max-duration"`

	// Conditions a sample is taken under.
	MinTempDC     int   `toml:"min-temp"`
	MaxTempDC     int   `toml:"max-temp"`
	MinSOC        int   `toml:"min-soc"`
	MaxSOC        int   `toml:"max-soc"`
	PulseThreshMA int64 `toml:"pulse-thresh-ma"`

	// FilterFactor is the weight, percent, of a new sample against the
	// accepted estimate.
	FilterFactor int `toml:"filter-factor"`
	// DisableCount successful calibrations end fast calibration. 0 never does.
	DisableCount int `toml:"disable-count"`
}

func DefaultCalConfig() CalConfig {
	return CalConfig{
		MinESRmOhm:    20,
		MaxESRmOhm:    600,
		MaxRetries:    3,
		Backoff:       BackoffExponential,
		RetryBase:     30 * time.Second,
		RetryMax:      5 * time.Minute,
		Interval:      30 * time.Minute,
		MaxDuration:   10 * time.Minute,
		MinTempDC:     0,
		MaxTempDC:     450,
		MinSOC:        10,
		MaxSOC:        90,
		PulseThreshMA: 47,
		FilterFactor:  25,
		DisableCount:  10,
	}
}

func (c CalConfig) Validate() error {
	switch {
	case c.MinESRmOhm <= 0 || c.MinESRmOhm >= c.MaxESRmOhm:
		return fmt.Errorf("%w: esr plausible band %d..%d mOhm", gaugeerr.ErrConfiguration, c.MinESRmOhm, c.MaxESRmOhm)
	case c.MaxRetries < 1:
		return fmt.Errorf("%w: esr max retries %d", gaugeerr.ErrConfiguration, c.MaxRetries)
	case c.Backoff != BackoffExponential && c.Backoff != BackoffFixed:
		return fmt.Errorf("%w: esr backoff %q", gaugeerr.ErrConfiguration, c.Backoff)
	case c.RetryBase <= 0 || c.RetryMax < c.RetryBase:
		return fmt.Errorf("%w: esr retry base %v max %v", gaugeerr.ErrConfiguration, c.RetryBase, c.RetryMax)
	case c.Interval <= 0 || c.MaxDuration <= 0:
		return fmt.Errorf("%w: esr interval %v max duration %v", gaugeerr.ErrConfiguration, c.Interval, c.MaxDuration)
	case c.FilterFactor < 1 || c.FilterFactor > 100:
		return fmt.Errorf("%w: esr filter factor %d", gaugeerr.ErrConfiguration, c.FilterFactor)
	}
	return nil
}

// backoff is the wait after the nth rejection of a cycle.
func (c CalConfig) backoff(n int) time.Duration {
	if c.Backoff == BackoffFixed || n <= 1 {
		return c.RetryBase
	}
	d := c.RetryBase
	for i := 1; i < n && d < c.RetryMax; i++ {
		d *= 2
	}
	return mathx.Clamp(d, c.RetryBase, c.RetryMax)
}

// Sample is one ESR measurement and the conditions it was taken under.
type Sample struct {
	ESRmOhm   int64
	CurrentMA int64
	TempDC    int
	SOC       int
}

type Result struct {
	Outcome Outcome
	ESRmOhm int64
	Retries int
	State   CalState
	NextTry time.Time
}

type CalStats struct {
	State      CalState
	Retries    int
	Successes  int
	Rejections int
	Accepted   int64
}

// Calibrator runs fast ESR calibration cycles. A cycle opens on the periodic
// timer and ends on the first accepted sample, after MaxRetries plausibility
// rejections, or after MaxDuration.
type Calibrator struct {
	mu  sync.Mutex
	cfg CalConfig

	state      CalState
	retries    int
	cycleStart time.Time
	next       time.Time

	accepted    int64
	hasAccepted bool
	successes   int
	rejections  int
}

func NewCalibrator(cfg CalConfig) (*Calibrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calibrator{cfg: cfg}, nil
}

func (c *Calibrator) Config() CalConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Reconfigure replaces the configuration. An open cycle carries on with its
// retries and start time. Reaching a lowered DisableCount ends calibration.
func (c *Calibrator) Reconfigure(cfg CalConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	if cfg.DisableCount > 0 && c.successes >= cfg.DisableCount {
		c.state = CalDone
	}
	return nil
}

// Restore loads an ESR accepted in an earlier run.
func (c *Calibrator) Restore(esrmOhm int64, successes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if esrmOhm > 0 {
		c.accepted = esrmOhm
		c.hasAccepted = true
	}
	c.successes = successes
	if c.cfg.DisableCount > 0 && c.successes >= c.cfg.DisableCount {
		c.state = CalDone
	}
}

// TimerFired opens a new cycle, discarding what is left of the last one. It
// returns false once calibration is done.
func (c *Calibrator) TimerFired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CalDone {
		return false
	}
	c.state = CalPending
	c.retries = 0
	c.cycleStart = now
	c.next = now
	return true
}

// Attempt classifies one sample against the open cycle. Gated samples return
// an error wrapping gaugeerr.ErrPrecondition and change nothing; rejected
// samples wrap gaugeerr.ErrPlausibility; an expired cycle wraps
// gaugeerr.ErrTimeout.
func (c *Calibrator) Attempt(s Sample, now time.Time) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CalPending {
		return c.result(Skipped), nil
	}
	if now.Sub(c.cycleStart) > c.cfg.MaxDuration {
		c.state = CalExhausted
		return c.result(TimedOut), fmt.Errorf("%w: esr calibration cycle exceeded %v", gaugeerr.ErrTimeout, c.cfg.MaxDuration)
	}
	if now.Before(c.next) {
		return c.result(Skipped), nil
	}
	if err := c.gate(s); err != nil {
		return c.result(Gated), err
	}

	if !mathx.Between(s.ESRmOhm, c.cfg.MinESRmOhm, c.cfg.MaxESRmOhm) {
		c.retries++
		c.rejections++
		if c.retries >= c.cfg.MaxRetries {
			c.state = CalExhausted
		} else {
			c.next = now.Add(c.cfg.backoff(c.retries))
		}
		r := c.result(Rejected)
		r.ESRmOhm = s.ESRmOhm
		return r, fmt.Errorf("%w: esr %d mOhm outside %d..%d (attempt %d of %d)", gaugeerr.ErrPlausibility,
			s.ESRmOhm, c.cfg.MinESRmOhm, c.cfg.MaxESRmOhm, c.retries, c.cfg.MaxRetries)
	}

	if c.hasAccepted {
		c.accepted += (s.ESRmOhm - c.accepted) * int64(c.cfg.FilterFactor) / 100
	} else {
		c.accepted = s.ESRmOhm
		c.hasAccepted = true
	}
	c.retries = 0
	c.successes++
	c.state = CalIdle
	if c.cfg.DisableCount > 0 && c.successes >= c.cfg.DisableCount {
		c.state = CalDone
	}
	r := c.result(Accepted)
	r.ESRmOhm = c.accepted
	return r, nil
}

func (c *Calibrator) gate(s Sample) error {
	cfg := c.cfg
	switch {
	case !mathx.Between(s.TempDC, cfg.MinTempDC, cfg.MaxTempDC):
		return fmt.Errorf("%w: temperature %d outside %d..%d", gaugeerr.ErrPrecondition, s.TempDC, cfg.MinTempDC, cfg.MaxTempDC)
	case !mathx.Between(s.SOC, cfg.MinSOC, cfg.MaxSOC):
		return fmt.Errorf("%w: soc %d%% outside %d..%d%%", gaugeerr.ErrPrecondition, s.SOC, cfg.MinSOC, cfg.MaxSOC)
	case mathx.Abs(s.CurrentMA) < cfg.PulseThreshMA:
		return fmt.Errorf("%w: current %d mA below pulse threshold", gaugeerr.ErrPrecondition, s.CurrentMA)
	}
	return nil
}

func (c *Calibrator) result(o Outcome) Result {
	return Result{Outcome: o, Retries: c.retries, State: c.state, NextTry: c.next}
}

func (c *Calibrator) State() CalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Accepted returns the accepted ESR estimate.
func (c *Calibrator) Accepted() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted, c.hasAccepted
}

// NextAttempt is when a pending cycle will next take a sample.
func (c *Calibrator) NextAttempt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next, c.state == CalPending
}

func (c *Calibrator) Stats() CalStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CalStats{
		State:      c.state,
		Retries:    c.retries,
		Successes:  c.successes,
		Rejections: c.rejections,
		Accepted:   c.accepted,
	}
}

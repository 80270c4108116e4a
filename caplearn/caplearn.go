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

// Package caplearn refines the battery's learned capacity by following a
// charge from low SOC up to full and measuring the charge that went in.
package caplearn

import (
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/internal/mathx"
)

type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

type Event int

const (
	EventNone Event = iota
	EventCommitted
	EventAborted
)

func (e Event) String() string {
	switch e {
	case EventCommitted:
		return "committed"
	case EventAborted:
		return "aborted"
	default:
		return "none"
	}
}

type Config struct {
	// StartSOC is the highest SOC, in percent, a session may start from.
	StartSOC  int `toml:"start-soc"`
	MinTempDC int `toml:"min-temp"`
	MaxTempDC int `toml:"max-temp"`
	// Largest change a single session may make, in mAh.
	MaxIncMAh int64 `toml:"max-inc-mah"`
	MaxDecMAh int64 `toml:"max-dec-mah"`
	// Absolute limits on the learned capacity, in mAh.
	MinCapMAh   int64         `toml:"min-cap-mah"`
	MaxCapMAh   int64         `toml:"max-cap-mah"`
	MaxDuration time.Duration `toml:"max-duration"`
	// NominalMAh stands in for the previous capacity until one is learned.
	NominalMAh int64 `toml:"nominal-mah"`
}

func DefaultConfig() Config {
	return Config{
		StartSOC:    15,
		MinTempDC:   150,
		MaxTempDC:   500,
		MaxIncMAh:   150,
		MaxDecMAh:   300,
		MinCapMAh:   1500,
		MaxCapMAh:   4500,
		MaxDuration: 8 * time.Hour,
		NominalMAh:  3000,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MinTempDC > c.MaxTempDC:
		return fmt.Errorf("%w: capacity learning temperature window %d..%d", gaugeerr.ErrConfiguration, c.MinTempDC, c.MaxTempDC)
	case c.MinCapMAh > c.MaxCapMAh:
		return fmt.Errorf("%w: capacity limits %d..%d mAh", gaugeerr.ErrConfiguration, c.MinCapMAh, c.MaxCapMAh)
	case c.MaxIncMAh < 0 || c.MaxDecMAh < 0:
		return fmt.Errorf("%w: negative capacity adjustment bound", gaugeerr.ErrConfiguration)
	case c.MaxDuration <= 0:
		return fmt.Errorf("%w: capacity learning max duration %v", gaugeerr.ErrConfiguration, c.MaxDuration)
	case c.NominalMAh <= 0:
		return fmt.Errorf("%w: nominal capacity %d mAh", gaugeerr.ErrConfiguration, c.NominalMAh)
	}
	return nil
}

// StartSample is what is known when charging begins.
type StartSample struct {
	SOC    int
	TempDC int
	// CCMAh is the charge counter reading that anchors the session.
	CCMAh   int64
	CCValid bool
	Charger string
	Time    time.Time
}

// Sample is one update while a session may be active.
type Sample struct {
	TempDC  int
	CCMAh   int64
	Charger string
	// Full is set once the charger reports charge termination.
	Full bool
	Time time.Time
}

type Result struct {
	Event   Event
	Learned int64
	Delta   int64
	Reason  string
}

type Stats struct {
	State      State
	Commits    int
	Aborts     int
	Rejections int
}

// Learner is the capacity learning state machine. At most one session is
// open at a time and every transition happens under mu.
type Learner struct {
	mu  sync.Mutex
	cfg Config

	state     State
	anchor    int64
	delta     int64
	charger   string
	startedAt time.Time

	learned int64

	commits    int
	aborts     int
	rejections int
}

func New(cfg Config) (*Learner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Learner{cfg: cfg}, nil
}

// Learned returns the learned capacity, or false if none has been learned or
// restored yet.
func (l *Learner) Learned() (int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.learned, l.learned > 0
}

// SetLearned restores a capacity committed in an earlier run.
func (l *Learner) SetLearned(mAh int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if mAh > 0 {
		l.learned = mathx.Clamp(mAh, l.cfg.MinCapMAh, l.cfg.MaxCapMAh)
	}
}

// Reconfigure replaces the configuration. An open session carries on under
// the new limits.
func (l *Learner) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	return nil
}

func (l *Learner) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Learner) Active() bool {
	return l.State() == Active
}

func (l *Learner) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{State: l.state, Commits: l.commits, Aborts: l.aborts, Rejections: l.rejections}
}

// Start opens a session. A disqualified start returns an error wrapping
// gaugeerr.ErrPrecondition and changes nothing.
func (l *Learner) Start(s StartSample) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.state == Active:
		return fmt.Errorf("%w: capacity learning already active", gaugeerr.ErrPrecondition)
	case !mathx.Between(s.TempDC, l.cfg.MinTempDC, l.cfg.MaxTempDC):
		return fmt.Errorf("%w: temperature %d outside %d..%d", gaugeerr.ErrPrecondition, s.TempDC, l.cfg.MinTempDC, l.cfg.MaxTempDC)
	case s.SOC > l.cfg.StartSOC:
		return fmt.Errorf("%w: soc %d%% above start threshold %d%%", gaugeerr.ErrPrecondition, s.SOC, l.cfg.StartSOC)
	case !s.CCValid:
		return fmt.Errorf("%w: no charge counter reading", gaugeerr.ErrPrecondition)
	}

	l.state = Active
	l.anchor = s.CCMAh
	l.delta = 0
	l.charger = s.Charger
	l.startedAt = s.Time
	return nil
}

// Update feeds a sample into an open session. It aborts the session on a
// temperature excursion, a charger change or a timeout and commits it once
// the battery is full. Without an open session it does nothing.
func (l *Learner) Update(s Sample) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Active {
		return Result{}, nil
	}
	if s.Time.Sub(l.startedAt) > l.cfg.MaxDuration {
		return l.abort(fmt.Sprintf("timed out after %v", l.cfg.MaxDuration)), nil
	}
	if !mathx.Between(s.TempDC, l.cfg.MinTempDC, l.cfg.MaxTempDC) {
		return l.abort(fmt.Sprintf("temperature %d outside window", s.TempDC)), nil
	}
	if s.Charger != l.charger {
		return l.abort(fmt.Sprintf("charger changed from %q to %q", l.charger, s.Charger)), nil
	}

	l.delta = s.CCMAh - l.anchor
	if !s.Full {
		return Result{Delta: l.delta}, nil
	}
	return l.commit()
}

// Abort discards an open session.
func (l *Learner) Abort(reason string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Active {
		return Result{}
	}
	return l.abort(reason)
}

func (l *Learner) abort(reason string) Result {
	r := Result{Event: EventAborted, Learned: l.learned, Delta: l.delta, Reason: reason}
	l.reset()
	l.aborts++
	return r
}

func (l *Learner) reset() {
	l.state = Idle
	l.anchor = 0
	l.delta = 0
	l.charger = ""
	l.startedAt = time.Time{}
}

func (l *Learner) commit() (Result, error) {
	delta := l.delta
	if delta <= 0 {
		l.rejections++
		r := l.abort(fmt.Sprintf("charge counter delta %d mAh", delta))
		return r, fmt.Errorf("%w: capacity learning delta %d mAh", gaugeerr.ErrPlausibility, delta)
	}

	prev := l.learned
	if prev <= 0 {
		prev = l.cfg.NominalMAh
	}
	learned := mathx.Clamp(prev+delta, prev-l.cfg.MaxDecMAh, prev+l.cfg.MaxIncMAh)
	learned = mathx.Clamp(learned, l.cfg.MinCapMAh, l.cfg.MaxCapMAh)

	l.learned = learned
	l.reset()
	l.commits++
	return Result{Event: EventCommitted, Learned: learned, Delta: delta}, nil
}

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
	"testing"
	"time"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newFilter(t *testing.T) *Filter {
	f, err := NewFilter(DefaultFilterConfig())
	require.NoError(t, err)
	return f
}

func TestInitialRegimeFromTemperature(t *testing.T) {
	f := newFilter(t)
	r, changed := f.Update(250, t0)
	assert.True(t, changed)
	assert.Equal(t, RoomTemp, r)

	f = newFilter(t)
	r, _ = f.Update(50, t0)
	assert.Equal(t, LowTemp, r)
}

func TestRegimeHysteresis(t *testing.T) {
	f := newFilter(t)
	f.Update(250, t0)

	tests := []struct {
		temp   int
		regime Regime
	}{
		{90, RoomTemp},
		{81, RoomTemp},
		{80, LowTemp},
		{110, LowTemp},
		{120, LowTemp},
		{121, RoomTemp},
	}
	for _, tt := range tests {
		r, _ := f.Update(tt.temp, t0)
		assert.Equal(t, tt.regime, r, "temp %d", tt.temp)
	}
}

func TestRegimeSkippedWhenVeryCold(t *testing.T) {
	f := newFilter(t)
	f.Update(250, t0)
	r, changed := f.Update(-250, t0)
	assert.False(t, changed)
	assert.Equal(t, RoomTemp, r)
}

func TestRelaxRegime(t *testing.T) {
	f := newFilter(t)
	f.Update(-50, t0)
	require.Equal(t, LowTemp, f.Regime())

	f.DeltaTemp(t0)
	f.DeltaTemp(t0.Add(time.Minute))
	r, _ := f.Update(-50, t0.Add(time.Minute))
	assert.Equal(t, LowTemp, r)

	f.DeltaTemp(t0.Add(2 * time.Minute))
	r, changed := f.Update(-50, t0.Add(2*time.Minute))
	assert.True(t, changed)
	assert.Equal(t, RelaxTemp, r)

	r, _ = f.Update(-50, t0.Add(5*time.Minute))
	assert.Equal(t, RelaxTemp, r)

	r, _ = f.Update(-50, t0.Add(12*time.Minute))
	assert.Equal(t, LowTemp, r)
}

func TestRelaxNeedsRecentDeltas(t *testing.T) {
	f := newFilter(t)
	f.Update(-50, t0)
	f.DeltaTemp(t0)
	f.DeltaTemp(t0.Add(time.Minute))
	f.DeltaTemp(t0.Add(2 * time.Minute))
	r, _ := f.Update(-50, t0.Add(10*time.Minute))
	assert.Equal(t, LowTemp, r)
}

func TestRelaxLeftWhenWarm(t *testing.T) {
	f := newFilter(t)
	f.Update(-50, t0)
	for i := 0; i < 3; i++ {
		f.DeltaTemp(t0)
	}
	r, _ := f.Update(-50, t0)
	require.Equal(t, RelaxTemp, r)

	r, _ = f.Update(21, t0.Add(time.Second))
	assert.Equal(t, LowTemp, r)
}

func TestFilterValues(t *testing.T) {
	f := newFilter(t)
	cfg := DefaultFilterConfig()
	assert.Equal(t, cfg.Room, f.Values(RoomTemp))
	assert.Equal(t, cfg.Low, f.Values(LowTemp))
	assert.Equal(t, cfg.Relax, f.Values(RelaxTemp))
}

func TestFilterConfigValidate(t *testing.T) {
	cfg := DefaultFilterConfig()
	cfg.RelaxSwitchTempDC = cfg.SwitchTempDC
	_, err := NewFilter(cfg)
	assert.ErrorIs(t, err, gaugeerr.ErrConfiguration)
}

func newCalibrator(t *testing.T) *Calibrator {
	c, err := NewCalibrator(DefaultCalConfig())
	require.NoError(t, err)
	return c
}

func goodSample(esr int64) Sample {
	return Sample{ESRmOhm: esr, CurrentMA: 500, TempDC: 250, SOC: 50}
}

func TestAttemptWithoutCycleIsSkipped(t *testing.T) {
	c := newCalibrator(t)
	r, err := c.Attempt(goodSample(120), t0)
	require.NoError(t, err)
	assert.Equal(t, Skipped, r.Outcome)
	_, ok := c.Accepted()
	assert.False(t, ok)
}

func TestThreeRejectionsExhaustCycle(t *testing.T) {
	c := newCalibrator(t)
	f := newFilter(t)
	f.Update(250, t0)
	require.True(t, c.TimerFired(t0))

	now := t0
	for i := 1; i <= 3; i++ {
		r, err := c.Attempt(goodSample(5000), now)
		assert.ErrorIs(t, err, gaugeerr.ErrPlausibility)
		assert.True(t, gaugeerr.IsRoutine(err))
		assert.Equal(t, Rejected, r.Outcome)
		assert.Equal(t, i, r.Retries)
		now = r.NextTry.Add(time.Second)
	}
	assert.Equal(t, CalExhausted, c.State())
	assert.Equal(t, 3, c.Stats().Rejections)

	r, err := c.Attempt(goodSample(120), now)
	require.NoError(t, err)
	assert.Equal(t, Skipped, r.Outcome)
	_, ok := c.Accepted()
	assert.False(t, ok)

	assert.Equal(t, RoomTemp, f.Regime())

	require.True(t, c.TimerFired(now))
	r, err = c.Attempt(goodSample(120), now)
	require.NoError(t, err)
	assert.Equal(t, Accepted, r.Outcome)
	assert.Equal(t, int64(120), r.ESRmOhm)
	assert.Equal(t, CalIdle, c.State())
}

func TestRejectionBacksOff(t *testing.T) {
	c := newCalibrator(t)
	c.TimerFired(t0)

	r, _ := c.Attempt(goodSample(5), t0)
	assert.Equal(t, t0.Add(30*time.Second), r.NextTry)

	r, err := c.Attempt(goodSample(120), t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, Skipped, r.Outcome)

	r, err = c.Attempt(goodSample(120), t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, Accepted, r.Outcome)
}

func TestBackoffCurve(t *testing.T) {
	cfg := DefaultCalConfig()
	assert.Equal(t, 30*time.Second, cfg.backoff(1))
	assert.Equal(t, 60*time.Second, cfg.backoff(2))
	assert.Equal(t, 120*time.Second, cfg.backoff(3))
	assert.Equal(t, 5*time.Minute, cfg.backoff(10))

	cfg.Backoff = BackoffFixed
	assert.Equal(t, 30*time.Second, cfg.backoff(3))
}

func TestGatedAttemptHasNoSideEffects(t *testing.T) {
	c := newCalibrator(t)
	c.TimerFired(t0)

	tests := map[string]Sample{
		"cold":        {ESRmOhm: 120, CurrentMA: 500, TempDC: -10, SOC: 50},
		"full":        {ESRmOhm: 120, CurrentMA: 500, TempDC: 250, SOC: 95},
		"no pulse":    {ESRmOhm: 120, CurrentMA: 10, TempDC: 250, SOC: 50},
		"implausible": {ESRmOhm: 9000, CurrentMA: 10, TempDC: 250, SOC: 50},
	}
	for name, s := range tests {
		t.Run(name, func(t *testing.T) {
			r, err := c.Attempt(s, t0)
			assert.ErrorIs(t, err, gaugeerr.ErrPrecondition)
			assert.Equal(t, Gated, r.Outcome)
			assert.Equal(t, 0, c.Stats().Retries)
			assert.Equal(t, CalPending, c.State())
		})
	}
}

func TestCycleTimesOut(t *testing.T) {
	c := newCalibrator(t)
	c.TimerFired(t0)
	r, err := c.Attempt(goodSample(120), t0.Add(11*time.Minute))
	assert.ErrorIs(t, err, gaugeerr.ErrTimeout)
	assert.Equal(t, TimedOut, r.Outcome)
	assert.Equal(t, CalExhausted, c.State())
}

func TestAcceptedIsFiltered(t *testing.T) {
	c := newCalibrator(t)
	c.TimerFired(t0)
	_, err := c.Attempt(goodSample(100), t0)
	require.NoError(t, err)

	c.TimerFired(t0.Add(time.Hour))
	r, err := c.Attempt(goodSample(200), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(125), r.ESRmOhm)
}

func TestDoneAfterDisableCount(t *testing.T) {
	cfg := DefaultCalConfig()
	cfg.DisableCount = 2
	c, err := NewCalibrator(cfg)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.True(t, c.TimerFired(t0))
		_, err := c.Attempt(goodSample(100), t0)
		require.NoError(t, err)
	}
	assert.Equal(t, CalDone, c.State())
	assert.False(t, c.TimerFired(t0))

	c, err = NewCalibrator(cfg)
	require.NoError(t, err)
	c.Restore(110, 2)
	assert.Equal(t, CalDone, c.State())
	esr, ok := c.Accepted()
	assert.True(t, ok)
	assert.Equal(t, int64(110), esr)
}

func TestCalConfigValidate(t *testing.T) {
	cfg := DefaultCalConfig()
	cfg.Backoff = "linear"
	_, err := NewCalibrator(cfg)
	assert.ErrorIs(t, err, gaugeerr.ErrConfiguration)
}

func TestSOHInterval(t *testing.T) {
	h, err := NewHealth(DefaultHealthConfig())
	require.NoError(t, err)

	_, _, ok := h.SOH()
	assert.False(t, ok)

	soh, updated, err := h.Update(125, 100, 3)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, 80, soh)

	soh, updated, err = h.Update(200, 100, 12)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Equal(t, 80, soh)

	soh, updated, err = h.Update(200, 100, 13)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, 50, soh)

	soh, _, err = h.Update(50, 100, 30)
	require.NoError(t, err)
	assert.Equal(t, 100, soh)

	_, cycle, ok := h.SOH()
	assert.True(t, ok)
	assert.Equal(t, 30, cycle)
}

func TestSOHDefaultsNominal(t *testing.T) {
	h, err := NewHealth(DefaultHealthConfig())
	require.NoError(t, err)
	soh, _, err := h.Update(200, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 50, soh)

	h.Restore(70, 40)
	soh, updated, err := h.Update(100, 100, 45)
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Equal(t, 70, soh)

	_, _, err = (&Health{cfg: DefaultHealthConfig()}).Update(0, 100, 0)
	assert.ErrorIs(t, err, gaugeerr.ErrPlausibility)
}

func TestFilterReconfigureKeepsRegime(t *testing.T) {
	f := newFilter(t)
	f.Update(250, t0)

	cfg := DefaultFilterConfig()
	cfg.Room.TightUPct++
	require.NoError(t, f.Reconfigure(cfg))
	assert.Equal(t, RoomTemp, f.Regime())
	assert.Equal(t, cfg.Room, f.Values(RoomTemp))

	cfg.RelaxSwitchTempDC = cfg.SwitchTempDC
	assert.ErrorIs(t, f.Reconfigure(cfg), gaugeerr.ErrConfiguration)
}

func TestCalibratorReconfigureKeepsCycle(t *testing.T) {
	c := newCalibrator(t)
	require.True(t, c.TimerFired(t0))
	r, _ := c.Attempt(goodSample(5000), t0)
	require.Equal(t, Rejected, r.Outcome)

	cfg := DefaultCalConfig()
	cfg.MaxESRmOhm = 6000
	require.NoError(t, c.Reconfigure(cfg))
	assert.Equal(t, CalPending, c.State())
	assert.Equal(t, 1, c.Stats().Retries)
	next, pending := c.NextAttempt()
	assert.True(t, pending)
	assert.Equal(t, t0.Add(30*time.Second), next)

	r, err := c.Attempt(goodSample(5000), next)
	require.NoError(t, err)
	assert.Equal(t, Accepted, r.Outcome)

	cfg.DisableCount = 1
	require.NoError(t, c.Reconfigure(cfg))
	assert.Equal(t, CalDone, c.State())
}

func TestHealthReconfigureKeepsSOH(t *testing.T) {
	h, err := NewHealth(DefaultHealthConfig())
	require.NoError(t, err)
	h.Restore(70, 40)

	cfg := DefaultHealthConfig()
	cfg.CycleInterval = 2
	require.NoError(t, h.Reconfigure(cfg))
	soh, cycle, ok := h.SOH()
	assert.True(t, ok)
	assert.Equal(t, 70, soh)
	assert.Equal(t, 40, cycle)

	soh, updated, err := h.Update(100, 100, 42)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, 100, soh)
}

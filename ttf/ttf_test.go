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

package ttf

import (
	"testing"
	"time"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newEstimator(t *testing.T) *Estimator {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	return e
}

func charging(at time.Duration) Sample {
	return Sample{CurrentMA: -1000, VoltageMV: 3900, SOC: 50, CapacityMAh: 3000, Time: t0.Add(at)}
}

func TestConstantCurrentEstimate(t *testing.T) {
	e := newEstimator(t)
	est, err := e.Update(charging(0))
	require.NoError(t, err)
	// 1200 mAh at 1 A, then 300 mAh tapering from 1 A to 100 mA.
	assert.Equal(t, int64(4320+2432), est.Seconds)
	assert.Equal(t, t0, est.At)
	assert.Equal(t, 6752*time.Second, est.Duration())
}

func TestEstimateCachedWithinInterval(t *testing.T) {
	e := newEstimator(t)
	first, err := e.Update(charging(0))
	require.NoError(t, err)

	s := charging(5 * time.Second)
	s.CurrentMA = -2500
	second, err := e.Update(s)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	last, ok := e.Last()
	assert.True(t, ok)
	assert.Equal(t, first, last)
}

func TestEstimateRecomputedAfterInterval(t *testing.T) {
	e := newEstimator(t)
	_, err := e.Update(charging(0))
	require.NoError(t, err)
	_, err = e.Update(charging(5 * time.Second))
	require.NoError(t, err)

	est, err := e.Update(charging(20 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(20*time.Second), est.At)
	assert.Equal(t, int64((6752-20+6752)/2), est.Seconds)
}

func TestConstantVoltageEstimate(t *testing.T) {
	e := newEstimator(t)
	s := charging(0)
	s.VoltageMV = 4190
	est, err := e.Update(s)
	require.NoError(t, err)
	assert.Equal(t, int64(12161), est.Seconds)
}

func TestPacedProfile(t *testing.T) {
	e := newEstimator(t)
	e.SetMode(Paced)
	assert.Equal(t, Paced, e.Mode())

	s := charging(0)
	s.CurrentMA = -2500
	s.SOC = 0
	est, err := e.Update(s)
	require.NoError(t, err)
	// 30 min at 2.5 A, 30 min at 2 A, 450 mAh at 1 A, then the taper.
	assert.Equal(t, int64(1800+1800+1620+2432), est.Seconds)
}

func TestMedianCurrentIgnoresSpike(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinReportInterval = 0
	e, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := e.Update(charging(0))
		require.NoError(t, err)
	}
	s := charging(0)
	s.CurrentMA = -3000
	est, err := e.Update(s)
	require.NoError(t, err)
	assert.Equal(t, int64(6752), est.Seconds)
}

func TestNotCharging(t *testing.T) {
	e := newEstimator(t)
	s := charging(0)
	s.CurrentMA = 200
	_, err := e.Update(s)
	assert.ErrorIs(t, err, ErrNotCharging)
	assert.True(t, IsNotCharging(err))
	assert.True(t, gaugeerr.IsRoutine(err))

	_, ok := e.Last()
	assert.False(t, ok)
}

func TestFullIsZero(t *testing.T) {
	e := newEstimator(t)
	s := charging(0)
	s.SOC = 100
	est, err := e.Update(s)
	require.NoError(t, err)
	assert.Equal(t, int64(0), est.Seconds)
}

func TestResetDropsLastEstimate(t *testing.T) {
	e := newEstimator(t)
	_, err := e.Update(charging(0))
	require.NoError(t, err)
	e.Reset()
	_, ok := e.Last()
	assert.False(t, ok)

	est, err := e.Update(charging(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(6752), est.Seconds)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paced = nil
	_, err := New(cfg)
	assert.ErrorIs(t, err, gaugeerr.ErrConfiguration)

	cfg = DefaultConfig()
	cfg.Paced[0].Duration = 0
	_, err = New(cfg)
	assert.ErrorIs(t, err, gaugeerr.ErrConfiguration)
}

func TestReconfigureRecomputes(t *testing.T) {
	e := newEstimator(t)
	e.SetMode(Paced)
	_, err := e.Update(charging(0))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.TermCurrentMA = 200
	require.NoError(t, e.Reconfigure(cfg))
	assert.Equal(t, Paced, e.Mode())
	_, ok := e.Last()
	assert.False(t, ok)

	est, err := e.Update(charging(5 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(5*time.Second), est.At)

	cfg.Normal = nil
	assert.ErrorIs(t, e.Reconfigure(cfg), gaugeerr.ErrConfiguration)
}

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

package fuelgauge

import (
	"errors"
	"testing"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/engine"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/interp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReloader struct {
	reloads []engine.Config
	err     error
}

func (f *fakeReloader) Reload(cfg engine.Config) error {
	if f.err != nil {
		return f.err
	}
	f.reloads = append(f.reloads, cfg)
	return nil
}

func mockLoadConfig(t *testing.T, cfg engine.Config, err error) {
	prev := loadConfigFn
	loadConfigFn = func(string) (engine.Config, error) { return cfg, err }
	t.Cleanup(func() { loadConfigFn = prev })
}

func TestConfigDiffComparesTables(t *testing.T) {
	a := engine.DefaultConfig()
	b := engine.DefaultConfig()
	assert.Empty(t, configDiff(a, b))

	ocv, err := interp.NewTable(interp.Point{X: 3000, Y: 0}, interp.Point{X: 4200, Y: 100})
	require.NoError(t, err)
	b.OCV = ocv
	assert.NotEmpty(t, configDiff(a, b))
}

func TestReloadConfig(t *testing.T) {
	current := engine.DefaultConfig()
	r := &fakeReloader{}

	mockLoadConfig(t, engine.DefaultConfig(), nil)
	got := reloadConfig(r, "", current)
	assert.Empty(t, r.reloads)
	assert.Empty(t, configDiff(current, got))

	changed := engine.DefaultConfig()
	changed.FloatMV = 4350
	mockLoadConfig(t, changed, nil)
	got = reloadConfig(r, "", current)
	require.Len(t, r.reloads, 1)
	assert.Equal(t, int64(4350), got.FloatMV)
}

func TestReloadConfigKeepsCurrentOnError(t *testing.T) {
	current := engine.DefaultConfig()

	mockLoadConfig(t, engine.Config{}, errors.New("bad config"))
	r := &fakeReloader{}
	got := reloadConfig(r, "", current)
	assert.Empty(t, r.reloads)
	assert.Equal(t, current.FloatMV, got.FloatMV)

	changed := engine.DefaultConfig()
	changed.FloatMV = 4350
	mockLoadConfig(t, changed, nil)
	got = reloadConfig(&fakeReloader{err: errors.New("rejected")}, "", current)
	assert.Equal(t, current.FloatMV, got.FloatMV)
}

func TestWatchedFile(t *testing.T) {
	assert.True(t, watchedFile("/etc/cacophony/fuel-gauge.toml"))
	assert.False(t, watchedFile("/etc/cacophony/other.toml"))
}

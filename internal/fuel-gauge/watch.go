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
	"context"
	"path/filepath"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/engine"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/interp"
	"github.com/google/go-cmp/cmp"
	"github.com/rjeczalik/notify"
)

type reloader interface {
	Reload(engine.Config) error
}

var loadConfigFn = LoadConfig

// configDiff compares two engine configs, tables by their points.
func configDiff(a, b engine.Config) string {
	return cmp.Diff(a, b, cmp.Transformer("points", func(t interp.Table) []interp.Point {
		return t.Points()
	}))
}

func watchedFile(path string) bool {
	switch filepath.Base(path) {
	case goconfig.ConfigFileName, TunablesFileName:
		return true
	}
	return false
}

// watchConfig reloads the engine whenever the device config or the tunables
// file changes in a way that alters the engine config.
func watchConfig(ctx context.Context, r reloader, configDir string, current engine.Config) error {
	fsEvents := make(chan notify.EventInfo, 1)
	if err := notify.Watch(configDir, fsEvents, notify.InCloseWrite, notify.InMovedTo); err != nil {
		return err
	}
	defer notify.Stop(fsEvents)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-fsEvents:
			if !watchedFile(ev.Path()) {
				continue
			}
			current = reloadConfig(r, configDir, current)
		}
	}
}

func reloadConfig(r reloader, configDir string, current engine.Config) engine.Config {
	newConfig, err := loadConfigFn(configDir)
	if err != nil {
		log.Error("error reloading config:", err)
		return current
	}
	diff := configDiff(current, newConfig)
	log.Debug("Config diff:", diff)
	if diff == "" {
		log.Info("No relevant changes detected in config file.")
		return current
	}
	if err := r.Reload(newConfig); err != nil {
		log.Error("error applying config:", err)
		return current
	}
	log.Info("Config changed, engine reloaded.")
	return newConfig
}

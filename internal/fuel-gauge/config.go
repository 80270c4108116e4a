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
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/caplearn"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/cyclecount"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/engine"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/esr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/interp"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/kicoeff"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/sram"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/ttf"
	"github.com/pelletier/go-toml"
)

// TunablesFileName sits next to the device config and overrides the compiled
// gauge tunables. It is optional.
const TunablesFileName = "fuel-gauge.toml"

type Tunables struct {
	CapacityLearning caplearn.Config  `toml:"capacity-learning"`
	ESRFilter        esr.FilterConfig `toml:"esr-filter"`
	ESRCalibration   esr.CalConfig    `toml:"esr-calibration"`
	Health           esr.HealthConfig `toml:"health"`
	KI               kicoeff.Config   `toml:"ki"`
	TimeToFull       ttf.Config       `toml:"time-to-full"`

	CycleDirection string                               `toml:"cycle-direction"`
	CycleBounds    [cyclecount.Buckets]cyclecount.Bound `toml:"cycle-bounds"`
	SOHSOC         int                                  `toml:"soh-soc"`
	PacedChargers  []string                             `toml:"paced-chargers"`
	// Thresholds by parameter name, physical units. Listed ones replace the
	// compiled value, the rest are kept.
	Thresholds map[string]int64 `toml:"thresholds"`

	QueueSize    int           `toml:"queue-size"`
	WriteTimeout time.Duration `toml:"write-timeout"`
}

func defaultTunables(cfg engine.Config) Tunables {
	return Tunables{
		CapacityLearning: cfg.CapLearn,
		ESRFilter:        cfg.ESRFilter,
		ESRCalibration:   cfg.ESRCal,
		Health:           cfg.Health,
		KI:               cfg.KI,
		TimeToFull:       cfg.TTF,
		CycleDirection:   cfg.CycleDirection.String(),
		CycleBounds:      cfg.CycleBounds,
		SOHSOC:           cfg.SOHSOC,
		PacedChargers:    cfg.PacedChargers,
		QueueSize:        cfg.QueueSize,
		WriteTimeout:     cfg.WriteTimeout,
	}
}

// loadTunables decodes path over t. A missing file leaves t as it is.
func loadTunables(path string, t *Tunables) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debugf("No %s, using compiled tunables", path)
		return nil
	}
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, t); err != nil {
		return fmt.Errorf("%w: %s: %v", gaugeerr.ErrConfiguration, path, err)
	}
	return nil
}

func (t Tunables) apply(cfg *engine.Config) error {
	dir, err := cyclecount.ParseDirection(t.CycleDirection)
	if err != nil {
		return err
	}
	thresholds := make(map[sram.ParamID]int64, len(cfg.Thresholds)+len(t.Thresholds))
	for id, v := range cfg.Thresholds {
		thresholds[id] = v
	}
	for name, v := range t.Thresholds {
		id, ok := sram.ParseParam(name)
		if !ok {
			return fmt.Errorf("%w: threshold %q", gaugeerr.ErrUnknownParam, name)
		}
		thresholds[id] = v
	}

	cfg.CapLearn = t.CapacityLearning
	cfg.ESRFilter = t.ESRFilter
	cfg.ESRCal = t.ESRCalibration
	cfg.Health = t.Health
	cfg.KI = t.KI
	cfg.TTF = t.TimeToFull
	cfg.CycleDirection = dir
	cfg.CycleBounds = t.CycleBounds
	cfg.SOHSOC = t.SOHSOC
	cfg.PacedChargers = t.PacedChargers
	cfg.Thresholds = thresholds
	cfg.QueueSize = t.QueueSize
	cfg.WriteTimeout = t.WriteTimeout
	return nil
}

func millivolts(v float32) int64 {
	return int64(math.Round(float64(v) * 1000))
}

// applyChemistry takes the float and cutoff voltages and the OCV curve from
// the chemistry profile.
func applyChemistry(cfg *engine.Config, battery goconfig.Battery) error {
	chemistry := battery.Chemistry
	if chemistry == "" {
		chemistry = goconfig.ChemistryLiIon
	}
	var profile goconfig.BatteryType
	if chemistry == goconfig.ChemistryCustom && battery.CustomBatteryType != nil {
		profile = *battery.CustomBatteryType
	} else {
		p, ok := goconfig.ChemistryProfiles[chemistry]
		if !ok {
			return fmt.Errorf("%w: unknown battery chemistry %q", gaugeerr.ErrConfiguration, chemistry)
		}
		profile = p
	}

	// The curves are per cell. Without a configured cell count the gauge is
	// taken to measure a single cell.
	pack := goconfig.BatteryPack{Type: &profile, CellCount: 1}
	if battery.ManualCellCount > 0 {
		pack.CellCount = battery.ManualCellCount
	}
	ocv, err := interp.FromCurve(profile.Voltages, profile.Percent, 1000*float64(pack.CellCount), 1)
	if err != nil {
		return fmt.Errorf("%s OCV curve: %w", chemistry, err)
	}
	cfg.Chemistry = chemistry
	cfg.Cells = pack.CellCount
	cfg.FloatMV = millivolts(pack.GetScaledMaxVoltage())
	cfg.CutoffMV = millivolts(pack.GetScaledMinVoltage())
	cfg.TTF.FloatMV = cfg.FloatMV
	cfg.OCV = ocv
	return nil
}

// LoadConfig builds the engine configuration from the device config and the
// tunables file in configDir.
func LoadConfig(configDir string) (engine.Config, error) {
	conf, err := goconfig.New(configDir)
	if err != nil {
		return engine.Config{}, err
	}
	battery := goconfig.DefaultBattery()
	if err := conf.Unmarshal(goconfig.BatteryKey, &battery); err != nil {
		return engine.Config{}, err
	}
	return buildConfig(battery, filepath.Join(configDir, TunablesFileName))
}

func buildConfig(battery goconfig.Battery, tunablesPath string) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if err := applyChemistry(&cfg, battery); err != nil {
		return engine.Config{}, err
	}
	t := defaultTunables(cfg)
	if err := loadTunables(tunablesPath, &t); err != nil {
		return engine.Config{}, err
	}
	if err := t.apply(&cfg); err != nil {
		return engine.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

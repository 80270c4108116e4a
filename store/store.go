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

// Package store persists the learned gauge state across restarts.
package store

import (
	"context"
	"time"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/cyclecount"
)

// State is everything the gauge learns that must survive a power cycle.
type State struct {
	LearnedCapacityMAh int64                   `json:"learnedCapacityMAh"`
	CycleCounts        [cyclecount.Buckets]int `json:"cycleCounts"`
	ESRmOhm            int64                   `json:"esrMOhm"`
	ESRCalibrations    int                     `json:"esrCalibrations"`
	SOH                int                     `json:"soh"`
	SOHCycle           int                     `json:"sohCycle"`
	HasSOH             bool                    `json:"hasSOH"`
	LastUpdated        time.Time               `json:"lastUpdated"`
}

type Store interface {
	// Load returns the saved state, or the zero State if nothing is saved.
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, s State) error
}

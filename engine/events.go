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

package engine

import (
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
)

const (
	eventCapacityLearned = "fuelGaugeCapacityLearned"
	eventCycleCompleted  = "fuelGaugeCycleCompleted"
	eventSOHUpdated      = "fuelGaugeSOHUpdated"
	eventESRExhausted    = "fuelGaugeESRCalibrationExhausted"
)

var addEvent = eventclient.AddEvent

func (e *Engine) report(eventType string, details map[string]interface{}) {
	err := addEvent(eventclient.Event{
		Timestamp: time.Now(),
		Type:      eventType,
		Details:   details,
	})
	if err != nil {
		e.log.Error("Error adding event:", err)
	}
}

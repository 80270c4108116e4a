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
	"fmt"
	"time"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/engine"
	"github.com/godbus/dbus"
)

// The charger service announces charger state changes and gauge alerts as
// signals on this interface.
const chargerInterface = "org.cacophony.charger"

const (
	signalChargerStatus = chargerInterface + ".Status"
	signalChargerType   = chargerInterface + ".Type"
	signalFull          = chargerInterface + ".Full"
	signalDeltaTemp     = chargerInterface + ".DeltaTemp"
)

type notifier interface {
	Notify(engine.Notification)
}

func listenForChargerSignals(e *engine.Engine) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}

	rule := "type='signal',interface='" + chargerInterface + "'"
	call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule)
	if call.Err != nil {
		return fmt.Errorf("failed to add match rule: %v", call.Err)
	}

	c := make(chan *dbus.Signal, 10)
	conn.Signal(c)

	log.Infof("Listening for D-Bus signals on %s", chargerInterface)
	go handleSignals(c, e)
	return nil
}

func handleSignals(c <-chan *dbus.Signal, n notifier) {
	for signal := range c {
		notification, ok, err := parseSignal(signal, time.Now())
		if err != nil {
			log.Errorf("Unexpected signal format: %v", err)
			continue
		}
		if !ok {
			continue
		}
		log.Debugf("Received %s notification: %+v", notification.Kind, notification)
		n.Notify(notification)
	}
}

// parseSignal turns a charger signal into a notification. Signals from other
// interfaces are ignored.
func parseSignal(signal *dbus.Signal, now time.Time) (engine.Notification, bool, error) {
	n := engine.Notification{Time: now}
	switch signal.Name {
	case signalChargerStatus:
		if len(signal.Body) != 1 {
			return n, false, fmt.Errorf("%s body %v", signal.Name, signal.Body)
		}
		charging, ok := signal.Body[0].(bool)
		if !ok {
			return n, false, fmt.Errorf("%s body %v", signal.Name, signal.Body)
		}
		n.Kind = engine.ChargerStatus
		n.Charging = charging
	case signalChargerType:
		if len(signal.Body) != 1 {
			return n, false, fmt.Errorf("%s body %v", signal.Name, signal.Body)
		}
		charger, ok := signal.Body[0].(string)
		if !ok {
			return n, false, fmt.Errorf("%s body %v", signal.Name, signal.Body)
		}
		n.Kind = engine.ChargerType
		n.Charger = charger
	case signalFull:
		n.Kind = engine.Full
	case signalDeltaTemp:
		n.Kind = engine.DeltaTemp
	default:
		return n, false, nil
	}
	return n, true, nil
}

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
	"testing"
	"time"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/engine"
	"github.com/godbus/dbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParseSignal(t *testing.T) {
	cases := map[string]struct {
		signal dbus.Signal
		want   engine.Notification
	}{
		"charging": {
			dbus.Signal{Name: signalChargerStatus, Body: []interface{}{true}},
			engine.Notification{Kind: engine.ChargerStatus, Charging: true, Time: now},
		},
		"charger type": {
			dbus.Signal{Name: signalChargerType, Body: []interface{}{"dcp"}},
			engine.Notification{Kind: engine.ChargerType, Charger: "dcp", Time: now},
		},
		"full": {
			dbus.Signal{Name: signalFull},
			engine.Notification{Kind: engine.Full, Time: now},
		},
		"delta temp": {
			dbus.Signal{Name: signalDeltaTemp},
			engine.Notification{Kind: engine.DeltaTemp, Time: now},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok, err := parseSignal(&tc.signal, now)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseSignalIgnoresOthers(t *testing.T) {
	_, ok, err := parseSignal(&dbus.Signal{Name: "org.cacophony.attiny.Battery", Body: []interface{}{3.9, 80.0}}, now)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestParseSignalBadBody(t *testing.T) {
	for _, s := range []dbus.Signal{
		{Name: signalChargerStatus},
		{Name: signalChargerStatus, Body: []interface{}{"yes"}},
		{Name: signalChargerType, Body: []interface{}{1}},
	} {
		_, ok, err := parseSignal(&s, now)
		assert.Error(t, err, s.Name)
		assert.False(t, ok)
	}
}

type recordingNotifier struct {
	got []engine.Notification
}

func (r *recordingNotifier) Notify(n engine.Notification) {
	r.got = append(r.got, n)
}

func TestHandleSignals(t *testing.T) {
	c := make(chan *dbus.Signal, 4)
	c <- &dbus.Signal{Name: signalChargerStatus, Body: []interface{}{true}}
	c <- &dbus.Signal{Name: signalChargerStatus}
	c <- &dbus.Signal{Name: "org.freedesktop.DBus.NameAcquired"}
	c <- &dbus.Signal{Name: signalFull}
	close(c)

	r := &recordingNotifier{}
	handleSignals(c, r)
	require.Len(t, r.got, 2)
	assert.Equal(t, engine.ChargerStatus, r.got[0].Kind)
	assert.Equal(t, engine.Full, r.got[1].Kind)
}

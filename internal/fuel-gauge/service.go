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
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/TheCacophonyProject/tc2-fuel-gauge/engine"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
	"periph.io/x/conn/v3/physic"
)

const (
	dbusName = "org.cacophony.FuelGauge"
	dbusPath = "/org/cacophony/FuelGauge"
)

type fuelGaugeService struct {
	e *engine.Engine
}

func startFuelGaugeService(e *engine.Engine) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &fuelGaugeService{
		e: e,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

// SOC is the state of charge in percent.
func (s fuelGaugeService) SOC() (int32, *dbus.Error) {
	soc, err := s.e.SOC()
	if err != nil {
		return 0, dbusErr(err)
	}
	return int32(soc), nil
}

// Voltage is the filtered battery voltage in mV.
func (s fuelGaugeService) Voltage() (int64, *dbus.Error) {
	v, err := s.e.Voltage()
	if err != nil {
		return 0, dbusErr(err)
	}
	return int64(v / physic.MilliVolt), nil
}

// Current is the filtered battery current in mA, positive when discharging.
func (s fuelGaugeService) Current() (int64, *dbus.Error) {
	c, err := s.e.Current()
	if err != nil {
		return 0, dbusErr(err)
	}
	return int64(c / physic.MilliAmpere), nil
}

// Resistance is the battery ESR in mOhm.
func (s fuelGaugeService) Resistance() (int64, *dbus.Error) {
	r, err := s.e.Resistance()
	if err != nil {
		return 0, dbusErr(err)
	}
	return int64(r / physic.MilliOhm), nil
}

func (s fuelGaugeService) LearnedCapacity() (int64, *dbus.Error) {
	c, err := s.e.LearnedCapacity()
	if err != nil {
		return 0, dbusErr(err)
	}
	return c, nil
}

func (s fuelGaugeService) CycleCount() (int32, *dbus.Error) {
	return int32(s.e.CycleCount()), nil
}

func (s fuelGaugeService) CycleCounts() ([]int32, *dbus.Error) {
	counts := s.e.CycleCounts()
	out := make([]int32, len(counts))
	for i, c := range counts {
		out[i] = int32(c)
	}
	return out, nil
}

// TimeToFull is in seconds.
func (s fuelGaugeService) TimeToFull() (int64, *dbus.Error) {
	d, err := s.e.TimeToFull()
	if err != nil {
		return 0, dbusErr(err)
	}
	return int64(d.Seconds()), nil
}

func (s fuelGaugeService) SOH() (int32, *dbus.Error) {
	soh, err := s.e.SOH()
	if err != nil {
		return 0, dbusErr(err)
	}
	return int32(soh), nil
}

// Temperature is the battery temperature in degrees Celsius.
func (s fuelGaugeService) Temperature() (float64, *dbus.Error) {
	t, err := s.e.Temperature()
	if err != nil {
		return 0, dbusErr(err)
	}
	return celsius(t), nil
}

func (s fuelGaugeService) VoltageSOC() (int32, *dbus.Error) {
	soc, err := s.e.VoltageSOC()
	if err != nil {
		return 0, dbusErr(err)
	}
	return int32(soc), nil
}

func (s fuelGaugeService) Status() (map[string]string, *dbus.Error) {
	return s.e.Status(), nil
}

func (s fuelGaugeService) ResetLearning() *dbus.Error {
	if err := s.e.ResetLearning(context.Background()); err != nil {
		log.Println(err)
		return dbusErr(err)
	}
	return nil
}

func celsius(t physic.Temperature) float64 {
	return float64(t-physic.ZeroCelsius) / float64(physic.Celsius)
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

func dbusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: dbusName + "." + getCallerName(),
		Body: []interface{}{err.Error()},
	}
}

func getCallerName() string {
	fpcs := make([]uintptr, 1)
	n := runtime.Callers(3, fpcs)
	if n == 0 {
		return ""
	}
	caller := runtime.FuncForPC(fpcs[0] - 1)
	if caller == nil {
		return ""
	}
	funcNames := strings.Split(caller.Name(), ".")
	return funcNames[len(funcNames)-1]
}

func serviceObject() (dbus.BusObject, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	return conn.Object(dbusName, dbusPath), nil
}

func printStatus() error {
	obj, err := serviceObject()
	if err != nil {
		return err
	}
	var status map[string]string
	if err := obj.Call(dbusName+".Status", 0).Store(&status); err != nil {
		return fmt.Errorf("failed to get status from %s: %v", dbusName, err)
	}
	for _, k := range engine.StatusKeys(status) {
		fmt.Printf("%-18s %s\n", k+":", status[k])
	}
	return nil
}

func callResetLearning() error {
	obj, err := serviceObject()
	if err != nil {
		return err
	}
	if err := obj.Call(dbusName+".ResetLearning", 0).Err; err != nil {
		return fmt.Errorf("failed to reset learning: %v", err)
	}
	log.Info("Learned state reset")
	return nil
}

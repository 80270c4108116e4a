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

	"github.com/TheCacophonyProject/tc2-fuel-gauge/gaugeerr"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcArgsService(t *testing.T) {
	args, err := procArgs([]string{"service", "--redis", "localhost:6379"})
	require.NoError(t, err)
	require.NotNil(t, args.Service)
	assert.Equal(t, "localhost:6379", args.Service.Redis)
	assert.Equal(t, time.Minute, args.Service.PollInterval)
	assert.Equal(t, defaultServiceCmd.StateDir, args.Service.StateDir)
	assert.Equal(t, transportI2C, args.Transport)
	assert.Equal(t, uint16(transport.DefaultI2CAddress), args.Address)
}

func TestProcArgsParams(t *testing.T) {
	args, err := procArgs([]string{"--transport", "memory", "write-param", "float-volt", "4350"})
	require.NoError(t, err)
	require.NotNil(t, args.WriteParam)
	assert.Equal(t, "float-volt", args.WriteParam.Name)
	assert.Equal(t, int64(4350), args.WriteParam.Value)

	args, err = procArgs([]string{"read-param", "monotonic-soc"})
	require.NoError(t, err)
	require.NotNil(t, args.ReadParam)
	assert.Equal(t, "monotonic-soc", args.ReadParam.Name)
}

func TestWriteParamOnMemory(t *testing.T) {
	args := Args{Transport: transportMemory, WriteParam: &WriteParamCmd{Name: "float-volt", Value: 4350}}
	require.NoError(t, writeParam(args))

	_, _, err := paramCodec(args, "no-such-param")
	assert.Error(t, err)
}

func TestOpenTransport(t *testing.T) {
	tr, err := openTransport(Args{Transport: transportMemory})
	require.NoError(t, err)
	assert.IsType(t, &transport.Memory{}, tr)

	// Nothing answers over dbus here, so the address check fails.
	_, err = openTransport(Args{Transport: transportDBus, Address: 0x36})
	assert.ErrorIs(t, err, gaugeerr.ErrTransport)

	_, err = openTransport(Args{Transport: transportDBus, Address: 0x100})
	assert.Error(t, err)
	_, err = openTransport(Args{Transport: "carrier-pigeon"})
	assert.Error(t, err)
}

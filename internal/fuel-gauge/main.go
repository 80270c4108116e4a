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
	"os"
	"path/filepath"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/engine"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/sram"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/store"
	"github.com/TheCacophonyProject/tc2-fuel-gauge/transport"
	"github.com/alexflint/go-arg"
)

type Args struct {
	Service       *ServiceCmd    `arg:"subcommand:service" help:"Run the fuel gauge service."`
	Status        *subcommand    `arg:"subcommand:status" help:"Print the status reported by the running service."`
	ReadParam     *ReadParamCmd  `arg:"subcommand:read-param" help:"Read a parameter from the gauge."`
	WriteParam    *WriteParamCmd `arg:"subcommand:write-param" help:"Write a parameter to the gauge. Just used for debugging purposes."`
	ResetLearning *subcommand    `arg:"subcommand:reset-learning" help:"Forget the learned capacity, cycle counts and SOH."`

	Transport string `arg:"--transport" help:"How to reach the gauge: i2c, dbus or memory."`
	Bus       string `arg:"--bus" help:"I2C bus name, empty for the first one found."`
	Address   uint16 `arg:"--address" help:"I2C address of the gauge."`
	goconfig.ConfigArgs
	logging.LogArgs
}

type ServiceCmd struct {
	PollInterval time.Duration `arg:"--poll-interval" help:"How often to sample the gauge."`
	StateDir     string        `arg:"--state-dir" help:"Where the learned state file is kept."`
	Redis        string        `arg:"--redis" help:"Keep the learned state in redis at this address instead of the state file."`
}

type ReadParamCmd struct {
	Name string `arg:"positional,required" help:"Parameter name, e.g. float-volt."`
}

type WriteParamCmd struct {
	Name  string `arg:"positional,required" help:"Parameter name, e.g. float-volt."`
	Value int64  `arg:"positional,required" help:"Value in physical units."`
}

type subcommand struct {
}

const (
	transportI2C    = "i2c"
	transportDBus   = "dbus"
	transportMemory = "memory"

	memoryWords = 128

	checkAddressTimeout = 5 * time.Second
)

var (
	log     = logging.NewLogger("info")
	version = "<not set>"
)

var defaultArgs = Args{
	Transport: transportI2C,
	Address:   transport.DefaultI2CAddress,
}

var defaultServiceCmd = ServiceCmd{
	PollInterval: time.Minute,
	StateDir:     "/var/lib/tc2-fuel-gauge",
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	if err == nil && args.Service != nil {
		fillServiceDefaults(args.Service)
	}
	return args, err
}

func fillServiceDefaults(s *ServiceCmd) {
	if s.PollInterval <= 0 {
		s.PollInterval = defaultServiceCmd.PollInterval
	}
	if s.StateDir == "" {
		s.StateDir = defaultServiceCmd.StateDir
	}
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}

	log = logging.NewLogger(args.LogLevel)

	log.Infof("Running version: %s", version)

	switch {
	case args.Service != nil:
		if err := startService(args); err != nil {
			return err
		}
		for {
			time.Sleep(time.Second)
		}
	case args.Status != nil:
		return printStatus()
	case args.ReadParam != nil:
		return readParam(args)
	case args.WriteParam != nil:
		return writeParam(args)
	case args.ResetLearning != nil:
		return callResetLearning()
	}
	return nil
}

func startService(args Args) error {
	ctx := context.Background()

	cfg, err := LoadConfig(args.ConfigDir)
	if err != nil {
		return err
	}
	log.Infof("Battery chemistry %s, %d cells, float %d mV, cutoff %d mV", cfg.Chemistry, cfg.Cells, cfg.FloatMV, cfg.CutoffMV)

	tr, err := openTransport(args)
	if err != nil {
		return err
	}
	st, err := openStore(ctx, args.Service)
	if err != nil {
		return err
	}

	e, err := engine.New(cfg, tr, st, log)
	if err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		return err
	}

	log.Debug("Starting fuel gauge DBus service.")
	if err := startFuelGaugeService(e); err != nil {
		return err
	}

	log.Debug("Listening for charger signals.")
	if err := listenForChargerSignals(e); err != nil {
		return err
	}

	e.Scheduler().Submit("poll", e.Poll)
	e.Scheduler().Every(ctx, args.Service.PollInterval, "poll", e.Poll)

	go func() {
		if err := watchConfig(ctx, e, args.ConfigDir, cfg); err != nil {
			log.Error("Error watching config:", err)
		}
	}()
	return nil
}

func openTransport(args Args) (transport.Transport, error) {
	switch args.Transport {
	case transportI2C:
		tr, _, err := transport.OpenI2C(args.Bus, args.Address)
		if err != nil {
			return nil, err
		}
		return tr, nil
	case transportDBus:
		if args.Address > 0x7F {
			return nil, fmt.Errorf("invalid i2c address 0x%x", args.Address)
		}
		d := transport.NewDBus(byte(args.Address))
		ctx, cancel := context.WithTimeout(context.Background(), checkAddressTimeout)
		defer cancel()
		if err := d.CheckAddress(ctx); err != nil {
			return nil, fmt.Errorf("no gauge at 0x%x over dbus: %w", args.Address, err)
		}
		return d, nil
	case transportMemory:
		log.Warnf("Using an in-memory gauge, nothing will reach the hardware")
		return transport.NewMemory(memoryWords), nil
	}
	return nil, fmt.Errorf("unknown transport %q", args.Transport)
}

func openStore(ctx context.Context, s *ServiceCmd) (store.Store, error) {
	if s.Redis != "" {
		client, err := store.DialRedis(ctx, s.Redis)
		if err != nil {
			return nil, err
		}
		log.Infof("Keeping state in redis at %s", s.Redis)
		return store.NewRedisStore(client, store.DefaultRedisKey), nil
	}
	path := filepath.Join(s.StateDir, store.StateFileName)
	log.Infof("Keeping state in %s", path)
	return store.NewFileStore(path), nil
}

func paramCodec(args Args, name string) (*sram.Codec, sram.ParamID, error) {
	id, ok := sram.ParseParam(name)
	if !ok {
		return nil, 0, fmt.Errorf("unknown parameter %q", name)
	}
	tr, err := openTransport(args)
	if err != nil {
		return nil, 0, err
	}
	codec, err := sram.NewCodec(tr, sram.DefaultParams())
	if err != nil {
		return nil, 0, err
	}
	return codec, id, nil
}

func readParam(args Args) error {
	codec, id, err := paramCodec(args, args.ReadParam.Name)
	if err != nil {
		return err
	}
	v, err := codec.Read(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d\n", id, v)
	return nil
}

func writeParam(args Args) error {
	codec, id, err := paramCodec(args, args.WriteParam.Name)
	if err != nil {
		return err
	}
	v, err := codec.Write(context.Background(), id, args.WriteParam.Value, transport.AccessAtomic)
	if err != nil {
		return err
	}
	log.Infof("Wrote %s: %d", id, v)
	return nil
}

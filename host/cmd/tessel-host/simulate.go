package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"gotessel/config"
	"gotessel/host/board"
	"gotessel/host/channel"
	"gotessel/host/led"
	"gotessel/host/sim"
	"gotessel/logging"
)

// Registers of the simulated ADXL345 on port a. DEVID reads 0xE5 and the Z axis sits at
// 1g in the 2g range.
var accelRegisters = map[byte]byte{
	0x00: 0xE5,
	0x36: 0x00,
	0x37: 0x01,
}

// simulation is a pair of simulated coprocessors and a scratch LED tree.
type simulation struct {
	dir  string
	cops []*sim.Coprocessor
}

// startSimulation points cfg at freshly started simulators.
func startSimulation(cfg *config.Config, logger logging.Logger) (_ *simulation, err error) {
	dir, err := os.MkdirTemp("", "tessel-sim")
	if err != nil {
		return nil, errors.Wrap(err, "creating simulation dir")
	}
	s := &simulation{dir: dir}
	defer func() {
		if err != nil {
			err = multierr.Append(err, s.Close())
		}
	}()

	for _, p := range []struct {
		name string
		cfg  *channel.Config
	}{{"port_a", &cfg.PortA}, {"port_b", &cfg.PortB}} {
		cop, err := sim.Listen(filepath.Join(dir, p.name), logger)
		if err != nil {
			return nil, err
		}
		s.cops = append(s.cops, cop)
		*p.cfg = *channel.DefaultConfig(cop.Path())
	}
	s.cops[0].AddDevice(0x53, sim.NewRegisters(accelRegisters))

	cfg.LEDRoot = filepath.Join(dir, "leds")
	for _, l := range board.LEDs {
		if err := os.MkdirAll(filepath.Dir(led.Path(cfg.LEDRoot, l.Color, l.Kind)), 0o755); err != nil {
			return nil, errors.Wrap(err, "creating led tree")
		}
	}
	logger.Infow("simulation started", "dir", dir)
	return s, nil
}

func (s *simulation) Close() error {
	var err error
	for _, cop := range s.cops {
		err = multierr.Append(err, cop.Close())
	}
	return multierr.Append(err, os.RemoveAll(s.dir))
}

package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	periphi2c "periph.io/x/conn/v3/i2c"
	"tinygo.org/x/drivers/adxl345"

	"gotessel/config"
	"gotessel/host/board"
	"gotessel/host/i2c"
	"gotessel/host/port"
	"gotessel/logging"
)

// environment is the state shared by every command of one invocation.
type environment struct {
	cfg    *config.Config
	logger logging.Logger
	sims   *simulation
	brd    *board.Board
}

func (e *environment) setup(c *cli.Context) error {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}
	if lvl := c.String(flagLogLevel); lvl != "" {
		cfg.LogLevel = lvl
	}
	logger, err := logging.NewLogger("tessel", cfg.LogLevel)
	if err != nil {
		return err
	}
	e.cfg, e.logger = cfg, logger

	if c.Bool(flagSimulate) {
		sims, err := startSimulation(cfg, logger)
		if err != nil {
			return err
		}
		e.sims = sims
	}
	return nil
}

func (e *environment) teardown(c *cli.Context) error {
	var err error
	if e.brd != nil {
		err = multierr.Append(err, e.brd.Close())
	}
	if e.sims != nil {
		err = multierr.Append(err, e.sims.Close())
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
	return err
}

func (e *environment) board() (*board.Board, error) {
	if e.brd == nil {
		brd, err := board.New(e.cfg, e.logger)
		if err != nil {
			return nil, err
		}
		e.brd = brd
	}
	return e.brd, nil
}

func (e *environment) port(c *cli.Context) (*port.Port, error) {
	brd, err := e.board()
	if err != nil {
		return nil, err
	}
	name := c.String(flagPort)
	p := brd.Port(name)
	if p == nil {
		return nil, errors.Errorf("no port %q", name)
	}
	return p, nil
}

func (e *environment) bus(c *cli.Context) (*i2c.Bus, error) {
	p, err := e.port(c)
	if err != nil {
		return nil, err
	}
	return p.I2C(c.Context, uint32(c.Uint(flagFreq)))
}

func (e *environment) blink(c *cli.Context) error {
	brd, err := e.board()
	if err != nil {
		return err
	}
	green, blue := brd.LED(2), brd.LED(3)
	if err := green.On(); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "blinking, interrupt to stop")

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.Context.Done():
			return nil
		case <-ticker.C:
		}
		if err := green.Toggle(); err != nil {
			return err
		}
		if err := blue.Toggle(); err != nil {
			return err
		}
	}
}

// device opens the bus and wraps it for the address flag.
func (e *environment) device(c *cli.Context) (*periphi2c.Dev, func() error, error) {
	addr := c.Uint(flagAddr)
	if addr > 0x7F {
		return nil, nil, errors.Errorf("address 0x%x is not a 7-bit address", addr)
	}
	bus, err := e.bus(c)
	if err != nil {
		return nil, nil, err
	}
	return &periphi2c.Dev{Bus: bus, Addr: uint16(addr)}, bus.Close, nil
}

func writeData(c *cli.Context) ([]byte, error) {
	s := strings.TrimPrefix(strings.ReplaceAll(c.String(flagData), " ", ""), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "--%s", flagData)
	}
	return b, nil
}

func readBuffer(c *cli.Context) ([]byte, error) {
	n := c.Int(flagLen)
	if n <= 0 {
		return nil, errors.Errorf("--%s must be positive", flagLen)
	}
	return make([]byte, n), nil
}

func (e *environment) i2cWrite(c *cli.Context) (err error) {
	w, err := writeData(c)
	if err != nil {
		return err
	}
	dev, done, err := e.device(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, done()) }()
	return dev.Tx(w, nil)
}

func (e *environment) i2cRead(c *cli.Context) (err error) {
	r, err := readBuffer(c)
	if err != nil {
		return err
	}
	dev, done, err := e.device(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, done()) }()
	if err := dev.Tx(nil, r); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hex.EncodeToString(r))
	return nil
}

func (e *environment) i2cTransfer(c *cli.Context) (err error) {
	w, err := writeData(c)
	if err != nil {
		return err
	}
	r, err := readBuffer(c)
	if err != nil {
		return err
	}
	dev, done, err := e.device(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, done()) }()
	if err := dev.Tx(w, r); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hex.EncodeToString(r))
	return nil
}

func (e *environment) gpio(c *cli.Context) (*port.GPIO, error) {
	p, err := e.port(c)
	if err != nil {
		return nil, err
	}
	return p.GPIO(c.Context, c.Int(flagPin))
}

func (e *environment) gpioGet(c *cli.Context) error {
	g, err := e.gpio(c)
	if err != nil {
		return err
	}
	defer g.Close()
	high, err := g.Read()
	if err != nil {
		return err
	}
	level := "low"
	if high {
		level = "high"
	}
	fmt.Fprintf(c.App.Writer, "%s%d: %s\n", c.String(flagPort), g.Index(), level)
	return nil
}

func (e *environment) gpioSet(c *cli.Context) error {
	action := c.Args().First()
	g, err := e.gpio(c)
	if err != nil {
		return err
	}
	defer g.Close()
	switch action {
	case "high", "1":
		return g.High()
	case "low", "0":
		return g.Low()
	case "toggle":
		return g.Toggle()
	default:
		return errors.Errorf("unknown level %q, want high, low or toggle", action)
	}
}

func (e *environment) accel(c *cli.Context) (err error) {
	addr := c.Uint(flagAddr)
	if addr > 0x7F {
		return errors.Errorf("address 0x%x is not a 7-bit address", addr)
	}
	bus, err := e.bus(c)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, bus.Close()) }()

	sensor := adxl345.New(bus)
	sensor.Address = uint16(addr)
	sensor.Configure()

	for i := 0; i < c.Int("samples"); i++ {
		if i > 0 {
			select {
			case <-c.Context.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
		}
		x, y, z, err := sensor.ReadAcceleration()
		if err != nil {
			return errors.Wrap(err, "reading acceleration")
		}
		// micro-g
		fmt.Fprintf(c.App.Writer, "x=%.3fg y=%.3fg z=%.3fg\n",
			float64(x)/1e6, float64(y)/1e6, float64(z)/1e6)
	}
	return nil
}

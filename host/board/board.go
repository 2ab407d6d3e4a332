// Package board assembles a whole board: both module ports and the four status LEDs.
package board

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"gotessel/config"
	"gotessel/host/led"
	"gotessel/host/port"
	"gotessel/logging"
)

// Port names.
const (
	PortA = "a"
	PortB = "b"
)

// LEDs in board order.
var LEDs = []struct{ Color, Kind string }{
	{"red", "error"},
	{"amber", "wlan"},
	{"green", "user1"},
	{"blue", "user2"},
}

// Board owns the ports and LEDs of one board.
type Board struct {
	ports  map[string]*port.Port
	leds   []*led.LED
	logger logging.Logger
}

// New opens both ports and every LED. If anything fails, whatever was opened is closed again
// and the error is returned.
func New(cfg *config.Config, logger logging.Logger) (b *Board, err error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	logger = logging.OrNop(logger)
	b = &Board{
		ports:  make(map[string]*port.Port, 2),
		logger: logger,
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, b.Close())
			b = nil
		}
	}()

	a, err := port.Open(PortA, &cfg.PortA, logger)
	if err != nil {
		return b, errors.Wrap(err, "opening port a")
	}
	b.ports[PortA] = a
	pb, err := port.Open(PortB, &cfg.PortB, logger)
	if err != nil {
		return b, errors.Wrap(err, "opening port b")
	}
	b.ports[PortB] = pb

	for _, l := range LEDs {
		d, lerr := led.Open(cfg.LEDRoot, l.Color, l.Kind)
		if lerr != nil {
			return b, lerr
		}
		b.leds = append(b.leds, d)
	}
	logger.Infow("board ready", "ports", len(b.ports), "leds", len(b.leds))
	return b, nil
}

// Port returns the port named name ("a" or "b"), or nil.
func (b *Board) Port(name string) *port.Port {
	return b.ports[name]
}

// LED returns LED i in board order, or nil when out of range.
func (b *Board) LED(i int) *led.LED {
	if i < 0 || i >= len(b.leds) {
		return nil
	}
	return b.leds[i]
}

// NumLEDs returns the number of LEDs on the board.
func (b *Board) NumLEDs() int {
	return len(b.leds)
}

// Close closes every LED and port, returning all errors combined.
func (b *Board) Close() error {
	var err error
	for _, l := range b.leds {
		err = multierr.Append(err, l.Close())
	}
	for _, name := range []string{PortA, PortB} {
		if p, ok := b.ports[name]; ok {
			err = multierr.Append(err, p.Close())
		}
	}
	b.leds = nil
	b.ports = map[string]*port.Port{}
	return err
}

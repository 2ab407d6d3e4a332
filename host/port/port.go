// Package port models one of the board's two module ports: a channel to its coprocessor and
// the eight pins an engine may claim.
package port

import (
	"context"

	"github.com/pkg/errors"

	"gotessel/host/channel"
	"gotessel/host/i2c"
	"gotessel/host/pins"
	"gotessel/logging"
)

// Pin assignments of a port.
const (
	NumPins = 8
	SCL     = 0
	SDA     = 1
)

// Port is an open module port.
type Port struct {
	name   string
	ch     *channel.Channel
	pins   *pins.Registry
	logger logging.Logger
}

// Open connects the port's channel. A connection failure is returned as is; the board cannot
// work without it.
func Open(name string, cfg *channel.Config, logger logging.Logger) (*Port, error) {
	logger = logging.OrNop(logger).Named("port." + name)
	ch, err := channel.Open(name, cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(name, ch, logger), nil
}

// New makes a port over an already open channel. The port owns ch from now on.
func New(name string, ch *channel.Channel, logger logging.Logger) *Port {
	return &Port{
		name:   name,
		ch:     ch,
		pins:   pins.NewRegistry(NumPins),
		logger: logging.OrNop(logger),
	}
}

// Name returns the port's name.
func (p *Port) Name() string {
	return p.name
}

// Channel returns the port's channel.
func (p *Port) Channel() *channel.Channel {
	return p.ch
}

// Pin blocks until pin index is free and claims it.
func (p *Port) Pin(ctx context.Context, index int) (*pins.Pin, error) {
	return p.pins.Acquire(ctx, index)
}

// TryPin claims pin index or fails with pins.ErrPinBusy.
func (p *Port) TryPin(index int) (*pins.Pin, error) {
	return p.pins.TryAcquire(index)
}

// I2C claims the clock and data pins and enables the bus at frequency Hz. If either pin
// cannot be claimed before ctx ends nothing is sent and no pin stays held.
func (p *Port) I2C(ctx context.Context, frequency uint32) (*i2c.Bus, error) {
	scl, err := p.pins.Acquire(ctx, SCL)
	if err != nil {
		return nil, errors.Wrapf(err, "port %s: i2c clock", p.name)
	}
	sda, err := p.pins.Acquire(ctx, SDA)
	if err != nil {
		scl.Release()
		return nil, errors.Wrapf(err, "port %s: i2c data", p.name)
	}
	bus, err := i2c.New(p.ch, scl, sda, frequency, p.logger)
	if err != nil {
		return nil, errors.Wrapf(err, "port %s", p.name)
	}
	return bus, nil
}

// GPIO claims pin index for digital I/O.
func (p *Port) GPIO(ctx context.Context, index int) (*GPIO, error) {
	pin, err := p.pins.Acquire(ctx, index)
	if err != nil {
		return nil, errors.Wrapf(err, "port %s", p.name)
	}
	return &GPIO{ch: p.ch, pin: pin}, nil
}

// Close stops granting pins and closes the channel.
func (p *Port) Close() error {
	p.pins.Close()
	return p.ch.Close()
}

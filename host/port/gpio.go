package port

import (
	"github.com/pkg/errors"

	"gotessel/host/channel"
	"gotessel/host/pins"
	"gotessel/protocol"
)

// GPIO drives or samples one claimed pin.
type GPIO struct {
	ch  *channel.Channel
	pin *pins.Pin
}

// Index returns the pin number.
func (g *GPIO) Index() int {
	return g.pin.Index()
}

// Set drives the pin high or low.
func (g *GPIO) Set(high bool) error {
	if high {
		return g.High()
	}
	return g.Low()
}

// High drives the pin high.
func (g *GPIO) High() error {
	return g.send(protocol.CmdGPIOHigh)
}

// Low drives the pin low.
func (g *GPIO) Low() error {
	return g.send(protocol.CmdGPIOLow)
}

// Toggle inverts the pin's output level.
func (g *GPIO) Toggle() error {
	return g.send(protocol.CmdGPIOToggle)
}

// Read samples the pin. The coprocessor answers HIGH or LOW; anything else is a desync.
func (g *GPIO) Read() (bool, error) {
	var high bool
	err := g.ch.Exclusive(func(tx *channel.Tx) error {
		if err := tx.SendFrame(protocol.CmdGPIOIn, byte(g.pin.Index())); err != nil {
			return err
		}
		r, err := tx.ReceiveReply()
		if err != nil {
			return err
		}
		switch r {
		case protocol.ReplyHigh:
			high = true
		case protocol.ReplyLow:
		default:
			return &protocol.DesyncError{Expected: protocol.ReplyHigh, Got: byte(r)}
		}
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "gpio %d: read", g.pin.Index())
	}
	return high, nil
}

// Close releases the pin.
func (g *GPIO) Close() error {
	return g.pin.Close()
}

func (g *GPIO) send(cmd protocol.Command) error {
	if err := g.ch.SendFrame(cmd, byte(g.pin.Index())); err != nil {
		return errors.Wrapf(err, "gpio %d: %s", g.pin.Index(), cmd)
	}
	return nil
}

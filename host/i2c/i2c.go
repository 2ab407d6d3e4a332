// Package i2c drives an I2C bus emulated by a port's coprocessor.
//
// A Bus owns the clock and data pins for its whole lifetime and shares the port's channel.
// Every transaction writes its complete frame sequence inside one exclusive section of the
// channel and, for reads, blocks for the DATA reply before releasing it.
package i2c

import (
	"fmt"
	"math"
	"sync"

	"github.com/pkg/errors"
	periphi2c "periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"

	"gotessel/host/channel"
	"gotessel/host/pins"
	"gotessel/logging"
	"gotessel/protocol"
)

// Divisor register parameters of the coprocessor's I2C controller.
const (
	MaxClock     = 48e6   // controller reference clock, Hz
	RiseTime     = 1.5e-8 // minimum SCL rise time, s
	ScaleFactor  = 2
	OffsetFactor = 5
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("i2c bus closed")

var (
	_ drivers.I2C          = (*Bus)(nil)
	_ periphi2c.BusCloser = (*Bus)(nil)
)

// ComputeDivisor returns the divisor register value for frequency in Hz. Results outside the
// register saturate: 255 is the slowest rate, 0 the fastest.
func ComputeDivisor(frequency uint32) uint8 {
	raw := MaxClock / float64(frequency)
	raw -= MaxClock * RiseTime
	raw = raw/ScaleFactor - OffsetFactor
	return uint8(math.Max(0, math.Min(raw, math.MaxUint8)))
}

// Bus is an enabled I2C bus on one port.
type Bus struct {
	ch     *channel.Channel
	logger logging.Logger

	mu        sync.Mutex
	scl, sda  *pins.Pin
	frequency uint32
	closed    bool
}

// New takes ownership of scl and sda and enables the bus at frequency. On error both pins
// have been released.
func New(ch *channel.Channel, scl, sda *pins.Pin, frequency uint32, logger logging.Logger) (*Bus, error) {
	b := &Bus{
		ch:        ch,
		logger:    logging.OrNop(logger),
		scl:       scl,
		sda:       sda,
		frequency: frequency,
	}
	err := ch.Exclusive(func(tx *channel.Tx) error {
		return b.enable(tx, frequency)
	})
	if err != nil {
		scl.Release()
		sda.Release()
		return nil, errors.Wrap(err, "enabling i2c")
	}
	return b, nil
}

// enable sends ENABLE_I2C; no reply is expected.
func (b *Bus) enable(tx *channel.Tx, frequency uint32) error {
	divisor := ComputeDivisor(frequency)
	b.logger.Debugw("enable i2c", "channel", b.ch.Name(), "frequency", frequency, "divisor", divisor)
	return tx.SendFrame(protocol.CmdEnableI2C, divisor)
}

// Frequency returns the requested bus frequency in Hz.
func (b *Bus) Frequency() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frequency
}

// Send writes w to the device at addr:
// START(addr<<1) TX(len) <w> STOP.
func (b *Bus) Send(addr uint8, w []byte) error {
	start, err := protocol.Address(addr, false)
	if err != nil {
		return err
	}
	n, err := protocol.Length(len(w))
	if err != nil {
		return err
	}
	return b.exclusive(func(tx *channel.Tx) error {
		if err := tx.SendFrame(protocol.CmdStart, start); err != nil {
			return err
		}
		if err := tx.SendFrame(protocol.CmdTx, n); err != nil {
			return err
		}
		if err := tx.Send(w); err != nil {
			return err
		}
		return tx.SendFrame(protocol.CmdStop)
	})
}

// Read fills r from the device at addr:
// START(addr<<1|1) RX(len) STOP, then a DATA reply followed by len(r) bytes.
func (b *Bus) Read(addr uint8, r []byte) error {
	start, err := protocol.Address(addr, true)
	if err != nil {
		return err
	}
	n, err := protocol.Length(len(r))
	if err != nil {
		return err
	}
	return b.exclusive(func(tx *channel.Tx) error {
		if err := tx.SendFrame(protocol.CmdStart, start); err != nil {
			return err
		}
		if err := tx.SendFrame(protocol.CmdRx, n); err != nil {
			return err
		}
		if err := tx.SendFrame(protocol.CmdStop); err != nil {
			return err
		}
		return receive(tx, r)
	})
}

// Transfer writes w then reads r in one transaction, switching direction with a repeated
// start: START(addr<<1|1) TX(len w) <w> START(addr<<1|1) RX(len r) STOP, then the DATA reply.
// TX always carries its announced bytes, as in Send; the coprocessor reads them before the
// next opcode. The start byte keeps the read bit on both starts, since the coprocessor takes
// only the address from it and the direction from TX and RX.
func (b *Bus) Transfer(addr uint8, w, r []byte) error {
	start, err := protocol.Address(addr, true)
	if err != nil {
		return err
	}
	wn, err := protocol.Length(len(w))
	if err != nil {
		return err
	}
	rn, err := protocol.Length(len(r))
	if err != nil {
		return err
	}
	return b.exclusive(func(tx *channel.Tx) error {
		if err := tx.SendFrame(protocol.CmdStart, start); err != nil {
			return err
		}
		if err := tx.SendFrame(protocol.CmdTx, wn); err != nil {
			return err
		}
		if err := tx.Send(w); err != nil {
			return err
		}
		if err := tx.SendFrame(protocol.CmdStart, start); err != nil {
			return err
		}
		if err := tx.SendFrame(protocol.CmdRx, rn); err != nil {
			return err
		}
		if err := tx.SendFrame(protocol.CmdStop); err != nil {
			return err
		}
		return receive(tx, r)
	})
}

func receive(tx *channel.Tx, r []byte) error {
	if err := tx.ExpectReply(protocol.ReplyData); err != nil {
		return err
	}
	return tx.ReceiveExact(r)
}

// Tx performs a write, a read, or a write followed by a read depending on which buffers are
// non-empty. Both empty sends a zero-length write, which checks for a device.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F {
		return errors.Wrapf(protocol.ErrInvalidAddress, "0x%x", addr)
	}
	a := uint8(addr)
	switch {
	case len(r) == 0:
		return b.Send(a, w)
	case len(w) == 0:
		return b.Read(a, r)
	default:
		return b.Transfer(a, w, r)
	}
}

// SetSpeed re-enables the bus at f.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	if f < physic.Hertz {
		return errors.Errorf("i2c: invalid speed %s", f)
	}
	hz := uint32(f / physic.Hertz)
	return b.exclusive(func(tx *channel.Tx) error {
		if err := b.enable(tx, hz); err != nil {
			return err
		}
		b.mu.Lock()
		b.frequency = hz
		b.mu.Unlock()
		return nil
	})
}

func (b *Bus) String() string {
	return fmt.Sprintf("i2c(%s)", b.ch.Name())
}

// Halt is a no-op; transactions are synchronous and never left running.
func (b *Bus) Halt() error {
	return nil
}

// Close disables the bus and releases its pins. The pins are released even if the disable
// frame cannot be written.
func (b *Bus) Close() error {
	first := false
	err := b.ch.Exclusive(func(tx *channel.Tx) error {
		if !b.markClosed() {
			return nil
		}
		first = true
		return tx.SendFrame(protocol.CmdDisableI2C)
	})
	// The channel itself is closed: nothing can be sent, but the pins still go back.
	if !first && !b.markClosed() {
		return nil
	}
	b.scl.Release()
	b.sda.Release()
	b.logger.Debugw("i2c closed", "channel", b.ch.Name())
	if err != nil {
		return errors.Wrap(err, "disabling i2c")
	}
	return nil
}

// markClosed sets closed and reports whether this call did so.
func (b *Bus) markClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.closed = true
	return true
}

// exclusive runs fn holding the channel. closed only changes while the channel is held, so a
// transaction never writes after Close has disabled the bus and released its pins.
func (b *Bus) exclusive(fn func(tx *channel.Tx) error) error {
	return b.ch.Exclusive(func(tx *channel.Tx) error {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return fn(tx)
	})
}

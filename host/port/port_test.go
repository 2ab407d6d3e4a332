package port

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"gotessel/host/channel"
	"gotessel/host/pins"
	"gotessel/host/sim"
	"gotessel/logging"
	"gotessel/protocol"
)

func openPort(t *testing.T) (*Port, *sim.Coprocessor) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	path := filepath.Join(t.TempDir(), "port_a")
	cop, err := sim.Listen(path, logger)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { cop.Close() })

	p, err := Open("a", channel.DefaultConfig(path), logger)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { p.Close() })
	return p, cop
}

func waitFrames(t *testing.T, cop *sim.Coprocessor, n int) []sim.Record {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recs, err := cop.Wait(ctx, n)
	test.That(t, err, test.ShouldBeNil)
	return recs
}

func TestOpenUnreachable(t *testing.T) {
	_, err := Open("a", channel.DefaultConfig(filepath.Join(t.TempDir(), "nope")), nil)
	test.That(t, errors.Is(err, channel.ErrConnect), test.ShouldBeTrue)
}

func TestPins(t *testing.T) {
	p, _ := openPort(t)
	test.That(t, p.Name(), test.ShouldEqual, "a")
	test.That(t, p.Channel().Name(), test.ShouldEqual, "a")

	pin, err := p.Pin(context.Background(), 7)
	test.That(t, err, test.ShouldBeNil)
	_, err = p.TryPin(7)
	test.That(t, errors.Is(err, pins.ErrPinBusy), test.ShouldBeTrue)
	pin.Release()

	_, err = p.TryPin(NumPins)
	test.That(t, errors.Is(err, pins.ErrUnknownPin), test.ShouldBeTrue)
}

func TestI2CEnablesAtFrequency(t *testing.T) {
	p, cop := openPort(t)
	bus, err := p.I2C(context.Background(), 2_400_000)
	test.That(t, err, test.ShouldBeNil)

	recs := waitFrames(t, cop, 1)
	test.That(t, recs[0].Command, test.ShouldEqual, protocol.CmdEnableI2C)
	test.That(t, recs[0].Payload, test.ShouldResemble, []byte{4})
	enabled, divisor := cop.I2C()
	test.That(t, enabled, test.ShouldBeTrue)
	test.That(t, divisor, test.ShouldEqual, byte(4))

	// the bus holds both pins until closed
	_, err = p.TryPin(SCL)
	test.That(t, errors.Is(err, pins.ErrPinBusy), test.ShouldBeTrue)
	_, err = p.TryPin(SDA)
	test.That(t, errors.Is(err, pins.ErrPinBusy), test.ShouldBeTrue)

	test.That(t, bus.Close(), test.ShouldBeNil)
	recs = waitFrames(t, cop, 2)
	test.That(t, recs[1].Command, test.ShouldEqual, protocol.CmdDisableI2C)

	scl, err := p.TryPin(SCL)
	test.That(t, err, test.ShouldBeNil)
	scl.Release()
}

func TestI2CRegisterRoundTrip(t *testing.T) {
	p, cop := openPort(t)
	dev := sim.NewRegisters(map[byte]byte{0x00: 0xE5, 0x01: 0x42})
	cop.AddDevice(0x53, dev)

	bus, err := p.I2C(context.Background(), 400_000)
	test.That(t, err, test.ShouldBeNil)
	defer bus.Close()

	r := make([]byte, 2)
	test.That(t, bus.Transfer(0x53, []byte{0x00}, r), test.ShouldBeNil)
	test.That(t, r, test.ShouldResemble, []byte{0xE5, 0x42})

	test.That(t, bus.Send(0x53, []byte{0x2D, 0x08}), test.ShouldBeNil)
	test.That(t, bus.Read(0x53, r[:1]), test.ShouldBeNil)
	waitFrames(t, cop, 1+5+3+3)
	test.That(t, dev.Get(0x2D), test.ShouldEqual, byte(0x08))

	test.That(t, sim.Commands(cop.Records()), test.ShouldResemble, []protocol.Command{
		protocol.CmdEnableI2C,
		protocol.CmdStart, protocol.CmdTx, protocol.CmdStart, protocol.CmdRx, protocol.CmdStop,
		protocol.CmdStart, protocol.CmdTx, protocol.CmdStop,
		protocol.CmdStart, protocol.CmdRx, protocol.CmdStop,
	})
}

func TestI2CFailsWhenPinHeld(t *testing.T) {
	p, cop := openPort(t)
	held, err := p.TryPin(SDA)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.I2C(ctx, 100_000)
	test.That(t, errors.Is(err, pins.ErrPinBusy), test.ShouldBeTrue)

	// the clock pin was handed back
	scl, err := p.TryPin(SCL)
	test.That(t, err, test.ShouldBeNil)
	scl.Release()
	held.Release()

	// a round trip orders the stream so no enable can still be in flight
	g, err := p.GPIO(context.Background(), 5)
	test.That(t, err, test.ShouldBeNil)
	defer g.Close()
	_, err = g.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sim.Commands(cop.Records()), test.ShouldResemble, []protocol.Command{protocol.CmdGPIOIn})
}

func TestI2CFailsWhenClockHeld(t *testing.T) {
	p, cop := openPort(t)
	held, err := p.TryPin(SCL)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.I2C(ctx, 100_000)
	test.That(t, errors.Is(err, pins.ErrPinBusy), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "i2c clock")

	// the data pin was never taken
	sda, err := p.TryPin(SDA)
	test.That(t, err, test.ShouldBeNil)
	sda.Release()
	held.Release()

	g, err := p.GPIO(context.Background(), 5)
	test.That(t, err, test.ShouldBeNil)
	defer g.Close()
	_, err = g.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sim.Commands(cop.Records()), test.ShouldResemble, []protocol.Command{protocol.CmdGPIOIn})
}

func TestGPIO(t *testing.T) {
	p, cop := openPort(t)
	g, err := p.GPIO(context.Background(), 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, g.Index(), test.ShouldEqual, 3)

	test.That(t, g.High(), test.ShouldBeNil)
	waitFrames(t, cop, 1)
	test.That(t, cop.Output(3), test.ShouldBeTrue)

	test.That(t, g.Toggle(), test.ShouldBeNil)
	waitFrames(t, cop, 2)
	test.That(t, cop.Output(3), test.ShouldBeFalse)

	test.That(t, g.Set(true), test.ShouldBeNil)
	test.That(t, g.Low(), test.ShouldBeNil)
	recs := waitFrames(t, cop, 4)
	test.That(t, recs[3].Command, test.ShouldEqual, protocol.CmdGPIOLow)
	test.That(t, recs[3].Payload, test.ShouldResemble, []byte{3})

	cop.SetInput(3, true)
	high, err := g.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeTrue)
	cop.SetInput(3, false)
	high, err = g.Read()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, high, test.ShouldBeFalse)

	test.That(t, g.Close(), test.ShouldBeNil)
	again, err := p.TryPin(3)
	test.That(t, err, test.ShouldBeNil)
	again.Release()
}

func TestGPIOReadDesync(t *testing.T) {
	s := sim.NewStream()
	s.QueueReply(byte(protocol.ReplyData))
	p := New("b", channel.New("b", s, nil), nil)
	g, err := p.GPIO(context.Background(), 0)
	test.That(t, err, test.ShouldBeNil)

	_, err = g.Read()
	test.That(t, errors.Is(err, protocol.ErrDesync), test.ShouldBeTrue)
	test.That(t, s.Written(), test.ShouldResemble, []byte{byte(protocol.CmdGPIOIn), 0})
}

func TestClose(t *testing.T) {
	p := New("b", channel.New("b", sim.NewStream(), nil), nil)
	test.That(t, p.Close(), test.ShouldBeNil)

	_, err := p.Pin(context.Background(), 0)
	test.That(t, errors.Is(err, pins.ErrRegistryClosed), test.ShouldBeTrue)
	_, err = p.I2C(context.Background(), 100_000)
	test.That(t, errors.Is(err, pins.ErrRegistryClosed), test.ShouldBeTrue)
}

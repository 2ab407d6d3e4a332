// Package sim is an in-process stand-in for a port's coprocessor daemon.
//
// A Coprocessor listens on a unix socket, decodes the command stream the host writes and
// answers it the way the real coprocessor does: RX is answered with a DATA reply and the
// requested number of bytes, GPIO_IN with HIGH or LOW. Every decoded frame is recorded so that
// tests can assert on the exact sequence a host operation produced.
package sim

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"

	"gotessel/logging"
	"gotessel/protocol"
)

// NumPins matches the pins exposed by one port.
const NumPins = 8

// Device is an I2C peripheral attached to the simulated bus.
type Device interface {
	// Write receives the bytes of one TX frame.
	Write(data []byte)
	// Read returns n bytes for one RX frame.
	Read(n int) []byte
}

// Record is a decoded command frame plus any raw bytes that followed it.
type Record struct {
	protocol.Frame
	Data []byte
}

// Coprocessor serves the coprocessor side of a channel.
type Coprocessor struct {
	path   string
	ln     net.Listener
	logger logging.Logger

	mu      sync.Mutex
	records []Record
	changed chan struct{}
	devices map[uint8]Device
	inputs  [NumPins]bool
	outputs [NumPins]bool
	enabled bool
	divisor byte
	conns   map[net.Conn]struct{}
	closing bool
	err     error

	wg sync.WaitGroup
}

// Listen starts a Coprocessor on the unix socket at path.
func Listen(path string, logger logging.Logger) (*Coprocessor, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", path)
	}
	c := &Coprocessor{
		path:    path,
		ln:      ln,
		logger:  logging.OrNop(logger).Named("sim"),
		changed: make(chan struct{}),
		devices: make(map[uint8]Device),
		conns:   make(map[net.Conn]struct{}),
	}
	c.wg.Add(1)
	go c.acceptLoop()
	return c, nil
}

// Path returns the socket path.
func (c *Coprocessor) Path() string {
	return c.path
}

// AddDevice attaches d at the 7-bit address addr.
func (c *Coprocessor) AddDevice(addr uint8, d Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[addr] = d
}

// SetInput sets the level GPIO_IN reports for pin.
func (c *Coprocessor) SetInput(pin int, high bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs[pin] = high
}

// Output returns the level last driven on pin by GPIO_HIGH, GPIO_LOW or GPIO_TOGGLE.
func (c *Coprocessor) Output(pin int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputs[pin]
}

// I2C reports whether the bus is enabled and the divisor it was enabled with.
func (c *Coprocessor) I2C() (enabled bool, divisor byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled, c.divisor
}

// Records returns a copy of every frame decoded so far.
func (c *Coprocessor) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Record(nil), c.records...)
}

// Err returns the first decode error seen on any connection.
func (c *Coprocessor) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until at least n frames have been decoded.
func (c *Coprocessor) Wait(ctx context.Context, n int) ([]Record, error) {
	for {
		c.mu.Lock()
		if len(c.records) >= n {
			out := append([]Record(nil), c.records...)
			c.mu.Unlock()
			return out, nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return c.Records(), errors.Wrapf(ctx.Err(), "waiting for %d frames", n)
		}
	}
}

// Close stops accepting, drops every connection and waits for the handlers to exit.
func (c *Coprocessor) Close() error {
	err := c.ln.Close()
	c.mu.Lock()
	c.closing = true
	for conn := range c.conns {
		conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	return err
}

func (c *Coprocessor) acceptLoop() {
	defer c.wg.Done()
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conns[conn] = struct{}{}
		c.mu.Unlock()

		c.wg.Add(1)
		go c.serve(conn)
	}
}

func (c *Coprocessor) serve(conn net.Conn) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()
		conn.Close()
	}()

	// Replies go through their own goroutine so a host still writing never deadlocks
	// against a reply the simulator is writing.
	replies := make(chan []byte, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for b := range replies {
			if _, err := conn.Write(b); err != nil {
				return
			}
		}
	}()
	defer func() {
		close(replies)
		<-writerDone
	}()

	bus := &busState{}
	dec := protocol.NewDecoder(conn)
	for {
		f, data, err := dec.Next()
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				c.mu.Lock()
				if c.err == nil {
					c.err = err
				}
				c.mu.Unlock()
				c.logger.Debugw("decode failed", "error", err)
			}
			return
		}
		if reply := c.handle(bus, f, data); reply != nil {
			replies <- reply
		}
	}
}

type busState struct {
	addr uint8
}

func (c *Coprocessor) handle(bus *busState, f protocol.Frame, data []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = append(c.records, Record{Frame: f, Data: data})
	close(c.changed)
	c.changed = make(chan struct{})

	var arg byte
	if len(f.Payload) > 0 {
		arg = f.Payload[0]
	}
	switch f.Command {
	case protocol.CmdEnableI2C:
		c.enabled = true
		c.divisor = arg
	case protocol.CmdDisableI2C:
		c.enabled = false
	case protocol.CmdStart:
		bus.addr = arg >> 1
	case protocol.CmdTx:
		if d, ok := c.devices[bus.addr]; ok {
			d.Write(data)
		}
	case protocol.CmdRx:
		out := make([]byte, arg)
		if d, ok := c.devices[bus.addr]; ok {
			copy(out, d.Read(int(arg)))
		}
		return append([]byte{byte(protocol.ReplyData)}, out...)
	case protocol.CmdEcho:
		return append([]byte{byte(protocol.ReplyData)}, data...)
	case protocol.CmdGPIOHigh, protocol.CmdGPIOLow, protocol.CmdGPIOToggle:
		if int(arg) >= NumPins {
			break
		}
		switch f.Command {
		case protocol.CmdGPIOHigh:
			c.outputs[arg] = true
		case protocol.CmdGPIOLow:
			c.outputs[arg] = false
		default:
			c.outputs[arg] = !c.outputs[arg]
		}
	case protocol.CmdGPIOIn:
		if int(arg) < NumPins && c.inputs[arg] {
			return []byte{byte(protocol.ReplyHigh)}
		}
		return []byte{byte(protocol.ReplyLow)}
	}
	return nil
}

// Commands returns the opcodes of rs in order.
func Commands(rs []Record) []protocol.Command {
	out := make([]protocol.Command, len(rs))
	for i, r := range rs {
		out[i] = r.Command
	}
	return out
}

// Package channel provides the duplex byte stream between the host and one port's
// coprocessor.
//
// A Channel is shared by every engine built on a port. Writes are serialized through
// Exclusive, which holds the channel for a whole bus operation so that frames from two
// engines never interleave. The channel performs no buffering or reframing: readers must know
// exactly how many bytes to expect.
package channel

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"

	"gotessel/logging"
	"gotessel/protocol"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("channel closed")

	errTxDone = errors.New("channel transaction used outside Exclusive")
)

// Channel is one open stream to a coprocessor endpoint.
type Channel struct {
	name   string
	logger logging.Logger
	debug  bool

	mu   sync.Mutex
	conn io.ReadWriteCloser
	out  protocol.ScratchOutput

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open connects to the endpoint described by cfg. Connection failures are returned as
// *ConnectError.
func Open(name string, cfg *Config, logger logging.Logger) (*Channel, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	conn, err := dial(cfg)
	if err != nil {
		return nil, &ConnectError{Endpoint: cfg.Endpoint, Err: err}
	}
	logger = logging.OrNop(logger)
	logger.Infow("channel connected", "channel", name, "network", cfg.Network, "endpoint", cfg.Endpoint)
	return New(name, conn, logger), nil
}

// New wraps an already open stream.
func New(name string, conn io.ReadWriteCloser, logger logging.Logger) *Channel {
	logger = logging.OrNop(logger)
	return &Channel{
		name:   name,
		logger: logger,
		debug:  logger.Desugar().Core().Enabled(zapcore.DebugLevel),
		conn:   conn,
	}
}

// Name returns the name the channel was opened with.
func (c *Channel) Name() string {
	return c.name
}

// Exclusive runs fn while holding the channel. Every frame of one bus operation must be
// written inside a single call. The Tx is only valid until fn returns.
func (c *Channel) Exclusive(fn func(tx *Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	tx := &Tx{c: c}
	defer func() { tx.c = nil }()
	return fn(tx)
}

// Send writes b in its own critical section.
func (c *Channel) Send(b []byte) error {
	return c.Exclusive(func(tx *Tx) error { return tx.Send(b) })
}

// SendFrame writes one frame in its own critical section.
func (c *Channel) SendFrame(cmd protocol.Command, payload ...byte) error {
	return c.Exclusive(func(tx *Tx) error { return tx.SendFrame(cmd, payload...) })
}

// ReceiveExact fills buf in its own critical section.
func (c *Channel) ReceiveExact(buf []byte) error {
	return c.Exclusive(func(tx *Tx) error { return tx.ReceiveExact(buf) })
}

// Close closes the underlying stream. A reader blocked inside Exclusive is released with an
// error.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
		c.logger.Debugw("channel closed", "channel", c.name)
	})
	return c.closeErr
}

// Tx is exclusive access to a Channel for the duration of one Exclusive call.
type Tx struct {
	c *Channel
}

// Send writes all of b.
func (tx *Tx) Send(b []byte) error {
	if tx.c == nil {
		return errTxDone
	}
	return tx.c.write(b)
}

// SendFrame writes cmd and its payload with a single write.
func (tx *Tx) SendFrame(cmd protocol.Command, payload ...byte) error {
	c := tx.c
	if c == nil {
		return errTxDone
	}
	c.out.Reset()
	if err := protocol.EncodeFrame(&c.out, cmd, payload); err != nil {
		return err
	}
	return c.write(c.out.Result())
}

// ReceiveExact blocks until buf is full.
func (tx *Tx) ReceiveExact(buf []byte) error {
	c := tx.c
	if c == nil {
		return errTxDone
	}
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return errors.Wrapf(err, "channel %s: reading %d bytes", c.name, len(buf))
	}
	if c.debug {
		c.logger.Debugw("rx", "channel", c.name, "data", fmt.Sprintf("% x", buf))
	}
	return nil
}

// ReceiveReply reads one reply tag. The tag is returned as read; callers compare it against
// the tags they accept.
func (tx *Tx) ReceiveReply() (protocol.Reply, error) {
	var b [1]byte
	if err := tx.ReceiveExact(b[:]); err != nil {
		return 0, err
	}
	return protocol.Reply(b[0]), nil
}

// ExpectReply reads one reply tag and fails with *protocol.DesyncError unless it is want.
func (tx *Tx) ExpectReply(want protocol.Reply) error {
	got, err := tx.ReceiveReply()
	if err != nil {
		return err
	}
	if got != want {
		return &protocol.DesyncError{Expected: want, Got: byte(got)}
	}
	return nil
}

func (c *Channel) write(b []byte) error {
	if c.debug {
		c.logger.Debugw("tx", "channel", c.name, "data", fmt.Sprintf("% x", b))
	}
	n, err := c.conn.Write(b)
	if err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return errors.Wrapf(err, "channel %s: write", c.name)
	}
	if n != len(b) {
		return errors.Errorf("channel %s: incomplete write: %d/%d bytes", c.name, n, len(b))
	}
	return nil
}

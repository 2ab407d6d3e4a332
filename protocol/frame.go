package protocol

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// Frame is one opcode plus its fixed-length payload.
type Frame struct {
	Command Command
	Payload []byte
}

// Bytes returns the wire form of f.
func (f Frame) Bytes() []byte {
	return append([]byte{byte(f.Command)}, f.Payload...)
}

// EncodeFrame writes the opcode followed by its payload.
func EncodeFrame(out OutputBuffer, cmd Command, payload []byte) error {
	n, ok := cmd.PayloadLen()
	if !ok {
		return errors.Wrapf(ErrUnknownCommand, "0x%02x", byte(cmd))
	}
	if len(payload) != n {
		return errors.Wrapf(ErrPayloadLength, "%v takes %d bytes, got %d", cmd, n, len(payload))
	}
	out.Output([]byte{byte(cmd)})
	out.Output(payload)
	return nil
}

// Decoder reads command frames from a byte stream, as the coprocessor does.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next frame and, for commands that announce trailing bytes, those bytes.
// An unknown opcode fails with ErrUnknownCommand; the stream cannot be resynchronized after it.
func (d *Decoder) Next() (Frame, []byte, error) {
	op, err := d.r.ReadByte()
	if err != nil {
		return Frame{}, nil, err
	}
	cmd, err := ParseCommand(op)
	if err != nil {
		return Frame{}, nil, err
	}
	n, _ := cmd.PayloadLen()
	f := Frame{Command: cmd, Payload: make([]byte, n)}
	if _, err := io.ReadFull(d.r, f.Payload); err != nil {
		return Frame{}, nil, errors.Wrapf(err, "reading %v payload", cmd)
	}
	if !cmd.Trailing() {
		return f, nil, nil
	}
	data := make([]byte, f.Payload[0])
	if _, err := io.ReadFull(d.r, data); err != nil {
		return Frame{}, nil, errors.Wrapf(err, "reading %d bytes after %v", len(data), cmd)
	}
	return f, data, nil
}

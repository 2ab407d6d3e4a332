// Package protocol implements the command/reply protocol spoken between the host and a port's
// coprocessor.
//
// Host to coprocessor traffic is a stream of frames: one opcode byte followed by a payload
// whose length is fixed by the opcode. TX and ECHO frames announce a length and are followed
// by that many raw bytes. Coprocessor to host traffic starts with a reply tag, and a DATA tag
// precedes any payload read back.
package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Command is a host to coprocessor opcode.
type Command byte

// Commands understood by the coprocessor.
const (
	CmdNop        Command = 0
	CmdFlush      Command = 1
	CmdEcho       Command = 2
	CmdGPIOIn     Command = 3
	CmdGPIOHigh   Command = 4
	CmdGPIOLow    Command = 5
	CmdEnableI2C  Command = 12
	CmdDisableI2C Command = 13
	CmdTx         Command = 16
	CmdRx         Command = 17
	CmdStart      Command = 19
	CmdStop       Command = 20
	CmdGPIOToggle Command = 21
)

// Reply is a coprocessor to host tag.
type Reply byte

// Reply tags sent by the coprocessor.
const (
	ReplyAck  Reply = 0x80
	ReplyNack Reply = 0x81
	ReplyHigh Reply = 0x82
	ReplyLow  Reply = 0x83
	ReplyData Reply = 0x84
)

// MaxLength is the largest transfer a single TX or RX frame can announce.
const MaxLength = 0xFF

var (
	ErrUnknownCommand = errors.New("unknown command opcode")
	ErrUnknownReply   = errors.New("unknown reply tag")
	ErrPayloadLength  = errors.New("payload length does not match command")
	ErrLengthOverflow = errors.New("transfer length exceeds 255 bytes")
	ErrInvalidAddress = errors.New("i2c address exceeds 7 bits")
	ErrDesync         = errors.New("protocol desynchronized")
)

type commandInfo struct {
	name       string
	payloadLen int
	// announces raw bytes after the frame, sized by payload[0]
	trailing bool
}

var commands = map[Command]commandInfo{
	CmdNop:        {"NOP", 0, false},
	CmdFlush:      {"FLUSH", 0, false},
	CmdEcho:       {"ECHO", 1, true},
	CmdGPIOIn:     {"GPIO_IN", 1, false},
	CmdGPIOHigh:   {"GPIO_HIGH", 1, false},
	CmdGPIOLow:    {"GPIO_LOW", 1, false},
	CmdEnableI2C:  {"ENABLE_I2C", 1, false},
	CmdDisableI2C: {"DISABLE_I2C", 0, false},
	CmdTx:         {"TX", 1, true},
	CmdRx:         {"RX", 1, false},
	CmdStart:      {"START", 1, false},
	CmdStop:       {"STOP", 0, false},
	CmdGPIOToggle: {"GPIO_TOGGLE", 1, false},
}

var replies = map[Reply]string{
	ReplyAck:  "ACK",
	ReplyNack: "NACK",
	ReplyHigh: "HIGH",
	ReplyLow:  "LOW",
	ReplyData: "DATA",
}

// ParseCommand maps a wire byte to a Command.
func ParseCommand(b byte) (Command, error) {
	c := Command(b)
	if _, ok := commands[c]; !ok {
		return 0, errors.Wrapf(ErrUnknownCommand, "0x%02x", b)
	}
	return c, nil
}

// PayloadLen returns the fixed payload length of c. ok is false for unknown opcodes.
func (c Command) PayloadLen() (n int, ok bool) {
	info, ok := commands[c]
	return info.payloadLen, ok
}

// Trailing reports whether c is followed by raw bytes whose count is its payload byte.
func (c Command) Trailing() bool {
	return commands[c].trailing
}

func (c Command) String() string {
	if info, ok := commands[c]; ok {
		return info.name
	}
	return fmt.Sprintf("Command(0x%02x)", byte(c))
}

// ParseReply maps a wire byte to a Reply.
func ParseReply(b byte) (Reply, error) {
	r := Reply(b)
	if _, ok := replies[r]; !ok {
		return 0, errors.Wrapf(ErrUnknownReply, "0x%02x", b)
	}
	return r, nil
}

func (r Reply) String() string {
	if name, ok := replies[r]; ok {
		return name
	}
	return fmt.Sprintf("Reply(0x%02x)", byte(r))
}

// Length encodes a transfer length as the single byte carried by TX and RX.
func Length(n int) (byte, error) {
	if n < 0 || n > MaxLength {
		return 0, errors.Wrapf(ErrLengthOverflow, "got %d", n)
	}
	return byte(n), nil
}

// Address encodes a 7-bit address with the direction in the low bit (1 = read).
func Address(addr uint8, read bool) (byte, error) {
	if addr > 0x7F {
		return 0, errors.Wrapf(ErrInvalidAddress, "0x%02x", addr)
	}
	b := addr << 1
	if read {
		b |= 1
	}
	return b, nil
}

// DesyncError reports a reply tag other than the one the host was waiting for.
type DesyncError struct {
	Expected Reply
	Got      byte
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("protocol desynchronized: expected reply %v, got %v", e.Expected, Reply(e.Got))
}

// Is makes errors.Is(err, ErrDesync) hold for every DesyncError.
func (e *DesyncError) Is(target error) bool {
	return target == ErrDesync
}

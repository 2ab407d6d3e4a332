package protocol

// FrameMax is the largest unit assembled for a single write: an opcode, its one byte payload
// and up to MaxLength trailing bytes.
const FrameMax = 2 + MaxLength

// OutputBuffer receives encoded frame bytes.
type OutputBuffer interface {
	Output(data []byte)
}

// ScratchOutput is a fixed-size OutputBuffer holding one frame plus its trailing bytes.
// Output past FrameMax bytes is dropped; callers check the length first. The zero value is
// ready to use.
type ScratchOutput struct {
	buf [FrameMax]byte
	pos int
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
}

// Len returns the number of bytes held.
func (s *ScratchOutput) Len() int {
	return s.pos
}

// Result returns the accumulated bytes. The slice is reused after Reset.
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.pos]
}

// Reset empties the buffer.
func (s *ScratchOutput) Reset() {
	s.pos = 0
}

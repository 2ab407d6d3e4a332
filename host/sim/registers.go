package sim

import "sync"

// Registers is a register-file peripheral: the first byte of a write selects the register,
// further bytes are stored from there, and reads continue from the selected register. The
// pointer auto-increments and wraps at 256.
type Registers struct {
	mu   sync.Mutex
	mem  [256]byte
	ptr  byte
	hist [][]byte
}

// NewRegisters returns a register file preloaded with init.
func NewRegisters(init map[byte]byte) *Registers {
	r := &Registers{}
	for k, v := range init {
		r.mem[k] = v
	}
	return r
}

func (r *Registers) Write(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hist = append(r.hist, append([]byte(nil), data...))
	if len(data) == 0 {
		return
	}
	r.ptr = data[0]
	for _, b := range data[1:] {
		r.mem[r.ptr] = b
		r.ptr++
	}
}

func (r *Registers) Read(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = r.mem[r.ptr]
		r.ptr++
	}
	return out
}

// Get returns the value of register reg.
func (r *Registers) Get(reg byte) byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mem[reg]
}

// Writes returns every TX payload seen so far.
func (r *Registers) Writes() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.hist...)
}

// Package led controls the board's status LEDs through their sysfs brightness files.
package led

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// DefaultRoot is where the kernel exposes the LED class devices.
const DefaultRoot = "/sys/devices/leds/leds"

// Path returns the brightness file of the LED named by color and kind under root.
func Path(root, color, kind string) string {
	return filepath.Join(root, fmt.Sprintf("tessel:%s:%s", color, kind), "brightness")
}

// LED is one board LED. It starts off.
type LED struct {
	mu    sync.Mutex
	w     io.Writer
	value bool
}

// Open opens the brightness file of the LED color:kind under root.
func Open(root, color, kind string) (*LED, error) {
	path := Path(root, color, kind)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening led %s:%s", color, kind)
	}
	l, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

// New drives an LED through w and turns it off.
func New(w io.Writer) (*LED, error) {
	l := &LED{w: w}
	if err := l.Off(); err != nil {
		return nil, err
	}
	return l, nil
}

// On is the same as High.
func (l *LED) On() error {
	return l.Set(true)
}

// Off is the same as Low.
func (l *LED) Off() error {
	return l.Set(false)
}

// High turns the LED on.
func (l *LED) High() error {
	return l.Set(true)
}

// Low turns the LED off.
func (l *LED) Low() error {
	return l.Set(false)
}

// Toggle flips the LED.
func (l *LED) Toggle() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(!l.value)
}

// Set writes the new state as a single '1' or '0'.
func (l *LED) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(on)
}

// Read returns the last state written.
func (l *LED) Read() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// Close closes the underlying file, if any. The LED keeps its last state.
func (l *LED) Close() error {
	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (l *LED) write(on bool) error {
	l.value = on
	b := byte('0')
	if on {
		b = '1'
	}
	if _, err := l.w.Write([]byte{b}); err != nil {
		return errors.Wrap(err, "writing led brightness")
	}
	return nil
}

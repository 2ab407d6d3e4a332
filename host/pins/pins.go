// Package pins tracks exclusive ownership of the physical lines of a port.
//
// Each line has one slot holding a single token. Acquiring a pin takes the token and a Pin
// handle returns it on Release, so a line has at most one live handle at a time.
package pins

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownPin is returned for an index the port does not expose.
	ErrUnknownPin = errors.New("unknown pin")
	// ErrPinBusy is returned when a pin is held and could not be acquired.
	ErrPinBusy = errors.New("pin busy")
	// ErrRegistryClosed is returned once the registry can no longer grant pins.
	ErrRegistryClosed = errors.New("pin registry closed")
)

// Registry grants exclusive handles on the pins of one port.
type Registry struct {
	slots     []chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewRegistry returns a registry with pins 0 through count-1, all free.
func NewRegistry(count int) *Registry {
	r := &Registry{
		slots: make([]chan struct{}, count),
		done:  make(chan struct{}),
	}
	for i := range r.slots {
		r.slots[i] = make(chan struct{}, 1)
		r.slots[i] <- struct{}{}
	}
	return r
}

// Len returns the number of pins in the registry.
func (r *Registry) Len() int {
	return len(r.slots)
}

// Acquire blocks until the pin at index is free and returns a handle on it. If ctx ends
// first the result is ErrPinBusy wrapping the context error.
func (r *Registry) Acquire(ctx context.Context, index int) (*Pin, error) {
	slot, err := r.slot(index)
	if err != nil {
		return nil, err
	}
	// A free pin is granted even when ctx is already done.
	select {
	case <-slot:
		return r.grant(slot, index)
	default:
	}
	select {
	case <-slot:
		return r.grant(slot, index)
	case <-ctx.Done():
		return nil, errors.Wrapf(ErrPinBusy, "pin %d: %v", index, ctx.Err())
	case <-r.done:
		return nil, errors.Wrapf(ErrRegistryClosed, "pin %d", index)
	}
}

// TryAcquire returns a handle on the pin at index, or ErrPinBusy if it is held.
func (r *Registry) TryAcquire(index int) (*Pin, error) {
	slot, err := r.slot(index)
	if err != nil {
		return nil, err
	}
	select {
	case <-slot:
		return r.grant(slot, index)
	default:
		return nil, errors.Wrapf(ErrPinBusy, "pin %d", index)
	}
}

// Close stops the registry from granting pins. Outstanding handles may still be released.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *Registry) slot(index int) (chan struct{}, error) {
	if index < 0 || index >= len(r.slots) {
		return nil, errors.Wrapf(ErrUnknownPin, "pin %d (port has %d)", index, len(r.slots))
	}
	select {
	case <-r.done:
		return nil, errors.Wrapf(ErrRegistryClosed, "pin %d", index)
	default:
	}
	return r.slots[index], nil
}

func (r *Registry) grant(slot chan struct{}, index int) (*Pin, error) {
	select {
	case <-r.done:
		slot <- struct{}{}
		return nil, errors.Wrapf(ErrRegistryClosed, "pin %d", index)
	default:
	}
	return &Pin{index: index, slot: slot}, nil
}

// Pin is exclusive ownership of one line. Release it when done, typically with defer.
type Pin struct {
	index int
	slot  chan struct{}
	once  sync.Once
}

// Index returns the line number of the pin.
func (p *Pin) Index() int {
	return p.index
}

// Release returns the pin to its registry. Calls after the first do nothing.
func (p *Pin) Release() {
	p.once.Do(func() { p.slot <- struct{}{} })
}

// Close releases the pin. It always returns nil.
func (p *Pin) Close() error {
	p.Release()
	return nil
}

package pins

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestAcquireRelease(t *testing.T) {
	r := NewRegistry(8)
	test.That(t, r.Len(), test.ShouldEqual, 8)

	p, err := r.Acquire(context.Background(), 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Index(), test.ShouldEqual, 3)

	_, err = r.TryAcquire(3)
	test.That(t, errors.Is(err, ErrPinBusy), test.ShouldBeTrue)

	// other pins are independent
	other, err := r.TryAcquire(4)
	test.That(t, err, test.ShouldBeNil)
	other.Release()

	p.Release()
	// double release must not free a second token
	p.Release()

	again, err := r.TryAcquire(3)
	test.That(t, err, test.ShouldBeNil)
	_, err = r.TryAcquire(3)
	test.That(t, errors.Is(err, ErrPinBusy), test.ShouldBeTrue)
	test.That(t, again.Close(), test.ShouldBeNil)
}

func TestUnknownPin(t *testing.T) {
	r := NewRegistry(8)
	for _, idx := range []int{-1, 8, 100} {
		_, err := r.Acquire(context.Background(), idx)
		test.That(t, errors.Is(err, ErrUnknownPin), test.ShouldBeTrue)
		_, err = r.TryAcquire(idx)
		test.That(t, errors.Is(err, ErrUnknownPin), test.ShouldBeTrue)
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	r := NewRegistry(2)
	first, err := r.Acquire(context.Background(), 0)
	test.That(t, err, test.ShouldBeNil)

	got := make(chan *Pin)
	go func() {
		p, err := r.Acquire(context.Background(), 0)
		if err != nil {
			t.Error(err)
		}
		got <- p
	}()

	select {
	case <-got:
		t.Fatal("second acquisition succeeded while the first handle was live")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()
	select {
	case p := <-got:
		test.That(t, p.Index(), test.ShouldEqual, 0)
		p.Release()
	case <-time.After(5 * time.Second):
		t.Fatal("second acquisition never completed")
	}
}

func TestAcquireContextEnds(t *testing.T) {
	r := NewRegistry(2)
	held, err := r.TryAcquire(1)
	test.That(t, err, test.ShouldBeNil)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(ctx, 1)
	test.That(t, errors.Is(err, ErrPinBusy), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, context.DeadlineExceeded.Error())
}

func TestAcquireFreePinWithDoneContext(t *testing.T) {
	r := NewRegistry(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 50; i++ {
		p, err := r.Acquire(ctx, 0)
		test.That(t, err, test.ShouldBeNil)
		p.Release()
	}
}

func TestClose(t *testing.T) {
	r := NewRegistry(2)
	held, err := r.TryAcquire(0)
	test.That(t, err, test.ShouldBeNil)

	waiting := make(chan error, 1)
	go func() {
		_, err := r.Acquire(context.Background(), 0)
		waiting <- err
	}()
	time.Sleep(20 * time.Millisecond)

	r.Close()
	r.Close()

	select {
	case err := <-waiting:
		test.That(t, errors.Is(err, ErrRegistryClosed), test.ShouldBeTrue)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by Close")
	}

	_, err = r.TryAcquire(1)
	test.That(t, errors.Is(err, ErrRegistryClosed), test.ShouldBeTrue)
	// releasing after close must not block
	held.Release()
}

func TestExclusivityUnderContention(t *testing.T) {
	r := NewRegistry(1)
	var live, maxLive int32
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				p, err := r.Acquire(context.Background(), 0)
				if err != nil {
					t.Error(err)
					return
				}
				n := atomic.AddInt32(&live, 1)
				for {
					m := atomic.LoadInt32(&maxLive)
					if n <= m || atomic.CompareAndSwapInt32(&maxLive, m, n) {
						break
					}
				}
				atomic.AddInt32(&live, -1)
				p.Release()
			}
		}()
	}
	wg.Wait()
	test.That(t, maxLive, test.ShouldEqual, int32(1))
}

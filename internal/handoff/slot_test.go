package handoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

// step runs a stepping loop that doubles every request until stop closes.
func step(s *Slot[int, int], stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if req, ok := s.Poll(); ok {
			// stay busy for a few ticks like a real command would
			for i := 0; i < 3; i++ {
				if _, again := s.Poll(); again {
					panic("second request polled while busy")
				}
			}
			if err := s.Complete(req * 2); err != nil {
				panic(err)
			}
		}
		time.Sleep(10 * time.Microsecond)
	}
}

func TestSlotCall(t *testing.T) {
	s := New[int, int]()
	stop := make(chan struct{})
	defer close(stop)
	go step(s, stop)

	for i := 1; i <= 5; i++ {
		got, err := s.Call(context.Background(), i)
		if err != nil {
			t.Fatalf("Call(%d): %v", i, err)
		}
		if got != i*2 {
			t.Errorf("Call(%d) = %d", i, got)
		}
	}
}

func TestSlotConcurrentCallers(t *testing.T) {
	s := New[int, int]()
	stop := make(chan struct{})
	defer close(stop)
	go step(s, stop)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			for j := 0; j < 20; j++ {
				req := i*100 + j
				got, err := s.Call(context.Background(), req)
				if err != nil {
					return err
				}
				if got != req*2 {
					return errors.New("response delivered to the wrong caller")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestSlotPollEmpty(t *testing.T) {
	s := New[int, int]()
	if _, ok := s.Poll(); ok {
		t.Errorf("Poll on an empty slot returned a request")
	}
	if err := s.Complete(1); common.CodeOf(err) != cosim.ErrInvalidParamVal {
		t.Errorf("Complete without a request: err = %v", err)
	}
}

func TestSlotCancelBeforePoll(t *testing.T) {
	s := New[int, int]()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Call(ctx, 1)
		errc <- err
	}()

	// wait until the request is sitting in the slot
	for len(s.reqs) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, ok := s.Poll(); ok {
		t.Errorf("withdrawn request was still polled")
	}

	// the slot is usable again
	stop := make(chan struct{})
	defer close(stop)
	go step(s, stop)
	if got, err := s.Call(context.Background(), 4); err != nil || got != 8 {
		t.Errorf("Call after cancel = %d, %v", got, err)
	}
}

func TestSlotCancelInFlight(t *testing.T) {
	s := New[int, int]()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Call(ctx, 1)
		errc <- err
	}()

	var req int
	for {
		r, ok := s.Poll()
		if ok {
			req = r
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if err := s.Complete(req); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// the stale response must not reach the next caller
	stop := make(chan struct{})
	defer close(stop)
	go step(s, stop)
	if got, err := s.Call(context.Background(), 21); err != nil || got != 42 {
		t.Errorf("Call after in-flight cancel = %d, %v", got, err)
	}
}

func TestSlotClose(t *testing.T) {
	s := New[int, int]()
	errc := make(chan error, 1)
	go func() {
		_, err := s.Call(context.Background(), 1)
		errc <- err
	}()
	for len(s.reqs) == 0 {
		time.Sleep(time.Millisecond)
	}
	s.Close()
	s.Close()

	if err := <-errc; !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if !s.Closed() {
		t.Errorf("Closed = false")
	}
	if _, err := s.Call(context.Background(), 2); !errors.Is(err, ErrClosed) {
		t.Errorf("Call after Close: err = %v", err)
	}
	if _, ok := s.Poll(); ok {
		t.Errorf("Poll after Close returned a request")
	}
}

// Package handoff carries blocking calls from client goroutines to the
// clock-stepping loop. A Slot holds at most one request and its response.
//
// The client calls Call and blocks. The stepping loop calls Poll once per
// tick; when it returns a request the loop works on it over as many ticks as
// it needs and then calls Complete, which wakes the client.
package handoff

import (
	"context"
	"sync"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

// ErrClosed is returned by calls on a closed slot.
var ErrClosed = common.NewErrorMsg(cosim.ErrSevError, cosim.ErrClosed, "handoff slot closed")

// Slot is a single-request single-response rendezvous.
type Slot[Req, Resp any] struct {
	token chan struct{} // held by the client with a call in flight
	reqs  chan Req
	resps chan Resp
	done  chan struct{}
	once  sync.Once

	// stepping side only
	inFlight bool
}

// New creates an open slot.
func New[Req, Resp any]() *Slot[Req, Resp] {
	return &Slot[Req, Resp]{
		token: make(chan struct{}, 1),
		reqs:  make(chan Req, 1),
		resps: make(chan Resp, 1),
		done:  make(chan struct{}),
	}
}

// Call hands req to the stepping loop and waits for its response. Calls from
// several goroutines are served one at a time.
//
// If ctx ends before the stepping loop has taken the request, the request is
// withdrawn. If it ends afterwards, the response is discarded when it arrives
// and the slot stays busy until then.
func (s *Slot[Req, Resp]) Call(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	select {
	case s.token <- struct{}{}:
	case <-s.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	// only the token holder sends, so the buffer is always free here
	s.reqs <- req

	select {
	case resp := <-s.resps:
		<-s.token
		return resp, nil
	case <-s.done:
		return zero, ErrClosed
	case <-ctx.Done():
		select {
		case <-s.reqs:
			<-s.token
		default:
			go s.drain()
		}
		return zero, ctx.Err()
	}
}

func (s *Slot[Req, Resp]) drain() {
	select {
	case <-s.resps:
		<-s.token
	case <-s.done:
	}
}

// Poll returns the waiting request, if there is one, without blocking. It
// returns false while a previously polled request is still being worked on.
func (s *Slot[Req, Resp]) Poll() (Req, bool) {
	var zero Req
	if s.inFlight {
		return zero, false
	}
	select {
	case <-s.done:
		return zero, false
	default:
	}
	select {
	case req := <-s.reqs:
		s.inFlight = true
		return req, true
	default:
		return zero, false
	}
}

// Busy reports whether a polled request is waiting for Complete.
func (s *Slot[Req, Resp]) Busy() bool {
	return s.inFlight
}

// Complete delivers the response to the request last returned by Poll.
func (s *Slot[Req, Resp]) Complete(resp Resp) error {
	if !s.inFlight {
		return common.NewErrorf(cosim.ErrInvalidParamVal, "handoff: complete with no request in flight")
	}
	s.inFlight = false
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.resps <- resp
	return nil
}

// Close wakes every waiting client with ErrClosed. It is safe to call more
// than once.
func (s *Slot[Req, Resp]) Close() {
	s.once.Do(func() { close(s.done) })
}

// Closed reports whether Close has been called.
func (s *Slot[Req, Resp]) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

package dtm

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

// regTarget is a DMI slave holding a flat register file. It takes a request
// one tick after seeing it valid and answers latency ticks later.
type regTarget struct {
	regs    map[uint32]uint32
	latency int
	fail    uint32 // address answering RespFailed

	pending bool
	req     Req
	wait    int
	ticks   int
}

func (r *regTarget) step(out TargetOutputs) TargetInputs {
	r.ticks++
	in := TargetInputs{ReqReady: !r.pending}
	if out.ReqValid && !r.pending {
		r.pending = true
		r.req = out.ReqBits
		r.wait = r.latency
		return in
	}
	if r.pending {
		if r.wait > 0 {
			r.wait--
			return in
		}
		r.pending = false
		in.RespValid = true
		switch {
		case r.req.Addr == r.fail:
			in.RespBits = Resp{Resp: RespFailed}
		case r.req.Op == OpWrite:
			r.regs[r.req.Addr] = r.req.Data
		case r.req.Op == OpRead:
			in.RespBits = Resp{Data: r.regs[r.req.Addr]}
		}
	}
	return in
}

func runStepper(p *Port, tgt *regTarget, stop <-chan struct{}) {
	out := p.Outputs()
	for {
		select {
		case <-stop:
			return
		default:
		}
		out = p.Tick(tgt.step(out))
		time.Sleep(time.Microsecond)
	}
}

func TestPortReadWrite(t *testing.T) {
	p := NewPort()
	tgt := &regTarget{regs: map[uint32]uint32{}, latency: 2, fail: 0x3F}
	stop := make(chan struct{})
	defer close(stop)
	go runStepper(p, tgt, stop)

	ctx := context.Background()
	if err := p.Write(ctx, RegData0, 0xCAFEF00D); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := p.Read(ctx, RegData0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != 0xCAFEF00D {
		t.Errorf("Read = 0x%x", got)
	}

	_, err = p.Read(ctx, 0x3F)
	if common.CodeOf(err) != cosim.ErrDMIFailed {
		t.Errorf("failed response: err = %v", err)
	}
}

func TestPortTickHandshake(t *testing.T) {
	p := NewPort()
	errc := make(chan error, 1)
	go func() {
		errc <- p.Write(context.Background(), RegCommand, 7)
	}()

	// nothing is driven until the client has handed over a request
	var out TargetOutputs
	for !out.ReqValid {
		out = p.Tick(TargetInputs{})
		time.Sleep(time.Millisecond)
	}
	if out.ReqBits != (Req{Addr: RegCommand, Op: OpWrite, Data: 7}) {
		t.Errorf("ReqBits = %+v", out.ReqBits)
	}

	// held until ready
	for i := 0; i < 3; i++ {
		if out = p.Tick(TargetInputs{}); !out.ReqValid {
			t.Fatalf("request dropped without ready")
		}
	}
	if out = p.Tick(TargetInputs{ReqReady: true}); out.ReqValid {
		t.Errorf("request still valid after ready")
	}
	if !p.Busy() {
		t.Errorf("port should wait for the response")
	}
	p.Tick(TargetInputs{RespValid: true})
	if err := <-errc; err != nil {
		t.Errorf("Write: %v", err)
	}
	if p.Busy() {
		t.Errorf("port busy after response")
	}
}

func TestPortClose(t *testing.T) {
	p := NewPort()
	errc := make(chan error, 1)
	go func() {
		_, err := p.Read(context.Background(), RegDMStatus)
		errc <- err
	}()
	time.Sleep(5 * time.Millisecond)
	p.Close()
	if err := <-errc; common.CodeOf(err) != cosim.ErrClosed {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestPortResponseAfterClose(t *testing.T) {
	p := NewPort()
	errc := make(chan error, 1)
	go func() {
		errc <- p.Write(context.Background(), RegCommand, 1)
	}()

	var out TargetOutputs
	for !out.ReqValid {
		out = p.Tick(TargetInputs{})
		time.Sleep(time.Millisecond)
	}
	p.Tick(TargetInputs{ReqReady: true})
	p.Close()
	if err := <-errc; common.CodeOf(err) != cosim.ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}

	// the response of the abandoned request is dropped
	out = p.Tick(TargetInputs{RespValid: true})
	if p.Busy() || out.ReqValid {
		t.Errorf("port busy after the late response: %+v", out)
	}
	if out = p.Tick(TargetInputs{ReqReady: true}); out.ReqValid {
		t.Errorf("closed port drove a request")
	}
}

func TestPortContext(t *testing.T) {
	p := NewPort()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := p.Read(ctx, RegDMStatus)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

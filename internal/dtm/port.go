package dtm

import (
	"context"

	"cosim/internal/common"
	"cosim/internal/cosim"
	"cosim/internal/handoff"
)

// Req is one DMI request.
type Req struct {
	Addr uint32
	Op   uint32
	Data uint32
}

// Resp is one DMI response.
type Resp struct {
	Resp uint32
	Data uint32
}

// TargetInputs are the DMI signals sampled from the target each tick.
type TargetInputs struct {
	ReqReady  bool
	RespValid bool
	RespBits  Resp
}

// TargetOutputs are the DMI signals driven into the target.
type TargetOutputs struct {
	ReqValid  bool
	ReqBits   Req
	RespReady bool
}

// DMI is the blocking register access the engine is built on.
type DMI interface {
	Read(ctx context.Context, addr uint32) (uint32, error)
	Write(ctx context.Context, addr, data uint32) error
}

// Port joins the client side, where DMI calls block, with the stepping side,
// which moves each request through the valid/ready handshake one tick at a
// time.
type Port struct {
	slot *handoff.Slot[Req, Resp]

	// stepping side
	reqWait  bool
	respWait bool
	req      Req
}

// NewPort creates an idle port.
func NewPort() *Port {
	return &Port{slot: handoff.New[Req, Resp]()}
}

// Tick advances the stepping side by one tick and returns the signals to
// drive until the next one.
func (p *Port) Tick(in TargetInputs) TargetOutputs {
	if !p.respWait {
		if !p.reqWait {
			if req, ok := p.slot.Poll(); ok {
				p.req = req
				p.reqWait = true
			}
		} else if in.ReqReady {
			p.reqWait = false
			p.respWait = true
		}
	}
	if in.RespValid && p.respWait {
		p.respWait = false
		// the only error is ErrClosed, after which no client is waiting
		_ = p.slot.Complete(in.RespBits)
	}
	return p.Outputs()
}

// Outputs returns the signals currently driven.
func (p *Port) Outputs() TargetOutputs {
	return TargetOutputs{ReqValid: p.reqWait, ReqBits: p.req, RespReady: true}
}

// Busy reports whether a request is between poll and response.
func (p *Port) Busy() bool {
	return p.reqWait || p.respWait
}

// Close tears the port down and wakes any blocked client.
func (p *Port) Close() {
	p.slot.Close()
}

// Do runs one DMI request and waits for its response.
func (p *Port) Do(ctx context.Context, req Req) (Resp, error) {
	resp, err := p.slot.Call(ctx, req)
	if err != nil {
		return resp, err
	}
	switch resp.Resp {
	case RespOK:
		return resp, nil
	case RespBusy:
		return resp, common.NewErrorf(cosim.ErrDMIBusy, "dmi op %d at 0x%02x: busy", req.Op, req.Addr)
	}
	return resp, common.NewErrorf(cosim.ErrDMIFailed, "dmi op %d at 0x%02x: response %d", req.Op, req.Addr, resp.Resp)
}

// Read reads a debug module register.
func (p *Port) Read(ctx context.Context, addr uint32) (uint32, error) {
	resp, err := p.Do(ctx, Req{Addr: addr, Op: OpRead})
	return resp.Data, err
}

// Write writes a debug module register.
func (p *Port) Write(ctx context.Context, addr, data uint32) error {
	_, err := p.Do(ctx, Req{Addr: addr, Op: OpWrite, Data: data})
	return err
}

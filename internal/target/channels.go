package target

import (
	"fmt"

	"cosim/internal/cosim"
	"cosim/internal/htif"
)

// memChannel serves the host memory channel. Reads are answered after the
// configured latency, writes are performed when accepted and not answered.
// Data moves in 64-bit words.
type memChannel struct {
	t       *Target
	latency int

	pending   bool
	wait      int
	addr      uint64
	respValid bool
	resp      uint64
}

func (m *memChannel) clock(req htif.ChannelRequest) {
	// a response is offered for one tick; the host side has no ready
	m.respValid = false

	ready := !m.pending
	if m.pending {
		if m.wait > 0 {
			m.wait--
		}
		if m.wait == 0 {
			m.finish()
		}
	}
	if !req.Valid || !ready {
		return
	}
	if req.Write {
		if err := m.t.mem.WriteUint64(req.Addr, req.Data); err != nil {
			m.t.LogMessage(cosim.ErrSevWarn, fmt.Sprintf("host write dropped: %v", err))
		}
		return
	}
	m.pending = true
	m.addr = req.Addr
	m.wait = m.latency
	if m.wait == 0 {
		m.finish()
	}
}

func (m *memChannel) finish() {
	v, err := m.t.mem.ReadUint64(m.addr)
	if err != nil {
		m.t.LogMessage(cosim.ErrSevWarn, fmt.Sprintf("host read answered with zero: %v", err))
	}
	m.pending = false
	m.respValid = true
	m.resp = v
}

// csrChannel serves the host control register channel. Every access is
// answered on the next tick with the register's previous value, and the
// answer is held until the host takes it.
type csrChannel struct {
	t *Target

	respValid bool
	resp      uint64
}

func (c *csrChannel) clock(req htif.ChannelRequest, respReady bool) {
	ready := !c.respValid
	if c.respValid && respReady {
		c.respValid = false
	}
	if !req.Valid || !ready {
		return
	}
	c.resp = uint64(c.t.hostCSR(uint32(req.Addr), uint32(req.Data), req.Write))
	c.respValid = true
}

package htif

import (
	"errors"
	"fmt"
	"io"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

// State of the bridge between host and target.
type State int

const (
	// StateAwaitingHost: the bridge may receive a new packet.
	StateAwaitingHost State = iota
	// StateAwaitingTarget: a request is in flight and the bridge returns
	// control every tick until the target answers.
	StateAwaitingTarget
)

func (s State) String() string {
	switch s {
	case StateAwaitingHost:
		return "AwaitingHost"
	case StateAwaitingTarget:
		return "AwaitingTarget"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Channel names one of the two split-transaction paths into the target.
type Channel int

const (
	ChanNone Channel = iota
	ChanCSR
	ChanMem
)

func (c Channel) String() string {
	switch c {
	case ChanCSR:
		return "csr"
	case ChanMem:
		return "mem"
	}
	return "none"
}

// ChannelRequest is the request side of a channel for one tick.
type ChannelRequest struct {
	Valid bool
	Addr  uint64
	Data  uint64
	Write bool
}

// TargetInputs are the signals the stepping driver samples from the target
// and hands to the bridge each tick.
type TargetInputs struct {
	CSRReqReady bool
	MemReqReady bool

	CSRRespValid bool
	CSRRespBits  uint64

	MemRespValid bool
	MemRespBits  uint64
}

// TargetOutputs are the signals the bridge drives into the target.
type TargetOutputs struct {
	Reset        bool
	CSRRespReady bool
	CSR          ChannelRequest
	Mem          ChannelRequest
}

// Direction of a packet relative to the bridge.
type Direction int

const (
	DirIn Direction = iota
	DirOut
)

func (d Direction) String() string {
	if d == DirIn {
		return "In "
	}
	return "Out"
}

// PacketMonitor is offered every packet crossing the host port along with its
// raw bytes. It is a monitor only and cannot affect the bridge.
type PacketMonitor interface {
	RawPacketDataMon(dir Direction, cycle cosim.Cycle, pkt *Packet, raw []byte)
}

// Config holds the locally known target configuration.
type Config struct {
	Cores   uint64
	MemSize uint64 // bytes

	// MaxTargetWait bounds the ticks a request waits for the target to accept
	// and answer it. Zero disables the bound.
	MaxTargetWait int

	// ForwardHartID sends mhartid reads to the target instead of answering
	// them locally with the core id.
	ForwardHartID bool
}

// Stats counts bridge traffic for one session.
type Stats struct {
	Packets         uint64
	ReadMem         uint64
	WriteMem        uint64
	ReadCR          uint64
	WriteCR         uint64
	LocalCR         uint64
	TargetWaitTicks uint64
}

// Bridge is the host-target transaction bridge. It is ticked from the
// stepping loop and never blocks except on a blocking host port read while
// awaiting the host.
type Bridge struct {
	common.Component

	PktMon common.AttachPt[PacketMonitor]

	cfg   Config
	w     io.Writer
	dec   *Decoder
	state State
	reset bool

	held     ChannelRequest
	heldChan Channel
	waiting  Channel

	waitTicks int
	exitRaw   uint64
	cycle     cosim.Cycle
	fault     error
	stats     Stats
	outBuf    []byte
}

// NewBridge creates a bridge talking to the host over port.
func NewBridge(port io.ReadWriter, cfg Config) (*Bridge, error) {
	if cfg.Cores == 0 {
		return nil, common.NewErrorf(cosim.ErrInvalidParamVal, "bridge needs at least one core")
	}
	// the host monitor has a minimum memory size
	if cfg.MemSize>>20 == 0 {
		return nil, common.NewErrorf(cosim.ErrInvalidParamVal, "memory size %d below 1MiB", cfg.MemSize)
	}
	b := &Bridge{
		cfg:   cfg,
		w:     port,
		dec:   NewDecoder(port),
		state: StateAwaitingHost,
		reset: true,
	}
	b.InitComponent(cosim.CmpnamePrefixBridge)
	b.PktMon = *common.NewAttachPt[PacketMonitor]()
	return b, nil
}

// State returns the current bridge state.
func (b *Bridge) State() State { return b.state }

// Reset returns the reset line driven into the target.
func (b *Bridge) Reset() bool { return b.reset }

// Expected returns the next expected sequence number.
func (b *Bridge) Expected() uint8 { return b.dec.Expected() }

// Stats returns the traffic counters.
func (b *Bridge) Stats() Stats { return b.stats }

// Fault returns the terminal error, if any.
func (b *Bridge) Fault() error { return b.fault }

// Pending returns the channel with a request in flight.
func (b *Bridge) Pending() Channel {
	if b.held.Valid {
		return b.heldChan
	}
	return b.waiting
}

// SetExitCode records the raw tohost value observed by the stepping driver.
// Once non-zero the bridge stops reading from the host.
func (b *Bridge) SetExitCode(raw uint64) { b.exitRaw = raw }

// Done reports whether the host has signalled the end of the session.
func (b *Bridge) Done() bool { return b.exitRaw != 0 }

// ExitCode is the program exit code carried by the tohost value.
func (b *Bridge) ExitCode() uint64 { return b.exitRaw >> 1 }

// Tick advances the bridge by one clock tick.
func (b *Bridge) Tick(in TargetInputs) (out TargetOutputs, err error) {
	defer func() { b.cycle++ }()

	if b.fault != nil {
		return TargetOutputs{Reset: b.reset}, b.fault
	}
	out = TargetOutputs{Reset: b.reset, CSRRespReady: true}

	// a response from the target goes straight back to the host
	if in.CSRRespValid {
		if err := b.respond(ChanCSR, in.CSRRespBits); err != nil {
			return TargetOutputs{Reset: b.reset}, err
		}
	}
	if in.MemRespValid {
		if err := b.respond(ChanMem, in.MemRespBits); err != nil {
			return TargetOutputs{Reset: b.reset}, err
		}
	}

	// a request not yet taken by the target stays asserted, and nothing new
	// is decoded behind it. The wait bound counts from the tick the packet
	// was dispatched, whether the target is slow to accept or to respond.
	if b.held.Valid || b.state == StateAwaitingTarget {
		b.waitTicks++
		b.stats.TargetWaitTicks++
		if b.cfg.MaxTargetWait > 0 && b.waitTicks > b.cfg.MaxTargetWait {
			return TargetOutputs{Reset: b.reset}, b.fail(b.timeout())
		}
		if b.held.Valid {
			b.drive(&out, b.heldChan, b.held, in)
		}
		return out, nil
	}

	// the host has finished with the target, so there is nothing left to
	// receive and reading would never return
	if b.Done() {
		return out, nil
	}

	p, raw, err := b.dec.Decode()
	if err == io.EOF {
		return out, nil
	}
	if raw != nil {
		b.monitor(DirIn, &p, raw)
	}
	if err != nil {
		return TargetOutputs{Reset: b.reset}, b.fail(err)
	}

	if err := b.dispatch(p, in, &out); err != nil {
		return TargetOutputs{Reset: b.reset}, b.fail(err)
	}
	return out, nil
}

func (b *Bridge) dispatch(p Packet, in TargetInputs, out *TargetOutputs) error {
	switch p.Cmd {
	case CmdReadMem:
		if p.DataSize != 1 {
			return b.badSize(p)
		}
		b.stats.ReadMem++
		b.start(out, ChanMem, ChannelRequest{Valid: true, Addr: p.Addr * DataAlign}, in)
		b.await(ChanMem)

	case CmdWriteMem:
		if p.DataSize != 1 {
			return b.badSize(p)
		}
		b.stats.WriteMem++
		b.start(out, ChanMem, ChannelRequest{Valid: true, Addr: p.Addr * DataAlign, Data: p.Payload[0], Write: true}, in)
		// writes complete optimistically, the target sends no reply payload
		return b.complete(NewAck(p.Seqno))

	case CmdReadControlReg, CmdWriteControlReg:
		if p.DataSize != 1 {
			return b.badSize(p)
		}
		write := p.Cmd == CmdWriteControlReg
		if write {
			b.stats.WriteCR++
		} else {
			b.stats.ReadCR++
		}

		coreID, regNo := p.CoreID(), p.RegNo()
		if coreID == SystemCoreID {
			b.stats.LocalCR++
			return b.complete(NewAck(p.Seqno, b.systemControlReg(regNo)))
		}
		if coreID >= b.cfg.Cores {
			return common.NewErrorf(cosim.ErrInvalidCore, "core %d of %d", coreID, b.cfg.Cores)
		}

		var newVal uint64
		if write {
			newVal = p.Payload[0]
		}

		// reset is not a register on the target
		if write && regNo == CSRMReset {
			var old uint64
			if b.reset {
				old = 1
			}
			b.reset = newVal&1 != 0
			out.Reset = b.reset
			b.stats.LocalCR++
			return b.complete(NewAck(p.Seqno, old))
		}
		if regNo == CSRMHartID && !b.cfg.ForwardHartID {
			b.stats.LocalCR++
			return b.complete(NewAck(p.Seqno, coreID))
		}

		b.start(out, ChanCSR, ChannelRequest{Valid: true, Addr: regNo, Data: newVal, Write: write}, in)
		b.await(ChanCSR)

	default:
		return common.NewErrorf(cosim.ErrUnsupportedCmd, "command %s (seq %d)", p.Cmd, p.Seqno)
	}
	return nil
}

func (b *Bridge) systemControlReg(regNo uint64) uint64 {
	switch regNo {
	case SCRCoreCount:
		return b.cfg.Cores
	case SCRMemSizeMB:
		return b.cfg.MemSize >> 20
	}
	return ^uint64(0)
}

func (b *Bridge) badSize(p Packet) error {
	return common.NewErrorf(cosim.ErrUnsupportedDataSize, "%s with data size %d", p.Cmd, p.DataSize)
}

// start drives the first tick of a new request.
func (b *Bridge) start(out *TargetOutputs, ch Channel, req ChannelRequest, in TargetInputs) {
	b.waitTicks = 0
	b.drive(out, ch, req, in)
}

func (b *Bridge) timeout() error {
	if b.held.Valid {
		return common.NewErrorf(cosim.ErrTargetTimeout, "%s request not accepted after %d ticks", b.heldChan, b.waitTicks-1)
	}
	return common.NewErrorf(cosim.ErrTargetTimeout, "no %s response after %d ticks", b.waiting, b.waitTicks-1)
}

// drive places req on its channel and holds it if the target is not ready.
func (b *Bridge) drive(out *TargetOutputs, ch Channel, req ChannelRequest, in TargetInputs) {
	ready := false
	switch ch {
	case ChanCSR:
		out.CSR = req
		ready = in.CSRReqReady
	case ChanMem:
		out.Mem = req
		ready = in.MemReqReady
	}
	if ready {
		b.held = ChannelRequest{}
		b.heldChan = ChanNone
		return
	}
	b.held = req
	b.heldChan = ch
}

func (b *Bridge) await(ch Channel) {
	b.state = StateAwaitingTarget
	b.waiting = ch
}

func (b *Bridge) respond(ch Channel, data uint64) error {
	if b.state != StateAwaitingTarget || b.waiting != ch {
		b.LogMessage(cosim.ErrSevWarn, fmt.Sprintf("cycle %d: unexpected %s response 0x%x ignored", b.cycle, ch, data))
		return nil
	}
	b.state = StateAwaitingHost
	b.waiting = ChanNone
	return b.complete(NewAck(b.dec.Expected(), data))
}

// complete sends the ACK that finishes the current packet and moves the
// expected sequence number on.
func (b *Bridge) complete(ack Packet) error {
	var err error
	b.outBuf, err = AppendPacket(b.outBuf[:0], ack)
	if err != nil {
		return b.fail(err)
	}
	b.monitor(DirOut, &ack, b.outBuf)
	if _, err := b.w.Write(b.outBuf); err != nil {
		return b.fail(fmt.Errorf("htif: sending ack: %w", err))
	}
	b.dec.Advance()
	b.stats.Packets++
	return nil
}

func (b *Bridge) monitor(dir Direction, p *Packet, raw []byte) {
	if b.PktMon.HasAttachedAndEnabled() {
		b.PktMon.First().RawPacketDataMon(dir, b.cycle, p, raw)
	}
}

// fail makes err the terminal state of the bridge.
func (b *Bridge) fail(err error) error {
	if b.fault != nil {
		return b.fault
	}
	var e *common.Error
	if errors.As(err, &e) {
		if e.Cycle == cosim.BadCycle {
			e.Cycle = b.cycle
		}
		b.LogError(e)
	} else {
		b.LogMessage(cosim.ErrSevError, err.Error())
	}
	b.held = ChannelRequest{}
	b.fault = err
	return err
}

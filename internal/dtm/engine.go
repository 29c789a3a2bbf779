package dtm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

// DefaultMaxIdleCycles bounds every status poll made by the engine.
const DefaultMaxIdleCycles = 10

// Config for an Engine.
type Config struct {
	// MaxIdleCycles is the number of status reads after which a command or
	// a halt/resume request is abandoned.
	MaxIdleCycles int
	// Hart is the hart selected by Init.
	Hart uint32
}

// Engine runs debug operations as sequences of abstract commands.
type Engine struct {
	common.Component

	dmi DMI
	cfg Config

	hart        uint32
	xlen        int
	dataCount   int
	progBufSize int

	// a timed out command may still latch cmderr after we gave up on it
	clearPending bool
}

// NewEngine creates an engine talking to the debug module through dmi.
func NewEngine(dmi DMI, cfg Config) *Engine {
	if cfg.MaxIdleCycles <= 0 {
		cfg.MaxIdleCycles = DefaultMaxIdleCycles
	}
	e := &Engine{dmi: dmi, cfg: cfg, hart: cfg.Hart, xlen: 32}
	e.InitComponent(cosim.CmpnamePrefixDTM)
	return e
}

// XLEN is the register width found by Init.
func (e *Engine) XLEN() int { return e.xlen }

// DataCount is the number of data registers reported by the debug module.
func (e *Engine) DataCount() int { return e.dataCount }

// ProgBufSize is the program buffer size reported by the debug module.
func (e *Engine) ProgBufSize() int { return e.progBufSize }

// Read is a raw DMI register read.
func (e *Engine) Read(ctx context.Context, addr uint32) (uint32, error) {
	return e.dmi.Read(ctx, addr)
}

// Write is a raw DMI register write.
func (e *Engine) Write(ctx context.Context, addr, data uint32) error {
	return e.dmi.Write(ctx, addr, data)
}

func (e *Engine) control(bits uint32) uint32 {
	return DMControlDMActive | HartSel(e.hart) | bits
}

// Init activates the debug module, learns its abstract command resources and
// finds the register width of the selected hart.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.dmi.Write(ctx, RegDMControl, 0); err != nil {
		return err
	}
	if err := e.dmi.Write(ctx, RegDMControl, e.control(0)); err != nil {
		return err
	}
	if _, err := e.poll(ctx, RegDMControl, DMControlDMActive, "dmactive"); err != nil {
		return err
	}

	cs, err := e.dmi.Read(ctx, RegAbstractCS)
	if err != nil {
		return err
	}
	e.dataCount = DataCount(cs)
	e.progBufSize = ProgBufSize(cs)
	if e.dataCount < 1 {
		return common.NewErrorf(cosim.ErrCmdNotSupported, "debug module has no data registers")
	}
	if CmdErrOf(cs) != CmdErrNone {
		if err := e.dmi.Write(ctx, RegAbstractCS, AbstractCSClearCmdErr); err != nil {
			return err
		}
	}
	info, err := e.dmi.Read(ctx, RegHartInfo)
	if err != nil {
		return err
	}
	e.LogDebug(fmt.Sprintf("hartinfo 0x%08x, datacount %d, progbufsize %d", info, e.dataCount, e.progBufSize))

	return e.withHalted(ctx, func() error {
		xlen, err := e.findXLEN(ctx)
		if err != nil {
			return err
		}
		e.xlen = xlen
		e.LogMessage(cosim.ErrSevInfo, fmt.Sprintf("hart %d: xlen %d", e.hart, xlen))
		return nil
	})
}

// findXLEN reads s0 at decreasing widths until the hart accepts one.
func (e *Engine) findXLEN(ctx context.Context) (int, error) {
	for _, size := range []int{64, 32} {
		if size/32 > e.dataCount {
			continue
		}
		cmd := Command{Type: CmdAccessRegister, Size: size, RegNo: RegNoGPR(GPRS0), Transfer: true}
		_, err := e.RunAbstractCommand(ctx, cmd, nil, make([]uint32, size/32))
		if err == nil {
			return size, nil
		}
		if !cosim.IsDebugCommandError(common.CodeOf(err)) {
			return 0, err
		}
	}
	return 0, common.NewErrorf(cosim.ErrCmdNotSupported, "hart %d accepts no register access width", e.hart)
}

// poll reads reg until any of mask is set, at most MaxIdleCycles times.
func (e *Engine) poll(ctx context.Context, reg, mask uint32, what string) (uint32, error) {
	for i := 0; i < e.cfg.MaxIdleCycles; i++ {
		v, err := e.dmi.Read(ctx, reg)
		if err != nil {
			return v, err
		}
		if v&mask != 0 {
			return v, nil
		}
	}
	return 0, common.NewErrorf(cosim.ErrTransportTimeout, "hart %d: no %s after %d reads", e.hart, what, e.cfg.MaxIdleCycles)
}

// Halted reports whether the selected hart is halted.
func (e *Engine) Halted(ctx context.Context) (bool, error) {
	st, err := e.dmi.Read(ctx, RegDMStatus)
	return st&DMStatusAllHalted != 0, err
}

// HaltHart halts the selected hart. A halted hart is left alone.
func (e *Engine) HaltHart(ctx context.Context) error {
	halted, err := e.Halted(ctx)
	if err != nil || halted {
		return err
	}
	if err := e.dmi.Write(ctx, RegDMControl, e.control(DMControlHaltReq)); err != nil {
		return err
	}
	if _, err := e.poll(ctx, RegDMStatus, DMStatusAllHalted, "halt"); err != nil {
		return err
	}
	if err := e.dmi.Write(ctx, RegDMControl, e.control(0)); err != nil {
		return err
	}
	// dmcontrol must not be written back to back
	_, err = e.dmi.Read(ctx, RegDMStatus)
	return err
}

// ResumeHart resumes the selected hart and clears any latched command
// error. A running hart is left alone.
func (e *Engine) ResumeHart(ctx context.Context) error {
	st, err := e.dmi.Read(ctx, RegDMStatus)
	if err != nil || st&DMStatusAllRunning != 0 {
		return err
	}
	if err := e.resume(ctx); err != nil {
		return err
	}
	return e.clearCmdErr(ctx)
}

func (e *Engine) resume(ctx context.Context) error {
	if err := e.dmi.Write(ctx, RegDMControl, e.control(DMControlResumeReq)); err != nil {
		return err
	}
	if _, err := e.poll(ctx, RegDMStatus, DMStatusAllResumeAck, "resume ack"); err != nil {
		return err
	}
	if err := e.dmi.Write(ctx, RegDMControl, e.control(0)); err != nil {
		return err
	}
	_, err := e.dmi.Read(ctx, RegDMStatus)
	return err
}

func (e *Engine) clearCmdErr(ctx context.Context) error {
	cs, err := e.dmi.Read(ctx, RegAbstractCS)
	if err != nil {
		return err
	}
	if CmdErrOf(cs) == CmdErrNone {
		e.clearPending = false
		return nil
	}
	if err := e.dmi.Write(ctx, RegAbstractCS, AbstractCSClearCmdErr); err != nil {
		return err
	}
	e.clearPending = false
	return nil
}

// SingleStep executes one instruction on a halted hart and leaves it halted.
func (e *Engine) SingleStep(ctx context.Context) error {
	if err := e.HaltHart(ctx); err != nil {
		return err
	}
	dcsr, err := e.ReadRegister(ctx, RegNoDCSR)
	if err != nil {
		return err
	}
	if err := e.WriteRegister(ctx, RegNoDCSR, dcsr|DCSRStep); err != nil {
		return err
	}
	if err := e.resume(ctx); err != nil {
		return err
	}
	if _, err := e.poll(ctx, RegDMStatus, DMStatusAllHalted, "halt after step"); err != nil {
		return err
	}
	return e.WriteRegister(ctx, RegNoDCSR, dcsr&^DCSRStep)
}

// ResetHart resets the selected hart and leaves it halted.
func (e *Engine) ResetHart(ctx context.Context) error {
	if err := e.dmi.Write(ctx, RegDMControl, e.control(DMControlHartReset|DMControlHaltReq)); err != nil {
		return err
	}
	if err := e.dmi.Write(ctx, RegDMControl, e.control(DMControlHaltReq)); err != nil {
		return err
	}
	if _, err := e.poll(ctx, RegDMStatus, DMStatusAllHalted, "halt after reset"); err != nil {
		return err
	}
	if err := e.dmi.Write(ctx, RegDMControl, e.control(DMControlAckHaveReset)); err != nil {
		return err
	}
	_, err := e.dmi.Read(ctx, RegDMStatus)
	return err
}

// RunAbstractCommand runs cmd with program loaded into the program buffer.
// data is written to the data registers first when the command consumes
// them, and overwritten with their contents afterwards when it produces a
// result. The command error, if any, is cleared before returning.
func (e *Engine) RunAbstractCommand(ctx context.Context, cmd Command, program, data []uint32) ([]uint32, error) {
	if len(program) > e.progBufSize {
		return nil, common.NewErrorf(cosim.ErrInvalidParamVal, "program of %d words, program buffer holds %d", len(program), e.progBufSize)
	}
	if len(data) > e.dataCount {
		return nil, common.NewErrorf(cosim.ErrInvalidParamVal, "%d data words, debug module has %d", len(data), e.dataCount)
	}
	if e.clearPending {
		if err := e.dmi.Write(ctx, RegAbstractCS, AbstractCSClearCmdErr); err != nil {
			return nil, err
		}
		e.clearPending = false
	}

	for i, insn := range program {
		if err := e.dmi.Write(ctx, RegProgBuf0+uint32(i), insn); err != nil {
			return nil, err
		}
	}
	if cmd.writesData() {
		for i, d := range data {
			if err := e.dmi.Write(ctx, RegData0+uint32(i), d); err != nil {
				return nil, err
			}
		}
	}
	if err := e.dmi.Write(ctx, RegCommand, cmd.Encode()); err != nil {
		return nil, err
	}
	if err := e.waitCommand(ctx, cmd); err != nil {
		return nil, err
	}

	if cmd.readsData() {
		for i := range data {
			d, err := e.dmi.Read(ctx, RegData0+uint32(i))
			if err != nil {
				return nil, err
			}
			data[i] = d
		}
	}
	return data, nil
}

// waitCommand polls abstractcs until the command finishes, then turns a
// latched cmderr into an error after clearing it.
func (e *Engine) waitCommand(ctx context.Context, cmd Command) error {
	for i := 0; ; i++ {
		cs, err := e.dmi.Read(ctx, RegAbstractCS)
		if err != nil {
			return err
		}
		if cs&AbstractCSBusy == 0 {
			ce := CmdErrOf(cs)
			if ce == CmdErrNone {
				return nil
			}
			if err := e.dmi.Write(ctx, RegAbstractCS, AbstractCSClearCmdErr); err != nil {
				return err
			}
			cerr := commandError(cmd, ce)
			e.LogMessage(cosim.ErrSevWarn, cerr.Error())
			return cerr
		}
		if i+1 >= e.cfg.MaxIdleCycles {
			e.clearPending = true
			return common.NewErrorf(cosim.ErrTransportTimeout, "abstract command %s still busy after %d reads", cmd, e.cfg.MaxIdleCycles)
		}
	}
}

// withHalted runs fn with the hart halted, resuming it afterwards only if it
// was running before.
func (e *Engine) withHalted(ctx context.Context, fn func() error) error {
	halted, err := e.Halted(ctx)
	if err != nil {
		return err
	}
	if !halted {
		if err := e.HaltHart(ctx); err != nil {
			return err
		}
	}
	err = fn()
	if !halted {
		if rerr := e.ResumeHart(ctx); err == nil {
			err = rerr
		}
	}
	return err
}

func (e *Engine) regWords() int { return e.xlen / 32 }

func (e *Engine) splitWord(v uint64) []uint32 {
	d := make([]uint32, e.regWords())
	d[0] = uint32(v)
	if len(d) > 1 {
		d[1] = uint32(v >> 32)
	}
	return d
}

func joinWord(d []uint32) uint64 {
	v := uint64(d[0])
	if len(d) > 1 {
		v |= uint64(d[1]) << 32
	}
	return v
}

// ReadRegister reads an abstract register number; the hart must be halted.
func (e *Engine) ReadRegister(ctx context.Context, regNo uint16) (uint64, error) {
	cmd := Command{Type: CmdAccessRegister, Size: e.xlen, RegNo: regNo, Transfer: true}
	d, err := e.RunAbstractCommand(ctx, cmd, nil, make([]uint32, e.regWords()))
	if err != nil {
		return 0, err
	}
	return joinWord(d), nil
}

// WriteRegister writes an abstract register number; the hart must be halted.
func (e *Engine) WriteRegister(ctx context.Context, regNo uint16, val uint64) error {
	cmd := Command{Type: CmdAccessRegister, Size: e.xlen, RegNo: regNo, Transfer: true, Write: true}
	_, err := e.RunAbstractCommand(ctx, cmd, nil, e.splitWord(val))
	return err
}

// withScratch saves s0 and s1 around fn and restores them even if fn fails.
func (e *Engine) withScratch(ctx context.Context, fn func() error) error {
	s0, err := e.ReadRegister(ctx, RegNoGPR(GPRS0))
	if err != nil {
		return err
	}
	s1, err := e.ReadRegister(ctx, RegNoGPR(GPRS1))
	if err != nil {
		return err
	}
	err = fn()
	return errors.Join(err,
		e.WriteRegister(ctx, RegNoGPR(GPRS0), s0),
		e.WriteRegister(ctx, RegNoGPR(GPRS1), s1))
}

func (e *Engine) modifyCSR(ctx context.Context, csr uint32, val uint64, kind uint32) (uint64, error) {
	if e.progBufSize < 2 {
		return 0, common.NewErrorf(cosim.ErrCmdNotSupported, "csr access needs a program buffer of 2 words")
	}
	var old uint64
	err := e.withHalted(ctx, func() error {
		return e.withScratch(ctx, func() error {
			prog := []uint32{CSRRx(kind, GPRS1, csr, GPRS0), InsnEbreak}
			cmd := Command{Type: CmdAccessRegister, Size: e.xlen, RegNo: RegNoGPR(GPRS0), Transfer: true, Write: true, PostExec: true}
			if _, err := e.RunAbstractCommand(ctx, cmd, prog, e.splitWord(val)); err != nil {
				return err
			}
			v, err := e.ReadRegister(ctx, RegNoGPR(GPRS1))
			old = v
			return err
		})
	})
	return old, err
}

// ReadCSR reads a control and status register through the program buffer.
func (e *Engine) ReadCSR(ctx context.Context, csr uint32) (uint64, error) {
	return e.modifyCSR(ctx, csr, 0, CSRSet)
}

// WriteCSR writes a CSR and returns its previous value.
func (e *Engine) WriteCSR(ctx context.Context, csr uint32, val uint64) (uint64, error) {
	return e.modifyCSR(ctx, csr, val, CSRWrite)
}

// SetCSR sets bits in a CSR and returns its previous value.
func (e *Engine) SetCSR(ctx context.Context, csr uint32, bits uint64) (uint64, error) {
	return e.modifyCSR(ctx, csr, bits, CSRSet)
}

// ClearCSR clears bits in a CSR and returns its previous value.
func (e *Engine) ClearCSR(ctx context.Context, csr uint32, bits uint64) (uint64, error) {
	return e.modifyCSR(ctx, csr, bits, CSRClear)
}

// FenceI synchronises the hart's instruction fetch with memory.
func (e *Engine) FenceI(ctx context.Context) error {
	if e.progBufSize < 2 {
		return common.NewErrorf(cosim.ErrCmdNotSupported, "fence.i needs a program buffer of 2 words")
	}
	return e.withHalted(ctx, func() error {
		_, err := e.RunAbstractCommand(ctx, Command{Type: CmdAccessRegister, PostExec: true},
			[]uint32{InsnFenceI, InsnEbreak}, nil)
		return err
	})
}

// ChunkAlign is the address and length granularity of memory access.
const ChunkAlign = 4

func checkChunk(addr uint64, n int) error {
	if addr%ChunkAlign != 0 || n%ChunkAlign != 0 {
		return common.NewErrorf(cosim.ErrUnaligned, "memory access of %d bytes at 0x%x is not %d byte aligned", n, addr, ChunkAlign)
	}
	return nil
}

// ReadMemory fills buf from target memory starting at addr.
func (e *Engine) ReadMemory(ctx context.Context, addr uint64, buf []byte) error {
	if err := checkChunk(addr, len(buf)); err != nil || len(buf) == 0 {
		return err
	}
	return e.withHalted(ctx, func() error {
		if e.progBufSize >= 3 {
			return e.withScratch(ctx, func() error { return e.readProgBuf(ctx, addr, buf) })
		}
		return e.accessMemory(ctx, addr, buf, false)
	})
}

// WriteMemory stores data into target memory starting at addr.
func (e *Engine) WriteMemory(ctx context.Context, addr uint64, data []byte) error {
	if err := checkChunk(addr, len(data)); err != nil || len(data) == 0 {
		return err
	}
	return e.withHalted(ctx, func() error {
		if e.progBufSize >= 3 {
			return e.withScratch(ctx, func() error { return e.writeProgBuf(ctx, addr, data) })
		}
		return e.accessMemory(ctx, addr, data, true)
	})
}

// ClearMemory zeroes n bytes of target memory starting at addr. Alignment
// is as for WriteMemory.
func (e *Engine) ClearMemory(ctx context.Context, addr uint64, n int) error {
	if err := checkChunk(addr, n); err != nil || n <= 0 {
		return err
	}
	return e.WriteMemory(ctx, addr, make([]byte, n))
}

// readProgBuf loads s0 with the address and executes lw/addi for every word,
// collecting each one from s1.
func (e *Engine) readProgBuf(ctx context.Context, addr uint64, buf []byte) error {
	prog := []uint32{LW(GPRS1, GPRS0, 0), ADDI(GPRS0, GPRS0, ChunkAlign), InsnEbreak}
	cmd := Command{Type: CmdAccessRegister, Size: e.xlen, RegNo: RegNoGPR(GPRS0), Transfer: true, Write: true, PostExec: true}
	if _, err := e.RunAbstractCommand(ctx, cmd, prog, e.splitWord(addr)); err != nil {
		return err
	}
	words := len(buf) / ChunkAlign
	for i := 0; i < words; i++ {
		cmd := Command{Type: CmdAccessRegister, Size: e.xlen, RegNo: RegNoGPR(GPRS1), Transfer: true}
		cmd.PostExec = i+1 < words
		d, err := e.RunAbstractCommand(ctx, cmd, nil, make([]uint32, e.regWords()))
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(buf[i*ChunkAlign:], d[0])
	}
	return nil
}

// writeProgBuf loads s0 with the address, then writes each word to s1 and
// executes sw/addi. After the first word the command is re-run by
// autoexec on every data0 write.
func (e *Engine) writeProgBuf(ctx context.Context, addr uint64, data []byte) error {
	prog := []uint32{SW(GPRS1, GPRS0, 0), ADDI(GPRS0, GPRS0, ChunkAlign), InsnEbreak}
	cmd := Command{Type: CmdAccessRegister, Size: e.xlen, RegNo: RegNoGPR(GPRS0), Transfer: true, Write: true}
	if _, err := e.RunAbstractCommand(ctx, cmd, prog, e.splitWord(addr)); err != nil {
		return err
	}
	cmd = Command{Type: CmdAccessRegister, Size: e.xlen, RegNo: RegNoGPR(GPRS1), Transfer: true, Write: true, PostExec: true}
	first := uint64(binary.LittleEndian.Uint32(data))
	if _, err := e.RunAbstractCommand(ctx, cmd, nil, e.splitWord(first)); err != nil {
		return err
	}

	words := len(data) / ChunkAlign
	if words == 1 {
		return nil
	}
	if err := e.dmi.Write(ctx, RegAbstractAuto, AbstractAutoExecData0); err != nil {
		return err
	}
	var err error
	for i := 1; i < words && err == nil; i++ {
		w := binary.LittleEndian.Uint32(data[i*ChunkAlign:])
		if err = e.dmi.Write(ctx, RegData0, w); err == nil {
			err = e.waitCommand(ctx, cmd)
		}
	}
	return errors.Join(err, e.dmi.Write(ctx, RegAbstractAuto, 0))
}

// accessMemory moves one word per access-memory command. The address goes
// in arg1, which starts after the xlen sized arg0.
func (e *Engine) accessMemory(ctx context.Context, addr uint64, buf []byte, write bool) error {
	w := e.regWords()
	if 2*w > e.dataCount {
		return common.NewErrorf(cosim.ErrCmdNotSupported, "memory access needs %d data registers, debug module has %d", 2*w, e.dataCount)
	}
	cmd := Command{Type: CmdAccessMemory, Size: 32, Write: write}
	for off := 0; off < len(buf); off += ChunkAlign {
		args := make([]uint32, 2*w)
		a := addr + uint64(off)
		args[w] = uint32(a)
		if w > 1 {
			args[w+1] = uint32(a >> 32)
		}
		if write {
			args[0] = binary.LittleEndian.Uint32(buf[off:])
		}
		d, err := e.RunAbstractCommand(ctx, cmd, nil, args)
		if err != nil {
			return err
		}
		if !write {
			binary.LittleEndian.PutUint32(buf[off:], d[0])
		}
	}
	return nil
}

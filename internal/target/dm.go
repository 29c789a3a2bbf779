package target

import (
	"fmt"

	"cosim/internal/dtm"
)

const hartInfoNScratch1 = 1 << 20

// debugModule is a RISC-V 0.13 debug module for one hart, reached as a
// DMI slave. Abstract commands take a configurable number of clocks.
type debugModule struct {
	t    *Target
	hart *Hart

	progBufSize int
	dataCount   int
	busyCycles  int
	latency     int

	active    bool
	hartSel   uint32
	haltReq   bool
	resumeAck bool
	haveReset bool
	hartReset bool

	data     [dtm.MaxDataCount]uint32
	progBuf  [dtm.MaxProgBufSize]uint32
	command  uint32
	cmdErr   dtm.CmdErr
	busy     int
	autoExec uint32

	// DMI slave state
	lastReady bool
	pending   bool
	respWait  int
	respValid bool
	resp      dtm.Resp
}

func newDebugModule(t *Target, cfg Config) *debugModule {
	return &debugModule{
		t:           t,
		hart:        t.hart,
		progBufSize: cfg.ProgBufSize,
		dataCount:   cfg.DataCount,
		busyCycles:  cfg.BusyCycles,
		latency:     cfg.DMILatency,
		lastReady:   true,
	}
}

func (dm *debugModule) inputs() dtm.TargetInputs {
	return dtm.TargetInputs{ReqReady: dm.lastReady, RespValid: dm.respValid, RespBits: dm.resp}
}

// clock runs one edge. ReqReady afterwards reports whether a request could be
// taken at this edge, so the port sees its request taken on the next tick.
func (dm *debugModule) clock(out dtm.TargetOutputs) {
	if dm.busy > 0 {
		dm.busy--
		if dm.busy == 0 {
			dm.execute()
		}
	}
	if dm.haltReq && dm.selected() && !dm.hart.halted && !dm.hartReset {
		dm.hart.enterDebug(debugCauseHaltReq)
	}

	if dm.respValid && out.RespReady {
		dm.respValid = false
		dm.pending = false
	}
	if dm.pending && !dm.respValid {
		if dm.respWait > 0 {
			dm.respWait--
		}
		if dm.respWait == 0 {
			dm.respValid = true
		}
	}

	dm.lastReady = !dm.pending
	if !out.ReqValid || !dm.lastReady {
		return
	}
	dm.resp = dm.access(out.ReqBits)
	dm.pending = true
	dm.respWait = dm.latency
	if dm.respWait == 0 {
		dm.respValid = true
	}
}

func (dm *debugModule) selected() bool {
	return dm.hartSel == 0
}

func (dm *debugModule) access(req dtm.Req) dtm.Resp {
	switch req.Op {
	case dtm.OpNop:
		return dtm.Resp{}
	case dtm.OpRead:
		return dtm.Resp{Data: dm.read(req.Addr)}
	case dtm.OpWrite:
		dm.write(req.Addr, req.Data)
		return dtm.Resp{}
	}
	return dtm.Resp{Resp: dtm.RespFailed}
}

func (dm *debugModule) dataIndex(addr uint32) (int, bool) {
	i := int(addr) - dtm.RegData0
	return i, i >= 0 && i < dm.dataCount
}

func (dm *debugModule) progBufIndex(addr uint32) (int, bool) {
	i := int(addr) - dtm.RegProgBuf0
	return i, i >= 0 && i < dm.progBufSize
}

func (dm *debugModule) read(addr uint32) uint32 {
	if i, ok := dm.dataIndex(addr); ok {
		if dm.busy > 0 {
			dm.setCmdErr(dtm.CmdErrBusy)
			return dm.data[i]
		}
		v := dm.data[i]
		if i == 0 {
			dm.autoExecute()
		}
		return v
	}
	if i, ok := dm.progBufIndex(addr); ok {
		return dm.progBuf[i]
	}

	switch addr {
	case dtm.RegDMControl:
		v := dtm.HartSel(dm.hartSel)
		if dm.active {
			v |= dtm.DMControlDMActive
		}
		return v
	case dtm.RegDMStatus:
		return dm.status()
	case dtm.RegHartInfo:
		return hartInfoNScratch1
	case dtm.RegAbstractCS:
		return dtm.AbstractCS(dm.progBufSize, dm.dataCount, dm.busy > 0, dm.cmdErr)
	case dtm.RegAbstractAuto:
		return dm.autoExec
	}
	return 0
}

func (dm *debugModule) status() uint32 {
	st := uint32(dtm.DMStatusVersion013 | dtm.DMStatusAuthenticated)
	if !dm.selected() {
		return st
	}
	if dm.hart.halted {
		st |= dtm.DMStatusAllHalted | dtm.DMStatusAnyHalted
	} else {
		st |= dtm.DMStatusAllRunning | dtm.DMStatusAnyRunning
	}
	if dm.resumeAck {
		st |= dtm.DMStatusAllResumeAck | dtm.DMStatusAnyResumeAck
	}
	if dm.haveReset {
		st |= dtm.DMStatusAllHaveReset | dtm.DMStatusAnyHaveReset
	}
	return st
}

func (dm *debugModule) write(addr, v uint32) {
	if addr == dtm.RegDMControl {
		dm.writeControl(v)
		return
	}
	if !dm.active {
		return
	}
	if i, ok := dm.dataIndex(addr); ok {
		if dm.busy > 0 {
			dm.setCmdErr(dtm.CmdErrBusy)
			return
		}
		dm.data[i] = v
		if i == 0 {
			dm.autoExecute()
		}
		return
	}
	if i, ok := dm.progBufIndex(addr); ok {
		if dm.busy > 0 {
			dm.setCmdErr(dtm.CmdErrBusy)
			return
		}
		dm.progBuf[i] = v
		return
	}

	switch addr {
	case dtm.RegAbstractCS:
		if dm.busy > 0 {
			dm.setCmdErr(dtm.CmdErrBusy)
			return
		}
		dm.cmdErr &^= dtm.CmdErrOf(v)
	case dtm.RegCommand:
		if dm.busy > 0 {
			dm.setCmdErr(dtm.CmdErrBusy)
			return
		}
		if dm.cmdErr != dtm.CmdErrNone {
			return
		}
		dm.command = v
		dm.start()
	case dtm.RegAbstractAuto:
		if dm.busy > 0 {
			dm.setCmdErr(dtm.CmdErrBusy)
			return
		}
		dm.autoExec = v & dtm.AbstractAutoExecData0
	}
}

func (dm *debugModule) writeControl(v uint32) {
	if v&dtm.DMControlDMActive == 0 {
		dm.deactivate()
		return
	}
	dm.active = true
	dm.hartSel = dtm.HartSelOf(v)
	if !dm.selected() {
		return
	}
	dm.haltReq = v&dtm.DMControlHaltReq != 0
	if v&dtm.DMControlAckHaveReset != 0 {
		dm.haveReset = false
	}

	reset := v&dtm.DMControlHartReset != 0
	if reset {
		dm.t.resetHart()
		dm.haveReset = true
	}
	if dm.hartReset && !reset && dm.haltReq {
		dm.hart.enterDebug(debugCauseHaltReq)
	}
	dm.hartReset = reset

	if v&dtm.DMControlResumeReq != 0 && !dm.haltReq {
		dm.resumeAck = false
		if dm.hart.halted {
			dm.hart.resume()
		}
		dm.resumeAck = true
	}
}

func (dm *debugModule) deactivate() {
	*dm = debugModule{
		t:           dm.t,
		hart:        dm.hart,
		progBufSize: dm.progBufSize,
		dataCount:   dm.dataCount,
		busyCycles:  dm.busyCycles,
		latency:     dm.latency,
		lastReady:   dm.lastReady,
		pending:     dm.pending,
		respWait:    dm.respWait,
		respValid:   dm.respValid,
		resp:        dm.resp,
	}
}

func (dm *debugModule) setCmdErr(e dtm.CmdErr) {
	if dm.cmdErr == dtm.CmdErrNone {
		dm.cmdErr = e
	}
}

func (dm *debugModule) autoExecute() {
	if dm.autoExec&dtm.AbstractAutoExecData0 != 0 && dm.cmdErr == dtm.CmdErrNone {
		dm.start()
	}
}

func (dm *debugModule) start() {
	dm.busy = max(dm.busyCycles, 1)
}

// execute completes the current abstract command.
func (dm *debugModule) execute() {
	cmd := dtm.DecodeCommand(dm.command)
	if !dm.hart.halted {
		dm.setCmdErr(dtm.CmdErrHaltResume)
		return
	}
	var err dtm.CmdErr
	switch cmd.Type {
	case dtm.CmdAccessRegister:
		err = dm.accessRegister(cmd)
	case dtm.CmdAccessMemory:
		err = dm.accessMemory(cmd)
	default:
		err = dtm.CmdErrNotSupported
	}
	if err != dtm.CmdErrNone {
		dm.t.LogDebug(fmt.Sprintf("abstract command %s: cmderr %s", cmd, err))
		dm.setCmdErr(err)
	}
}

func (dm *debugModule) accessRegister(cmd dtm.Command) dtm.CmdErr {
	if cmd.Transfer {
		if cmd.Size != 32 {
			return dtm.CmdErrNotSupported
		}
		if e := dm.transfer(cmd.RegNo, cmd.Write); e != dtm.CmdErrNone {
			return e
		}
	}
	if cmd.PostIncrement {
		dm.command = dm.command&^0xFFFF | uint32(cmd.RegNo+1)
	}
	if cmd.PostExec {
		return dm.runProgBuf()
	}
	return dtm.CmdErrNone
}

func (dm *debugModule) transfer(regNo uint16, write bool) dtm.CmdErr {
	h := dm.hart
	if regNo >= dtm.RegNoGPR0 && regNo < dtm.RegNoGPR0+32 {
		n := int(regNo - dtm.RegNoGPR0)
		if write {
			h.SetX(n, dm.data[0])
		} else {
			dm.data[0] = h.X(n)
		}
		return dtm.CmdErrNone
	}
	if regNo > 0xFFF {
		return dtm.CmdErrException
	}
	csr := uint32(regNo)
	if write {
		if !h.writeCSR(csr, dm.data[0]) {
			return dtm.CmdErrException
		}
		return dtm.CmdErrNone
	}
	v, ok := h.readCSR(csr)
	if !ok {
		return dtm.CmdErrException
	}
	dm.data[0] = v
	return dtm.CmdErrNone
}

// runProgBuf executes the program buffer up to an ebreak. The end of the
// buffer is an implicit ebreak.
func (dm *debugModule) runProgBuf() dtm.CmdErr {
	for i := 0; i < dm.progBufSize; i++ {
		insn := dm.progBuf[i]
		if insn == insnEbreak {
			break
		}
		_, brjmp, t := dm.hart.execute(0, insn)
		if t != nil || brjmp {
			dm.t.LogDebug(fmt.Sprintf("progbuf[%d] 0x%08x: exception", i, insn))
			return dtm.CmdErrException
		}
	}
	return dtm.CmdErrNone
}

func (dm *debugModule) accessMemory(cmd dtm.Command) dtm.CmdErr {
	if dm.dataCount < 2 {
		return dtm.CmdErrNotSupported
	}
	var n int
	switch cmd.Size {
	case 8, 16, 32:
		n = cmd.Size / 8
	default:
		return dtm.CmdErrNotSupported
	}
	addr := uint64(dm.data[1])
	if addr%uint64(n) != 0 {
		return dtm.CmdErrBus
	}
	var b [4]byte
	if cmd.Write {
		v := dm.data[0]
		for i := 0; i < n; i++ {
			b[i] = byte(v >> (8 * i))
		}
		if err := dm.t.mem.WriteTargetMemory(addr, b[:n]); err != nil {
			return dtm.CmdErrBus
		}
	} else {
		if err := dm.t.mem.ReadTargetMemory(addr, b[:n]); err != nil {
			return dtm.CmdErrBus
		}
		var v uint32
		for i := 0; i < n; i++ {
			v |= uint32(b[i]) << (8 * i)
		}
		dm.data[0] = v
	}
	if cmd.PostIncrement {
		dm.data[1] += uint32(n)
	}
	return dtm.CmdErrNone
}

func (dm *debugModule) String() string {
	return fmt.Sprintf("dm active=%v halted=%v busy=%d cmderr=%s", dm.active, dm.hart.halted, dm.busy, dm.cmdErr)
}

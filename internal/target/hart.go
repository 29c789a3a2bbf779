package target

import (
	"encoding/binary"
	"fmt"

	"cosim/internal/memacc"
)

// CSR numbers implemented by the hart.
const (
	CSRStats    = 0x0C0
	CSRMStatus  = 0x300
	CSRMTVec    = 0x305
	CSRMScratch = 0x340
	CSRMEPC     = 0x341
	CSRMCause   = 0x342
	CSRMTVal    = 0x343
	CSRToHost   = 0x780
	CSRFromHost = 0x781
	CSRDCSR     = 0x7B0
	CSRDPC      = 0x7B1
	CSRDScratch = 0x7B2
	CSRCycle    = 0xC00
	CSRInstRet  = 0xC02
	CSRMHartID  = 0xF10
)

// InsnBubble is the xor x0,x0,x0 the core places in execute when nothing
// retires.
const InsnBubble = 0x4033

// exception causes
const (
	causeMisalignedFetch = 0
	causeFetchAccess     = 1
	causeIllegalInsn     = 2
	causeBreakpoint      = 3
	causeMisalignedLoad  = 4
	causeLoadAccess      = 5
	causeMisalignedStore = 6
	causeStoreAccess     = 7
	causeECallM          = 11
)

// dcsr fields
const (
	dcsrXDebugVer  = 4 << 28
	dcsrEbreakM    = 1 << 15
	dcsrCauseShift = 6
	dcsrCauseMask  = 7 << dcsrCauseShift
	dcsrStep       = 1 << 2
	dcsrPrvM       = 3

	debugCauseEbreak  = 1
	debugCauseHaltReq = 3
	debugCauseStep    = 4
)

const (
	insnECall  = 0x00000073
	insnEbreak = 0x00100073
	insnMRet   = 0x30200073
	insnWFI    = 0x10500073
)

type trap struct {
	cause uint32
	tval  uint32
}

func (t *trap) Error() string {
	return fmt.Sprintf("trap cause %d tval 0x%x", t.cause, t.tval)
}

// Hart is an RV32I hart with machine mode CSRs and debug mode. It retires
// at most one instruction per clock.
type Hart struct {
	id  uint32
	mem *memacc.Mapper

	x   [32]uint32
	pc  uint32
	csr map[uint32]uint32

	halted  bool
	cycle   uint64
	instret uint64
}

func newHart(id uint32, mem *memacc.Mapper, pc uint32) *Hart {
	h := &Hart{id: id, mem: mem}
	h.reset(pc)
	return h
}

func (h *Hart) reset(pc uint32) {
	h.x = [32]uint32{}
	h.pc = pc
	h.csr = map[uint32]uint32{
		CSRStats:    0,
		CSRMStatus:  0,
		CSRMTVec:    0,
		CSRMScratch: 0,
		CSRMEPC:     0,
		CSRMCause:   0,
		CSRMTVal:    0,
		CSRToHost:   0,
		CSRFromHost: 0,
		CSRDCSR:     0,
		CSRDPC:      0,
		CSRDScratch: 0,
	}
	h.halted = false
	h.cycle = 0
	h.instret = 0
}

// ID returns the hart id.
func (h *Hart) ID() uint32 { return h.id }

// PC returns the address of the next instruction.
func (h *Hart) PC() uint32 { return h.pc }

// SetPC moves the hart to pc.
func (h *Hart) SetPC(pc uint32) { h.pc = pc }

// X returns general purpose register n.
func (h *Hart) X(n int) uint32 { return h.x[n&0x1F] }

// SetX writes general purpose register n. Writes to x0 are dropped.
func (h *Hart) SetX(n int, v uint32) {
	if n&0x1F != 0 {
		h.x[n&0x1F] = v
	}
}

// Halted reports whether the hart is in debug mode.
func (h *Hart) Halted() bool { return h.halted }

// InstRet is the number of instructions retired since reset.
func (h *Hart) InstRet() uint64 { return h.instret }

// CSR reads a CSR without side effects. Unknown CSRs read as zero.
func (h *Hart) CSR(n uint32) uint32 {
	v, _ := h.readCSR(n)
	return v
}

func (h *Hart) readCSR(n uint32) (uint32, bool) {
	switch n {
	case CSRCycle:
		return uint32(h.cycle), true
	case CSRInstRet:
		return uint32(h.instret), true
	case CSRMHartID:
		return h.id, true
	case CSRDCSR:
		return dcsrXDebugVer | h.csr[CSRDCSR] | dcsrPrvM, true
	}
	v, ok := h.csr[n]
	return v, ok
}

func (h *Hart) writeCSR(n, v uint32) bool {
	switch n {
	case CSRCycle, CSRInstRet, CSRMHartID:
		return false
	case CSRDCSR:
		v &= dcsrEbreakM | dcsrCauseMask | dcsrStep
	case CSRMEPC, CSRDPC, CSRMTVec:
		v &^= 3
	}
	if _, ok := h.csr[n]; !ok {
		return false
	}
	h.csr[n] = v
	return true
}

// StatsEnabled reports bit 0 of the stats CSR.
func (h *Hart) StatsEnabled() bool { return h.csr[CSRStats]&1 != 0 }

func (h *Hart) enterDebug(cause uint32) {
	h.csr[CSRDPC] = h.pc
	h.csr[CSRDCSR] = h.csr[CSRDCSR]&^dcsrCauseMask | cause<<dcsrCauseShift
	h.halted = true
}

func (h *Hart) resume() {
	h.pc = h.csr[CSRDPC]
	h.halted = false
}

func (h *Hart) takeTrap(pc uint32, t *trap) {
	h.csr[CSRMEPC] = pc
	h.csr[CSRMCause] = t.cause
	h.csr[CSRMTVal] = t.tval
	h.pc = h.csr[CSRMTVec]
}

// retired describes the instruction in execute for one clock.
type retired struct {
	valid bool
	pc    uint32
	next  uint32
	inst  uint32
	brjmp bool
}

// clock advances a running hart by one instruction.
func (h *Hart) clock() retired {
	h.cycle++
	if h.halted {
		return retired{inst: InsnBubble}
	}
	pc := h.pc
	r := retired{valid: true, pc: pc, inst: InsnBubble}

	inst, t := h.fetch(pc)
	if t == nil {
		r.inst = inst
		if inst == insnEbreak && h.csr[CSRDCSR]&dcsrEbreakM != 0 {
			h.enterDebug(debugCauseEbreak)
			return retired{inst: InsnBubble}
		}
		var next uint32
		next, r.brjmp, t = h.execute(pc, inst)
		if t == nil {
			h.pc = next
			h.instret++
		}
	}
	if t != nil {
		h.takeTrap(pc, t)
	}
	r.next = h.pc

	if h.csr[CSRDCSR]&dcsrStep != 0 {
		h.enterDebug(debugCauseStep)
	}
	return r
}

func (h *Hart) fetch(pc uint32) (uint32, *trap) {
	if pc&3 != 0 {
		return 0, &trap{causeMisalignedFetch, pc}
	}
	inst, err := h.mem.ReadUint32(uint64(pc))
	if err != nil {
		return 0, &trap{causeFetchAccess, pc}
	}
	return inst, nil
}

func (h *Hart) load(addr, funct3 uint32) (uint32, *trap) {
	size := uint32(1) << (funct3 & 3)
	if funct3&3 == 3 || funct3 > 5 {
		return 0, &trap{causeIllegalInsn, 0}
	}
	if addr&(size-1) != 0 {
		return 0, &trap{causeMisalignedLoad, addr}
	}
	var b [4]byte
	if err := h.mem.ReadTargetMemory(uint64(addr), b[:size]); err != nil {
		return 0, &trap{causeLoadAccess, addr}
	}
	v := binary.LittleEndian.Uint32(b[:])
	switch funct3 {
	case 0:
		v = uint32(int32(int8(v)))
	case 1:
		v = uint32(int32(int16(v)))
	}
	return v, nil
}

func (h *Hart) store(addr, funct3, v uint32) *trap {
	if funct3 > 2 {
		return &trap{causeIllegalInsn, 0}
	}
	size := uint32(1) << funct3
	if addr&(size-1) != 0 {
		return &trap{causeMisalignedStore, addr}
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	if err := h.mem.WriteTargetMemory(uint64(addr), b[:size]); err != nil {
		return &trap{causeStoreAccess, addr}
	}
	return nil
}

// execute runs inst as if fetched from pc. It returns the next pc and
// whether inst is a branch or jump. Architectural state is unchanged when a
// trap is returned.
func (h *Hart) execute(pc, inst uint32) (next uint32, brjmp bool, t *trap) {
	next = pc + 4
	op := inst & 0x7F
	rd := inst >> 7 & 0x1F
	f3 := inst >> 12 & 7
	rs1 := inst >> 15 & 0x1F
	rs2 := inst >> 20 & 0x1F
	f7 := inst >> 25
	a, b := h.x[rs1], h.x[rs2]

	immI := uint32(int32(inst) >> 20)
	immS := uint32(int32(inst)>>25<<5) | rd
	immB := uint32(int32(inst)>>31<<12) | inst<<4&0x800 | inst>>20&0x7E0 | inst>>7&0x1E
	immU := inst &^ 0xFFF
	immJ := uint32(int32(inst)>>31<<20) | inst&0xFF000 | inst>>9&0x800 | inst>>20&0x7FE

	illegal := &trap{causeIllegalInsn, inst}
	var res uint32
	wb := true

	switch op {
	case 0x37: // lui
		res = immU
	case 0x17: // auipc
		res = pc + immU
	case 0x6F: // jal
		res, next, brjmp = pc+4, pc+immJ, true
	case 0x67: // jalr
		if f3 != 0 {
			return 0, false, illegal
		}
		res, next, brjmp = pc+4, (a+immI)&^1, true
	case 0x63:
		var taken bool
		switch f3 {
		case 0:
			taken = a == b
		case 1:
			taken = a != b
		case 4:
			taken = int32(a) < int32(b)
		case 5:
			taken = int32(a) >= int32(b)
		case 6:
			taken = a < b
		case 7:
			taken = a >= b
		default:
			return 0, false, illegal
		}
		if taken {
			next = pc + immB
		}
		brjmp, wb = true, false
	case 0x03:
		v, lt := h.load(a+immI, f3)
		if lt != nil {
			if lt.cause == causeIllegalInsn {
				lt.tval = inst
			}
			return 0, false, lt
		}
		res = v
	case 0x23:
		if st := h.store(a+immS, f3, b); st != nil {
			if st.cause == causeIllegalInsn {
				st.tval = inst
			}
			return 0, false, st
		}
		wb = false
	case 0x13:
		shamt := immI & 0x1F
		switch f3 {
		case 0:
			res = a + immI
		case 1:
			if f7 != 0 {
				return 0, false, illegal
			}
			res = a << shamt
		case 2:
			res = b2u(int32(a) < int32(immI))
		case 3:
			res = b2u(a < immI)
		case 4:
			res = a ^ immI
		case 5:
			switch f7 {
			case 0:
				res = a >> shamt
			case 0x20:
				res = uint32(int32(a) >> shamt)
			default:
				return 0, false, illegal
			}
		case 6:
			res = a | immI
		case 7:
			res = a & immI
		}
	case 0x33:
		if f7 != 0 && !(f7 == 0x20 && (f3 == 0 || f3 == 5)) {
			return 0, false, illegal
		}
		switch f3 {
		case 0:
			if f7 == 0x20 {
				res = a - b
			} else {
				res = a + b
			}
		case 1:
			res = a << (b & 0x1F)
		case 2:
			res = b2u(int32(a) < int32(b))
		case 3:
			res = b2u(a < b)
		case 4:
			res = a ^ b
		case 5:
			if f7 == 0x20 {
				res = uint32(int32(a) >> (b & 0x1F))
			} else {
				res = a >> (b & 0x1F)
			}
		case 6:
			res = a | b
		case 7:
			res = a & b
		}
	case 0x0F: // fence, fence.i
		wb = false
	case 0x73:
		if f3 == 0 {
			wb = false
			switch inst {
			case insnECall:
				return 0, false, &trap{causeECallM, 0}
			case insnEbreak:
				return 0, false, &trap{causeBreakpoint, pc}
			case insnMRet:
				next, brjmp = h.csr[CSRMEPC], true
			case insnWFI:
			default:
				return 0, false, illegal
			}
			break
		}
		v, ct := h.csrOp(f3, rs1, immI&0xFFF, a)
		if ct != nil {
			ct.tval = inst
			return 0, false, ct
		}
		res = v
	default:
		return 0, false, illegal
	}

	if wb && rd != 0 {
		h.x[rd] = res
	}
	return next, brjmp, nil
}

// csrOp performs csrrw/csrrs/csrrc and their immediate forms, returning the
// old value.
func (h *Hart) csrOp(f3, rs1, csr, a uint32) (uint32, *trap) {
	old, ok := h.readCSR(csr)
	if !ok {
		return 0, &trap{causeIllegalInsn, 0}
	}
	src := a
	if f3&4 != 0 {
		src = rs1
	}
	var v uint32
	switch f3 & 3 {
	case 1:
		v = src
	case 2:
		if rs1 == 0 {
			return old, nil
		}
		v = old | src
	case 3:
		if rs1 == 0 {
			return old, nil
		}
		v = old &^ src
	default:
		return 0, &trap{causeIllegalInsn, 0}
	}
	if !h.writeCSR(csr, v) {
		return 0, &trap{causeIllegalInsn, 0}
	}
	return old, nil
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

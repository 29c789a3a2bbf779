package target

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cosim/internal/common"
	"cosim/internal/cosim"
	"cosim/internal/dtm"
	"cosim/internal/htif"
)

// encoders for the instructions the dtm package has no helper for

func rtype(f7, rs2, rs1, f3, rd uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | 0x33
}

func btype(f3, rs1, rs2 uint32, off int32) uint32 {
	u := uint32(off)
	return u>>12&1<<31 | u>>5&0x3F<<25 | rs2<<20 | rs1<<15 | f3<<12 | u>>1&0xF<<8 | u>>11&1<<7 | 0x63
}

func jal(rd uint32, off int32) uint32 {
	u := uint32(off)
	return u>>20&1<<31 | u>>1&0x3FF<<21 | u>>11&1<<20 | u>>12&0xFF<<12 | rd<<7 | 0x6F
}

func words(ws ...uint32) []byte {
	b := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	return b
}

// sumProgram adds 10..1 into x10, stores it at 0x100, then signals a pass
// through tohost and spins.
var sumProgram = []uint32{
	dtm.ADDI(10, 0, 0),
	dtm.ADDI(11, 0, 10),
	rtype(0, 11, 10, 0, 10), // loop: add x10,x10,x11
	dtm.ADDI(11, 11, -1),
	btype(1, 11, 0, -8), // bne x11,x0,loop
	dtm.SW(10, 0, 0x100),
	dtm.ADDI(12, 0, 1),
	dtm.CSRRx(dtm.CSRWrite, 0, CSRToHost, 12),
	jal(0, 0),
}

func newTarget(t *testing.T, cfg Config, prog []uint32) *Target {
	t.Helper()
	tgt, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(tgt.Close)
	if err := tgt.Load(uint64(tgt.Config().ResetVector), words(prog...)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return tgt
}

func idle(tgt *Target) {
	tgt.Tick(false, htif.TargetOutputs{CSRRespReady: true}, dtm.TargetOutputs{RespReady: true})
}

func TestHartRunsProgram(t *testing.T) {
	tgt := newTarget(t, Config{}, sumProgram)

	var branches int
	for i := 0; i < 100 && tgt.ToHost() == 0; i++ {
		idle(tgt)
		if s := tgt.Signals(); s.ExeBrJmp {
			branches++
		}
	}
	if tgt.ToHost() != 1 {
		t.Fatalf("tohost = %d after %d cycles", tgt.ToHost(), tgt.Cycle())
	}
	h := tgt.Hart()
	if h.X(10) != 55 {
		t.Errorf("x10 = %d, want 55", h.X(10))
	}
	if v, _ := tgt.Memory().ReadUint32(0x100); v != 55 {
		t.Errorf("mem[0x100] = %d, want 55", v)
	}
	if h.InstRet() != 35 || tgt.Cycle() != 35 {
		t.Errorf("instret %d in %d cycles, want 35 in 35", h.InstRet(), tgt.Cycle())
	}
	if branches != 10 {
		t.Errorf("branches = %d, want 10", branches)
	}
}

func TestSignals(t *testing.T) {
	tgt := newTarget(t, Config{ResetVector: 0x400}, sumProgram)

	// reset holds the hart at the reset vector with a bubble in execute
	for i := 0; i < 3; i++ {
		tgt.Tick(true, htif.TargetOutputs{}, dtm.TargetOutputs{})
	}
	want := Signals{FetchPC: 0x400, ExeInst: InsnBubble}
	if diff := cmp.Diff(want, tgt.Signals()); diff != "" {
		t.Errorf("signals in reset (-want +got):\n%s", diff)
	}

	for i := 0; i < 5; i++ {
		idle(tgt)
	}
	want = Signals{
		FetchPC:   0x408,
		Retired:   true,
		ExePC:     0x410,
		ExePCNext: 0x408,
		ExeBrJmp:  true,
		ExeInst:   sumProgram[4],
	}
	if diff := cmp.Diff(want, tgt.Signals()); diff != "" {
		t.Errorf("signals after taken branch (-want +got):\n%s", diff)
	}
}

func TestHartTraps(t *testing.T) {
	tests := []struct {
		name  string
		prog  []uint32
		setup func(h *Hart)
		cause uint32
		tval  uint32
	}{
		{"illegal", []uint32{0xFFFFFFFF}, nil, causeIllegalInsn, 0xFFFFFFFF},
		{"ecall", []uint32{insnECall}, nil, causeECallM, 0},
		{"ebreak", []uint32{insnEbreak}, nil, causeBreakpoint, 0x2000},
		{"misaligned load", []uint32{dtm.LW(5, 0, 2)}, nil, causeMisalignedLoad, 2},
		{"load fault", []uint32{dtm.LW(5, 6, 0)}, func(h *Hart) { h.SetX(6, 0x40000000) }, causeLoadAccess, 0x40000000},
		{"read-only csr", []uint32{dtm.CSRRx(dtm.CSRWrite, 0, CSRMHartID, 1)}, nil, causeIllegalInsn, dtm.CSRRx(dtm.CSRWrite, 0, CSRMHartID, 1)},
		{"unknown csr", []uint32{dtm.CSRRx(dtm.CSRSet, 1, 0x7FF, 0)}, nil, causeIllegalInsn, dtm.CSRRx(dtm.CSRSet, 1, 0x7FF, 0)},
		{"misaligned jump", []uint32{dtm.ADDI(1, 0, 0x102), 0x00008067 /* jalr x0,0(x1) */}, nil, causeMisalignedFetch, 0x102},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt := newTarget(t, Config{}, tt.prog)
			h := tgt.Hart()
			h.csr[CSRMTVec] = 0x800
			if tt.setup != nil {
				tt.setup(h)
			}
			for h.PC() != 0x800 && tgt.Cycle() < 4 {
				idle(tgt)
			}
			if h.PC() != 0x800 {
				t.Fatalf("pc = 0x%x, trap not taken", h.PC())
			}
			if h.CSR(CSRMCause) != tt.cause || h.CSR(CSRMTVal) != tt.tval {
				t.Errorf("mcause %d mtval 0x%x, want %d 0x%x", h.CSR(CSRMCause), h.CSR(CSRMTVal), tt.cause, tt.tval)
			}
			if h.X(5) != 0 {
				t.Errorf("destination written on trap")
			}
		})
	}
}

func TestEbreakEntersDebug(t *testing.T) {
	tgt := newTarget(t, Config{}, []uint32{dtm.ADDI(1, 0, 7), insnEbreak, dtm.ADDI(1, 1, 1)})
	h := tgt.Hart()
	h.csr[CSRDCSR] = dcsrEbreakM

	for i := 0; i < 5; i++ {
		idle(tgt)
	}
	if !h.Halted() {
		t.Fatalf("hart not halted on ebreak")
	}
	if h.CSR(CSRDPC) != 0x2004 || h.CSR(CSRDCSR)&dcsrCauseMask>>dcsrCauseShift != debugCauseEbreak {
		t.Errorf("dpc 0x%x dcsr 0x%x", h.CSR(CSRDPC), h.CSR(CSRDCSR))
	}
	if s := tgt.Signals(); s.Retired || s.ExeInst != InsnBubble {
		t.Errorf("halted hart retired %+v", s)
	}
	if h.X(1) != 7 {
		t.Errorf("x1 = %d", h.X(1))
	}
}

func TestHostMemoryChannel(t *testing.T) {
	tgt := newTarget(t, Config{MemLatency: 2}, nil)

	write := htif.TargetOutputs{Mem: htif.ChannelRequest{Valid: true, Addr: 0x1000, Data: 0x1122334455667788, Write: true}}
	tgt.Tick(true, write, dtm.TargetOutputs{})
	if v, _ := tgt.Memory().ReadUint64(0x1000); v != 0x1122334455667788 {
		t.Errorf("mem = 0x%x", v)
	}
	if in := tgt.HTIF(); !in.MemReqReady || in.MemRespValid {
		t.Errorf("write left channel %+v", in)
	}

	read := htif.TargetOutputs{Mem: htif.ChannelRequest{Valid: true, Addr: 0x1000}}
	tgt.Tick(true, read, dtm.TargetOutputs{})
	var got []htif.TargetInputs
	for i := 0; i < 4; i++ {
		got = append(got, tgt.HTIF())
		tgt.Tick(true, htif.TargetOutputs{}, dtm.TargetOutputs{})
	}
	busy := htif.TargetInputs{CSRReqReady: true}
	want := []htif.TargetInputs{
		busy,
		busy,
		{CSRReqReady: true, MemReqReady: true, MemRespValid: true, MemRespBits: 0x1122334455667788},
		{CSRReqReady: true, MemReqReady: true, MemRespBits: 0x1122334455667788},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("read handshake (-want +got):\n%s", diff)
	}
}

func TestHostCSRChannel(t *testing.T) {
	tgt := newTarget(t, Config{}, nil)

	req := htif.TargetOutputs{CSR: htif.ChannelRequest{Valid: true, Addr: CSRToHost, Data: 5, Write: true}}
	tgt.Tick(true, req, dtm.TargetOutputs{})
	in := tgt.HTIF()
	if !in.CSRRespValid || in.CSRRespBits != 0 || in.CSRReqReady {
		t.Errorf("after write: %+v", in)
	}
	if tgt.ToHost() != 5 {
		t.Errorf("tohost = %d", tgt.ToHost())
	}

	// the answer is held until taken, and nothing is accepted meanwhile
	again := htif.TargetOutputs{CSR: htif.ChannelRequest{Valid: true, Addr: CSRToHost, Data: 9, Write: true}}
	tgt.Tick(true, again, dtm.TargetOutputs{})
	if in := tgt.HTIF(); !in.CSRRespValid || tgt.ToHost() != 5 {
		t.Errorf("response dropped or request taken while busy: %+v tohost %d", in, tgt.ToHost())
	}
	tgt.Tick(true, htif.TargetOutputs{CSRRespReady: true}, dtm.TargetOutputs{})
	if in := tgt.HTIF(); in.CSRRespValid || !in.CSRReqReady {
		t.Errorf("response not taken: %+v", in)
	}

	read := htif.TargetOutputs{CSR: htif.ChannelRequest{Valid: true, Addr: CSRMHartID}, CSRRespReady: true}
	tgt.Tick(true, read, dtm.TargetOutputs{})
	if in := tgt.HTIF(); in.CSRRespBits != 0 {
		t.Errorf("mhartid = %d", in.CSRRespBits)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	hex := filepath.Join(dir, "prog.hex")
	if err := os.WriteFile(hex, []byte("0000006f000000130000001300000093\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(dir, "prog.bin")
	if err := os.WriteFile(bin, words(0xAABBCCDD), 0o644); err != nil {
		t.Fatal(err)
	}

	tgt := newTarget(t, Config{}, nil)
	if err := tgt.LoadFile(hex, 0x2000); err != nil {
		t.Fatalf("LoadFile hex: %v", err)
	}
	if err := tgt.LoadFile(bin, 0x3000); err != nil {
		t.Fatalf("LoadFile bin: %v", err)
	}
	got := make([]uint32, 5)
	for i := range got[:4] {
		got[i], _ = tgt.Memory().ReadUint32(0x2000 + uint64(4*i))
	}
	got[4], _ = tgt.Memory().ReadUint32(0x3000)
	want := []uint32{0x93, 0x13, 0x13, 0x6F, 0xAABBCCDD}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("loaded words (-want +got):\n%s", diff)
	}

	if err := tgt.LoadFile(filepath.Join(dir, "none.hex"), 0); common.CodeOf(err) != cosim.ErrFileError {
		t.Errorf("missing file: %v", err)
	}
}

func TestROM(t *testing.T) {
	rom := filepath.Join(t.TempDir(), "boot.bin")
	if err := os.WriteFile(rom, words(jal(0, 0)), 0o644); err != nil {
		t.Fatal(err)
	}
	tgt, err := New(Config{ROMPath: rom, ROMAddr: 0x80000000, ResetVector: 0x80000000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tgt.Close()
	for i := 0; i < 3; i++ {
		idle(tgt)
	}
	if tgt.Hart().PC() != 0x80000000 || tgt.Hart().InstRet() != 3 {
		t.Errorf("pc 0x%x instret %d", tgt.Hart().PC(), tgt.Hart().InstRet())
	}

	if _, err := New(Config{ROMPath: rom, ROMAddr: 0x100}); common.CodeOf(err) != cosim.ErrMemAccOverlap {
		t.Errorf("rom inside ram: %v", err)
	}
	if _, err := New(Config{DataCount: dtm.MaxDataCount + 1}); common.CodeOf(err) != cosim.ErrInvalidParamVal {
		t.Errorf("datacount: %v", err)
	}
}

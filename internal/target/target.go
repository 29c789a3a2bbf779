// Package target is a reference model of the simulated tile: one RV32I hart,
// its memory, the host memory and control register channels, and a debug
// module reached over DMI. The model is clocked by the stepping loop one
// edge at a time and exposes the same per-tick signals as the hardware.
package target

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cosim/internal/common"
	"cosim/internal/cosim"
	"cosim/internal/dtm"
	"cosim/internal/htif"
	"cosim/internal/memacc"
)

// Defaults for a zero Config.
const (
	DefaultMemSize     = 2 << 20
	DefaultResetVector = 0x2000
	DefaultProgBufSize = 4
	DefaultDataCount   = 2
	DefaultBusyCycles  = 2
)

// Config describes the modelled tile.
type Config struct {
	MemSize     uint64 // RAM at address zero
	ResetVector uint32
	HartID      uint32

	// MemLatency is the number of extra clocks before a host memory read
	// is answered.
	MemLatency int

	// ROMPath maps a binary image read-only at ROMAddr.
	ROMPath string
	ROMAddr uint64

	ProgBufSize int // negative for none
	DataCount   int
	BusyCycles  int // clocks taken by each abstract command
	DMILatency  int // extra clocks before each DMI response
}

func (c *Config) setDefaults() {
	if c.MemSize == 0 {
		c.MemSize = DefaultMemSize
	}
	if c.ResetVector == 0 {
		c.ResetVector = DefaultResetVector
	}
	switch {
	case c.ProgBufSize == 0:
		c.ProgBufSize = DefaultProgBufSize
	case c.ProgBufSize < 0:
		c.ProgBufSize = 0
	}
	if c.DataCount == 0 {
		c.DataCount = DefaultDataCount
	}
	if c.BusyCycles == 0 {
		c.BusyCycles = DefaultBusyCycles
	}
}

// Signals are the probes sampled by the tracer and branch predictor after
// each edge.
type Signals struct {
	FetchPC uint32 // instruction executed at the next edge

	Retired   bool // an instruction left execute at the last edge
	ExePC     uint32
	ExePCNext uint32
	ExeBrJmp  bool
	ExeInst   uint32 // InsnBubble when nothing retired

	Stats bool // stats CSR enable bit
}

// Target is the clocked tile model.
type Target struct {
	common.Component

	cfg   Config
	mem   *memacc.Mapper
	ram   *memacc.BufferAccessor
	hart  *Hart
	dm    *debugModule
	memCh memChannel
	csrCh csrChannel

	inReset bool
	cycle   cosim.Cycle
	sig     Signals
}

// New builds a target. The tile starts in reset.
func New(cfg Config) (*Target, error) {
	cfg.setDefaults()
	if cfg.ProgBufSize < 0 || cfg.ProgBufSize > dtm.MaxProgBufSize {
		return nil, common.NewErrorf(cosim.ErrInvalidParamVal, "program buffer size %d", cfg.ProgBufSize)
	}
	if cfg.DataCount < 1 || cfg.DataCount > dtm.MaxDataCount {
		return nil, common.NewErrorf(cosim.ErrInvalidParamVal, "data register count %d", cfg.DataCount)
	}

	t := &Target{cfg: cfg, mem: memacc.NewMapper(), inReset: true}
	t.InitComponent(cosim.CmpnamePrefixTarget)

	t.ram = memacc.NewRAM(0, cfg.MemSize)
	if err := t.mem.AddAccessor(t.ram); err != nil {
		return nil, err
	}
	if cfg.ROMPath != "" {
		rom, err := memacc.NewFileAccessor(cfg.ROMPath, cfg.ROMAddr, 0, 0)
		if err != nil {
			return nil, err
		}
		if err := t.mem.AddAccessor(rom); err != nil {
			rom.Close()
			return nil, err
		}
	}

	t.hart = newHart(cfg.HartID, t.mem, cfg.ResetVector)
	t.dm = newDebugModule(t, cfg)
	t.memCh = memChannel{t: t, latency: cfg.MemLatency}
	t.csrCh = csrChannel{t: t}
	t.sig = Signals{FetchPC: cfg.ResetVector, ExeInst: InsnBubble}
	return t, nil
}

// Close releases any mapped image files.
func (t *Target) Close() {
	t.mem.RemoveAllAccessors()
}

// Config returns the configuration in use, with defaults filled in.
func (t *Target) Config() Config { return t.cfg }

// Memory returns the target address space.
func (t *Target) Memory() *memacc.Mapper { return t.mem }

// Hart returns the modelled hart.
func (t *Target) Hart() *Hart { return t.hart }

// Cycle is the number of edges clocked.
func (t *Target) Cycle() cosim.Cycle { return t.cycle }

// ToHost returns the raw tohost register, the exit status once non-zero.
func (t *Target) ToHost() uint64 { return uint64(t.hart.csr[CSRToHost]) }

// Load copies image into memory at addr.
func (t *Target) Load(addr uint64, image []byte) error {
	return t.mem.WriteTargetMemory(addr, image)
}

// LoadFile loads a memory image. Files ending in .hex are loadmem text
// images, anything else is copied byte for byte.
func (t *Target) LoadFile(path string, addr uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return common.NewErrorf(cosim.ErrFileError, "loadmem: %v", err)
	}
	defer f.Close()

	var img []byte
	if strings.EqualFold(filepath.Ext(path), ".hex") {
		img, err = memacc.ReadHexImage(f)
	} else {
		var st os.FileInfo
		if st, err = f.Stat(); err == nil {
			img = make([]byte, st.Size())
			_, err = f.ReadAt(img, 0)
		}
	}
	if err != nil {
		return common.NewErrorf(cosim.ErrFileError, "loadmem %s: %v", path, err)
	}
	// images may be padded beyond the end of memory
	if rem := t.cfg.MemSize - min(addr, t.cfg.MemSize); uint64(len(img)) > rem {
		t.LogMessage(cosim.ErrSevWarn, fmt.Sprintf("loadmem %s: %d bytes beyond end of memory dropped", path, uint64(len(img))-rem))
		img = img[:rem]
	}
	if err := t.Load(addr, img); err != nil {
		return err
	}
	t.LogMessage(cosim.ErrSevInfo, fmt.Sprintf("loaded %d bytes from %s at 0x%x", len(img), path, addr))
	return nil
}

// HTIF returns the host channel signals for the coming tick.
func (t *Target) HTIF() htif.TargetInputs {
	return htif.TargetInputs{
		CSRReqReady:  !t.csrCh.respValid,
		MemReqReady:  !t.memCh.pending,
		CSRRespValid: t.csrCh.respValid,
		CSRRespBits:  t.csrCh.resp,
		MemRespValid: t.memCh.respValid,
		MemRespBits:  t.memCh.resp,
	}
}

// DMI returns the debug module interface signals for the coming tick.
func (t *Target) DMI() dtm.TargetInputs {
	return t.dm.inputs()
}

// Signals returns the probes for the last edge.
func (t *Target) Signals() Signals { return t.sig }

// Tick clocks one edge with the given reset line and channel requests.
func (t *Target) Tick(reset bool, h htif.TargetOutputs, d dtm.TargetOutputs) {
	t.cycle++

	t.memCh.clock(h.Mem)
	t.csrCh.clock(h.CSR, h.CSRRespReady)
	t.dm.clock(d)

	if reset {
		if !t.inReset {
			t.LogDebug(fmt.Sprintf("cycle %d: reset asserted", t.cycle))
		}
		t.resetHart()
	}
	t.inReset = reset

	var r retired
	if reset || t.dm.hartReset {
		r = retired{inst: InsnBubble}
	} else {
		r = t.hart.clock()
	}
	t.sig = Signals{
		FetchPC:   t.hart.pc,
		Retired:   r.valid,
		ExePC:     r.pc,
		ExePCNext: r.next,
		ExeBrJmp:  r.brjmp,
		ExeInst:   r.inst,
		Stats:     t.hart.StatsEnabled(),
	}
}

// resetHart puts the hart back at the reset vector. Memory and the
// host-visible tohost register survive so a finished program stays finished.
func (t *Target) resetHart() {
	tohost := t.hart.csr[CSRToHost]
	t.hart.reset(t.cfg.ResetVector)
	t.hart.csr[CSRToHost] = tohost
}

// hostCSR serves a control register access from the host and returns the
// previous value. Unknown registers read as zero and ignore writes.
func (t *Target) hostCSR(addr, data uint32, write bool) uint32 {
	old, ok := t.hart.readCSR(addr)
	if !ok {
		t.LogMessage(cosim.ErrSevWarn, fmt.Sprintf("host access to unknown csr 0x%03x", addr))
		return 0
	}
	if write && !t.hart.writeCSR(addr, data) {
		t.LogMessage(cosim.ErrSevWarn, fmt.Sprintf("host write to read-only csr 0x%03x ignored", addr))
	}
	return old
}

// Package tracer collects the instruction mix of the simulated core from the
// instruction in execute, while the program has stats enabled.
package tracer

import (
	"fmt"
	"io"
)

const (
	// Bubble is a machine generated no-op, xor x0,x0,x0.
	Bubble = 0x4033
	// Nop is addi x0,x0,0.
	Nop = 0x13
)

// Counters are the collected instruction mix.
type Counters struct {
	Cycles    uint64
	InstCount uint64

	Nop    uint64
	Bubble uint64
	LdSt   uint64
	Arith  uint64
	Branch uint64
	Misc   uint64
	Load   uint64
	Store  uint64
}

// Tracer counts one instruction per tick.
type Tracer struct {
	running bool
	c       Counters
}

// New returns a stopped tracer.
func New() *Tracer {
	return &Tracer{}
}

// Start clears the counters and starts collection. Counting still waits for
// the stats enable.
func (t *Tracer) Start() {
	t.running = true
	t.c = Counters{}
}

// Stop pauses collection.
func (t *Tracer) Stop() {
	t.running = false
}

// Counters returns the collected counts.
func (t *Tracer) Counters() Counters { return t.c }

// Tick classifies inst, the instruction in execute this cycle. incInst is
// false for pipelines that count instructions elsewhere.
func (t *Tracer) Tick(inst uint32, statsEnabled, incInst bool) {
	if !t.running || !statsEnabled {
		return
	}
	t.c.Cycles++

	opcode := inst & 0x7F
	opcLo := inst >> 2 & 0x7

	if incInst && inst != Bubble {
		t.c.InstCount++
	}
	switch {
	case inst == Nop:
		t.c.Nop++
	case inst == Bubble:
		t.c.Bubble++
	case opcode == 0x37: // lui
		t.c.Misc++
	case opcode == 0x63:
		t.c.Branch++
	case opcode == 0x03 || opcode == 0x23:
		t.c.LdSt++
		if opcode == 0x03 {
			t.c.Load++
		} else {
			t.c.Store++
		}
	case opcLo == 0x6 || opcLo == 0x4:
		t.c.Arith++
	default:
		t.c.Misc++
	}
}

// CPI is cycles per instruction.
func (c Counters) CPI() float64 { return ratio(c.Cycles, c.InstCount) }

// IPC is instructions per cycle.
func (c Counters) IPC() float64 { return ratio(c.InstCount, c.Cycles) }

func ratio(a, b uint64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func (c Counters) percent(n uint64) float64 { return 100 * ratio(n, c.Cycles) }

// Print writes the tracer report.
func (t *Tracer) Print(w io.Writer) {
	c := t.c
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "#----------- Tracer Data -----------\n")
	if c.Cycles == 0 {
		fmt.Fprintf(w, "\n#     No stats collected: stats were never enabled.\n\n")
	} else {
		fmt.Fprintf(w, "#\n")
	}
	fmt.Fprintf(w, "#      CPI   : %2.2f\n", c.CPI())
	fmt.Fprintf(w, "#      IPC   : %2.2f\n", c.IPC())
	fmt.Fprintf(w, "#      cycles: %d\n", c.Cycles)
	fmt.Fprintf(w, "#\n")
	fmt.Fprintf(w, "#      Bubbles     : %2.3f %%\n", c.percent(c.Bubble))
	fmt.Fprintf(w, "#      Nop instr   : %2.3f %%\n", c.percent(c.Nop))
	fmt.Fprintf(w, "#      Arith instr : %2.3f %%\n", c.percent(c.Arith))
	fmt.Fprintf(w, "#      Ld/St instr : %2.3f %%\n", c.percent(c.LdSt))
	fmt.Fprintf(w, "#        loads     : %2.3f %%\n", c.percent(c.Load))
	fmt.Fprintf(w, "#        stores    : %2.3f %%\n", c.percent(c.Store))
	fmt.Fprintf(w, "#      branch instr: %2.3f %%\n", c.percent(c.Branch))
	fmt.Fprintf(w, "#      misc instr  : %2.3f %%\n", c.percent(c.Misc))
	fmt.Fprintf(w, "#-----------------------------------\n")
	fmt.Fprintf(w, "\n")
}

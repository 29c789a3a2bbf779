// Package bp models branch predictors attached to the fetch and execute
// stages of the simulated core. A predictor is updated with each resolved
// instruction in execute and queried with the pc being fetched.
package bp

import (
	"fmt"
	"strings"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

// Bubble is the machine generated no-op in execute, which never trains a
// predictor.
const Bubble = 0x4033

// Kind selects a predictor implementation.
type Kind int

const (
	KindNone Kind = iota
	KindBTB
	KindFullyAssoc
)

var kindNames = map[Kind]string{
	KindNone:       "none",
	KindBTB:        "btb",
	KindFullyAssoc: "fa-btb",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a configuration name onto a Kind.
func ParseKind(s string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(s, n) {
			return k, nil
		}
	}
	return KindNone, common.NewErrorf(cosim.ErrInvalidParamVal, "unknown predictor %q", s)
}

// Predictor is implemented by each branch predictor.
type Predictor interface {
	// PredictFetch returns the predicted target for the instruction at pc,
	// or 0 to predict fall through.
	PredictFetch(pc uint32) uint32

	// UpdateExecute trains the predictor with an instruction whose next pc
	// is now known.
	UpdateExecute(pc, pcNext uint32, isBrJmp bool, inst uint32)
}

// Execute carries the execute stage probes into the predictor.
type Execute struct {
	PC     uint32
	PCNext uint32
	BrJmp  bool
	Inst   uint32
}

// Stats counts predictions checked against execute.
type Stats struct {
	Predictions uint64
	Taken       uint64
	Mispredicts uint64
}

// Unit clocks a Predictor from the stepping loop and checks its predictions.
type Unit struct {
	p Predictor

	havePred bool
	predPC   uint32
	predNext uint32
	stats    Stats
}

// New creates a predictor of kind with the given number of entries. Zero
// entries selects the default table size.
func New(kind Kind, entries int) (*Unit, error) {
	var p Predictor
	switch kind {
	case KindNone:
		p = none{}
	case KindBTB:
		if entries == 0 {
			entries = DefaultEntries
		}
		if entries&(entries-1) != 0 || entries < 0 {
			return nil, common.NewErrorf(cosim.ErrInvalidParamVal, "btb entries %d not a power of two", entries)
		}
		p = NewBTB(entries)
	case KindFullyAssoc:
		if entries == 0 {
			entries = DefaultAssocEntries
		}
		if entries < 0 {
			return nil, common.NewErrorf(cosim.ErrInvalidParamVal, "btb entries %d", entries)
		}
		p = NewFullyAssoc(entries)
	default:
		return nil, common.NewErrorf(cosim.ErrInvalidParamVal, "predictor kind %d", int(kind))
	}
	return &Unit{p: p}, nil
}

// Predictor returns the predictor being clocked.
func (u *Unit) Predictor() Predictor { return u.p }

// Stats returns the prediction counters.
func (u *Unit) Stats() Stats { return u.stats }

// ClockLow updates the predictor with the instruction in execute. Nothing
// happens in reset.
func (u *Unit) ClockLow(reset bool, exe Execute, retired bool) {
	if reset {
		u.havePred = false
		return
	}
	if retired && u.havePred && exe.PC == u.predPC {
		u.stats.Predictions++
		if exe.PCNext != u.predNext {
			u.stats.Mispredicts++
		}
	}
	u.havePred = false
	u.p.UpdateExecute(exe.PC, exe.PCNext, exe.BrJmp, exe.Inst)
}

// ClockHigh predicts the instruction being fetched. It returns the
// predicted target and whether a taken prediction was made.
func (u *Unit) ClockHigh(reset bool, fetchPC uint32) (uint32, bool) {
	if reset {
		return 0, false
	}
	target := u.p.PredictFetch(fetchPC)
	u.havePred = true
	u.predPC = fetchPC
	u.predNext = fetchPC + 4
	if target != 0 {
		u.predNext = target
		u.stats.Taken++
	}
	return target, target != 0
}

type none struct{}

func (none) PredictFetch(uint32) uint32                 { return 0 }
func (none) UpdateExecute(uint32, uint32, bool, uint32) {}

// Package script runs Lua debug scripts against a hart through the debug
// engine. Scripts see a global table "dbg":
//
//	dbg.init()              activate the debug module
//	dbg.halt() / dbg.resume() / dbg.step() / dbg.reset()
//	dbg.halted()            true if the hart is halted
//	dbg.xlen()
//	dbg.reg(r) / dbg.setreg(r, v)       r is 0-31, "x5", "a0", "pc" or "dcsr"
//	dbg.csr(n) / dbg.setcsr(n, v)       setcsr returns the old value
//	dbg.read32(a) / dbg.write32(a, v)
//	dbg.readmem(a, n)       n bytes as a string
//	dbg.writemem(a, s)
//	dbg.clearmem(a, n)      zero n bytes
//	dbg.fencei()
//	dbg.log(...)            write a line to the script output
package script

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"cosim/internal/common"
	"cosim/internal/cosim"
	"cosim/internal/dtm"
)

// Runner holds one Lua state bound to an engine.
type Runner struct {
	common.Component

	e   *dtm.Engine
	out io.Writer
	L   *lua.LState

	ctx context.Context
	err error // last engine error raised into Lua
}

// New creates a runner. Script output goes to out.
func New(e *dtm.Engine, out io.Writer) *Runner {
	r := &Runner{e: e, out: out, L: lua.NewState(), ctx: context.Background()}
	r.InitComponent(cosim.CmpnamePrefixScript)

	tbl := r.L.NewTable()
	r.L.SetFuncs(tbl, map[string]lua.LGFunction{
		"init":     r.void(r.e.Init),
		"halt":     r.void(r.e.HaltHart),
		"resume":   r.void(r.e.ResumeHart),
		"step":     r.void(r.e.SingleStep),
		"reset":    r.void(r.e.ResetHart),
		"fencei":   r.void(r.e.FenceI),
		"halted":   r.halted,
		"xlen":     r.xlen,
		"reg":      r.reg,
		"setreg":   r.setReg,
		"csr":      r.csr,
		"setcsr":   r.setCSR,
		"read32":   r.read32,
		"write32":  r.write32,
		"readmem":  r.readMem,
		"writemem": r.writeMem,
		"clearmem": r.clearMem,
		"log":      r.log,
	})
	r.L.SetGlobal("dbg", tbl)
	return r
}

// Close releases the Lua state.
func (r *Runner) Close() {
	r.L.Close()
}

// Run executes src. name labels errors. An engine failure inside the script
// is returned with its own code; Lua errors are ErrScript.
func (r *Runner) Run(ctx context.Context, name, src string) error {
	fn, err := r.L.Load(strings.NewReader(src), name)
	if err != nil {
		return common.NewErrorf(cosim.ErrScript, "%v", err)
	}
	r.L.Push(fn)
	return r.call(ctx, name)
}

// RunFile executes the script at path.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	fn, err := r.L.LoadFile(path)
	if err != nil {
		return common.NewErrorf(cosim.ErrScript, "%v", err)
	}
	r.L.Push(fn)
	return r.call(ctx, path)
}

func (r *Runner) call(ctx context.Context, name string) error {
	r.ctx = ctx
	r.err = nil
	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	if err := r.L.PCall(0, lua.MultRet, nil); err != nil {
		if r.err != nil {
			return fmt.Errorf("script %s: %w", name, r.err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return common.NewErrorf(cosim.ErrScript, "%v", err)
	}
	r.LogMessage(cosim.ErrSevInfo, fmt.Sprintf("script %s done", name))
	return nil
}

// Client returns a harness client running the script at path.
func Client(path string, out io.Writer, logger common.Logger) func(context.Context, *dtm.Engine) error {
	return func(ctx context.Context, e *dtm.Engine) error {
		r := New(e, out)
		defer r.Close()
		if logger != nil {
			r.LoggerAttachPt().ReplaceFirst(logger)
		}
		return r.RunFile(ctx, path)
	}
}

// fail records err and raises it as a Lua error. It does not return.
func (r *Runner) fail(L *lua.LState, err error) int {
	r.err = err
	L.RaiseError("%v", err)
	return 0
}

func (r *Runner) void(fn func(context.Context) error) lua.LGFunction {
	return func(L *lua.LState) int {
		if err := fn(r.ctx); err != nil {
			return r.fail(L, err)
		}
		return 0
	}
}

func (r *Runner) halted(L *lua.LState) int {
	h, err := r.e.Halted(r.ctx)
	if err != nil {
		return r.fail(L, err)
	}
	L.Push(lua.LBool(h))
	return 1
}

func (r *Runner) xlen(L *lua.LState) int {
	L.Push(lua.LNumber(r.e.XLEN()))
	return 1
}

var abiNames = map[string]uint32{
	"zero": 0, "ra": 1, "sp": 2, "gp": 3, "tp": 4,
	"t0": 5, "t1": 6, "t2": 7, "s0": 8, "fp": 8, "s1": 9,
	"a0": 10, "a1": 11, "a2": 12, "a3": 13, "a4": 14, "a5": 15, "a6": 16, "a7": 17,
	"s2": 18, "s3": 19, "s4": 20, "s5": 21, "s6": 22, "s7": 23, "s8": 24, "s9": 25,
	"s10": 26, "s11": 27, "t3": 28, "t4": 29, "t5": 30, "t6": 31,
}

// regArg maps argument n onto an abstract register number.
func regArg(L *lua.LState, n int) uint16 {
	switch v := L.Get(n).(type) {
	case lua.LNumber:
		if v < 0 || v > 31 {
			L.ArgError(n, "register number out of range")
		}
		return dtm.RegNoGPR(uint32(v))
	case lua.LString:
		s := strings.ToLower(string(v))
		switch s {
		case "pc", "dpc":
			return dtm.RegNoDPC
		case "dcsr":
			return dtm.RegNoDCSR
		}
		if i, ok := abiNames[s]; ok {
			return dtm.RegNoGPR(i)
		}
		var i uint32
		if _, err := fmt.Sscanf(s, "x%d", &i); err == nil && i < 32 {
			return dtm.RegNoGPR(i)
		}
		L.ArgError(n, fmt.Sprintf("unknown register %q", s))
	default:
		L.TypeError(n, lua.LTString)
	}
	return 0
}

func uintArg(L *lua.LState, n int) uint64 {
	v := L.CheckNumber(n)
	if v < 0 {
		L.ArgError(n, "negative value")
	}
	return uint64(v)
}

func (r *Runner) reg(L *lua.LState) int {
	v, err := r.e.ReadRegister(r.ctx, regArg(L, 1))
	if err != nil {
		return r.fail(L, err)
	}
	L.Push(lua.LNumber(v))
	return 1
}

func (r *Runner) setReg(L *lua.LState) int {
	if err := r.e.WriteRegister(r.ctx, regArg(L, 1), uintArg(L, 2)); err != nil {
		return r.fail(L, err)
	}
	return 0
}

func (r *Runner) csr(L *lua.LState) int {
	v, err := r.e.ReadCSR(r.ctx, uint32(uintArg(L, 1)))
	if err != nil {
		return r.fail(L, err)
	}
	L.Push(lua.LNumber(v))
	return 1
}

func (r *Runner) setCSR(L *lua.LState) int {
	old, err := r.e.WriteCSR(r.ctx, uint32(uintArg(L, 1)), uintArg(L, 2))
	if err != nil {
		return r.fail(L, err)
	}
	L.Push(lua.LNumber(old))
	return 1
}

func (r *Runner) read32(L *lua.LState) int {
	var b [4]byte
	if err := r.e.ReadMemory(r.ctx, uintArg(L, 1), b[:]); err != nil {
		return r.fail(L, err)
	}
	L.Push(lua.LNumber(binary.LittleEndian.Uint32(b[:])))
	return 1
}

func (r *Runner) write32(L *lua.LState) int {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(uintArg(L, 2)))
	if err := r.e.WriteMemory(r.ctx, uintArg(L, 1), b[:]); err != nil {
		return r.fail(L, err)
	}
	return 0
}

func (r *Runner) readMem(L *lua.LState) int {
	buf := make([]byte, L.CheckInt(2))
	if err := r.e.ReadMemory(r.ctx, uintArg(L, 1), buf); err != nil {
		return r.fail(L, err)
	}
	L.Push(lua.LString(buf))
	return 1
}

func (r *Runner) writeMem(L *lua.LState) int {
	if err := r.e.WriteMemory(r.ctx, uintArg(L, 1), []byte(L.CheckString(2))); err != nil {
		return r.fail(L, err)
	}
	return 0
}

func (r *Runner) clearMem(L *lua.LState) int {
	if err := r.e.ClearMemory(r.ctx, uintArg(L, 1), L.CheckInt(2)); err != nil {
		return r.fail(L, err)
	}
	return 0
}

func (r *Runner) log(L *lua.LState) int {
	parts := make([]string, L.GetTop())
	for i := range parts {
		parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
	}
	fmt.Fprintln(r.out, strings.Join(parts, " "))
	return 0
}

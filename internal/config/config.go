// Package config reads co-simulation session files. A session file is an INI
// file with [session], [debug], [target] and [predictor] sections; absent keys
// keep their defaults and malformed values are errors.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

// Defaults for a session with no file.
const (
	DefaultCores       = 1
	DefaultMemSizeMB   = 2
	DefaultResetCycles = 10
)

// Session is one co-simulation run.
type Session struct {
	Cores         uint64
	MemSizeMB     uint64
	MaxCycles     uint64 // zero runs until the program exits
	ResetCycles   int
	MaxTargetWait int
	ForwardHartID bool

	MaxIdleCycles int
	Hart          uint32

	MemLatency int
	LoadMem    string
	LoadAddr   uint64
	ROM        string
	ROMAddr    uint64

	Predictor        string
	PredictorEntries int
}

// Default returns the session used when no file is given.
func Default() Session {
	return Session{
		Cores:       DefaultCores,
		MemSizeMB:   DefaultMemSizeMB,
		ResetCycles: DefaultResetCycles,
		Predictor:   "none",
	}
}

// MemSize is the target memory size in bytes.
func (s Session) MemSize() uint64 { return s.MemSizeMB << 20 }

// Load reads the session file at path.
func Load(path string) (Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return Session{}, common.NewErrorf(cosim.ErrFileError, "config: %v", err)
	}
	defer f.Close()
	s, err := Parse(f)
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse reads a session file from r over the defaults.
func Parse(r io.Reader) (Session, error) {
	ini, err := ParseIni(r)
	if err != nil {
		return Session{}, common.NewErrorf(cosim.ErrFileError, "config: %v", err)
	}
	s := Default()
	p := &sectionParser{}

	p.sec = ini.GetSection(SessionSectionName)
	p.name = SessionSectionName
	p.uint(CoresKey, &s.Cores)
	p.uint(MemSizeMBKey, &s.MemSizeMB)
	p.uint(MaxCyclesKey, &s.MaxCycles)
	p.int(ResetCyclesKey, &s.ResetCycles)
	p.int(MaxTargetWaitKey, &s.MaxTargetWait)
	p.bool(ForwardHartIDKey, &s.ForwardHartID)

	p.sec = ini.GetSection(DebugSectionName)
	p.name = DebugSectionName
	p.int(MaxIdleCyclesKey, &s.MaxIdleCycles)
	var hart uint64
	if p.uint(HartKey, &hart) {
		s.Hart = uint32(hart)
	}

	p.sec = ini.GetSection(TargetSectionName)
	p.name = TargetSectionName
	p.int(MemLatencyKey, &s.MemLatency)
	p.str(LoadMemKey, &s.LoadMem)
	p.uint(LoadAddrKey, &s.LoadAddr)
	p.str(ROMKey, &s.ROM)
	p.uint(ROMAddrKey, &s.ROMAddr)

	p.sec = ini.GetSection(PredictorSectionName)
	p.name = PredictorSectionName
	p.str(KindKey, &s.Predictor)
	p.int(EntriesKey, &s.PredictorEntries)

	if p.err != nil {
		return Session{}, p.err
	}
	if s.Cores == 0 {
		return Session{}, common.NewErrorf(cosim.ErrConfigParse, "[%s] %s must be at least 1", SessionSectionName, CoresKey)
	}
	if s.MemSizeMB == 0 {
		return Session{}, common.NewErrorf(cosim.ErrConfigParse, "[%s] %s must be at least 1", SessionSectionName, MemSizeMBKey)
	}
	return s, nil
}

// sectionParser assigns values from one section and keeps the first error.
type sectionParser struct {
	sec  map[string]string
	name string
	err  error
}

func (p *sectionParser) lookup(key string) (string, bool) {
	if p.err != nil || p.sec == nil {
		return "", false
	}
	v, ok := p.sec[key]
	return v, ok
}

func (p *sectionParser) fail(key, val, want string) {
	p.err = common.NewErrorf(cosim.ErrConfigParse, "[%s] %s: %q is not %s", p.name, key, val, want)
}

func (p *sectionParser) uint(key string, dst *uint64) bool {
	v, ok := p.lookup(key)
	if !ok {
		return false
	}
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		p.fail(key, v, "an unsigned number")
		return false
	}
	*dst = n
	return true
}

func (p *sectionParser) int(key string, dst *int) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 0, 0)
	if err != nil || n < 0 {
		p.fail(key, v, "a count")
		return
	}
	*dst = int(n)
}

func (p *sectionParser) bool(key string, dst *bool) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		p.fail(key, v, "a boolean")
	}
}

func (p *sectionParser) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

// Package harness steps the reference target together with the host bridge,
// the debug transport, the branch predictor and the tracer, one clock edge
// per cycle, and reports how the program ended.
package harness

import (
	"io"

	"cosim/internal/bp"
	"cosim/internal/common"
	"cosim/internal/config"
	"cosim/internal/cosim"
	"cosim/internal/dtm"
	"cosim/internal/htif"
	"cosim/internal/target"
	"cosim/internal/tracer"
)

// DefaultResetCycles is the length of the reset sequence before stepping.
const DefaultResetCycles = 10

// Config for a session.
type Config struct {
	Target target.Config
	Bridge htif.Config
	Engine dtm.Config

	Predictor        bp.Kind
	PredictorEntries int

	// MaxCycles ends the session as a timeout. Zero never times out.
	MaxCycles   uint64
	ResetCycles int

	LoadMem  string
	LoadAddr uint64
}

// NewConfig builds a harness configuration from a session file.
func NewConfig(s config.Session) (Config, error) {
	kind, err := bp.ParseKind(s.Predictor)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Target: target.Config{
			MemSize:    s.MemSize(),
			HartID:     s.Hart,
			MemLatency: s.MemLatency,
			ROMPath:    s.ROM,
			ROMAddr:    s.ROMAddr,
		},
		Bridge: htif.Config{
			Cores:         s.Cores,
			MemSize:       s.MemSize(),
			MaxTargetWait: s.MaxTargetWait,
			ForwardHartID: s.ForwardHartID,
		},
		Engine: dtm.Config{
			MaxIdleCycles: s.MaxIdleCycles,
			Hart:          s.Hart,
		},
		Predictor:        kind,
		PredictorEntries: s.PredictorEntries,
		MaxCycles:        s.MaxCycles,
		ResetCycles:      s.ResetCycles,
		LoadMem:          s.LoadMem,
		LoadAddr:         s.LoadAddr,
	}, nil
}

// Harness owns every component of one session.
type Harness struct {
	common.Component

	cfg    Config
	tgt    *target.Target
	bridge *htif.Bridge
	port   *dtm.Port
	engine *dtm.Engine
	bp     *bp.Unit
	tracer *tracer.Tracer
}

// New builds a session. host is the HTIF host port; with a nil host the
// target leaves reset after the reset sequence and runs the loaded program
// on its own.
func New(cfg Config, host io.ReadWriter) (*Harness, error) {
	if cfg.ResetCycles <= 0 {
		cfg.ResetCycles = DefaultResetCycles
	}
	h := &Harness{cfg: cfg, port: dtm.NewPort(), tracer: tracer.New()}
	h.InitComponent(cosim.CmpnamePrefixHarns)

	var err error
	if h.bp, err = bp.New(cfg.Predictor, cfg.PredictorEntries); err != nil {
		return nil, err
	}
	if h.tgt, err = target.New(cfg.Target); err != nil {
		return nil, err
	}
	if cfg.LoadMem != "" {
		if err := h.tgt.LoadFile(cfg.LoadMem, cfg.LoadAddr); err != nil {
			h.tgt.Close()
			return nil, err
		}
	}
	if host != nil {
		if cfg.Bridge.MemSize == 0 {
			cfg.Bridge.MemSize = h.tgt.Config().MemSize
		}
		if cfg.Bridge.Cores == 0 {
			cfg.Bridge.Cores = 1
		}
		if h.bridge, err = htif.NewBridge(host, cfg.Bridge); err != nil {
			h.tgt.Close()
			return nil, err
		}
	}
	h.engine = dtm.NewEngine(h.port, cfg.Engine)
	h.cfg = cfg
	return h, nil
}

// AttachLogger sends the output of every component to l.
func (h *Harness) AttachLogger(l common.Logger) {
	h.LoggerAttachPt().ReplaceFirst(l)
	h.tgt.LoggerAttachPt().ReplaceFirst(l)
	h.engine.LoggerAttachPt().ReplaceFirst(l)
	if h.bridge != nil {
		h.bridge.LoggerAttachPt().ReplaceFirst(l)
	}
}

// SetErrorLogLevel sets the message verbosity of every component.
func (h *Harness) SetErrorLogLevel(level cosim.ErrSeverity) {
	h.Component.SetErrorLogLevel(level)
	h.tgt.SetErrorLogLevel(level)
	h.engine.SetErrorLogLevel(level)
	if h.bridge != nil {
		h.bridge.SetErrorLogLevel(level)
	}
}

// Close releases the target's image files and wakes any blocked client.
func (h *Harness) Close() {
	h.port.Close()
	h.tgt.Close()
}

// Target returns the modelled tile.
func (h *Harness) Target() *target.Target { return h.tgt }

// Bridge returns the host bridge, nil when running without a host.
func (h *Harness) Bridge() *htif.Bridge { return h.bridge }

// Engine returns the debug engine driven through the harness's DMI port.
func (h *Harness) Engine() *dtm.Engine { return h.engine }

// Predictor returns the branch predictor unit.
func (h *Harness) Predictor() *bp.Unit { return h.bp }

// Tracer returns the instruction tracer.
func (h *Harness) Tracer() *tracer.Tracer { return h.tracer }

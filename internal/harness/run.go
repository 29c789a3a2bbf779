package harness

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"cosim/internal/bp"
	"cosim/internal/common"
	"cosim/internal/cosim"
	"cosim/internal/dtm"
	"cosim/internal/htif"
)

// Client runs debug operations against the target while the session steps.
// The engine's calls return ErrClosed once the session has ended.
type Client func(ctx context.Context, e *dtm.Engine) error

// ctxBrake is the number of cycles between context checks.
const ctxBrake = 64

// Run steps the session until the program exits, MaxCycles is reached or ctx
// is cancelled. It may be called once per Harness. A client, if given, runs
// on its own goroutine. Protocol faults from the bridge and client errors
// end the session with an error.
func (h *Harness) Run(ctx context.Context, client Client) (Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	stepCtx, stop := context.WithCancel(gctx)
	defer stop()

	var ended atomic.Bool
	var res Result
	g.Go(func() error {
		defer func() {
			ended.Store(true)
			h.port.Close()
			stop()
		}()
		var err error
		res, err = h.step(stepCtx)
		return err
	})
	if client != nil {
		g.Go(func() error {
			err := client(stepCtx, h.engine)
			if err != nil && ended.Load() && isTeardown(err) {
				h.LogMessage(cosim.ErrSevWarn, fmt.Sprintf("debug client stopped by end of session: %v", err))
				return nil
			}
			return err
		})
	}
	err := g.Wait()
	return res, err
}

func isTeardown(err error) bool {
	return common.CodeOf(err) == cosim.ErrClosed ||
		errors.Is(err, context.Canceled)
}

// step is the stepping loop. Each cycle samples the target's outputs from the
// last edge, lets the bridge, the DMI port, the tracer and the predictor act
// on them, then clocks the next edge.
func (h *Harness) step(ctx context.Context) (Result, error) {
	for i := 0; i < h.cfg.ResetCycles; i++ {
		h.tgt.Tick(true, htif.TargetOutputs{Reset: true}, h.port.Outputs())
	}
	h.LogMessage(cosim.ErrSevInfo, fmt.Sprintf("reset for %d cycles", h.cfg.ResetCycles))

	h.tracer.Start()
	defer h.tracer.Stop()

	var res Result
	var cycles uint64
	done := false
	for !done {
		if cycles%ctxBrake == 0 {
			if err := ctx.Err(); err != nil {
				return h.result(res, cycles), err
			}
		}

		reset := false
		if h.bridge != nil {
			reset = h.bridge.Reset()
		}

		sig := h.tgt.Signals()
		h.bp.ClockLow(reset, bp.Execute{
			PC:     sig.ExePC,
			PCNext: sig.ExePCNext,
			BrJmp:  sig.ExeBrJmp,
			Inst:   sig.ExeInst,
		}, sig.Retired)

		var hOut htif.TargetOutputs
		if h.bridge != nil {
			var err error
			if hOut, err = h.bridge.Tick(h.tgt.HTIF()); err != nil {
				return h.result(res, cycles), err
			}
			reset = hOut.Reset
		}
		dOut := h.port.Tick(h.tgt.DMI())

		h.tracer.Tick(sig.ExeInst, sig.Stats, true)
		h.bp.ClockHigh(reset, sig.FetchPC)

		h.tgt.Tick(reset, hOut, dOut)
		cycles++

		if h.bridge != nil {
			h.bridge.SetExitCode(h.tgt.ToHost())
			done = h.bridge.Done()
		} else {
			done = h.tgt.ToHost() != 0
		}
		if !done && h.cfg.MaxCycles != 0 && cycles == h.cfg.MaxCycles {
			res.Failure = FailTimeout
			break
		}
	}
	res = h.result(res, cycles)
	h.LogMessage(cosim.ErrSevInfo, fmt.Sprintf("session ended after %d cycles", cycles))
	return res, nil
}

func (h *Harness) result(res Result, cycles uint64) Result {
	res.Cycles = cycles
	res.ToHost = h.tgt.ToHost()
	res.ExitCode = res.ToHost >> 1
	res.Stats = Stats{
		Cycles:    cycles,
		InstRet:   h.tgt.Hart().InstRet(),
		Predictor: h.bp.Stats(),
		Tracer:    h.tracer.Counters(),
	}
	if h.bridge != nil {
		res.Stats.Bridge = h.bridge.Stats()
	}
	return res
}

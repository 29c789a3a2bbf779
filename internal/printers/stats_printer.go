package printers

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"cosim/internal/harness"
	"cosim/internal/tracer"
)

// StatsPrinter writes the end of session report.
type StatsPrinter struct {
	ItemPrinter
	tracer *tracer.Tracer
}

// NewStatsPrinter creates a report printer. tr, if not nil, adds the
// instruction mix report.
func NewStatsPrinter(writer io.Writer, tr *tracer.Tracer) *StatsPrinter {
	return &StatsPrinter{ItemPrinter: *NewItemPrinter(writer), tracer: tr}
}

// PrintResult writes the session counters followed by the pass/fail line.
func (p *StatsPrinter) PrintResult(res harness.Result) {
	if p.IsMuted() {
		return
	}
	s := res.Stats
	var sb strings.Builder
	sb.WriteString("Session stats:-\n")
	sb.WriteString(fmt.Sprintf("cycles      : %d\n", s.Cycles))
	sb.WriteString(fmt.Sprintf("instret     : %d\n", s.InstRet))
	if s.Cycles > 0 {
		sb.WriteString(fmt.Sprintf("IPC         : %.3f\n", float64(s.InstRet)/float64(s.Cycles)))
	}
	if s.Predictor.Predictions > 0 {
		sb.WriteString(fmt.Sprintf("predictions : %d (%d taken, %d mispredicted)\n",
			s.Predictor.Predictions, s.Predictor.Taken, s.Predictor.Mispredicts))
	}
	if b := s.Bridge; b.Packets > 0 {
		sb.WriteString(fmt.Sprintf("host packets: %d (mem rd %d wr %d, cr rd %d wr %d, %d local)\n",
			b.Packets, b.ReadMem, b.WriteMem, b.ReadCR, b.WriteCR, b.LocalCR))
		sb.WriteString(fmt.Sprintf("target wait : %d ticks\n", b.TargetWaitTicks))
	}
	if p.tracer != nil {
		var tb bytes.Buffer
		p.tracer.Print(&tb)
		sb.Write(tb.Bytes())
	}
	var rb bytes.Buffer
	res.Report(&rb)
	sb.Write(rb.Bytes())
	p.ItemPrintLine(sb.String())
}

package printers

import (
	"fmt"
	"io"

	"cosim/internal/cosim"
)

// MessageLogger receives a copy of every printed line.
type MessageLogger interface {
	LogMessage(filterLevel cosim.ErrSeverity, msg string)
}

// ItemPrinter is the base of the session printers: a writer, an optional
// logger copy and mute controls.
type ItemPrinter struct {
	writer         io.Writer
	errLog         MessageLogger
	muted          bool
	cyclePrintMute bool
}

// NewItemPrinter constructs an ItemPrinter using the given io.Writer.
func NewItemPrinter(writer io.Writer) *ItemPrinter {
	return &ItemPrinter{
		writer: writer,
	}
}

// SetMessageLogger sets the optional logger for the printer.
func (p *ItemPrinter) SetMessageLogger(logger MessageLogger) {
	p.errLog = logger
}

// ItemPrintLine writes the given message to the writer and optionally logs it.
func (p *ItemPrinter) ItemPrintLine(msg string) {
	if p.writer != nil {
		fmt.Fprint(p.writer, msg)
	}
	if p.errLog != nil {
		p.errLog.LogMessage(cosim.ErrSevInfo, msg)
	}
}

// SetMute sets the printer to mute (avoids output).
func (p *ItemPrinter) SetMute(mute bool) { p.muted = mute }

// IsMuted returns true if the printer is muted.
func (p *ItemPrinter) IsMuted() bool { return p.muted }

// MuteCyclePrint mutes or unmutes the cycle number at the start of each line.
func (p *ItemPrinter) MuteCyclePrint(mute bool) { p.cyclePrintMute = mute }

// CyclePrintMuted returns whether cycle printing is muted.
func (p *ItemPrinter) CyclePrintMuted() bool { return p.cyclePrintMute }

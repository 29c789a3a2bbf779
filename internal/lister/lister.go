// Package lister lists a captured host packet stream.
package lister

import (
	"fmt"
	"io"
	"os"

	"cosim/internal/cosim"
	"cosim/internal/htif"
	"cosim/internal/printers"
)

// Config holds the options of the decode command.
type Config struct {
	InputPath    string
	NoRawPrint   bool
	Stats        bool
	OutputWriter io.Writer
}

// Run lists every packet in the capture at cfg.InputPath. Packets must follow
// each other with no gaps; sequence numbers out of order are flagged but do
// not stop the listing.
func Run(cfg Config) error {
	w := cfg.OutputWriter
	if w == nil {
		w = os.Stdout
	}

	fmt.Fprintln(w, "Host Packet Lister")
	fmt.Fprintln(w, "------------------")
	fmt.Fprintf(w, "Host Packet Lister : reading capture %s\n", cfg.InputPath)

	data, err := os.ReadFile(cfg.InputPath)
	if err != nil {
		return fmt.Errorf("failed to read capture: %w", err)
	}

	pp := printers.NewPacketPrinter(w)
	pp.MuteCyclePrint(true)
	pp.MuteRawPrint(cfg.NoRawPrint)
	if cfg.Stats {
		pp.SetCollectStats()
	}

	n, err := list(pp, data)
	fmt.Fprintf(w, "\n%d packets listed\n", n)
	if cfg.Stats {
		pp.PrintStats()
	}
	return err
}

func list(pp *printers.PacketPrinter, data []byte) (int, error) {
	expected := htif.InitialSeqno
	count := 0
	for off := 0; off < len(data); {
		p, n, err := htif.Unmarshal(data[off:])
		if err != nil {
			return count, fmt.Errorf("offset %d: %w", off, err)
		}
		if p.Seqno != expected {
			pp.ItemPrintLine(fmt.Sprintf("WARNING: seqno %d, expected %d\n", p.Seqno, expected))
		}
		pp.RawPacketDataMon(htif.DirIn, cosim.BadCycle, &p, data[off:off+n])
		expected = p.Seqno + 1
		off += n
		count++
	}
	return count, nil
}

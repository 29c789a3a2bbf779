package printers

import (
	"io"

	"cosim/internal/cosim"
	"cosim/internal/htif"
)

// PacketCapture copies the raw bytes of every packet received from the host
// to a writer, producing a stream the decode command can list.
type PacketCapture struct {
	w   io.Writer
	err error
}

// NewPacketCapture creates a capture writing to w.
func NewPacketCapture(w io.Writer) *PacketCapture {
	return &PacketCapture{w: w}
}

// RawPacketDataMon implements htif.PacketMonitor.
func (c *PacketCapture) RawPacketDataMon(dir htif.Direction, _ cosim.Cycle, _ *htif.Packet, raw []byte) {
	if dir != htif.DirIn || c.err != nil {
		return
	}
	_, c.err = c.w.Write(raw)
}

// Err returns the first write error.
func (c *PacketCapture) Err() error { return c.err }

package printers

import (
	"fmt"
	"io"
	"strings"

	"cosim/internal/cosim"
	"cosim/internal/htif"
)

// PacketPrinter lists host packets as they cross the bridge. It is attached
// to the bridge's packet monitor point.
type PacketPrinter struct {
	ItemPrinter
	rawMute      bool
	collectStats bool
	packetCounts map[htif.Cmd]int
}

// NewPacketPrinter creates a packet printer writing to writer.
func NewPacketPrinter(writer io.Writer) *PacketPrinter {
	return &PacketPrinter{
		ItemPrinter:  *NewItemPrinter(writer),
		packetCounts: make(map[htif.Cmd]int),
	}
}

// MuteRawPrint stops the raw packet bytes from being listed.
func (p *PacketPrinter) MuteRawPrint(mute bool) { p.rawMute = mute }

// RawPacketDataMon implements htif.PacketMonitor.
func (p *PacketPrinter) RawPacketDataMon(dir htif.Direction, cycle cosim.Cycle, pkt *htif.Packet, raw []byte) {
	if p.collectStats {
		p.packetCounts[pkt.Cmd]++
	}
	if p.IsMuted() {
		return
	}

	var sb strings.Builder
	if !p.CyclePrintMuted() {
		if cycle == cosim.BadCycle {
			sb.WriteString("Cycle ???????; ")
		} else {
			sb.WriteString(fmt.Sprintf("Cycle %7d; ", cycle))
		}
	}
	sb.WriteString(fmt.Sprintf("%s; %s;", dir, pkt))

	if !p.rawMute && len(raw) > 0 {
		sb.WriteString(" ")
		lineBytes := 0
		for i := range raw {
			if lineBytes == 16 {
				sb.WriteString("\n")
				lineBytes = 0
			}
			sb.WriteString(fmt.Sprintf("%02x ", raw[i]))
			lineBytes++
		}
	}
	sb.WriteString("\n")
	p.ItemPrintLine(sb.String())
}

// SetCollectStats turns on packet counting.
func (p *PacketPrinter) SetCollectStats() { p.collectStats = true }

// PrintStats outputs the number of packets seen of each kind.
func (p *PacketPrinter) PrintStats() {
	var sb strings.Builder

	sb.WriteString("Host packets processed:-\n")
	for c := htif.CmdReadMem; c <= htif.CmdNack; c++ {
		sb.WriteString(fmt.Sprintf("%s : %d\n", c, p.packetCounts[c]))
	}
	sb.WriteString("\n")

	p.ItemPrintLine(sb.String())
}

// Package htif implements the host-target interface bridge: the wire packet
// codec spoken by the host monitor and the two-state transaction bridge that
// presents host requests to the target one clock tick at a time.
package htif

import (
	"fmt"
	"strings"
)

// Cmd is the packet command kind.
type Cmd uint8

const (
	CmdReadMem         Cmd = 0
	CmdWriteMem        Cmd = 1
	CmdReadControlReg  Cmd = 2
	CmdWriteControlReg Cmd = 3
	CmdAck             Cmd = 4
	CmdNack            Cmd = 5
)

func (c Cmd) String() string {
	switch c {
	case CmdReadMem:
		return "READ_MEM"
	case CmdWriteMem:
		return "WRITE_MEM"
	case CmdReadControlReg:
		return "READ_CR"
	case CmdWriteControlReg:
		return "WRITE_CR"
	case CmdAck:
		return "ACK"
	case CmdNack:
		return "NACK"
	default:
		return fmt.Sprintf("CMD_%d", uint8(c))
	}
}

// Wire layout constants. The header is a single little-endian 64-bit word:
//
//	cmd[3:0] seqno[11:4] data_size[23:12] addr[63:24]
const (
	HeaderSize = 8
	DataAlign  = 8 // bytes per payload word and per memory address unit

	cmdBits      = 4
	seqnoBits    = 8
	dataSizeBits = 12
	addrBits     = 40

	seqnoShift    = cmdBits
	dataSizeShift = seqnoShift + seqnoBits
	addrShift     = dataSizeShift + dataSizeBits

	MaxDataSize = 1<<dataSizeBits - 1
	MaxAddr     = 1<<addrBits - 1
)

// Control register address fields.
const (
	CoreIDShift = 20
	RegNoMask   = 1<<CoreIDShift - 1

	// SystemCoreID selects the system control register space.
	SystemCoreID = 0xFFFFF

	SCRCoreCount = 0
	SCRMemSizeMB = 1
)

// Control registers handled by the bridge itself.
const (
	CSRToHost   = 0x780
	CSRFromHost = 0x781
	CSRMReset   = 0x782
	CSRMHartID  = 0xF10
)

// Header is the fixed part of every packet.
type Header struct {
	Cmd      Cmd
	Seqno    uint8
	DataSize uint16 // 64-bit words
	Addr     uint64 // word address for memory, coreid<<20|regno for control registers
}

// PayloadWords is the number of payload words that follow the header on the
// wire. Read requests carry none: their data size names the reply length.
func (h Header) PayloadWords() int {
	switch h.Cmd {
	case CmdWriteMem, CmdWriteControlReg, CmdAck:
		return int(h.DataSize)
	}
	return 0
}

// PacketSize is the total wire size of a packet with this header.
func (h Header) PacketSize() int {
	return HeaderSize + h.PayloadWords()*DataAlign
}

// CoreID returns the core field of a control register address.
func (h Header) CoreID() uint64 {
	return h.Addr >> CoreIDShift
}

// RegNo returns the register field of a control register address.
func (h Header) RegNo() uint64 {
	return h.Addr & RegNoMask
}

func (h Header) String() string {
	return fmt.Sprintf("%-8s seq=%3d size=%d addr=0x%010x", h.Cmd, h.Seqno, h.DataSize, h.Addr)
}

// Packet is a header plus its payload words.
type Packet struct {
	Header
	Payload []uint64
}

// NewAck builds the acknowledgement for seqno carrying data.
func NewAck(seqno uint8, data ...uint64) Packet {
	return Packet{
		Header:  Header{Cmd: CmdAck, Seqno: seqno, DataSize: uint16(len(data))},
		Payload: data,
	}
}

// ControlRegAddr packs a control register address.
func ControlRegAddr(coreID, regNo uint64) uint64 {
	return coreID<<CoreIDShift | regNo&RegNoMask
}

func (p Packet) String() string {
	var sb strings.Builder
	sb.WriteString(p.Header.String())
	if len(p.Payload) > 0 {
		sb.WriteString(" data=[")
		for i, w := range p.Payload {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(fmt.Sprintf("0x%x", w))
		}
		sb.WriteString("]")
	}
	return sb.String()
}

package htif

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

// InitialSeqno is the sequence number of the first packet of a session.
const InitialSeqno uint8 = 1

func packHeader(h Header) (uint64, error) {
	if h.Cmd >= 1<<cmdBits {
		return 0, common.NewErrorf(cosim.ErrInvalidParamVal, "command %d does not fit the header", h.Cmd)
	}
	if h.DataSize > MaxDataSize {
		return 0, common.NewErrorf(cosim.ErrInvalidParamVal, "data size %d exceeds %d words", h.DataSize, MaxDataSize)
	}
	if h.Addr > MaxAddr {
		return 0, common.NewErrorf(cosim.ErrInvalidParamVal, "address 0x%x exceeds %d bits", h.Addr, addrBits)
	}
	return uint64(h.Cmd) |
		uint64(h.Seqno)<<seqnoShift |
		uint64(h.DataSize)<<dataSizeShift |
		h.Addr<<addrShift, nil
}

func unpackHeader(w uint64) Header {
	return Header{
		Cmd:      Cmd(w & (1<<cmdBits - 1)),
		Seqno:    uint8(w >> seqnoShift),
		DataSize: uint16(w>>dataSizeShift) & MaxDataSize,
		Addr:     w >> addrShift,
	}
}

// AppendPacket appends the wire encoding of p to dst.
func AppendPacket(dst []byte, p Packet) ([]byte, error) {
	w, err := packHeader(p.Header)
	if err != nil {
		return dst, err
	}
	if len(p.Payload) != p.PayloadWords() {
		return dst, common.NewErrorf(cosim.ErrInvalidParamVal,
			"%s carries %d payload words, header declares %d", p.Cmd, len(p.Payload), p.PayloadWords())
	}
	dst = binary.LittleEndian.AppendUint64(dst, w)
	for _, d := range p.Payload {
		dst = binary.LittleEndian.AppendUint64(dst, d)
	}
	return dst, nil
}

// Encode returns the wire encoding of p.
func Encode(p Packet) ([]byte, error) {
	return AppendPacket(make([]byte, 0, p.PacketSize()), p)
}

// DecodeHeader decodes the header at the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, common.NewErrorf(cosim.ErrMalformedHeader, "need %d header bytes, have %d", HeaderSize, len(b))
	}
	return unpackHeader(binary.LittleEndian.Uint64(b)), nil
}

// Unmarshal decodes one packet from the start of b and returns it with the
// number of bytes consumed. No sequence number check is made.
func Unmarshal(b []byte) (Packet, int, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Packet{}, 0, err
	}
	size := h.PacketSize()
	if len(b) < size {
		return Packet{}, 0, common.NewErrorf(cosim.ErrMalformedHeader,
			"%s declares %d payload words, only %d bytes follow the header", h.Cmd, h.PayloadWords(), len(b)-HeaderSize)
	}
	p := Packet{Header: h}
	if n := h.PayloadWords(); n > 0 {
		p.Payload = make([]uint64, n)
		for i := range p.Payload {
			p.Payload[i] = binary.LittleEndian.Uint64(b[HeaderSize+i*DataAlign:])
		}
	}
	return p, size, nil
}

// Decoder reads packets from a host stream and enforces the sequence order.
type Decoder struct {
	r    io.Reader
	next uint8
	buf  []byte
}

// NewDecoder creates a decoder expecting InitialSeqno first.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:    r,
		next: InitialSeqno,
		buf:  make([]byte, HeaderSize),
	}
}

// Expected returns the sequence number the next packet must carry.
func (d *Decoder) Expected() uint8 {
	return d.next
}

// Advance moves the expected sequence number on once the current packet has
// been fully processed. It wraps at 8 bits.
func (d *Decoder) Advance() {
	d.next++
}

// Decode reads the next packet. It returns io.EOF, untouched, when the stream
// has no further bytes at a packet boundary; a stream that ends inside a
// packet is a malformed header. The raw bytes of the packet are returned
// alongside it and stay valid until the next call.
func (d *Decoder) Decode() (Packet, []byte, error) {
	d.buf = d.buf[:HeaderSize]
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		if err == io.EOF {
			return Packet{}, nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, nil, common.NewErrorf(cosim.ErrMalformedHeader, "stream ended inside a packet header")
		}
		return Packet{}, nil, fmt.Errorf("htif: reading header: %w", err)
	}

	h, _ := DecodeHeader(d.buf)
	size := h.PacketSize()
	if cap(d.buf) < size {
		grown := make([]byte, size)
		copy(grown, d.buf)
		d.buf = grown
	}
	d.buf = d.buf[:size]
	if size > HeaderSize {
		if _, err := io.ReadFull(d.r, d.buf[HeaderSize:]); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return Packet{}, nil, common.NewErrorf(cosim.ErrMalformedHeader,
					"%s declares %d payload words, stream ended early", h.Cmd, h.PayloadWords())
			}
			return Packet{}, nil, fmt.Errorf("htif: reading payload: %w", err)
		}
	}

	p, _, err := Unmarshal(d.buf)
	if err != nil {
		return Packet{}, nil, err
	}
	if p.Seqno != d.next {
		return p, d.buf, common.NewErrorf(cosim.ErrSequenceMismatch, "packet seqno %d, expected %d", p.Seqno, d.next)
	}
	return p, d.buf, nil
}

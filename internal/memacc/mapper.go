package memacc

import (
	"encoding/binary"
	"io"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

// Mapper routes target memory accesses to non-overlapping accessors.
type Mapper struct {
	accessors []Accessor
	accCurr   Accessor
}

// NewMapper creates an empty mapper.
func NewMapper() *Mapper {
	return &Mapper{}
}

// AddAccessor adds a new memory accessor to the mapper.
func (m *Mapper) AddAccessor(accessor Accessor) error {
	if !accessor.ValidateRange() {
		st, en := accessor.GetRange()
		return common.NewErrorf(cosim.ErrMemAccRangeInvalid, "accessor range 0x%x-0x%x", st, en)
	}
	for _, a := range m.accessors {
		if a.OverlapRange(accessor) {
			st, en := accessor.GetRange()
			return common.NewErrorf(cosim.ErrMemAccOverlap, "accessor range 0x%x-0x%x overlaps an existing one", st, en)
		}
	}
	m.accessors = append(m.accessors, accessor)
	return nil
}

// RemoveAccessor removes a specific accessor.
func (m *Mapper) RemoveAccessor(accessor Accessor) error {
	for i, a := range m.accessors {
		if a == accessor {
			m.accessors = append(m.accessors[:i], m.accessors[i+1:]...)
			if m.accCurr == accessor {
				m.accCurr = nil
			}
			return nil
		}
	}
	return common.NewErrorf(cosim.ErrInvalidParamVal, "accessor not mapped")
}

// RemoveAllAccessors clears all accessors, closing any that hold files.
func (m *Mapper) RemoveAllAccessors() {
	for _, a := range m.accessors {
		if c, ok := a.(io.Closer); ok {
			c.Close()
		}
	}
	m.accessors = nil
	m.accCurr = nil
}

// Accessors returns the mapped accessors in the order added.
func (m *Mapper) Accessors() []Accessor {
	return m.accessors
}

func (m *Mapper) findAccessor(address uint64) Accessor {
	if m.accCurr != nil && m.accCurr.AddrInRange(address) {
		return m.accCurr
	}
	for _, acc := range m.accessors {
		if acc.AddrInRange(address) {
			m.accCurr = acc
			return acc
		}
	}
	return nil
}

// ReadTargetMemory fills buf from address. An access may span accessors but
// every byte must be mapped.
func (m *Mapper) ReadTargetMemory(address uint64, buf []byte) error {
	for len(buf) > 0 {
		acc := m.findAccessor(address)
		if acc == nil {
			return common.NewErrorf(cosim.ErrMemNacc, "no memory at 0x%x", address)
		}
		n := acc.ReadBytes(address, buf)
		if n == 0 {
			return common.NewErrorf(cosim.ErrMemNacc, "read failed at 0x%x", address)
		}
		buf = buf[n:]
		address += uint64(n)
	}
	return nil
}

// WriteTargetMemory stores data at address.
func (m *Mapper) WriteTargetMemory(address uint64, data []byte) error {
	for len(data) > 0 {
		acc := m.findAccessor(address)
		if acc == nil {
			return common.NewErrorf(cosim.ErrMemNacc, "no memory at 0x%x", address)
		}
		if acc.ReadOnly() {
			return common.NewErrorf(cosim.ErrMemNacc, "write to read-only memory at 0x%x", address)
		}
		n := acc.WriteBytes(address, data)
		if n == 0 {
			return common.NewErrorf(cosim.ErrMemNacc, "write failed at 0x%x", address)
		}
		data = data[n:]
		address += uint64(n)
	}
	return nil
}

// ReadUint32 reads a little-endian word.
func (m *Mapper) ReadUint32(address uint64) (uint32, error) {
	var b [4]byte
	if err := m.ReadTargetMemory(address, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// ReadUint64 reads a little-endian double word.
func (m *Mapper) ReadUint64(address uint64) (uint64, error) {
	var b [8]byte
	if err := m.ReadTargetMemory(address, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// WriteUint32 writes a little-endian word.
func (m *Mapper) WriteUint32(address uint64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.WriteTargetMemory(address, b[:])
}

// WriteUint64 writes a little-endian double word.
func (m *Mapper) WriteUint64(address uint64, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return m.WriteTargetMemory(address, b[:])
}

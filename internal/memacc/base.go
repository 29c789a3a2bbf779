// Package memacc maps target memory onto storage accessors. The target
// model reads and writes words through a Mapper, which routes each access
// to the accessor covering its address.
package memacc

import (
	"fmt"
)

// Type describes the storage type of the underlying memory accessor.
type Type int

const (
	TypeUnknown Type = iota
	TypeFile         // Binary image file accessor, read-only
	TypeBuffer       // Memory buffer accessor
)

func (t Type) String() string {
	switch t {
	case TypeFile:
		return "File"
	case TypeBuffer:
		return "Buffer"
	}
	return "Unknown"
}

// Accessor defines the interface for a memory range access.
type Accessor interface {
	// ReadBytes fills buf from address, stopping at the end of the range.
	// It returns the number of bytes read.
	ReadBytes(address uint64, buf []byte) uint32

	// WriteBytes stores data at address, stopping at the end of the range.
	// It returns the number of bytes written, zero if read-only.
	WriteBytes(address uint64, data []byte) uint32

	// AddrInRange tests if an address is in the inclusive range for this accessor.
	AddrInRange(address uint64) bool

	// BytesInRange tests number of bytes available from the start address, up to the number of requested bytes.
	BytesInRange(address uint64, reqBytes uint32) uint32

	// OverlapRange tests if supplied range accessor overlaps this range.
	OverlapRange(testAcc Accessor) bool

	// ValidateRange validates the address range - ensure addresses aligned, different, st < en etc.
	ValidateRange() bool

	// GetType returns the storage type of this accessor.
	GetType() Type

	// ReadOnly reports whether writes are refused.
	ReadOnly() bool

	// GetRange returns the start and end addresses of this accessor.
	GetRange() (uint64, uint64)
}

// BaseAccessor implements the common logic for memory accessors.
type BaseAccessor struct {
	StartAddress uint64
	EndAddress   uint64
	AccType      Type
}

func (b *BaseAccessor) AddrInRange(address uint64) bool {
	return address >= b.StartAddress && address <= b.EndAddress
}

func (b *BaseAccessor) BytesInRange(address uint64, reqBytes uint32) uint32 {
	if !b.AddrInRange(address) {
		return 0
	}
	avail := b.EndAddress - address + 1
	if avail > uint64(reqBytes) {
		return reqBytes
	}
	return uint32(avail)
}

func (b *BaseAccessor) OverlapRange(testAcc Accessor) bool {
	st, en := testAcc.GetRange()
	return st <= b.EndAddress && b.StartAddress <= en
}

// ValidateRange requires a word aligned, non-empty range.
func (b *BaseAccessor) ValidateRange() bool {
	if b.StartAddress&0x3 != 0 {
		return false
	}
	if (b.EndAddress+1)&0x3 != 0 {
		return false
	}
	return b.StartAddress < b.EndAddress
}

func (b *BaseAccessor) GetType() Type {
	return b.AccType
}

func (b *BaseAccessor) GetRange() (uint64, uint64) {
	return b.StartAddress, b.EndAddress
}

func (b *BaseAccessor) String() string {
	return fmt.Sprintf("Range: 0x%X - 0x%X; Type: %s", b.StartAddress, b.EndAddress, b.AccType)
}

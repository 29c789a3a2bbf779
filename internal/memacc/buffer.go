package memacc

// BufferAccessor is writable memory backed by a byte slice.
type BufferAccessor struct {
	BaseAccessor
	Buffer []byte
}

// NewBufferAccessor creates a new buffer accessor.
func NewBufferAccessor(startAddr uint64, buffer []byte) *BufferAccessor {
	return &BufferAccessor{
		BaseAccessor: BaseAccessor{
			StartAddress: startAddr,
			EndAddress:   startAddr + uint64(len(buffer)) - 1,
			AccType:      TypeBuffer,
		},
		Buffer: buffer,
	}
}

// NewRAM creates a zeroed buffer accessor of size bytes.
func NewRAM(startAddr, size uint64) *BufferAccessor {
	return NewBufferAccessor(startAddr, make([]byte, size))
}

// ReadBytes implements the Accessor interface.
func (b *BufferAccessor) ReadBytes(address uint64, buf []byte) uint32 {
	n := b.BytesInRange(address, uint32(len(buf)))
	if n > 0 {
		off := address - b.StartAddress
		copy(buf, b.Buffer[off:off+uint64(n)])
	}
	return n
}

// WriteBytes implements the Accessor interface.
func (b *BufferAccessor) WriteBytes(address uint64, data []byte) uint32 {
	n := b.BytesInRange(address, uint32(len(data)))
	if n > 0 {
		off := address - b.StartAddress
		copy(b.Buffer[off:off+uint64(n)], data)
	}
	return n
}

// ReadOnly implements the Accessor interface.
func (b *BufferAccessor) ReadOnly() bool { return false }

// InitAccessor re-initializes the accessor with new values.
func (b *BufferAccessor) InitAccessor(startAddr uint64, buffer []byte) {
	b.StartAddress = startAddr
	b.EndAddress = startAddr + uint64(len(buffer)) - 1
	b.Buffer = buffer
}

package memacc

import (
	"os"
	"sync"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

// FileAccessor maps a binary image file read-only into the target address
// space. Bytes are read from the file on demand.
type FileAccessor struct {
	BaseAccessor
	filePath string
	file     *os.File
	offset   int64
	mu       sync.Mutex
}

// NewFileAccessor maps size bytes of the file at path, starting at offset,
// to startAddr. A zero size maps the rest of the file.
func NewFileAccessor(path string, startAddr uint64, offset, size int64) (*FileAccessor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, common.NewErrorf(cosim.ErrFileError, "open %s: %v", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, common.NewErrorf(cosim.ErrFileError, "stat %s: %v", path, err)
	}
	if size == 0 {
		size = info.Size() - offset
	}
	if offset < 0 || size <= 0 || offset+size > info.Size() {
		f.Close()
		return nil, common.NewErrorf(cosim.ErrMemAccRangeInvalid, "%s: range %d+%d outside file of %d bytes", path, offset, size, info.Size())
	}
	return &FileAccessor{
		BaseAccessor: BaseAccessor{
			StartAddress: startAddr,
			EndAddress:   startAddr + uint64(size) - 1,
			AccType:      TypeFile,
		},
		filePath: path,
		file:     f,
		offset:   offset,
	}, nil
}

// ReadBytes implements the Accessor interface.
func (f *FileAccessor) ReadBytes(address uint64, buf []byte) uint32 {
	n := f.BytesInRange(address, uint32(len(buf)))
	if n == 0 {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	read, _ := f.file.ReadAt(buf[:n], f.offset+int64(address-f.StartAddress))
	return uint32(read)
}

// WriteBytes implements the Accessor interface. Image files are read-only.
func (f *FileAccessor) WriteBytes(address uint64, data []byte) uint32 { return 0 }

// ReadOnly implements the Accessor interface.
func (f *FileAccessor) ReadOnly() bool { return true }

// Path returns the mapped file name.
func (f *FileAccessor) Path() string { return f.filePath }

// Close releases the file.
func (f *FileAccessor) Close() error {
	return f.file.Close()
}

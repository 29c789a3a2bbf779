package memacc

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

const blockSize = 0x1000

func patterned(base uint32) []byte {
	buf := make([]byte, blockSize)
	for i := 0; i < blockSize/4; i++ {
		binary.LittleEndian.PutUint32(buf[i*4:], base|uint32(i))
	}
	return buf
}

func TestOverlapRegions(t *testing.T) {
	mapper := NewMapper()

	acc1 := NewBufferAccessor(0x0000, patterned(0x10000))
	if err := mapper.AddAccessor(acc1); err != nil {
		t.Fatalf("Failed to set memory accessor: %v", err)
	}

	// Overlapping region
	acc2 := NewBufferAccessor(0x0800, patterned(0x20000))
	if err := mapper.AddAccessor(acc2); common.CodeOf(err) != cosim.ErrMemAccOverlap {
		t.Errorf("Expected overlap error, got: %v", err)
	}

	// Region covering the first entirely
	acc3 := NewRAM(0, 4*blockSize)
	if err := mapper.AddAccessor(acc3); common.CodeOf(err) != cosim.ErrMemAccOverlap {
		t.Errorf("Expected overlap error for enclosing range, got: %v", err)
	}

	// Non overlapping region
	acc2.InitAccessor(0x8000, patterned(0x20000))
	if err := mapper.AddAccessor(acc2); err != nil {
		t.Errorf("Failed to set non overlapping memory accessor: %v", err)
	}

	// Misaligned
	bad := NewBufferAccessor(0x9002, make([]byte, 8))
	if err := mapper.AddAccessor(bad); common.CodeOf(err) != cosim.ErrMemAccRangeInvalid {
		t.Errorf("Expected range error, got: %v", err)
	}

	if len(mapper.Accessors()) != 2 {
		t.Errorf("Accessors = %d", len(mapper.Accessors()))
	}
	if err := mapper.RemoveAccessor(acc2); err != nil {
		t.Errorf("RemoveAccessor: %v", err)
	}
	if err := mapper.RemoveAccessor(acc2); common.CodeOf(err) != cosim.ErrInvalidParamVal {
		t.Errorf("second RemoveAccessor: %v", err)
	}
}

func TestReadWriteWords(t *testing.T) {
	mapper := NewMapper()
	if err := mapper.AddAccessor(NewBufferAccessor(0x0, patterned(0x10000))); err != nil {
		t.Fatal(err)
	}
	if err := mapper.AddAccessor(NewBufferAccessor(blockSize, patterned(0x20000))); err != nil {
		t.Fatal(err)
	}

	v, err := mapper.ReadUint32(0x10)
	if err != nil || v != 0x10004 {
		t.Errorf("ReadUint32 = 0x%x, %v", v, err)
	}

	// straddles the two buffers
	d, err := mapper.ReadUint64(blockSize - 4)
	if err != nil {
		t.Fatalf("ReadUint64: %v", err)
	}
	if want := uint64(0x20000)<<32 | 0x10000 | (blockSize/4 - 1); d != want {
		t.Errorf("ReadUint64 = 0x%x, want 0x%x", d, want)
	}

	if err := mapper.WriteUint64(0x100, 0xDEADBEEFCAFEF00D); err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}
	d, _ = mapper.ReadUint64(0x100)
	if d != 0xDEADBEEFCAFEF00D {
		t.Errorf("read back 0x%x", d)
	}

	if _, err := mapper.ReadUint32(0x10000); common.CodeOf(err) != cosim.ErrMemNacc {
		t.Errorf("unmapped read: %v", err)
	}
	if err := mapper.WriteUint32(2*blockSize-2, 1); common.CodeOf(err) != cosim.ErrMemNacc {
		t.Errorf("write running off the end: %v", err)
	}
}

func TestFileAccessor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rom.bin")
	if err := os.WriteFile(path, patterned(0x30000), 0o644); err != nil {
		t.Fatal(err)
	}

	rom, err := NewFileAccessor(path, 0x10000, 0x100, 0x100)
	if err != nil {
		t.Fatalf("NewFileAccessor: %v", err)
	}
	mapper := NewMapper()
	if err := mapper.AddAccessor(rom); err != nil {
		t.Fatal(err)
	}
	defer mapper.RemoveAllAccessors()

	v, err := mapper.ReadUint32(0x10000)
	if err != nil || v != 0x30040 {
		t.Errorf("ReadUint32 = 0x%x, %v", v, err)
	}
	if err := mapper.WriteUint32(0x10000, 0); common.CodeOf(err) != cosim.ErrMemNacc {
		t.Errorf("write to rom: %v", err)
	}
	if _, err := mapper.ReadUint32(0x10100); common.CodeOf(err) != cosim.ErrMemNacc {
		t.Errorf("read past rom: %v", err)
	}

	if _, err := NewFileAccessor(path, 0, blockSize-4, 8); common.CodeOf(err) != cosim.ErrMemAccRangeInvalid {
		t.Errorf("range past end of file: %v", err)
	}
	if _, err := NewFileAccessor(filepath.Join(t.TempDir(), "missing"), 0, 0, 0); common.CodeOf(err) != cosim.ErrFileError {
		t.Errorf("missing file: %v", err)
	}
}

func TestReadHexImage(t *testing.T) {
	img, err := ReadHexImage(strings.NewReader(
		"# two lines\n" +
			"00000013000000130000001300100073\n" +
			"\n" +
			"0000000000000000deadbeef00000001\n"))
	if err != nil {
		t.Fatalf("ReadHexImage: %v", err)
	}
	if len(img) != 32 {
		t.Fatalf("len = %d", len(img))
	}
	words := make([]uint32, 8)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(img[i*4:])
	}
	want := []uint32{0x00100073, 0x13, 0x13, 0x13, 1, 0xDEADBEEF, 0, 0}
	if diff := cmp.Diff(want, words); diff != "" {
		t.Errorf("image words (-want +got):\n%s", diff)
	}

	if _, err := ReadHexImage(strings.NewReader("0011\n001122\n")); common.CodeOf(err) != cosim.ErrFileError {
		t.Errorf("ragged lines: %v", err)
	}
	if _, err := ReadHexImage(strings.NewReader("zz\n")); common.CodeOf(err) != cosim.ErrFileError {
		t.Errorf("bad digits: %v", err)
	}
}

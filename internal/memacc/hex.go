package memacc

import (
	"bufio"
	"encoding/hex"
	"io"
	"strings"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

// ReadHexImage reads a loadmem image. Each line is one big-endian hex
// number whose bytes are laid out little-endian at consecutive addresses,
// so a 32 digit line fills 16 bytes. All lines must have the same width.
// Blank lines and lines starting with '#' are skipped.
func ReadHexImage(r io.Reader) ([]byte, error) {
	var (
		img   []byte
		width int
		line  int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		b, err := hex.DecodeString(text)
		if err != nil {
			return nil, common.NewErrorf(cosim.ErrFileError, "loadmem line %d: %v", line, err)
		}
		if width == 0 {
			width = len(b)
		} else if len(b) != width {
			return nil, common.NewErrorf(cosim.ErrFileError, "loadmem line %d: %d bytes, earlier lines have %d", line, len(b), width)
		}
		for i := len(b) - 1; i >= 0; i-- {
			img = append(img, b[i])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, common.NewErrorf(cosim.ErrFileError, "loadmem: %v", err)
	}
	return img, nil
}

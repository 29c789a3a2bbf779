package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

const sessionIni = `
; rv32 one stage
[session]
cores = 1
memsize_mb = 4
max_cycles = 1_000_000
forward_hartid = yes

[debug]
max_idle_cycles=20
hart = 0

# target tile
[target]
mem_latency = 2
loadmem = "tests/rv32ui-p-add.hex"
load_addr = 0x2000

[predictor]
kind = btb
entries = 256
`

func TestParse(t *testing.T) {
	got, err := Parse(strings.NewReader(sessionIni))
	if err != nil {
		t.Fatal(err)
	}
	want := Session{
		Cores:            1,
		MemSizeMB:        4,
		MaxCycles:        1000000,
		ResetCycles:      DefaultResetCycles,
		ForwardHartID:    true,
		MaxIdleCycles:    20,
		MemLatency:       2,
		LoadMem:          "tests/rv32ui-p-add.hex",
		LoadAddr:         0x2000,
		Predictor:        "btb",
		PredictorEntries: 256,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("session (-want +got):\n%s", diff)
	}
	if got.MemSize() != 4<<20 {
		t.Errorf("MemSize = %d", got.MemSize())
	}
}

func TestParseDefaults(t *testing.T) {
	got, err := Parse(strings.NewReader("[unrelated]\nkey=value\n"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), got); diff != "" {
		t.Errorf("session (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		ini  string
		msg  string
	}{
		{"bad number", "[session]\nmax_cycles = lots\n", "max_cycles"},
		{"negative count", "[target]\nmem_latency = -1\n", "mem_latency"},
		{"bad bool", "[session]\nforward_hartid = maybe\n", "forward_hartid"},
		{"no cores", "[session]\ncores = 0\n", "cores"},
		{"no memory", "[session]\nmemsize_mb = 0\n", "memsize_mb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.ini))
			if common.CodeOf(err) != cosim.ErrConfigParse {
				t.Fatalf("err = %v, want config parse error", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("error %q does not name %s", err, tt.msg)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.ini")
	if err := os.WriteFile(path, []byte("[predictor]\nkind=fa-btb\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Predictor != "fa-btb" {
		t.Errorf("predictor = %q", s.Predictor)
	}

	_, err = Load(filepath.Join(t.TempDir(), "missing.ini"))
	if common.CodeOf(err) != cosim.ErrFileError {
		t.Errorf("missing file: %v", err)
	}
}

func TestParseIni(t *testing.T) {
	ini, err := ParseIni(strings.NewReader("top=1\n[ Sec ]\n Key = v = w \n;c\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]map[string]string{
		"":    {"top": "1"},
		"Sec": {"key": "v = w"},
	}
	if diff := cmp.Diff(want, ini.Sections); diff != "" {
		t.Errorf("sections (-want +got):\n%s", diff)
	}
	if ini.GetSection("missing") != nil {
		t.Errorf("missing section not nil")
	}
}

package printers

import (
	"bytes"
	"strings"
	"testing"

	"cosim/internal/bp"
	"cosim/internal/cosim"
	"cosim/internal/harness"
	"cosim/internal/htif"
	"cosim/internal/tracer"
)

type mockLogger struct {
	bytes.Buffer
}

func (m *mockLogger) LogMessage(sev cosim.ErrSeverity, msg string) {
	m.WriteString(msg)
}

func TestItemPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewItemPrinter(&buf)

	p.SetMute(true)
	if !p.IsMuted() {
		t.Error("expected muted")
	}
	p.MuteCyclePrint(true)
	if !p.CyclePrintMuted() {
		t.Error("expected cycle print muted")
	}

	ml := &mockLogger{}
	p.SetMessageLogger(ml)

	p.ItemPrintLine("Hello Test\n")
	if buf.String() != "Hello Test\n" {
		t.Errorf("buf string mismatch: %q", buf.String())
	}
	if ml.String() != "Hello Test\n" {
		t.Errorf("logger string mismatch: %q", ml.String())
	}
}

func TestPacketPrinter(t *testing.T) {
	var buf bytes.Buffer
	pp := NewPacketPrinter(&buf)

	read := htif.Packet{Header: htif.Header{Cmd: htif.CmdReadMem, Seqno: 1, DataSize: 1, Addr: 0x400}}
	ack := htif.NewAck(1, 0x1122334455667788)
	ackRaw, err := htif.Encode(ack)
	if err != nil {
		t.Fatal(err)
	}

	pp.SetMute(true)
	pp.RawPacketDataMon(htif.DirIn, 3, &read, nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
	pp.SetMute(false)

	tests := []struct {
		desc    string
		dir     htif.Direction
		cycle   cosim.Cycle
		pkt     htif.Packet
		raw     []byte
		exptStr string
	}{
		{
			desc:    "request",
			dir:     htif.DirIn,
			cycle:   12,
			pkt:     read,
			raw:     []byte{0x10, 0x10, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00},
			exptStr: "Cycle      12; In ; READ_MEM seq=  1 size=1 addr=0x0000000400; 10 10 00 00 04 00 00 00 \n",
		},
		{
			desc:    "ack with data",
			dir:     htif.DirOut,
			cycle:   cosim.BadCycle,
			pkt:     ack,
			raw:     ackRaw,
			exptStr: "Cycle ???????; Out; ACK      seq=  1 size=1 addr=0x0000000000 data=[0x1122334455667788]; 14 10 00 00 00 00 00 00 88 77 66 55 44 33 22 11 \n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			buf.Reset()
			pp.RawPacketDataMon(tc.dir, tc.cycle, &tc.pkt, tc.raw)
			if buf.String() != tc.exptStr {
				t.Errorf("\nexpected:\n%q\nactual:\n%q", tc.exptStr, buf.String())
			}
		})
	}

	// long packets wrap at 16 bytes, raw and cycle can be muted
	buf.Reset()
	pp.RawPacketDataMon(htif.DirOut, 0, &ack, append(ackRaw, 0xAA))
	if !strings.HasSuffix(buf.String(), "11 \naa \n") {
		t.Errorf("no wrap: %q", buf.String())
	}
	buf.Reset()
	pp.MuteCyclePrint(true)
	pp.MuteRawPrint(true)
	pp.RawPacketDataMon(htif.DirIn, 0, &read, ackRaw)
	if buf.String() != "In ; READ_MEM seq=  1 size=1 addr=0x0000000400;\n" {
		t.Errorf("muted line: %q", buf.String())
	}

	pp.SetCollectStats()
	pp.RawPacketDataMon(htif.DirIn, 0, &read, nil)
	pp.RawPacketDataMon(htif.DirOut, 0, &ack, nil)
	pp.RawPacketDataMon(htif.DirOut, 0, &ack, nil)
	buf.Reset()
	pp.PrintStats()
	for _, line := range []string{"READ_MEM : 1\n", "ACK : 2\n", "WRITE_CR : 0\n"} {
		if !strings.Contains(buf.String(), line) {
			t.Errorf("stats missing %q: %s", line, buf.String())
		}
	}
}

func TestStatsPrinter(t *testing.T) {
	var buf bytes.Buffer
	tr := tracer.New()
	sp := NewStatsPrinter(&buf, tr)

	res := harness.Result{
		Cycles: 200,
		ToHost: 1,
		Stats: harness.Stats{
			Cycles:    200,
			InstRet:   100,
			Predictor: bp.Stats{Predictions: 90, Taken: 10, Mispredicts: 4},
			Bridge:    htif.Stats{Packets: 3, WriteMem: 2, WriteCR: 1, LocalCR: 1},
		},
	}
	sp.PrintResult(res)
	out := buf.String()
	for _, line := range []string{
		"cycles      : 200\n",
		"IPC         : 0.500\n",
		"predictions : 90 (10 taken, 4 mispredicted)\n",
		"host packets: 3 (mem rd 0 wr 2, cr rd 0 wr 1, 1 local)\n",
		"#----------- Tracer Data -----------",
		"*** PASSED ***\n",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("report missing %q:\n%s", line, out)
		}
	}

	buf.Reset()
	sp.SetMute(true)
	sp.PrintResult(res)
	if buf.Len() != 0 {
		t.Errorf("muted printer wrote %q", buf.String())
	}
}

func TestPacketCapture(t *testing.T) {
	var buf bytes.Buffer
	c := NewPacketCapture(&buf)
	read := htif.Packet{Header: htif.Header{Cmd: htif.CmdReadMem, Seqno: 1, DataSize: 1}}
	c.RawPacketDataMon(htif.DirIn, 0, &read, []byte{1, 2})
	c.RawPacketDataMon(htif.DirOut, 0, &read, []byte{3, 4})
	c.RawPacketDataMon(htif.DirIn, 0, &read, []byte{5})
	if !bytes.Equal(buf.Bytes(), []byte{1, 2, 5}) || c.Err() != nil {
		t.Errorf("capture = %v, err %v", buf.Bytes(), c.Err())
	}
}

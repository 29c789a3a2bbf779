package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"cosim/internal/common"
	"cosim/internal/config"
	"cosim/internal/cosim"
	"cosim/internal/harness"
	"cosim/internal/htif"
	"cosim/internal/printers"
	"cosim/internal/script"
)

var (
	runConfigPath  string
	runMaxCycles   uint64
	runLoadMem     string
	runLoadAddr    uint64
	runHostListen  string
	runScript      string
	runTracePkts   bool
	runCapturePath string
	runStatsview   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a session on the reference target",
	Long: `Runs the target until the program writes tohost, the cycle limit is
reached or the session is interrupted. A host may connect over TCP to drive
the target through HTIF packets, and a Lua script may drive the debug module.`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "session configuration file")
	runCmd.Flags().Uint64Var(&runMaxCycles, "max-cycles", 0, "cycle limit, 0 for none (overrides the configuration)")
	runCmd.Flags().StringVar(&runLoadMem, "loadmem", "", "memory image loaded before reset (overrides the configuration)")
	runCmd.Flags().Uint64Var(&runLoadAddr, "loadaddr", 0, "target address of the memory image (overrides the configuration)")
	runCmd.Flags().StringVar(&runHostListen, "host-listen", "", "wait for one HTIF host connection on this address")
	runCmd.Flags().StringVar(&runScript, "script", "", "Lua debug script run against the debug module")
	runCmd.Flags().BoolVar(&runTracePkts, "trace-packets", false, "print every host packet")
	runCmd.Flags().StringVar(&runCapturePath, "capture", "", "write the packets received from the host to this file")
	runCmd.Flags().BoolVar(&runStatsview, "statsview", false, "serve runtime statistics on "+statsviewAddr)
}

func loadSession(cmd *cobra.Command) (config.Session, error) {
	s := config.Default()
	if runConfigPath != "" {
		var err error
		if s, err = config.Load(runConfigPath); err != nil {
			return s, err
		}
	}
	if cmd.Flags().Changed("max-cycles") {
		s.MaxCycles = runMaxCycles
	}
	if cmd.Flags().Changed("loadmem") {
		s.LoadMem = runLoadMem
	}
	if cmd.Flags().Changed("loadaddr") {
		s.LoadAddr = runLoadAddr
	}
	return s, nil
}

// acceptHost waits for the single host connection.
func acceptHost(ctx context.Context, addr string, logger common.Logger) (net.Conn, error) {
	ln, err := new(net.ListenConfig).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	// unblock Accept on interrupt
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	logger.Info(fmt.Sprintf("waiting for host on %s", ln.Addr()))
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	logger.Info(fmt.Sprintf("host connected from %s", conn.RemoteAddr()))
	return conn, nil
}

// packetMonitors offers each packet to every monitor in turn.
type packetMonitors []htif.PacketMonitor

func (m packetMonitors) RawPacketDataMon(dir htif.Direction, cycle cosim.Cycle, pkt *htif.Packet, raw []byte) {
	for _, mon := range m {
		mon.RawPacketDataMon(dir, cycle, pkt, raw)
	}
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	logger := newLogger()

	sess, err := loadSession(cmd)
	if err != nil {
		return err
	}
	cfg, err := harness.NewConfig(sess)
	if err != nil {
		return err
	}

	if runStatsview {
		stopView := launchStatsview(logger)
		defer stopView()
	}

	var host io.ReadWriter
	if runHostListen != "" {
		conn, err := acceptHost(ctx, runHostListen, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		host = conn
	}

	h, err := harness.New(cfg, host)
	if err != nil {
		return err
	}
	defer h.Close()
	h.AttachLogger(logger)
	h.SetErrorLogLevel(logLevel())

	var mons packetMonitors
	var capture *printers.PacketCapture
	if runTracePkts {
		mons = append(mons, printers.NewPacketPrinter(cmd.OutOrStdout()))
	}
	if runCapturePath != "" {
		f, err := os.Create(runCapturePath)
		if err != nil {
			return err
		}
		defer f.Close()
		capture = printers.NewPacketCapture(f)
		mons = append(mons, capture)
	}
	if len(mons) > 0 {
		if b := h.Bridge(); b != nil {
			b.PktMon.ReplaceFirst(mons)
		} else {
			logger.Warning("no host connection: packet tracing and capture ignored")
		}
	}

	var client harness.Client
	if runScript != "" {
		client = script.Client(runScript, cmd.OutOrStdout(), logger)
	}

	res, err := h.Run(ctx, client)
	if err != nil {
		return err
	}
	if capture != nil && capture.Err() != nil {
		logger.Error(fmt.Errorf("capture: %w", capture.Err()))
	}

	printers.NewStatsPrinter(cmd.OutOrStdout(), h.Tracer()).PrintResult(res)
	if !res.Passed() {
		return errSessionFailed
	}
	return nil
}

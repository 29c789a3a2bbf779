// Command cosim runs a program on the reference target with the host bridge
// and the debug transport attached, and decodes host packet captures.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

var verbose int

// errSessionFailed exits non-zero after the result has been reported.
var errSessionFailed = errors.New("session failed")

var rootCmd = &cobra.Command{
	Use:   "cosim",
	Short: "Host-target co-simulation bridge",
	Long: `Steps a simulated RISC-V tile clock by clock, serving a host over
the HTIF packet protocol and a debug client over the debug module interface.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var errorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List the error codes and their descriptions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		codes := make([]cosim.Err, 0, len(common.ErrorCodeDesc))
		for c := range common.ErrorCodeDesc {
			codes = append(codes, c)
		}
		sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "Error Code List")
		fmt.Fprintln(w)
		for _, c := range codes {
			d := common.ErrorCodeDesc[c]
			fmt.Fprintf(w, "0x%04x %-28s %s\n", uint32(c), d.Name, d.Msg)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "log verbosity, repeat for debug output")
	rootCmd.AddCommand(runCmd, decodeCmd, errorsCmd)
}

// newLogger builds the console logger for the verbosity flag.
func newLogger() *common.StdLogger {
	level := common.SeverityInfo
	if verbose > 1 {
		level = common.SeverityDebug
	}
	l := common.NewStdLoggerWithWriter(os.Stderr, os.Stderr, level)
	l.SetColour(term.IsTerminal(int(os.Stderr.Fd())))
	return l
}

// logLevel maps the verbosity flag onto the component message level.
func logLevel() cosim.ErrSeverity {
	if verbose > 0 {
		return cosim.ErrSevInfo
	}
	return cosim.ErrSevWarn
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errSessionFailed) {
			fmt.Fprintf(os.Stderr, "cosim: %v\n", err)
		}
		os.Exit(1)
	}
}

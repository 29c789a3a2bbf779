package main

import (
	"github.com/spf13/cobra"

	"cosim/internal/lister"
)

var (
	decodeNoRaw bool
	decodeStats bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode FILE",
	Short: "List the packets in a host capture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lister.Run(lister.Config{
			InputPath:    args[0],
			NoRawPrint:   decodeNoRaw,
			Stats:        decodeStats,
			OutputWriter: cmd.OutOrStdout(),
		})
	},
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeNoRaw, "no-raw", false, "do not print the raw packet bytes")
	decodeCmd.Flags().BoolVar(&decodeStats, "stats", false, "print packet counts per command")
}

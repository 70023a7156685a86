package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vengine",
		Short: "vengine - RESP command server",
		Long: `vengine is a TCP command server speaking a RESP-compatible protocol.

A single reactor goroutine multiplexes every connection with epoll and hands
parsed commands to a fixed pool of workers. Replies for a connection are
written in the order its commands arrived.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newStartCmd(), newInitCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the vengine version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vengine %s\n", version)
		},
	}
}

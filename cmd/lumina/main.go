// Package main provides the entry point for the lumina CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/irjudson/lumina/cmd/lumina/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lumina",
		Short: "Lumina photo library manager",
		Long: `Lumina manages photo and video libraries: it scans source
directories, probes capture metadata, finds duplicates and burst
sequences, scores image quality, and tags images, all through a
durable parallel job system.

Run "lumina serve" to start the server, then use the other commands
to talk to it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewScanCommand())
	rootCmd.AddCommand(commands.NewJobsCommand())
	rootCmd.AddCommand(commands.NewCatalogsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

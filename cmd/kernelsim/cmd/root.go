// Package cmd provides the command-line interface for kernelsim.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kernelsim",
	Short: "kernelsim simulates the scheduler and memory system of a kernel.",
	Long: `kernelsim runs generated processes on simulated CPUs. The processes
are picked by a multi-level or single-level scheduler and access memory
through an MMU that consults a TLB before the paging system.`,
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

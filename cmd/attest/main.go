// Attest — sandboxed execution and evidence validation for AI-generated browser tests.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "attest",
	Short: "Attest — sandboxed execution and evidence validation for browser tests.",
	Long: `Attest runs AI-generated browser tests inside a userspace sandbox,
collects the artifacts they produce, and validates the run against an
evidence rubric. A test only passes when the process completed, the
runner reported success, and artifacts prove the browser actually ran.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, validateCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// Command tailor tailors resumes to job descriptions, either as an HTTP
// service or as an interactive terminal session.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tailor",
	Short: "Resume tailoring workflow",
	Long: `tailor analyzes a resume against a job description, proposes targeted
edits for review and renders a tailoring report. Configuration comes from an
optional YAML file, a .env file and TAILOR_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/readium/lcp-client-go/pkg/lcplog"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lcpctl",
	Short: "lcpctl - Readium LCP license client",
	Long: `lcpctl opens, verifies and unlocks Readium LCP protected publications
from the command line: license inspection, passphrase checking,
resource decryption and rights bookkeeping.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("lcpctl version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file (defaults built in if omitted)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(addPassphraseCmd)
	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(rightsCmd)
	rootCmd.AddCommand(acquireCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	lcplog.Init(lcplog.Config{
		Level:      lcplog.Level(logLevel),
		JSONOutput: logJSON,
	})
}

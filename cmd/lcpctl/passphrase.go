package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var addPassphraseCmd = &cobra.Command{
	Use:   "check-passphrase <license-file> <passphrase>",
	Short: "Check a passphrase against a license and report whether it unlocks the content key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		svc, closeFn, err := buildService(configPath)
		if err != nil {
			return err
		}
		defer closeFn()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read license file: %w", err)
		}

		id, err := svc.OpenLicense(raw)
		if err != nil {
			return err
		}
		defer svc.Close(id)

		if err := svc.AddPassphrase(id, args[1]); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "passphrase unlocks this license")
		return nil
	},
}

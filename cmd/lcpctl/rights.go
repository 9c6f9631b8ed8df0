package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var rightsCmd = &cobra.Command{
	Use:   "consume <license-file> <passphrase> <right> <delta>",
	Short: "Consume a countable right (print, copy) by delta units",
	Args:  cobra.ExactArgs(4),
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

		delta, err := strconv.ParseInt(args[3], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid delta %q: %w", args[3], err)
		}

		if err := svc.Consume(id, args[2], delta); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "consumed %d units of %s\n", delta, args[2])
		return nil
	},
}

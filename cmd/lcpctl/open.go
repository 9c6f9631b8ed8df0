package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var openCmd = &cobra.Command{
	Use:   "open <license-file>",
	Short: "Parse and verify a license, printing its rights and metadata",
	Args:  cobra.ExactArgs(1),
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

		set, err := svc.Rights(id)
		if err != nil {
			return err
		}

		out := map[string]interface{}{"handle": string(id), "rights": set}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

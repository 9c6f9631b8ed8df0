package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// fileSource adapts an *os.File to decrypt.Source.
type fileSource struct{ f *os.File }

func (s fileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }

func (s fileSource) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <license-file> <passphrase> <resource-file> <output-file>",
	Short: "Decrypt an encrypted publication resource to a plaintext file",
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

		resourceFile, err := os.Open(args[2])
		if err != nil {
			return fmt.Errorf("open resource file: %w", err)
		}
		defer resourceFile.Close()

		stream, err := svc.DecryptStream(id, fileSource{f: resourceFile})
		if err != nil {
			return err
		}

		out, err := os.Create(args[3])
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer out.Close()

		n, err := io.Copy(out, stream)
		if err != nil {
			return fmt.Errorf("decrypt resource: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d plaintext bytes to %s\n", n, args[3])
		return nil
	},
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/readium/lcp-client-go/pkg/httpfetch"
	"github.com/readium/lcp-client-go/pkg/lcp"
)

var acquireCmd = &cobra.Command{
	Use:   "acquire <url> <dest-file>",
	Short: "Download a publication archive, retrying and resuming on failure",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fetcher := httpfetch.AcquisitionFetcher{Client: httpfetch.New(30 * time.Second)}

		acq := lcp.NewAcquisition(fetcher, args[0], args[1], func(p lcp.Progress) {
			fmt.Fprintf(cmd.OutOrStdout(), "\r%s: %d/%d bytes (%.1f%%)", p.State, p.BytesReceived, p.TotalBytes, p.Fraction()*100)
		})

		if err := acq.Run(context.Background()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintf(cmd.OutOrStdout(), "acquired %s\n", args[1])
		return nil
	},
}

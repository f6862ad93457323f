package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ligustah/gulp/internal/config"
	"github.com/ligustah/gulp/internal/downloader"
	gulphttp "github.com/ligustah/gulp/internal/http"
	"github.com/ligustah/gulp/internal/progress"
)

func newInfoCmd(loadConfig func(*cobra.Command) (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:     "info URL",
		Short:   "Show size, validators and range support of a URL",
		Example: "  gulp info https://example.com/ubuntu.iso",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("exactly one URL is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			opts := gulphttp.DefaultOptions()
			opts.ConnectTimeout = cfg.Timeout.Connect
			opts.TLSHandshakeTimeout = cfg.Timeout.TLSHandshake
			opts.ResponseHeaderTimeout = cfg.Timeout.ResponseHeader

			info, err := downloader.Info(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "url: %s\n", args[0])
			if info.Size >= 0 {
				fmt.Fprintf(out, "size: %d (%s)\n", info.Size, progress.FormatBytes(info.Size))
			} else {
				fmt.Fprintln(out, "size: unknown")
			}
			fmt.Fprintf(out, "etag: %s\n", info.ETag)
			if !info.LastModified.IsZero() {
				fmt.Fprintf(out, "last-modified: %s\n", info.LastModified.UTC().Format(time.RFC1123))
			}
			fmt.Fprintf(out, "content-type: %s\n", info.ContentType)
			fmt.Fprintf(out, "ranges: %t\n", info.AcceptsRanges)
			return nil
		},
	}
}

package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	verbose    bool
	noProgress bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "romset",
		Short: "Build and verify canonical rom set containers",
		Long: `romset matches source files against a datfile by CRC32 and size and
writes one byte-reproducible zip container per set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVar(&opts.noProgress, "no-progress", false, "disable progress bars")

	cmd.AddCommand(
		newBuildCmd(opts),
		newManifestCmd(opts),
		newVerifyCmd(),
		newAppendCmd(opts),
	)
	return cmd
}

// logger writes text logs to w at info level, or debug when verbose.
func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

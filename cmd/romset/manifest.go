package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/meigma/romset"
)

const (
	formatXML = "xml"
	formatFB  = "fb"
)

type manifestOptions struct {
	root   *rootOptions
	output string
	format string
}

func newManifestCmd(root *rootOptions) *cobra.Command {
	opts := &manifestOptions{root: root}
	cmd := &cobra.Command{
		Use:   "manifest SRC",
		Short: "Describe a directory tree, recursing into valid containers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the manifest to FILE instead of stdout")
	cmd.Flags().StringVar(&opts.format, "format", formatXML, "output format: xml or fb")
	return cmd
}

func (o *manifestOptions) run(cmd *cobra.Command, src string) error {
	if o.format != formatXML && o.format != formatFB {
		return fmt.Errorf("unknown format %q (want %s or %s)", o.format, formatXML, formatFB)
	}
	var bars *progressBars
	if !o.root.noProgress {
		bars = newProgressBars(cmd.ErrOrStderr())
	}
	node, err := romset.BuildManifest(cmd.Context(), src,
		romset.ManifestWithLogger(o.root.logger(cmd.ErrOrStderr())),
		romset.ManifestWithProgress(bars.Func()))
	bars.Finish()
	if err != nil {
		return err
	}

	if o.output == "" {
		return o.encode(cmd.OutOrStdout(), node)
	}
	f, err := os.Create(o.output)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := o.encode(bw, node); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (o *manifestOptions) encode(w io.Writer, node *romset.ManifestNode) error {
	if o.format == formatFB {
		_, err := w.Write(romset.MarshalManifest(node))
		return err
	}
	return romset.MarshalManifestXML(w, node)
}

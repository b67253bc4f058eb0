package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	torzip "github.com/meigma/romset/core"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify ZIP...",
		Short: "Check that containers are valid and canonical",
		Long: `verify runs the strict structural validator over each file and checks
that its end record carries a matching identity comment. It prints one line
per file and fails if any file is invalid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			invalid := 0
			for _, path := range args {
				if err := verifyFile(path); err != nil {
					invalid++
					fmt.Fprintf(out, "%s: invalid: %v\n", path, err)
					continue
				}
				fmt.Fprintf(out, "%s: ok\n", path)
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d files invalid", invalid, len(args))
			}
			return nil
		},
	}
}

func verifyFile(path string) error {
	f, err := os.Open(path) //nolint:gosec // caller-provided path is intentional
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := torzip.Validate(f); err != nil {
		return err
	}
	return torzip.CheckIdentity(f, info.Size())
}

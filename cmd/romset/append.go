package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meigma/romset"
	torzip "github.com/meigma/romset/core"
)

type appendOptions struct {
	prefix string
	name   string
	member string
}

func newAppendCmd(root *rootOptions) *cobra.Command {
	opts := &appendOptions{}
	cmd := &cobra.Command{
		Use:   "append ZIP FILE...",
		Short: "Add files to a canonical container in place",
		Long: `append adds each FILE as a member named after its base name, optionally
under --prefix. With a single FILE, --name sets the member name and
--member copies the named entry out of FILE, which must then be a
container; the member keeps the entry's name unless --name is given. ZIP is created when missing; an existing ZIP must be a
canonical container. The result is canonical but its members keep the
order in which they were added.`,
		Example: `  romset append set.zip rom.bin
  romset append --name game/rom.bin set.zip other.zip --member rom.bin`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			files := args[1:]
			if (opts.name != "" || opts.member != "") && len(files) != 1 {
				return errors.New("--name and --member take exactly one FILE")
			}
			sources := make([]torzip.Source, 0, len(files))
			for _, path := range files {
				src, err := opts.source(path)
				if err != nil {
					return err
				}
				sources = append(sources, src)
			}

			f, err := os.OpenFile(args[0], os.O_RDWR|os.O_CREATE, 0o644) //nolint:gosec // caller-provided path is intentional
			if err != nil {
				return err
			}
			w := torzip.NewWriter(torzip.WithLogger(root.logger(cmd.ErrOrStderr())))
			entries, err := w.Append(cmd.Context(), f, sources)
			if err != nil {
				f.Close()
				return fmt.Errorf("append to %s: %w", args[0], err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d members\n", args[0], len(entries))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "directory prefix for member names")
	cmd.Flags().StringVar(&opts.name, "name", "", "member name for the single FILE")
	cmd.Flags().StringVar(&opts.member, "member", "", "copy this entry out of the container FILE")
	return cmd
}

// source returns the writer source for path. The content is read through a
// Location, so members copied out of a container are CRC-checked.
func (o *appendOptions) source(path string) (torzip.Source, error) {
	loc := romset.Location{Member: path}
	name := filepath.Base(path)
	var size uint64
	if o.member != "" {
		m, err := findMember(path, o.member)
		if err != nil {
			return torzip.Source{}, err
		}
		loc = romset.Location{Base: path, Member: m.Name}
		name = m.Name
		size = m.Size
	} else {
		info, err := os.Stat(path)
		if err != nil {
			return torzip.Source{}, err
		}
		if !info.Mode().IsRegular() {
			return torzip.Source{}, fmt.Errorf("%s is not a regular file", path)
		}
		size = uint64(info.Size()) //nolint:gosec // regular file sizes are non-negative
	}
	if o.name != "" {
		name = o.name
	}
	if o.prefix != "" {
		name = filepath.ToSlash(filepath.Join(o.prefix, name))
	}
	return torzip.Source{Name: name, Size: size, Open: loc.Open}, nil
}

func findMember(path, name string) (torzip.Member, error) {
	a, err := torzip.OpenArchive(path)
	if err != nil {
		return torzip.Member{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer a.Close()
	for _, m := range a.Members() {
		if m.Name == name && !m.IsDir() {
			return m, nil
		}
	}
	return torzip.Member{}, fmt.Errorf("%s: %w: %s", path, torzip.ErrNotFound, name)
}

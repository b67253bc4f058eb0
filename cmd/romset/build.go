package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/romset"
	"github.com/meigma/romset/cache"
	"github.com/meigma/romset/cache/disk"
	"github.com/meigma/romset/catalog"
	"github.com/meigma/romset/internal/config"
)

type buildOptions struct {
	root       *rootOptions
	configPath string
	cacheFile  string
	workers    int
}

func newBuildCmd(root *rootOptions) *cobra.Command {
	opts := &buildOptions{root: root}
	cmd := &cobra.Command{
		Use:   "build [DATFILE DEST SOURCE...]",
		Short: "Write one canonical container per datfile set",
		Long: `build indexes every source file and archive member by CRC32 and size,
resolves the datfile's sets against the index using merged-set rules and
writes DEST/<set>.zip for each set. Roms with no source are written as zero
bytes of the declared size. Settings may come from --config instead of
arguments.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringVar(&opts.cacheFile, "cache", "", `hash cache file ("none" disables it)`)
	cmd.Flags().IntVarP(&opts.workers, "workers", "j", 0, "sets written concurrently (default: number of CPUs)")
	return cmd
}

func (o *buildOptions) config(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := &config.Config{}
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	if len(args) > 0 {
		if len(args) < 3 {
			return nil, errors.New("build needs DATFILE DEST and at least one SOURCE")
		}
		cfg.Catalog, cfg.Dest, cfg.Sources = args[0], args[1], args[2:]
	}
	if cmd.Flags().Changed("cache") {
		cfg.CacheFile = o.cacheFile
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = o.workers
	}
	cfg.Verbose = cfg.Verbose || o.root.verbose
	return cfg, cfg.Validate()
}

func (o *buildOptions) run(cmd *cobra.Command, args []string) error {
	cfg, err := o.config(cmd, args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	logger := (&rootOptions{verbose: cfg.Verbose}).logger(cmd.ErrOrStderr())
	var bars *progressBars
	if !o.root.noProgress {
		bars = newProgressBars(cmd.ErrOrStderr())
	}

	df, err := catalog.Load(cfg.Catalog)
	if err != nil {
		return err
	}

	store := cache.New()
	cachePath := cfg.CachePath()
	if cachePath != "" {
		store = disk.Load(cachePath, disk.WithLogger(logger))
	}
	idx, err := romset.BuildIndex(ctx, cfg.Sources,
		romset.IndexWithCache(store),
		romset.IndexWithLogger(logger),
		romset.IndexWithProgress(bars.Func()))
	bars.Finish()
	if cachePath != "" {
		if serr := disk.Save(cachePath, store, disk.WithLogger(logger)); serr != nil {
			logger.Warn("could not save hash cache", "path", cachePath, "error", serr)
		}
	}
	if err != nil {
		return err
	}
	logger.Info("sources indexed", "files", idx.Files(), "fingerprints", idx.Len())

	sets, err := romset.Resolve(df, idx, romset.ResolveWithLogger(logger))
	if err != nil {
		return err
	}
	report, err := romset.Build(ctx, cfg.Dest, sets,
		romset.BuildWithWorkers(cfg.Workers),
		romset.BuildWithLogger(logger),
		romset.BuildWithProgress(bars.Func()))
	bars.Finish()
	if err != nil {
		return err
	}

	missing := 0
	for _, res := range report.Results {
		missing += res.Unresolved
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sets: %d written, %d unchanged, %d empty, %d failed; %d roms missing\n",
		report.Count(romset.StatusWritten),
		report.Count(romset.StatusUnchanged),
		report.Count(romset.StatusEmpty),
		report.Count(romset.StatusFailed),
		missing)
	if failed := report.Failures(); len(failed) > 0 {
		return fmt.Errorf("%d of %d sets failed", len(failed), len(report.Results))
	}
	return ctx.Err()
}

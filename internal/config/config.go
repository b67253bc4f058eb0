// Package config loads the romset command line configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultCacheName is the file name of the hash cache inside the user cache
// directory.
const DefaultCacheName = "hashes.cache"

// Config holds the settings of a build. Fields left empty in the file are
// filled from flags or defaults by the caller.
type Config struct {
	// Dest is the output directory for set containers.
	Dest string `yaml:"dest"`

	// Catalog is the path of the datfile.
	Catalog string `yaml:"catalog"`

	// Sources are the files and directories scanned for rom content.
	Sources []string `yaml:"sources"`

	// CacheFile is the path of the persisted hash cache. "none" disables it.
	CacheFile string `yaml:"cache_file"`

	// Workers bounds the number of sets written concurrently.
	Workers int `yaml:"workers"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
}

// NoCache is the CacheFile value that disables the hash cache.
const NoCache = "none"

// Load reads a YAML configuration file. Unknown keys are rejected. Relative
// paths in the file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes a YAML configuration document. An empty document yields a
// zero Config.
func Parse(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	return &cfg, nil
}

func (c *Config) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Dest = abs(c.Dest)
	c.Catalog = abs(c.Catalog)
	for i, s := range c.Sources {
		c.Sources[i] = abs(s)
	}
	if c.CacheFile != NoCache {
		c.CacheFile = abs(c.CacheFile)
	}
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Catalog == "" {
		errs = append(errs, errors.New("catalog is required"))
	}
	if c.Dest == "" {
		errs = append(errs, errors.New("dest is required"))
	}
	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("at least one source is required"))
	}
	return errors.Join(errs...)
}

// CachePath returns the hash cache path, or "" when the cache is disabled.
// An unset CacheFile resolves to DefaultCacheName under the user cache
// directory.
func (c *Config) CachePath() string {
	switch c.CacheFile {
	case NoCache:
		return ""
	case "":
		dir, err := os.UserCacheDir()
		if err != nil {
			return ""
		}
		return filepath.Join(dir, "romset", DefaultCacheName)
	default:
		return c.CacheFile
	}
}

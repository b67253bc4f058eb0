// Package romset builds canonical ROM-archive collections from a reference
// catalog ("datfile").
//
// A build runs in three steps. [BuildIndex] scans candidate source paths,
// including the members of archives found there, and maps each content
// fingerprint to the first location that provides it. [Resolve] reads the
// catalog, merges clone sets into their parents, normalizes and
// de-duplicates rom names, and links every wanted rom to a source location
// or marks it unresolved. [Build] then writes one canonical container per
// set over a bounded worker pool, isolating per-set failures.
//
// # Quick Start
//
//	store := disk.Load(cachePath)
//	idx, err := romset.BuildIndex(ctx, []string{"./incoming"},
//	    romset.IndexWithCache(store),
//	)
//	if err != nil {
//	    return err
//	}
//	_ = disk.Save(cachePath, store)
//
//	df, err := catalog.Load("set.dat")
//	if err != nil {
//	    return err
//	}
//	sets, err := romset.Resolve(df, idx)
//	if err != nil {
//	    return err
//	}
//	report, err := romset.Build(ctx, "./roms", sets)
//
// # Canonical output
//
// Containers are written in the TorrentZip canonical form by the
// github.com/meigma/romset/core package: identical (name, size, crc32,
// order) sequences always produce byte-identical files, so a destination
// that already matches its set is left untouched.
//
// # Manifests
//
// [BuildManifest] walks an existing tree, recursing into valid containers
// and containers nested inside them, and records a fingerprint for every
// file. The result can be written as XML or as a FlatBuffers buffer.
package romset

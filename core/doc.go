// Package torzip implements the container engine behind romset: a strict
// structural validator, a seekable reader for compressed members, and a
// canonical writer whose output depends only on the logical member list.
//
// The container format is the ZIP family of signature-tagged records. The
// validator walks records from offset zero and accepts only single-volume,
// non-streaming, unencrypted containers whose local records and catalog
// directory agree field for field. The writer emits the TorrentZip canonical
// form:
//   - every member is deflated with one fixed configuration (maximum level)
//   - every header carries the same fixed version, flags and timestamp
//   - the end record carries a 22-byte comment tagging the CRC32 of the
//     catalog directory
//
// Identical (name, size, crc32, order) sequences therefore always produce
// byte-identical files, which lets callers skip rewriting an archive that
// already matches.
package torzip

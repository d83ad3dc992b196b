// Package haygo is an append-only object store for small files. Objects
// (needles) are packed into large volume files so that a read costs one
// in-memory lookup and one disk access, regardless of how many objects
// the store holds.
//
// A store manages a directory of volumes. Each volume is a data file of
// length-prefixed needles plus an index log used to rebuild the lookup
// table on startup:
//
//	store, err := haygo.Open(ctx, "/var/lib/haygo")
//	if err != nil { ... }
//	defer store.Close()
//
//	if err := store.Write(ctx, "/photos/42.jpg", body); err != nil { ... }
//
//	n, err := store.Get(ctx, "/photos/42.jpg")
//	if err != nil { ... }
//	data, err := n.Bytes(ctx)
//
// Needles above one MiB are streamed chunk by chunk instead of being
// buffered; use needle.Needle.ForEachChunk to consume them with bounded
// memory.
//
// The store never mutates written bytes. Overwriting a key appends a new
// needle and repoints the lookup table; deletion and compaction are out
// of scope.
package haygo

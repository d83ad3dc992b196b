// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: Represents an open file with positioned read/write/sync capabilities
//   - [FileSystem]: Abstracts filesystem operations (open, stat, remove, etc.)
//
// # Implementations
//
//   - [LocalFS]: Production implementation using standard os package
//   - [FaultyFS]: Test utility for fault injection (simulate I/O errors)
//
// # Usage
//
// Production code should use fs.Default (which is [LocalFS]):
//
//	file, err := fs.Default.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
//
// Tests can inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("1.data", fs.Fault{FailAfterBytes: 1024})
//	// inject ffs into component under test
//
// Implementations must be backed by real local files: index log replay
// memory-maps its file by path, outside this abstraction. [FaultyFS]
// satisfies that by wrapping a real filesystem; a purely in-memory
// FileSystem would not.
//
// # Design Notes
//
// This package intentionally does NOT include context.Context parameters.
// Filesystem operations are typically fast (microseconds for local NVMe) and
// non-interruptible at the syscall level. Adding context would add overhead
// without meaningful cancellation capability.
package fs

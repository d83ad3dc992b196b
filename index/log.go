// Package index implements the append-only index record log of a volume.
//
// The log is a strict write-ahead record of index mutations, not a snapshot:
// one record is appended per committed write and records are never rewritten.
// Later records for the same key supersede earlier ones only in the in-memory
// map rebuilt during replay. Replaying the file in order therefore reproduces
// write-commit order.
package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/hupe1980/haygo/internal/fs"
)

const (
	logMagic      = "HAYGOIDX" // 8 bytes
	logVersion    = 1
	logHeaderSize = 12
)

var (
	// ErrInvalidHeader marks a file that is not an index log.
	ErrInvalidHeader = errors.New("invalid index log header")

	// ErrIncompatibleVersion marks an index log written by a newer format.
	ErrIncompatibleVersion = errors.New("incompatible index log version")
)

// Log is an open index record log. Appends are positioned writes at the
// tracked end offset; the log never seeks.
type Log struct {
	fsys   fs.FileSystem
	file   fs.File
	path   string
	size   int64
	logger *slog.Logger
}

// Create creates a new, empty index log at path. It fails if the file
// already exists.
func Create(fsys fs.FileSystem, path string, logger *slog.Logger) (*Log, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if logger == nil {
		logger = slog.Default()
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("create index log: %w", err)
	}

	header := make([]byte, logHeaderSize)
	copy(header[0:8], logMagic)
	binary.LittleEndian.PutUint32(header[8:12], uint32(logVersion))
	if _, err := f.WriteAt(header, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write index log header: %w", err)
	}

	return &Log{fsys: fsys, file: f, path: path, size: logHeaderSize, logger: logger}, nil
}

// Open opens an existing index log and replays it.
//
// It returns the log positioned for appending, the rebuilt key map, the last
// record replayed and the total number of records. A torn or corrupt trailing
// record is logged and truncated away rather than failing the replay; a bad
// file header is a hard error.
//
// Replay memory-maps path directly from the local filesystem; fsys covers
// the append handle and the truncate, not the replay reads. The log file
// must therefore exist on disk even when fsys wraps the real filesystem.
func Open(fsys fs.FileSystem, path string, logger *slog.Logger) (*Log, map[string]Entry, Record, int, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if logger == nil {
		logger = slog.Default()
	}

	entries, last, count, good, err := replay(path, logger)
	if err != nil {
		return nil, nil, Record{}, 0, err
	}

	f, err := fsys.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, nil, Record{}, 0, fmt.Errorf("open index log: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, Record{}, 0, fmt.Errorf("stat index log: %w", err)
	}
	if st.Size() > good {
		logger.Warn("truncating torn index log tail",
			"path", path,
			"file_size", st.Size(),
			"valid_size", good,
		)
		if err := fsys.Truncate(path, good); err != nil {
			f.Close()
			return nil, nil, Record{}, 0, fmt.Errorf("truncate index log: %w", err)
		}
	}

	l := &Log{fsys: fsys, file: f, path: path, size: good, logger: logger}
	return l, entries, last, count, nil
}

// replay parses the record stream through a read-only mapping, so the append
// handle's cursor is never involved. It returns the rebuilt map, the last
// record, the record count and the offset of the last valid record boundary.
func replay(path string, logger *slog.Logger) (map[string]Entry, Record, int, int64, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, Record{}, 0, 0, fmt.Errorf("map index log: %w", err)
	}
	defer r.Close()

	size := r.Len()
	if size < logHeaderSize {
		return nil, Record{}, 0, 0, fmt.Errorf("%w: file too small (%d < %d)", ErrInvalidHeader, size, logHeaderSize)
	}
	header := make([]byte, logHeaderSize)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, Record{}, 0, 0, fmt.Errorf("read index log header: %w", err)
	}
	if string(header[0:8]) != logMagic {
		return nil, Record{}, 0, 0, fmt.Errorf("%w: magic %q", ErrInvalidHeader, header[0:8])
	}
	if ver := binary.LittleEndian.Uint32(header[8:12]); ver != logVersion {
		return nil, Record{}, 0, 0, fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, ver, logVersion)
	}

	data := make([]byte, size-logHeaderSize)
	if _, err := r.ReadAt(data, logHeaderSize); err != nil {
		return nil, Record{}, 0, 0, fmt.Errorf("read index log: %w", err)
	}

	entries := make(map[string]Entry)
	var last Record
	count := 0
	off := 0
	for off < len(data) {
		rec, n, err := decodeRecord(data[off:])
		if err != nil {
			// Anything unparseable past the last good boundary is treated
			// as a torn tail: replay stops here and the caller truncates.
			logger.Warn("index log replay stopped at unparseable record",
				"path", path,
				"offset", logHeaderSize+off,
				"error", err,
			)
			break
		}
		entries[rec.Key] = rec.Entry
		last = rec
		count++
		off += n
	}

	return entries, last, count, int64(logHeaderSize + off), nil
}

// Append persists one index record. The record is durable only as far as the
// OS page cache; the engine makes no fsync promise.
func (l *Log) Append(key string, e Entry) error {
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}
	rec := &Record{Key: key, Entry: e}
	buf := appendRecord(make([]byte, 0, rec.size()), rec)
	if _, err := l.file.WriteAt(buf, l.size); err != nil {
		// size is not advanced: a later append overwrites the partial bytes.
		return fmt.Errorf("append index record: %w", err)
	}
	l.size += int64(len(buf))
	return nil
}

// Size returns the current end offset of the log in bytes.
func (l *Log) Size() int64 { return l.size }

// Path returns the log's file path.
func (l *Log) Path() string { return l.path }

// Sync flushes the log file to stable storage.
func (l *Log) Sync() error { return l.file.Sync() }

// Close releases the log's file handle.
func (l *Log) Close() error { return l.file.Close() }

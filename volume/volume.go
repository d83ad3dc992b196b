// Package volume implements the append-only volume engine: one data file
// holding length-prefixed needles and one index log locating them.
//
// The engine performs synchronous positioned I/O. currentLength is the sole
// source of truth for the next append offset; neither the write nor the read
// path depends on a shared file cursor. Writes to one volume are not
// internally serialized; the owning layer must hold an exclusive lock per
// volume for the duration of a write and may allow concurrent reads under a
// shared lock.
package volume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hupe1980/haygo/index"
	"github.com/hupe1980/haygo/internal/fs"
	"github.com/hupe1980/haygo/needle"
)

const (
	// DataExt is the data file extension.
	DataExt = ".data"

	// IndexExt is the index log extension.
	IndexExt = ".index"
)

// Options configure a volume independent of its files.
type Options struct {
	// Logger receives engine diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// StrictRead promotes a mismatch between the header-declared body length
	// and the index-declared record length from a logged warning to
	// ErrDataCorruption.
	StrictRead bool
}

// Volume owns one data file and one index log.
type Volume struct {
	id        uint32
	dataPath  string
	indexPath string

	currentLength uint64
	maxLength     uint64

	dataFile fs.File // append handle, positioned writes only
	readFile fs.File // independent read-only handle, positioned reads only
	log      *index.Log
	entries  map[string]index.Entry

	logger     *slog.Logger
	strictRead bool
}

// DataPath returns the data file path for a volume id under dir.
func DataPath(dir string, id uint32) string {
	return filepath.Join(dir, strconv.FormatUint(uint64(id), 10)+DataExt)
}

// IndexPath returns the index log path for a volume id under dir.
func IndexPath(dir string, id uint32) string {
	return filepath.Join(dir, strconv.FormatUint(uint64(id), 10)+IndexExt)
}

// ParseID extracts the volume id from a volume file path's stem.
func ParseID(path string) (uint32, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	id, err := strconv.ParseUint(stem, 10, 32)
	if err != nil {
		return 0, &ErrPathParse{Path: path, Detail: "file stem is not a volume id", cause: err}
	}
	return uint32(id), nil
}

func applyOptions(optFns []func(*Options)) Options {
	opts := Options{Logger: slog.Default()}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Create creates a new, empty volume in dir. It fails with ErrAlreadyExists
// if either the data file or the index log is already present.
func Create(fsys fs.FileSystem, dir string, id uint32, maxLength uint64, optFns ...func(*Options)) (*Volume, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	opts := applyOptions(optFns)

	dataPath := DataPath(dir, id)
	indexPath := IndexPath(dir, id)
	for _, p := range []string{dataPath, indexPath} {
		if _, err := fsys.Stat(p); err == nil {
			return nil, &ErrAlreadyExists{ID: id, Path: p}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
	}
	if err := fsys.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create volume directory: %w", err)
	}

	log, err := index.Create(fsys, indexPath, opts.Logger)
	if err != nil {
		return nil, err
	}

	v := &Volume{
		id:         id,
		dataPath:   dataPath,
		indexPath:  indexPath,
		maxLength:  maxLength,
		log:        log,
		entries:    make(map[string]index.Entry),
		logger:     opts.Logger.With("volume", id),
		strictRead: opts.StrictRead,
	}
	if err := v.openDataFiles(fsys, os.O_CREATE|os.O_EXCL); err != nil {
		log.Close()
		return nil, err
	}

	v.logger.Info("volume created", "data_path", dataPath, "max_length", maxLength)
	return v, nil
}

// Open opens an existing volume from its index log path. The sibling data
// file path is derived by substituting the extension.
//
// Open fails with ErrDataCorruption when the data file's size does not equal
// the end of the last replayed index record: the tell-tale of a truncated or
// partially written trailing needle.
func Open(fsys fs.FileSystem, indexPath string, maxLength uint64, optFns ...func(*Options)) (*Volume, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	opts := applyOptions(optFns)

	if ext := filepath.Ext(indexPath); ext != IndexExt {
		return nil, &ErrPathParse{Path: indexPath, Detail: fmt.Sprintf("extension %q is not %q", ext, IndexExt)}
	}
	id, err := ParseID(indexPath)
	if err != nil {
		return nil, err
	}
	dataPath := strings.TrimSuffix(indexPath, IndexExt) + DataExt

	log, entries, last, count, err := index.Open(fsys, indexPath, opts.Logger)
	if err != nil {
		return nil, err
	}

	st, err := fsys.Stat(dataPath)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("stat data file: %w", err)
	}
	currentLength := uint64(st.Size())

	expected := last.Offset + last.Length // zero when no records were replayed
	if currentLength != expected {
		log.Close()
		return nil, &ErrDataCorruption{
			ID: id,
			Detail: fmt.Sprintf("data file size %d, last index record ends at %d (%d records)",
				currentLength, expected, count),
		}
	}

	v := &Volume{
		id:            id,
		dataPath:      dataPath,
		indexPath:     indexPath,
		currentLength: currentLength,
		maxLength:     maxLength,
		log:           log,
		entries:       entries,
		logger:        opts.Logger.With("volume", id),
		strictRead:    opts.StrictRead,
	}
	if err := v.openDataFiles(fsys, 0); err != nil {
		log.Close()
		return nil, err
	}

	v.logger.Info("volume opened",
		"data_path", dataPath,
		"current_length", currentLength,
		"needles", len(entries),
	)
	return v, nil
}

func (v *Volume) openDataFiles(fsys fs.FileSystem, createFlag int) error {
	dataFile, err := fsys.OpenFile(v.dataPath, os.O_RDWR|createFlag, 0644)
	if err != nil {
		return fmt.Errorf("open data file: %w", err)
	}
	readFile, err := fsys.OpenFile(v.dataPath, os.O_RDONLY, 0644)
	if err != nil {
		dataFile.Close()
		return fmt.Errorf("open data file for reading: %w", err)
	}
	v.dataFile = dataFile
	v.readFile = readFile
	return nil
}

// ID returns the volume id.
func (v *Volume) ID() uint32 { return v.id }

// CurrentLength returns the logical end of the data file: the offset at
// which the next needle will be appended.
func (v *Volume) CurrentLength() uint64 { return v.currentLength }

// MaxLength returns the volume's fixed capacity.
func (v *Volume) MaxLength() uint64 { return v.maxLength }

// Writable reports whether the volume still accepts writes. Once a volume
// stops being writable it is permanently read-only.
func (v *Volume) Writable() bool { return v.currentLength < v.maxLength }

// ReadOnly reports the inverse of Writable.
func (v *Volume) ReadOnly() bool { return !v.Writable() }

// AvailableCapacity returns the number of bytes the volume can still accept.
func (v *Volume) AvailableCapacity() uint64 {
	if v.maxLength > v.currentLength {
		return v.maxLength - v.currentLength
	}
	return 0
}

// NeedleCount returns the number of distinct keys the volume holds.
func (v *Volume) NeedleCount() int { return len(v.entries) }

// Keys returns the keys the volume holds, in no particular order.
func (v *Volume) Keys() []string {
	keys := make([]string, 0, len(v.entries))
	for k := range v.entries {
		keys = append(keys, k)
	}
	return keys
}

// Info is a structured description of a volume for diagnostics and registry
// bookkeeping.
type Info struct {
	ID            uint32 `json:"id"`
	DataPath      string `json:"data_path"`
	IndexPath     string `json:"index_path"`
	CurrentLength uint64 `json:"current_length"`
	MaxLength     uint64 `json:"max_length"`
	Writable      bool   `json:"writable"`
	NeedleCount   int    `json:"needle_count"`
}

// String returns the info as JSON.
func (i Info) String() string {
	b, _ := json.Marshal(i)
	return string(b)
}

// Describe returns a structured description of the volume.
func (v *Volume) Describe() Info {
	return Info{
		ID:            v.id,
		DataPath:      v.dataPath,
		IndexPath:     v.indexPath,
		CurrentLength: v.currentLength,
		MaxLength:     v.maxLength,
		Writable:      v.Writable(),
		NeedleCount:   len(v.entries),
	}
}

// Write appends one needle under key.
//
// The overflow check happens before any byte is written. On any failure the
// logical state (currentLength and the key map) is unchanged; after a length
// mismatch or an I/O error, bytes already flushed for the attempt remain as
// unindexed garbage beyond the logical end, so sequential scans of the raw
// data file must trust currentLength and the index, never the physical file
// size.
func (v *Volume) Write(ctx context.Context, key string, n *needle.Needle) error {
	total := n.TotalLength()
	if !v.Writable() || v.currentLength+total > v.maxLength {
		v.logger.Error("write rejected",
			"key", key,
			"max_length", v.maxLength,
			"current_length", v.currentLength,
			"needed", total,
		)
		return &ErrOverflow{
			ID:            v.id,
			MaxLength:     v.maxLength,
			CurrentLength: v.currentLength,
			Needed:        total,
		}
	}

	offset := v.currentLength
	header := needle.EncodeHeader(n.BodyLength())
	if _, err := v.dataFile.WriteAt(header[:], int64(offset)); err != nil {
		return fmt.Errorf("write needle header: %w", err)
	}

	received := uint64(needle.HeaderSize)
	err := n.ForEachChunk(ctx, func(p []byte) error {
		if _, err := v.dataFile.WriteAt(p, int64(offset+received)); err != nil {
			return fmt.Errorf("write needle body: %w", err)
		}
		received += uint64(len(p))
		return nil
	})
	if err != nil {
		// A stream that closed after delivering a different number of
		// bytes than it declared surfaces here with the byte counts.
		if errors.Is(err, needle.ErrStreamBroken) {
			v.logger.Error("mismatched needle length", "key", key, "declared", total, "received", received)
			return &ErrWriteLengthMismatch{ID: v.id, Key: key, Declared: total, Received: received}
		}
		return err
	}

	entry := index.Entry{VolumeID: v.id, Offset: offset, Length: total}
	if err := v.log.Append(key, entry); err != nil {
		return err
	}
	v.entries[key] = entry
	v.currentLength += total

	v.logger.Debug("needle written", "key", key, "offset", offset, "length", total)
	return nil
}

// Get retrieves the needle stored under key. Bodies of records larger than
// the inline threshold are delivered as a chunk stream fed by a producer
// goroutine; the caller must drain the stream or cancel ctx, otherwise the
// producer stays blocked on its next send.
func (v *Volume) Get(ctx context.Context, key string) (*needle.Needle, error) {
	entry, ok := v.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	// Subtraction form so a hostile entry cannot wrap the sum past the
	// bounds check.
	if entry.Length > v.currentLength || entry.Offset > v.currentLength-entry.Length {
		v.logger.Error("index entry past logical end",
			"key", key,
			"current_length", v.currentLength,
			"offset", entry.Offset,
			"length", entry.Length,
		)
		return nil, &ErrDataCorruption{
			ID:  v.id,
			Key: key,
			Detail: fmt.Sprintf("index entry offset %d length %d past current length %d",
				entry.Offset, entry.Length, v.currentLength),
		}
	}
	return v.readNeedle(ctx, key, entry)
}

// Close releases the volume's file handles.
func (v *Volume) Close() error {
	var firstErr error
	for _, c := range []func() error{v.log.Close, v.dataFile.Close, v.readFile.Close} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package volume

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/haygo/index"
	"github.com/hupe1980/haygo/internal/fs"
	"github.com/hupe1980/haygo/needle"
)

const testCapacity = 1 << 10 // 1 KiB

func TestCreateAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v, err := Create(nil, dir, 1, testCapacity)
	require.NoError(t, err)
	defer v.Close()

	assert.Equal(t, uint32(1), v.ID())
	assert.True(t, v.Writable())
	assert.Equal(t, uint64(0), v.CurrentLength())
	assert.Equal(t, uint64(testCapacity), v.AvailableCapacity())

	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("hello"))))
	assert.Equal(t, uint64(9), v.CurrentLength()) // 4-byte header + 5-byte body
	assert.Equal(t, 1, v.NeedleCount())

	n, err := v.Get(ctx, "/a")
	require.NoError(t, err)
	body, err := n.Bytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), body)
}

func TestCreateAlreadyExists(t *testing.T) {
	dir := t.TempDir()

	v, err := Create(nil, dir, 1, testCapacity)
	require.NoError(t, err)
	require.NoError(t, v.Close())

	_, err = Create(nil, dir, 1, testCapacity)
	var exists *ErrAlreadyExists
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, uint32(1), exists.ID)
}

func TestOpenPathErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(nil, filepath.Join(dir, "1.data"), testCapacity)
	var pathErr *ErrPathParse
	assert.ErrorAs(t, err, &pathErr)

	_, err = Open(nil, filepath.Join(dir, "notanumber.index"), testCapacity)
	assert.ErrorAs(t, err, &pathErr)

	// Missing files.
	_, err = Open(nil, filepath.Join(dir, "7.index"), testCapacity)
	assert.Error(t, err)
}

func TestOverflowLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v, err := Create(nil, dir, 1, testCapacity)
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("hello"))))
	lengthBefore := v.CurrentLength()
	countBefore := v.NeedleCount()

	// A body that would push currentLength past capacity.
	err = v.Write(ctx, "/big", needle.New(make([]byte, testCapacity)))
	var overflow *ErrOverflow
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, uint64(testCapacity), overflow.MaxLength)
	assert.Equal(t, lengthBefore, overflow.CurrentLength)

	assert.Equal(t, lengthBefore, v.CurrentLength())
	assert.Equal(t, countBefore, v.NeedleCount())

	_, err = v.Get(ctx, "/big")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteToFullVolume(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v, err := Create(nil, dir, 1, 9)
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("hello"))))
	assert.False(t, v.Writable())
	assert.True(t, v.ReadOnly())
	assert.Equal(t, uint64(0), v.AvailableCapacity())

	err = v.Write(ctx, "/b", needle.New(nil))
	var overflow *ErrOverflow
	assert.ErrorAs(t, err, &overflow)
}

func TestOverwriteSemantics(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v, err := Create(nil, dir, 1, testCapacity)
	require.NoError(t, err)

	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("hello"))))
	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("world!"))))

	n, err := v.Get(ctx, "/a")
	require.NoError(t, err)
	body, err := n.Bytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("world!"), body)
	assert.Equal(t, 1, v.NeedleCount())
	require.NoError(t, v.Close())

	// The index log keeps both physical records.
	log, entries, _, count, err := index.Open(nil, IndexPath(dir, 1), nil)
	require.NoError(t, err)
	defer log.Close()
	assert.Equal(t, 2, count)
	assert.Len(t, entries, 1)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v, err := Create(nil, dir, 1, testCapacity)
	require.NoError(t, err)
	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("hello"))))
	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("world!"))))
	require.NoError(t, v.Close())

	v, err = Open(nil, IndexPath(dir, 1), testCapacity)
	require.NoError(t, err)
	defer v.Close()

	assert.Equal(t, uint32(1), v.ID())
	assert.Equal(t, uint64(19), v.CurrentLength()) // 9 + 10 bytes of records

	n, err := v.Get(ctx, "/a")
	require.NoError(t, err)
	body, err := n.Bytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("world!"), body)
}

func TestOpenDetectsTruncatedDataFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v, err := Create(nil, dir, 1, testCapacity)
	require.NoError(t, err)
	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("hello"))))
	require.NoError(t, v.Close())

	st, err := os.Stat(DataPath(dir, 1))
	require.NoError(t, err)
	require.NoError(t, os.Truncate(DataPath(dir, 1), st.Size()-1))

	_, err = Open(nil, IndexPath(dir, 1), testCapacity)
	var corrupt *ErrDataCorruption
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, uint32(1), corrupt.ID)
}

func TestOpenDetectsOrphanedTrailingBytes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v, err := Create(nil, dir, 1, testCapacity)
	require.NoError(t, err)
	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("hello"))))
	require.NoError(t, v.Close())

	// A needle flushed to the data file without a committed index record.
	f, err := os.OpenFile(DataPath(dir, 1), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte("orphan"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(nil, IndexPath(dir, 1), testCapacity)
	var corrupt *ErrDataCorruption
	assert.ErrorAs(t, err, &corrupt)
}

func TestOpenEmptyVolume(t *testing.T) {
	dir := t.TempDir()

	v, err := Create(nil, dir, 1, testCapacity)
	require.NoError(t, err)
	require.NoError(t, v.Close())

	v, err = Open(nil, IndexPath(dir, 1), testCapacity)
	require.NoError(t, err)
	defer v.Close()
	assert.Equal(t, uint64(0), v.CurrentLength())
	assert.Equal(t, 0, v.NeedleCount())
}

func TestGetUnknownKey(t *testing.T) {
	ctx := context.Background()

	v, err := Create(nil, t.TempDir(), 1, testCapacity)
	require.NoError(t, err)
	defer v.Close()

	_, err = v.Get(ctx, "/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetBoundsCheck(t *testing.T) {
	ctx := context.Background()

	v, err := Create(nil, t.TempDir(), 1, testCapacity)
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("hello"))))

	// A stale entry pointing past the logical end must never reach the
	// read path.
	v.entries["/stale"] = index.Entry{VolumeID: 1, Offset: v.currentLength, Length: 100}

	_, err = v.Get(ctx, "/stale")
	var corrupt *ErrDataCorruption
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "/stale", corrupt.Key)

	// An entry whose offset+length wraps uint64 must fail the same way
	// instead of slipping past the check into the read path.
	v.entries["/wrap"] = index.Entry{VolumeID: 1, Offset: math.MaxUint64 - 3, Length: 8}

	_, err = v.Get(ctx, "/wrap")
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, "/wrap", corrupt.Key)
}

func TestWriteLengthMismatch(t *testing.T) {
	ctx := context.Background()

	v, err := Create(nil, t.TempDir(), 1, testCapacity)
	require.NoError(t, err)
	defer v.Close()

	// A stream that declares 10 body bytes but produces 5.
	ch := make(chan needle.Chunk, 1)
	go func() {
		ch <- needle.Chunk{Data: []byte("hello")}
		close(ch)
	}()
	err = v.Write(ctx, "/short", needle.NewStream(10, ch))

	var mismatch *ErrWriteLengthMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint64(14), mismatch.Declared)
	assert.Equal(t, uint64(9), mismatch.Received)

	// Logical state untouched: the partial bytes are unindexed garbage.
	assert.Equal(t, uint64(0), v.CurrentLength())
	_, err = v.Get(ctx, "/short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteLengthMismatchOverDelivery(t *testing.T) {
	ctx := context.Background()

	v, err := Create(nil, t.TempDir(), 1, testCapacity)
	require.NoError(t, err)
	defer v.Close()

	// A stream that declares 5 body bytes but produces 10.
	ch := make(chan needle.Chunk, 1)
	go func() {
		ch <- needle.Chunk{Data: []byte("hello")}
		ch <- needle.Chunk{Data: []byte("world")}
		close(ch)
	}()
	err = v.Write(ctx, "/long", needle.NewStream(5, ch))

	var mismatch *ErrWriteLengthMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint64(9), mismatch.Declared)
	assert.Equal(t, uint64(14), mismatch.Received)

	assert.Equal(t, uint64(0), v.CurrentLength())
	_, err = v.Get(ctx, "/long")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteFaultLeavesLogicalStateUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ffs := fs.NewFaultyFS(nil)

	v, err := Create(ffs, dir, 1, testCapacity)
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("hello"))))

	// Subsequent data-file writes fail at the device.
	ffs.AddRule("1"+DataExt, fs.Fault{FailAfterBytes: 0})
	v2, err := Open(ffs, IndexPath(dir, 1), testCapacity)
	require.NoError(t, err)
	defer v2.Close()

	err = v2.Write(ctx, "/b", needle.New([]byte("doomed")))
	require.Error(t, err)
	assert.Equal(t, uint64(9), v2.CurrentLength())

	n, err := v2.Get(ctx, "/a")
	require.NoError(t, err)
	body, err := n.Bytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), body)
}

func TestDescribe(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v, err := Create(nil, dir, 3, testCapacity)
	require.NoError(t, err)
	defer v.Close()

	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("hello"))))

	info := v.Describe()
	assert.Equal(t, uint32(3), info.ID)
	assert.Equal(t, DataPath(dir, 3), info.DataPath)
	assert.Equal(t, IndexPath(dir, 3), info.IndexPath)
	assert.Equal(t, uint64(9), info.CurrentLength)
	assert.Equal(t, uint64(testCapacity), info.MaxLength)
	assert.True(t, info.Writable)
	assert.Equal(t, 1, info.NeedleCount)

	var decoded Info
	require.NoError(t, json.Unmarshal([]byte(info.String()), &decoded))
	assert.Equal(t, info, decoded)
}

func TestParseID(t *testing.T) {
	id, err := ParseID("/store/42.index")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), id)

	_, err = ParseID("/store/nope.index")
	var pathErr *ErrPathParse
	assert.ErrorAs(t, err, &pathErr)

	_, err = ParseID("/store/-1.index")
	assert.ErrorAs(t, err, &pathErr)
}

func TestDataFileLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	v, err := Create(nil, dir, 1, testCapacity)
	require.NoError(t, err)
	require.NoError(t, v.Write(ctx, "/a", needle.New([]byte("hello"))))
	require.NoError(t, v.Write(ctx, "/b", needle.New([]byte("!"))))
	require.NoError(t, v.Close())

	raw, err := os.ReadFile(DataPath(dir, 1))
	require.NoError(t, err)
	require.Len(t, raw, 14)

	// Needles are concatenated with no separators: header + body, twice.
	assert.Equal(t, uint32(5), binary.LittleEndian.Uint32(raw[0:4]))
	assert.Equal(t, "hello", string(raw[4:9]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(raw[9:13]))
	assert.Equal(t, "!", string(raw[13:14]))
}

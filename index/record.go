package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// On-disk record layout (little-endian):
//
//	[CRC32: 4] [KeyLen: 4] [VolumeID: 4] [Offset: 8] [Length: 8] [Key: KeyLen]
//
// The checksum covers everything after the CRC field. Length includes the
// 4-byte needle header of the record the entry points at.
const (
	recordFixedSize = 4 + 4 + 4 + 8 + 8

	// MaxKeyLength bounds the key field. It doubles as a sanity check during
	// replay: a larger value in the KeyLen field marks a corrupt record.
	MaxKeyLength = 64 * 1024
)

var (
	// ErrInvalidCRC marks a record whose checksum does not match its bytes.
	ErrInvalidCRC = errors.New("invalid index record checksum")

	// ErrShortRecord marks a record cut off by the end of the file.
	ErrShortRecord = errors.New("short index record")

	// ErrKeyTooLarge is returned when a key exceeds MaxKeyLength.
	ErrKeyTooLarge = errors.New("index key too large")
)

// Entry locates one needle: the volume holding it, the byte offset of its
// header in the data file, and its total on-disk length (header included).
type Entry struct {
	VolumeID uint32 `json:"volume_id"`
	Offset   uint64 `json:"offset"`
	Length   uint64 `json:"length"`
}

// Record is the persisted form of an index mutation.
type Record struct {
	Key string
	Entry
}

func (r *Record) size() int {
	return recordFixedSize + len(r.Key)
}

// appendRecord encodes r onto dst and returns the extended slice.
func appendRecord(dst []byte, r *Record) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, recordFixedSize)...)
	body := dst[start+4:]
	binary.LittleEndian.PutUint32(body[0:4], uint32(len(r.Key)))
	binary.LittleEndian.PutUint32(body[4:8], r.VolumeID)
	binary.LittleEndian.PutUint64(body[8:16], r.Offset)
	binary.LittleEndian.PutUint64(body[16:24], r.Length)
	dst = append(dst, r.Key...)

	sum := crc32.ChecksumIEEE(dst[start+4:])
	binary.LittleEndian.PutUint32(dst[start:start+4], sum)
	return dst
}

// decodeRecord decodes one record from the front of b, returning the record
// and the number of bytes it occupies.
func decodeRecord(b []byte) (Record, int, error) {
	if len(b) < recordFixedSize {
		return Record{}, 0, fmt.Errorf("%w: %d bytes remain", ErrShortRecord, len(b))
	}
	sum := binary.LittleEndian.Uint32(b[0:4])
	keyLen := binary.LittleEndian.Uint32(b[4:8])
	if keyLen > MaxKeyLength {
		return Record{}, 0, fmt.Errorf("%w: key length %d", ErrKeyTooLarge, keyLen)
	}
	total := recordFixedSize + int(keyLen)
	if len(b) < total {
		return Record{}, 0, fmt.Errorf("%w: need %d bytes, %d remain", ErrShortRecord, total, len(b))
	}
	if crc32.ChecksumIEEE(b[4:total]) != sum {
		return Record{}, 0, ErrInvalidCRC
	}

	return Record{
		Key: string(b[recordFixedSize:total]),
		Entry: Entry{
			VolumeID: binary.LittleEndian.Uint32(b[8:12]),
			Offset:   binary.LittleEndian.Uint64(b[12:20]),
			Length:   binary.LittleEndian.Uint64(b[20:28]),
		},
	}, total, nil
}

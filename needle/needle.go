// Package needle defines the on-disk record shape of a stored object and its
// in-memory form.
//
// On disk a needle is a fixed 4-byte little-endian length header followed by
// the raw body bytes. The codec performs no compression, no checksum and no
// padding. In memory a needle body is either a single contiguous buffer or a
// lazily produced, finite, ordered sequence of chunks delivered through a
// capacity-1 channel; never both.
package needle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// HeaderSize is the fixed size of the needle length header in bytes.
	HeaderSize = 4

	// ChunkSize is the buffer size used when a body is produced or consumed
	// as a chunk sequence. The final chunk may be shorter.
	ChunkSize = 1 << 20

	// MaxBodyLength is the largest body the 4-byte header can describe.
	MaxBodyLength = math.MaxUint32
)

var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are
	// available to decode.
	ErrShortHeader = errors.New("short needle header")

	// ErrStreamBroken is returned when a chunk stream ends before the
	// declared body length has been delivered and no terminal error was
	// sent by the producer.
	ErrStreamBroken = errors.New("needle chunk stream broken")
)

// Chunk is one buffer of a streamed needle body. A non-nil Err is terminal:
// no further chunks follow it.
type Chunk struct {
	Data []byte
	Err  error
}

// EncodeHeader encodes the body length into a needle header.
func EncodeHeader(bodyLength uint32) [HeaderSize]byte {
	var h [HeaderSize]byte
	binary.LittleEndian.PutUint32(h[:], bodyLength)
	return h
}

// DecodeHeader decodes the declared body length from a needle header.
func DecodeHeader(b []byte) (uint32, error) {
	if len(b) < HeaderSize {
		return 0, fmt.Errorf("%w: got %d bytes", ErrShortHeader, len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}

// TotalLength returns the full on-disk length of a needle record, header
// included.
func TotalLength(bodyLength uint32) uint64 {
	return HeaderSize + uint64(bodyLength)
}

// Needle is one stored object in transit between caller and volume.
type Needle struct {
	bodyLength uint32
	body       []byte
	chunks     <-chan Chunk
}

// New creates a needle with an inline body.
//
// The body must not exceed MaxBodyLength; the header cannot describe more.
func New(body []byte) *Needle {
	if uint64(len(body)) > MaxBodyLength {
		panic("needle: body exceeds maximum length")
	}
	return &Needle{bodyLength: uint32(len(body)), body: body}
}

// NewStream creates a needle whose body arrives as an ordered chunk sequence.
// The producer must deliver exactly bodyLength bytes (or a terminal error
// chunk) and then close the channel. The sequence is not restartable, and a
// consumer that stops early must cancel the context it reads under so the
// producer can exit.
func NewStream(bodyLength uint32, chunks <-chan Chunk) *Needle {
	return &Needle{bodyLength: bodyLength, chunks: chunks}
}

// BodyLength returns the declared body length in bytes.
func (n *Needle) BodyLength() uint32 { return n.bodyLength }

// TotalLength returns the full on-disk length of the needle, header included.
func (n *Needle) TotalLength() uint64 { return TotalLength(n.bodyLength) }

// IsStream reports whether the body is a lazily produced chunk sequence.
func (n *Needle) IsStream() bool { return n.chunks != nil }

// Body returns the inline body, or nil for a streamed needle.
func (n *Needle) Body() []byte { return n.body }

// Chunks returns the chunk sequence, or nil for an inline needle.
func (n *Needle) Chunks() <-chan Chunk { return n.chunks }

// ForEachChunk invokes fn for every body chunk in order. Inline bodies are
// sliced into ChunkSize pieces so both forms present the same sequence.
// Consuming a streamed needle drains it.
func (n *Needle) ForEachChunk(ctx context.Context, fn func(p []byte) error) error {
	if n.chunks == nil {
		for off := 0; off < len(n.body); off += ChunkSize {
			end := off + ChunkSize
			if end > len(n.body) {
				end = len(n.body)
			}
			if err := fn(n.body[off:end]); err != nil {
				return err
			}
		}
		return nil
	}

	var received uint64
	for {
		select {
		case c, ok := <-n.chunks:
			if !ok {
				if received != uint64(n.bodyLength) {
					return fmt.Errorf("%w: received %d of %d bytes", ErrStreamBroken, received, n.bodyLength)
				}
				return nil
			}
			if c.Err != nil {
				return c.Err
			}
			received += uint64(len(c.Data))
			if err := fn(c.Data); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Bytes drains the body into a single buffer. For inline needles it returns
// the body without copying.
func (n *Needle) Bytes(ctx context.Context) ([]byte, error) {
	if n.chunks == nil {
		return n.body, nil
	}
	buf := make([]byte, 0, n.bodyLength)
	err := n.ForEachChunk(ctx, func(p []byte) error {
		buf = append(buf, p...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

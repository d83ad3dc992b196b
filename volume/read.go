package volume

import (
	"context"
	"fmt"

	"github.com/hupe1980/haygo/index"
	"github.com/hupe1980/haygo/needle"
)

// MaxInlineRecordLength is the record size (header included) up to which a
// read returns a single in-memory buffer. Larger records are streamed in
// needle.ChunkSize pieces through a capacity-1 channel.
const MaxInlineRecordLength = 1 << 20

// readNeedle reads the record described by entry using the volume's
// dedicated read handle. All reads are positioned; no cursor is shared with
// the writer or with other readers.
func (v *Volume) readNeedle(ctx context.Context, key string, entry index.Entry) (*needle.Needle, error) {
	var header [needle.HeaderSize]byte
	if _, err := v.readFile.ReadAt(header[:], int64(entry.Offset)); err != nil {
		return nil, fmt.Errorf("read needle header: %w", err)
	}
	bodyLength, err := needle.DecodeHeader(header[:])
	if err != nil {
		return nil, err
	}

	// The header is authoritative for how many body bytes exist. A
	// disagreement with the index entry is a soft inconsistency unless
	// strict reads are enabled.
	if needle.TotalLength(bodyLength) != entry.Length {
		if v.strictRead {
			return nil, &ErrDataCorruption{
				ID:  v.id,
				Key: key,
				Detail: fmt.Sprintf("header declares %d body bytes, index entry length %d",
					bodyLength, entry.Length),
			}
		}
		v.logger.Warn("needle header disagrees with index entry",
			"key", key,
			"header_body_length", bodyLength,
			"index_length", entry.Length,
		)
	}

	if entry.Length <= MaxInlineRecordLength {
		body := make([]byte, bodyLength)
		if _, err := v.readFile.ReadAt(body, int64(entry.Offset+needle.HeaderSize)); err != nil {
			return nil, fmt.Errorf("read needle body: %w", err)
		}
		return needle.New(body), nil
	}

	ch := make(chan needle.Chunk, 1)
	go v.produceChunks(ctx, key, entry.Offset+needle.HeaderSize, bodyLength, ch)
	return needle.NewStream(bodyLength, ch), nil
}

// produceChunks reads the body in fixed-size pieces and delivers them in
// offset order. The capacity-1 channel blocks the producer until the consumer
// accepts the previous chunk, bounding memory to roughly one chunk ahead of
// consumption. A read error is delivered as a terminal chunk; a cancelled
// context stops the producer on its next delivery attempt.
func (v *Volume) produceChunks(ctx context.Context, key string, offset uint64, bodyLength uint32, ch chan<- needle.Chunk) {
	defer close(ch)

	remaining := uint64(bodyLength)
	for remaining > 0 {
		size := uint64(needle.ChunkSize)
		if size > remaining {
			size = remaining
		}
		buf := make([]byte, size)
		if _, err := v.readFile.ReadAt(buf, int64(offset)); err != nil {
			select {
			case ch <- needle.Chunk{Err: fmt.Errorf("read needle chunk: %w", err)}:
			case <-ctx.Done():
				v.logger.Warn("large read abandoned by consumer", "key", key, "error", ctx.Err())
			}
			return
		}
		select {
		case ch <- needle.Chunk{Data: buf}:
		case <-ctx.Done():
			v.logger.Warn("large read abandoned by consumer", "key", key, "error", ctx.Err())
			return
		}
		offset += size
		remaining -= size
	}
}

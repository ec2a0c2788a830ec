// Package compress defines the compression primitive the core chunk
// formats treat as opaque: compressing a contiguous point array and
// decompressing a buffer back to a known target size. The core spec leaves
// the codec itself out of scope; this package supplies one concrete
// implementation so the rest of the repo is buildable and testable.
package compress

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/qiangqiangyao/entwine/schema"
)

// Codec compresses and decompresses point-record byte buffers. Schema is
// passed through (rather than assumed) because a future codec might use
// per-dimension layout to do better than generic byte compression; the
// shipped Zstd codec ignores it.
type Codec interface {
	// Compress returns a compressed copy of data.
	Compress(s schema.Schema, data []byte) ([]byte, error)

	// Decompress expands data, which must inflate to exactly
	// expectedLen bytes; a mismatch is a corrupt-chunk error.
	Decompress(s schema.Schema, data []byte, expectedLen int) ([]byte, error)
}

// ZstdCodec is a Codec backed by github.com/klauspost/compress/zstd.
type ZstdCodec struct {
	level zstd.EncoderLevel
}

// NewZstdCodec returns a ZstdCodec at the default compression level.
func NewZstdCodec() *ZstdCodec {
	return &ZstdCodec{level: zstd.SpeedDefault}
}

// Compress implements Codec.
func (c *ZstdCodec) Compress(_ schema.Schema, data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
	if err != nil {
		return nil, errors.Wrap(err, "constructing zstd encoder")
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// Decompress implements Codec.
func (c *ZstdCodec) Decompress(_ schema.Schema, data []byte, expectedLen int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "constructing zstd decoder")
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, make([]byte, 0, expectedLen))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, errors.Wrap(err, "truncated compressed chunk payload")
		}
		return nil, errors.Wrap(err, "decompressing chunk payload")
	}
	if len(out) != expectedLen {
		return nil, errors.Errorf("decompressed length %d does not match expected length %d", len(out), expectedLen)
	}
	return out, nil
}

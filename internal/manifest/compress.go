package manifest

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressionLevel is the zstd level applied to every chunk.
const CompressionLevel = 3

var encoderPool = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(CompressionLevel)),
			zstd.WithEncoderConcurrency(1))
		return enc
	},
}

var decoderPool = sync.Pool{
	New: func() any {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		return dec
	},
}

// Compress returns the zstd encoding of data.
func Compress(data []byte) []byte {
	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)

	return enc.EncodeAll(data, make([]byte, 0, len(data)/2+64))
}

// Decompress decodes a zstd frame. sizeHint is the expected decoded
// length, used to size the output buffer.
func Decompress(data []byte, sizeHint int) ([]byte, error) {
	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)

	out, err := dec.DecodeAll(data, make([]byte, 0, sizeHint))
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

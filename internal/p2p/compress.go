package p2p

import (
	"github.com/klauspost/compress/zstd"
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFrameSize))
)

// CompressFrame compresses a sync-stream frame using zstd. Full-chain
// payloads are highly repetitive JSON and compress well.
func CompressFrame(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// DecompressFrame decompresses a sync-stream frame. Data without the zstd
// magic bytes is returned as-is, so plain-JSON peers keep working.
func DecompressFrame(data []byte) ([]byte, error) {
	if len(data) < 4 || data[0] != 0x28 || data[1] != 0xB5 || data[2] != 0x2F || data[3] != 0xFD {
		return data, nil
	}
	return zstdDecoder.DecodeAll(data, nil)
}

package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// SampleRate is the transport rate of every chunk on the wire
	SampleRate = 24000
	// ChunkSize is the number of samples emitted per capture callback
	ChunkSize = 4096
)

var (
	// ErrInvalidFrame is returned when an encoded frame cannot be decoded
	ErrInvalidFrame = errors.New("invalid audio frame")
)

// Chunk is mono PCM16 audio at SampleRate
type Chunk []int16

// FloatToPCM16 converts a native float sample to a signed 16-bit sample.
// Negative values scale by 0x8000 and non-negative values by 0x7fff.
func FloatToPCM16(s float32) int16 {
	if s != s {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7fff)
}

// Float32ToPCM16 converts a float buffer into a new chunk
func Float32ToPCM16(samples []float32) Chunk {
	out := make(Chunk, len(samples))
	for i, s := range samples {
		out[i] = FloatToPCM16(s)
	}
	return out
}

// PCM16ToFloat32 renormalizes a chunk to floats in [-1, 1)
func PCM16ToFloat32(chunk Chunk) []float32 {
	out := make([]float32, len(chunk))
	for i, s := range chunk {
		out[i] = float32(s) / 0x8000
	}
	return out
}

// EncodeFrame serializes a chunk as little-endian bytes in standard base64
func EncodeFrame(chunk Chunk) string {
	buf := make([]byte, len(chunk)*2)
	for i, s := range chunk {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeFrame parses a base64 frame back into samples
func DecodeFrame(frame string) (Chunk, error) {
	buf, err := base64.StdEncoding.DecodeString(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if len(buf)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte length %d", ErrInvalidFrame, len(buf))
	}

	out := make(Chunk, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out, nil
}

// Duration returns the playback length in seconds of n samples at rate
func Duration(n, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(n) / float64(rate)
}

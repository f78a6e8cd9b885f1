package audio

import (
	"errors"
	"math"
	"testing"
)

func TestFloatToPCM16(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32768},
		{"half positive truncates", 0.5, 16383},
		{"half negative", -0.5, -16384},
		{"clips above", 2.5, 32767},
		{"clips below", -7, -32768},
		{"nan", float32(math.NaN()), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FloatToPCM16(tt.in); got != tt.want {
				t.Errorf("FloatToPCM16(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	chunk := Chunk{0, 1, -1, 32767, -32768}

	frame := EncodeFrame(chunk)
	if frame != "AAABAP///38AgA==" {
		t.Fatalf("EncodeFrame() = %q", frame)
	}

	decoded, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if len(decoded) != len(chunk) {
		t.Fatalf("Expected %d samples, got %d", len(chunk), len(decoded))
	}
	for i := range chunk {
		if decoded[i] != chunk[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, chunk[i], decoded[i])
		}
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not base64", "!!!"},
		{"odd length", "AAAB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.frame)
			if !errors.Is(err, ErrInvalidFrame) {
				t.Errorf("Expected ErrInvalidFrame, got %v", err)
			}
		})
	}
}

func TestRoundTripWithinOneLSB(t *testing.T) {
	chunk := make(Chunk, 0, 65536)
	for s := -32768; s <= 32767; s++ {
		chunk = append(chunk, int16(s))
	}

	decoded, err := DecodeFrame(EncodeFrame(chunk))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	back := Float32ToPCM16(PCM16ToFloat32(decoded))

	for i := range chunk {
		diff := int(back[i]) - int(chunk[i])
		if diff < -1 || diff > 1 {
			t.Fatalf("Sample %d drifted by %d (got %d)", chunk[i], diff, back[i])
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(ChunkSize, SampleRate); math.Abs(got-4096.0/24000.0) > 1e-12 {
		t.Errorf("Duration() = %v", got)
	}
	if got := Duration(10, 0); got != 0 {
		t.Errorf("Duration() with zero rate = %v, want 0", got)
	}
}

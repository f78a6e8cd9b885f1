package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/mianshi/domain/repositories"
)

var (
	// ErrDeviceUnavailable is returned when the input device refuses to open
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrAlreadyStarted is returned by Start on a running recorder
	ErrAlreadyStarted = errors.New("recorder already started")
)

// Recorder owns one input device and emits fixed-size PCM16 chunks
type Recorder struct {
	device repositories.InputDevice
	logger *zap.Logger

	mu         sync.Mutex
	stream     repositories.InputStream
	generation uint64
}

// NewRecorder creates a recorder over the given input device
func NewRecorder(device repositories.InputDevice, logger *zap.Logger) *Recorder {
	return &Recorder{
		device: device,
		logger: logger,
	}
}

// Start opens the device and calls onChunk once per ChunkSize samples until
// Stop is called or ctx is cancelled.
func (r *Recorder) Start(ctx context.Context, onChunk func(Chunk)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		return ErrAlreadyStarted
	}

	stream, err := r.device.Open(ctx, repositories.InputConstraints{
		SampleRate:       SampleRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		BufferSize:       ChunkSize,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	r.generation++
	r.stream = stream
	gen := r.generation

	stopOnCancel := context.AfterFunc(ctx, func() { r.stop(gen) })
	go func() {
		defer stopOnCancel()
		r.capture(stream, gen, onChunk)
	}()

	r.logger.Info("Audio capture started",
		zap.Int("sample_rate", SampleRate),
		zap.Int("chunk_size", ChunkSize))
	return nil
}

// Stop releases the device. Chunks not yet emitted are discarded.
func (r *Recorder) Stop() {
	r.mu.Lock()
	gen := r.generation
	r.mu.Unlock()
	r.stop(gen)
}

// Recording reports whether a capture is in progress
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

func (r *Recorder) stop(gen uint64) {
	r.mu.Lock()
	if r.stream == nil || r.generation != gen {
		r.mu.Unlock()
		return
	}
	stream := r.stream
	r.stream = nil
	r.generation++
	r.mu.Unlock()

	if err := stream.Close(); err != nil {
		r.logger.Warn("Failed to close input stream", zap.Error(err))
	}
	r.logger.Info("Audio capture stopped")
}

func (r *Recorder) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil && r.generation == gen
}

func (r *Recorder) capture(stream repositories.InputStream, gen uint64, onChunk func(Chunk)) {
	buf := make([]float32, ChunkSize)
	acc := make([]float32, 0, ChunkSize)

	for {
		n, err := stream.Read(buf[:ChunkSize-len(acc)])
		acc = append(acc, buf[:n]...)

		if len(acc) == ChunkSize {
			if !r.current(gen) {
				return
			}
			onChunk(Float32ToPCM16(acc))
			acc = acc[:0]
		}

		if err != nil {
			if r.current(gen) && !errors.Is(err, io.EOF) {
				r.logger.Error("Audio capture failed", zap.Error(err))
			}
			r.stop(gen)
			return
		}
	}
}

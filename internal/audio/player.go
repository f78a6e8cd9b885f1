package audio

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/mianshi/domain/repositories"
)

// ErrPlayerClosed is returned by Play after Close
var ErrPlayerClosed = errors.New("player closed")

// Player decodes incoming frames and schedules them for gapless output.
// Chunks arriving while a buffer is rendering are merged and scheduled
// together when that buffer ends.
type Player struct {
	device repositories.OutputDevice
	logger *zap.Logger
	filter *Biquad

	mu        sync.Mutex
	pending   [][]float32
	playing   bool
	bufferID  uint64
	nextStart float64
	closed    bool
}

// NewPlayer builds the output graph (low-pass, gain) over device
func NewPlayer(device repositories.OutputDevice, logger *zap.Logger) *Player {
	return &Player{
		device: device,
		logger: logger,
		filter: NewLowpass(LowpassCutoff, 1/math.Sqrt2, device.SampleRate()),
	}
}

// Play decodes frame and enqueues it for playback
func (p *Player) Play(frame string) error {
	chunk, err := DecodeFrame(frame)
	if err != nil {
		return err
	}
	samples := PCM16ToFloat32(chunk)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPlayerClosed
	}
	if len(samples) == 0 {
		return nil
	}

	p.pending = append(p.pending, samples)
	if p.playing {
		return nil
	}
	return p.scheduleLocked()
}

// Stop discards queued audio that has not been scheduled yet. Audio already
// handed to the device keeps playing and later buffers start after it.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = nil
	p.playing = false
	p.bufferID++
}

// Close stops playback and releases the device
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.pending = nil
	p.playing = false
	p.bufferID++
	p.mu.Unlock()

	if err := p.device.Close(); err != nil {
		return fmt.Errorf("failed to close output device: %w", err)
	}
	return nil
}

func (p *Player) scheduleLocked() error {
	total := 0
	for _, s := range p.pending {
		total += len(s)
	}
	if total == 0 {
		p.pending = nil
		p.playing = false
		return nil
	}

	merged := make([]float32, 0, total)
	for _, s := range p.pending {
		merged = append(merged, s...)
	}
	p.pending = nil

	p.filter.Process(merged, OutputGain)

	start := math.Max(p.device.CurrentTime(), p.nextStart)
	p.bufferID++
	id := p.bufferID
	p.playing = true

	if err := p.device.Schedule(merged, start, func() { p.ended(id) }); err != nil {
		p.playing = false
		p.logger.Error("Failed to schedule audio buffer", zap.Error(err))
		return fmt.Errorf("failed to schedule audio: %w", err)
	}
	p.nextStart = start + Duration(len(merged), p.device.SampleRate())
	return nil
}

func (p *Player) ended(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || id != p.bufferID {
		return
	}
	p.playing = false
	if err := p.scheduleLocked(); err != nil {
		p.logger.Warn("Dropped merged audio after schedule failure", zap.Error(err))
	}
}

package ffmpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSpeakerClosed is returned when scheduling on a closed speaker
var ErrSpeakerClosed = errors.New("speaker closed")

// Speaker plays mono float32 audio through an ffplay subprocess. Its clock is
// wall time since start; gaps between scheduled buffers are filled with
// silence so buffers land at their requested time.
type Speaker struct {
	sampleRate int
	logger     *zap.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser
	t0    time.Time

	writes chan []byte
	quit   chan struct{}

	mu           sync.Mutex
	writtenUntil float64
	timers       []*time.Timer
	closed       bool
}

// NewSpeaker starts ffplay reading raw samples at sampleRate from stdin
func NewSpeaker(sampleRate int, logger *zap.Logger) (*Speaker, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, fmt.Errorf("ffplay is required for playback: %w", err)
	}

	cmd := exec.Command("ffplay", speakerArgs(sampleRate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffplay: %w", err)
	}

	s := &Speaker{
		sampleRate: sampleRate,
		logger:     logger,
		cmd:        cmd,
		stdin:      stdin,
		t0:         time.Now(),
		writes:     make(chan []byte, 256),
		quit:       make(chan struct{}),
	}
	go s.writePump()

	logger.Info("Speaker started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("sample_rate", sampleRate))
	return s, nil
}

func speakerArgs(sampleRate int) []string {
	// ffplay does not accept -ac; the layout is given with -ch_layout
	return []string{
		"-nodisp",
		"-loglevel", "error",
		"-fflags", "nobuffer",
		"-f", "f32le",
		"-ar", strconv.Itoa(sampleRate),
		"-ch_layout", "mono",
		"-i", "pipe:0",
	}
}

// SampleRate returns the output rate
func (s *Speaker) SampleRate() int {
	return s.sampleRate
}

// CurrentTime returns seconds elapsed since the speaker started
func (s *Speaker) CurrentTime() float64 {
	return time.Since(s.t0).Seconds()
}

// Schedule queues samples to start at the given time
func (s *Speaker) Schedule(samples []float32, at float64, onEnded func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSpeakerClosed
	}

	now := s.CurrentTime()
	cursor := math.Max(now, s.writtenUntil)
	silence := 0
	if at > cursor {
		silence = int((at - cursor) * float64(s.sampleRate))
	}

	payload := encodeSamples(samples, silence)
	select {
	case s.writes <- payload:
	default:
		return fmt.Errorf("speaker write queue is full")
	}

	end := math.Max(at, cursor) + float64(len(samples))/float64(s.sampleRate)
	s.writtenUntil = end
	if onEnded != nil {
		wait := time.Duration((end - now) * float64(time.Second))
		s.timers = append(s.timers, time.AfterFunc(wait, onEnded))
	}
	return nil
}

// Close stops the ffplay process
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.mu.Unlock()

	close(s.quit)
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.logger.Info("Speaker closed")
	return nil
}

func (s *Speaker) writePump() {
	for {
		select {
		case payload := <-s.writes:
			if _, err := s.stdin.Write(payload); err != nil {
				s.logger.Error("Failed to write audio to ffplay", zap.Error(err))
				return
			}
		case <-s.quit:
			return
		}
	}
}

// encodeSamples writes silence leading zeros then samples as f32le
func encodeSamples(samples []float32, silence int) []byte {
	out := make([]byte, (silence+len(samples))*bytesPerSample)
	offset := silence * bytesPerSample
	for i, v := range samples {
		binary.LittleEndian.PutUint32(out[offset+i*bytesPerSample:], math.Float32bits(v))
	}
	return out
}

package ffmpeg

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/mianshi/domain/repositories"
)

const bytesPerSample = 4

// Microphone captures the default input device through an ffmpeg subprocess
// emitting mono float32 little-endian samples. Echo cancellation is left to
// the system audio server.
type Microphone struct {
	path   string
	goos   string
	logger *zap.Logger
}

// NewMicrophone creates a microphone backed by the ffmpeg binary on PATH
func NewMicrophone(logger *zap.Logger) *Microphone {
	return &Microphone{
		path:   "ffmpeg",
		goos:   runtime.GOOS,
		logger: logger,
	}
}

// Open starts the capture process
func (m *Microphone) Open(ctx context.Context, c repositories.InputConstraints) (repositories.InputStream, error) {
	if _, err := exec.LookPath(m.path); err != nil {
		return nil, fmt.Errorf("ffmpeg is required for microphone capture: %w", err)
	}
	args, err := microphoneArgs(m.goos, c)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, m.path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg capture: %w", err)
	}

	m.logger.Debug("Microphone capture process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Strings("args", args))

	return &microphoneStream{cmd: cmd, stdout: stdout}, nil
}

func microphoneArgs(goos string, c repositories.InputConstraints) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", ":0"}
	case "linux":
		input = []string{"-f", "pulse", "-i", "default"}
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}

	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	args = append(args,
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(c.SampleRate),
	)
	if c.NoiseSuppression {
		args = append(args, "-af", "afftdn")
	}
	args = append(args, "-f", "f32le", "-")
	return args, nil
}

type microphoneStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser

	raw       []byte
	closeOnce sync.Once
}

func (s *microphoneStream) Read(buf []float32) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if cap(s.raw) < len(buf)*bytesPerSample {
		s.raw = make([]byte, len(buf)*bytesPerSample)
	}
	raw := s.raw[:len(buf)*bytesPerSample]

	n, err := io.ReadFull(s.stdout, raw)
	samples := n / bytesPerSample
	for i := 0; i < samples; i++ {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*bytesPerSample:]))
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return samples, err
}

func (s *microphoneStream) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
			_ = s.cmd.Wait()
		}
	})
	return nil
}

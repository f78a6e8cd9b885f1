package repositories

import "context"

// InputConstraints describes how the capture device must be opened
type InputConstraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	BufferSize       int
}

// InputDevice opens audio capture streams
type InputDevice interface {
	Open(ctx context.Context, constraints InputConstraints) (InputStream, error)
}

// InputStream delivers mono float samples in [-1, 1]
type InputStream interface {
	// Read fills buf and blocks until at least one sample is available
	Read(buf []float32) (int, error)
	Close() error
}

// OutputDevice schedules float sample buffers on a monotonic clock measured in seconds
type OutputDevice interface {
	SampleRate() int
	CurrentTime() float64
	// Schedule queues samples to start at the given device time. onEnded is
	// invoked once playback of the buffer finishes, and never from inside Schedule.
	Schedule(samples []float32, at float64, onEnded func()) error
	Close() error
}

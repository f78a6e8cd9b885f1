package audio

import "math"

const (
	// LowpassCutoff suppresses high-frequency encoding artifacts
	LowpassCutoff = 8000.0
	// OutputGain is applied after filtering
	OutputGain = 0.85
)

// Biquad is a second-order IIR filter in direct form I
type Biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

// NewLowpass builds an RBJ low-pass section for the given cutoff, quality
// factor and sample rate.
func NewLowpass(cutoff, q float64, sampleRate int) *Biquad {
	w0 := 2 * math.Pi * cutoff / float64(sampleRate)
	cos := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * q)
	a0 := 1 + alpha

	return &Biquad{
		b0: (1 - cos) / 2 / a0,
		b1: (1 - cos) / a0,
		b2: (1 - cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

// Process filters samples in place and applies gain. Filter state carries
// over between calls so consecutive buffers stay continuous.
func (f *Biquad) Process(samples []float32, gain float32) {
	for i, s := range samples {
		x := float64(s)
		y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
		f.x2, f.x1 = f.x1, x
		f.y2, f.y1 = f.y1, y
		samples[i] = float32(y) * gain
	}
}

// Reset clears the filter history
func (f *Biquad) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

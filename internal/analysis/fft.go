// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math/cmplx"
	"strings"
	"sync"

	"beatflux/internal/log"
	"beatflux/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

var logger = log.New("analysis")

var (
	ErrFFTSize        = errors.New("fft size must be a power of 2")
	ErrSampleRate     = errors.New("sample rate must be positive")
	ErrUnknownWindow  = errors.New("unknown FFT window function name")
	ErrBufferMismatch = errors.New("destination slice length does not match magnitude length")
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

var windowNames = [...]string{"BartlettHann", "Blackman", "BlackmanNuttall", "Hann", "Hamming", "Lanczos", "Nuttall"}

func (w WindowFunc) String() string {
	if w < 0 || int(w) >= len(windowNames) {
		return fmt.Sprintf("WindowFunc(%d)", int(w))
	}
	return windowNames[w]
}

// Pre-allocated buffers for FFT calculations.
type fftWorkspace struct {
	input     []float64    // Windowed input signal.
	fftOutput []complex128 // FFT complex results.
	magnitude []float64    // Calculated magnitudes.
	window    []float64    // Pre-calculated window coefficients.
	mu        sync.RWMutex // Protects the magnitude buffer.
}

// FFTProcessor windows a block of int32 samples, runs a real FFT over it and
// keeps the N/2+1 bin magnitudes for readers on other goroutines.
type FFTProcessor struct {
	fftCalculator *fourier.FFT
	fftSize       int
	sampleRate    float64
	workspace     fftWorkspace
}

// Compile-time checks for interface implementations.
var _ AudioProcessor = (*FFTProcessor)(nil)
var _ ClosableProcessor = (*FFTProcessor)(nil)

// NewFFTProcessor returns a processor for fftSize-point transforms of audio
// sampled at sampleRate Hz.
func NewFFTProcessor(fftSize int, sampleRate float64, windowType WindowFunc) (*FFTProcessor, error) {
	if !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("%w, got %d", ErrFFTSize, fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w, got %f", ErrSampleRate, sampleRate)
	}

	windowCoeffs := make([]float64, fftSize)
	applyWindow(windowCoeffs, windowType)

	// FFT output size for real input is N/2 + 1 complex values.
	magnitudeSize := fftSize/2 + 1

	logger.Debugf("initializing FFTProcessor (size: %d, sample rate: %.1f Hz, window: %v)", fftSize, sampleRate, windowType)

	return &FFTProcessor{
		fftCalculator: fourier.NewFFT(fftSize),
		fftSize:       fftSize,
		sampleRate:    sampleRate,
		workspace: fftWorkspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, magnitudeSize),
			magnitude: make([]float64, magnitudeSize),
			window:    windowCoeffs,
		},
	}, nil
}

// Process applies the window, performs the FFT and stores magnitudes. Input
// shorter than the FFT size is zero-padded, longer input is truncated.
func (p *FFTProcessor) Process(inputBuffer []int32) {
	p.workspace.mu.Lock()
	defer p.workspace.mu.Unlock()

	const normFactor = 1.0 / float64(0x80000000) // int32 to [-1.0, 1.0).
	inputLen := len(inputBuffer)
	for i := range p.fftSize {
		if i < inputLen {
			p.workspace.input[i] = float64(inputBuffer[i]) * normFactor * p.workspace.window[i]
		} else {
			p.workspace.input[i] = 0
		}
	}
	p.transform()
}

// ProcessFloat is Process for samples already normalized to [-1, 1].
func (p *FFTProcessor) ProcessFloat(input []float64) {
	p.workspace.mu.Lock()
	defer p.workspace.mu.Unlock()

	for i := range p.fftSize {
		if i < len(input) {
			p.workspace.input[i] = input[i] * p.workspace.window[i]
		} else {
			p.workspace.input[i] = 0
		}
	}
	p.transform()
}

// transform runs the FFT over the prepared input. Callers hold the lock.
func (p *FFTProcessor) transform() {
	p.fftCalculator.Coefficients(p.workspace.fftOutput, p.workspace.input)
	for i, c := range p.workspace.fftOutput {
		p.workspace.magnitude[i] = cmplx.Abs(c)
	}
}

// GetMagnitudes returns a copy of the latest magnitudes. It allocates, use
// GetMagnitudesInto on hot paths.
func (p *FFTProcessor) GetMagnitudes() []float64 {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()

	magCopy := make([]float64, len(p.workspace.magnitude))
	copy(magCopy, p.workspace.magnitude)
	return magCopy
}

// GetMagnitudesInto copies the latest magnitudes into dest, which must have
// length fftSize/2 + 1.
func (p *FFTProcessor) GetMagnitudesInto(dest []float64) error {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()

	if len(dest) != len(p.workspace.magnitude) {
		return fmt.Errorf("%w: got %d, want %d", ErrBufferMismatch, len(dest), len(p.workspace.magnitude))
	}
	copy(dest, p.workspace.magnitude)
	return nil
}

// GetFrequencyForBin returns the center frequency (Hz) of a bin, or 0 when
// the index is out of range.
func (p *FFTProcessor) GetFrequencyForBin(binIndex int) float64 {
	if binIndex < 0 || binIndex >= len(p.workspace.fftOutput) {
		return 0.0
	}
	return float64(binIndex) * (p.sampleRate / float64(p.fftSize))
}

// GetFFTSize returns the configured FFT size.
func (p *FFTProcessor) GetFFTSize() int {
	return p.fftSize
}

// GetSampleRate returns the configured sample rate (Hz).
func (p *FFTProcessor) GetSampleRate() float64 {
	return p.sampleRate
}

// Close is a no-op; the processor holds no external resources.
func (p *FFTProcessor) Close() error {
	logger.Debugf("closing FFTProcessor")
	return nil
}

// ParseWindowFunc converts a case-insensitive name to a WindowFunc. Unknown
// names return Hann and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("%w: '%s'", ErrUnknownWindow, name)
	}
}

// applyWindow fills coeffs with the selected window, Hann when unknown.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// The gonum window funcs scale in place.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		logger.Warnf("unknown window function type %d, defaulting to Hann", windowType)
		window.Hann(coeffs)
	}
}

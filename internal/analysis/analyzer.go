// SPDX-License-Identifier: MIT
/*
Package analysis turns one buffer of samples into a magnitude spectrum and the
strongest spectral peaks.

The transform is a full complex DFT over the raw integer sample values: no
normalization, and no window unless one is selected explicitly. Only the
positive half of the spectrum is kept, DC included.
*/
package analysis

import (
	"cmp"
	"errors"
	"fmt"
	"math/cmplx"
	"slices"

	"strobe/internal/audio"
	"strobe/internal/log"

	"gonum.org/v1/gonum/dsp/fourier"
)

var (
	// ErrInsufficientSamples is returned for frames shorter than two samples.
	ErrInsufficientSamples = errors.New("insufficient samples")
	// ErrInvalidSampleRate is returned for frames without a positive sample rate.
	ErrInvalidSampleRate = errors.New("invalid sample rate")
)

// Analyzer computes spectra and peak sets. It keeps its transform plan and
// work buffers between calls and rebuilds them when the frame length changes.
// An Analyzer is not safe for concurrent use.
type Analyzer struct {
	peakCount int
	window    WindowFunc

	size   int
	fft    *fourier.CmplxFFT
	input  []complex128
	output []complex128
	coeffs []float64
	order  []int
}

// NewAnalyzer returns an Analyzer selecting up to peakCount peaks per frame.
func NewAnalyzer(peakCount int, w WindowFunc) (*Analyzer, error) {
	if peakCount < 1 {
		return nil, fmt.Errorf("peak count must be positive, got %d", peakCount)
	}
	log.Infof("Analysis: Initializing analyzer (Peaks: %d, Window: %s)", peakCount, w)
	return &Analyzer{peakCount: peakCount, window: w}, nil
}

// PeakCount returns the configured number of peaks.
func (a *Analyzer) PeakCount() int {
	return a.peakCount
}

// Window returns the configured window.
func (a *Analyzer) Window() WindowFunc {
	return a.window
}

// Analyze transforms one frame. The returned Snapshot has len(frame)/2 bins
// and the PeakSet holds min(peakCount, len(frame)/2) of them. Both are freshly
// allocated and may be shared with other goroutines.
func (a *Analyzer) Analyze(frame audio.Frame) (Snapshot, PeakSet, error) {
	n := frame.Len()
	if n < 2 {
		return Snapshot{}, nil, fmt.Errorf("frame of %d samples: %w", n, ErrInsufficientSamples)
	}
	sampleRate := frame.SampleRate()
	if sampleRate <= 0 {
		return Snapshot{}, nil, fmt.Errorf("%v Hz: %w", sampleRate, ErrInvalidSampleRate)
	}

	a.plan(n)

	for i, s := range frame.Samples {
		a.input[i] = complex(float64(s)*a.coeffs[i], 0)
	}
	a.fft.Coefficients(a.output, a.input)

	half := n / 2
	bins := make([]Bin, half)
	for i := range bins {
		bins[i] = Bin{
			Frequency: a.fft.Freq(i) * sampleRate,
			Magnitude: cmplx.Abs(a.output[i]),
		}
	}

	return Snapshot{Bins: bins, SampleRate: sampleRate, Size: n}, a.selectPeaks(bins), nil
}

// plan prepares the transform and buffers for frames of n samples.
func (a *Analyzer) plan(n int) {
	if a.size == n {
		return
	}
	if a.size != 0 {
		log.Debugf("Analysis: Frame size changed %d -> %d, rebuilding FFT plan", a.size, n)
	}
	a.size = n
	a.fft = fourier.NewCmplxFFT(n)
	a.input = make([]complex128, n)
	a.output = make([]complex128, n)
	a.coeffs = make([]float64, n)
	a.order = make([]int, n/2)
	fillWindow(a.coeffs, a.window)
}

// selectPeaks ranks bins by ascending magnitude, ties by ascending index, and
// keeps the last peakCount.
func (a *Analyzer) selectPeaks(bins []Bin) PeakSet {
	order := a.order[:len(bins)]
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(x, y int) int {
		if c := cmp.Compare(bins[x].Magnitude, bins[y].Magnitude); c != 0 {
			return c
		}
		return cmp.Compare(x, y)
	})

	k := min(a.peakCount, len(order))
	top := order[len(order)-k:]
	peaks := make(PeakSet, k)
	for i, idx := range top {
		peaks[i] = Peak{Index: idx, Frequency: bins[idx].Frequency, Magnitude: bins[idx].Magnitude}
	}
	return peaks
}

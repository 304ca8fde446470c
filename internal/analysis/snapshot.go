// SPDX-License-Identifier: MIT
package analysis

// Bin is one positive-frequency DFT bin.
type Bin struct {
	Frequency float64 `json:"f"` // Hz
	Magnitude float64 `json:"m"`
}

// Snapshot is the positive half of one frame's spectrum. Bins[i] is DFT bin
// i, so len(Bins) is Size/2 and Bins[0] is DC.
type Snapshot struct {
	Bins       []Bin
	SampleRate float64
	Size       int // Frame length the transform ran on
}

// Resolution is the spacing between bins in Hz.
func (s Snapshot) Resolution() float64 {
	if s.Size == 0 {
		return 0
	}
	return s.SampleRate / float64(s.Size)
}

// Magnitudes copies the bin magnitudes into dst, growing it if needed, and
// returns it.
func (s Snapshot) Magnitudes(dst []float64) []float64 {
	dst = dst[:0]
	for _, b := range s.Bins {
		dst = append(dst, b.Magnitude)
	}
	return dst
}

// Band is a closed frequency range in Hz.
type Band struct {
	LowHz  float64
	HighHz float64
}

// DisplayBand is the range shown by spectrum displays.
var DisplayBand = Band{LowHz: 30, HighHz: 5000}

// Contains reports whether f lies inside the band.
func (b Band) Contains(f float64) bool {
	return f >= b.LowHz && f <= b.HighHz
}

// Zoom returns the bins whose frequency lies within band. The result shares
// storage with the snapshot.
func (s Snapshot) Zoom(band Band) []Bin {
	lo, hi := -1, -1
	for i, b := range s.Bins {
		if band.Contains(b.Frequency) {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	if lo < 0 {
		return nil
	}
	return s.Bins[lo : hi+1]
}

// Peak is a selected bin together with its index in the snapshot.
type Peak struct {
	Index     int     `json:"i"`
	Frequency float64 `json:"f"` // Hz
	Magnitude float64 `json:"m"`
}

// PeakSet holds the selected peaks in ascending magnitude order; equal
// magnitudes are ordered by ascending index. The strongest peak is last.
type PeakSet []Peak

// Strongest returns the n strongest peaks, still in ascending order. n is
// clamped to the set size.
func (p PeakSet) Strongest(n int) PeakSet {
	n = max(0, min(n, len(p)))
	return p[len(p)-n:]
}

// Frequencies returns the peak frequencies in set order.
func (p PeakSet) Frequencies() []float64 {
	out := make([]float64, len(p))
	for i, pk := range p {
		out[i] = pk.Frequency
	}
	return out
}

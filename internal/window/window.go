// Package window provides fixed-capacity rolling buffers for the numeric core.
//
// Every bounded history in the engine and the pillar system (intensity history,
// adaptive-lambda residual window, shadow residual windows) is a Ring: a
// fixed-capacity FIFO that evicts oldest-first and exposes the rolling
// statistics the learning code needs. Rings are plain in-memory values with no
// locking; callers own the single-writer discipline.
package window

import "math"

// =============================================================================
// Ring Buffer
// =============================================================================

// Ring is a fixed-capacity FIFO of float64 samples with oldest-first eviction.
// The zero value is not usable; construct with NewRing.
type Ring struct {
	buf  []float64
	head int // index of the oldest sample
	n    int // number of samples currently held
}

// NewRing returns an empty ring holding at most capacity samples.
// Capacities below 1 are raised to 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

// Push appends v, evicting the oldest sample if the ring is full.
func (r *Ring) Push(v float64) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

// Len returns the number of samples currently held.
func (r *Ring) Len() int { return r.n }

// Cap returns the fixed capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Full reports whether the ring holds Cap() samples.
func (r *Ring) Full() bool { return r.n == len(r.buf) }

// Values returns the samples oldest-first as a fresh slice.
func (r *Ring) Values() []float64 {
	out := make([]float64, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Last returns the most recent sample, or false if the ring is empty.
func (r *Ring) Last() (float64, bool) {
	if r.n == 0 {
		return 0, false
	}
	return r.buf[(r.head+r.n-1)%len(r.buf)], true
}

// FromEnd returns the sample offset steps back from the most recent one
// (offset 0 is the most recent). The second return is false when the ring
// does not reach that far back.
func (r *Ring) FromEnd(offset int) (float64, bool) {
	if offset < 0 || offset >= r.n {
		return 0, false
	}
	return r.buf[(r.head+r.n-1-offset)%len(r.buf)], true
}

// Reset drops all samples, keeping the capacity.
func (r *Ring) Reset() {
	r.head = 0
	r.n = 0
}

// =============================================================================
// Rolling Statistics
// =============================================================================

// Sum returns the sum of the held samples.
func (r *Ring) Sum() float64 {
	var s float64
	for i := 0; i < r.n; i++ {
		s += r.buf[(r.head+i)%len(r.buf)]
	}
	return s
}

// Mean returns the mean of the held samples, or 0 for an empty ring.
func (r *Ring) Mean() float64 {
	if r.n == 0 {
		return 0
	}
	return r.Sum() / float64(r.n)
}

// Variance returns the population variance of the held samples, or 0 when
// fewer than two samples are held.
func (r *Ring) Variance() float64 {
	if r.n < 2 {
		return 0
	}
	mean := r.Mean()
	var ss float64
	for i := 0; i < r.n; i++ {
		d := r.buf[(r.head+i)%len(r.buf)] - mean
		ss += d * d
	}
	return ss / float64(r.n)
}

// MeanAbs returns the mean of |sample|, or 0 for an empty ring.
func (r *Ring) MeanAbs() float64 {
	if r.n == 0 {
		return 0
	}
	var s float64
	for i := 0; i < r.n; i++ {
		s += math.Abs(r.buf[(r.head+i)%len(r.buf)])
	}
	return s / float64(r.n)
}

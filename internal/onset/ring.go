// SPDX-License-Identifier: MIT
package onset

import "beatflux/pkg/bitint"

// sampleRing is the bounded sample log. Indices are absolute ingestion
// indices; slots are reused once an index falls out of the retained window.
type sampleRing struct {
	slots []Sample
	mask  int
	n     int // Total samples ever appended.
}

func newSampleRing(retention, subBands int) *sampleRing {
	capacity := bitint.NextPowerOfTwo(retention)
	slots := make([]Sample, capacity)
	backing := make([]float64, capacity*subBands)
	for i := range slots {
		slots[i].SubBandFlux = backing[i*subBands : (i+1)*subBands : (i+1)*subBands]
	}
	return &sampleRing{
		slots: slots,
		mask:  capacity - 1,
	}
}

// push claims the next slot and returns it reset for index len().
func (r *sampleRing) push(time float64) *Sample {
	s := &r.slots[r.n&r.mask]
	s.reset(r.n, time)
	r.n++
	return s
}

func (r *sampleRing) at(i int) *Sample {
	return &r.slots[i&r.mask]
}

func (r *sampleRing) len() int {
	return r.n
}

func (r *sampleRing) capacity() int {
	return len(r.slots)
}

// oldest returns the lowest absolute index still retained.
func (r *sampleRing) oldest() int {
	return max(0, r.n-len(r.slots))
}

func (r *sampleRing) clear() {
	r.n = 0
}

// SPDX-License-Identifier: MIT
package onset

// Sample is the per-frame record kept by a Detector. First-order fields are
// set at ingestion, derived fields are filled in as the frontier passes.
type Sample struct {
	Index        int            `json:"index"`
	Time         float64        `json:"time"`
	SpectralFlux float64        `json:"spectralFlux"`
	SubBandFlux  []float64      `json:"subBandFlux"`
	Threshold    Field[float64] `json:"threshold"`
	PrunedFlux   Field[float64] `json:"prunedFlux"`
	IsPeak       Field[bool]    `json:"isPeak"`
	Tempo        Field[float64] `json:"tempoEstimate"`
}

// Finalized reports whether every second-order field has been resolved.
// The tempo estimate is resolved in the same pass as the threshold.
func (s Sample) Finalized() bool {
	return s.Threshold.Resolved() && s.PrunedFlux.Resolved() &&
		s.IsPeak.Resolved() && s.Tempo.Resolved()
}

// Peak reports whether the sample is a resolved onset.
func (s Sample) Peak() bool {
	peak, ok := s.IsPeak.Get()
	return ok && peak
}

// clone returns a copy that does not share the sub-band slice with the ring slot.
func (s *Sample) clone() Sample {
	out := *s
	out.SubBandFlux = make([]float64, len(s.SubBandFlux))
	copy(out.SubBandFlux, s.SubBandFlux)
	return out
}

func (s *Sample) reset(index int, time float64) {
	s.Index = index
	s.Time = time
	s.SpectralFlux = 0
	for i := range s.SubBandFlux {
		s.SubBandFlux[i] = 0
	}
	s.Threshold.reset()
	s.PrunedFlux.reset()
	s.IsPeak.reset()
	s.Tempo.reset()
}

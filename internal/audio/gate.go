// SPDX-License-Identifier: MIT
package audio

import "math"

// The noise gate is checked on the callback path while the monitor or the
// host may change it, so all gate state is atomic. A closed gate replaces
// the processor input with silence; the recorded input is never touched.

func (e *Engine) EnableGate() {
	e.gateEnabled.Store(true)
}

func (e *Engine) DisableGate() {
	e.gateEnabled.Store(false)
}

// ToggleGate flips the gate and returns the new state.
func (e *Engine) ToggleGate() bool {
	for {
		enabled := e.gateEnabled.Load()
		if e.gateEnabled.CompareAndSwap(enabled, !enabled) {
			logger.Debugf("noise gate enabled: %v", !enabled)
			return !enabled
		}
	}
}

// GateEnabled reports whether quiet blocks are replaced by silence.
func (e *Engine) GateEnabled() bool {
	return e.gateEnabled.Load()
}

// SetGateThreshold sets the gate level as a fraction of full scale, clamped
// to [0, 1]. 0 lets every non-silent block through, 1 gates everything.
func (e *Engine) SetGateThreshold(threshold float64) {
	threshold = max(0.0, min(threshold, 1.0))
	e.gateThreshold.Store(int32(threshold * math.MaxInt32))
}

// GetGateThreshold returns the gate level as a fraction of full scale.
func (e *Engine) GetGateThreshold() float64 {
	return float64(e.gateThreshold.Load()) / math.MaxInt32
}

// passes reports whether buffer gets through the gate. Closed blocks are
// counted for GateStats.
func (e *Engine) passes(buffer []int32) bool {
	if !e.gateEnabled.Load() || maxAmplitude(buffer) > e.gateThreshold.Load() {
		return true
	}
	e.gatedBlocks.Add(1)
	return false
}

// maxAmplitude returns the largest absolute sample without branching.
func maxAmplitude(buffer []int32) int32 {
	var peak int32
	for _, sample := range buffer {
		mask := sample >> 31
		amplitude := (sample ^ mask) - mask
		diff := amplitude - peak
		peak += diff &^ (diff >> 31)
	}
	return peak
}

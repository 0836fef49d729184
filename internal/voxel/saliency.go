package voxel

// The saliency state machine. Each occupied voxel accumulates intensity
// samples toward a one-shot promotion to PhaseSalient; once salient it is
// frozen against further sampling and, when decay is enabled, loses value
// every tick it is not re-observed until it retires (inhibition of
// return).

// saliencySample folds one intensity sample into a voxel. Only
// PhaseNormal voxels accept samples. The first touch in a new tick resets
// the per-tick running mean; Value then moves by Alpha times the change
// in that mean, clamped to [0,255]. Crossing Threshold promotes and
// restarts SampleCount as the decay clock.
func saliencySample(s *Saliency, intensity uint8, tick uint64, cfg SaliencyConfig) {
	if s.Phase != PhaseNormal {
		return
	}
	if s.LastTouchedTick != tick {
		s.SampleCount = 0
		s.LastTouchedTick = tick
		s.ValueBuffer = float32(s.Value)
	}
	s.SampleCount++
	k := float64(s.SampleCount)
	prevMean := float64(s.ValueBuffer)
	mean := (prevMean*(k-1) + float64(intensity)) / k
	v := float64(s.Value) + cfg.Alpha*(mean-prevMean)
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	s.Value = uint8(v)
	s.ValueBuffer = float32(mean)
	if s.Value > cfg.Threshold {
		s.Phase = PhaseSalient
		s.SampleCount = 0
	}
}

// saliencyDecayTick runs one inhibition-of-return pass over the whole
// store. Salient occupied voxels not freshly sampled this tick lose value
// by the factor 1 + kβ + (kβ)²/2, the second-order Taylor expansion of
// e^{kβ} with k the ticks since promotion; once value falls to or below
// the threshold the voxel retires for good. Free voxels have their value
// zeroed regardless of phase.
func saliencyDecayTick(idx *Index, tick uint64, cfg SaliencyConfig) {
	idx.IterateAll(func(_ Key, rec *VoxelRecord) bool {
		s := &rec.Saliency
		if idx.IsOccupied(rec) {
			if s.Phase != PhaseSalient || s.LastTouchedTick == tick {
				return true
			}
			s.SampleCount++
			kb := float64(s.SampleCount) * cfg.Beta
			factor := 1 + kb + kb*kb/2
			v := float64(s.Value) * factor
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			s.Value = uint8(v)
			if s.Value <= cfg.Threshold {
				s.Phase = PhaseRetired
			}
			s.LastTouchedTick = tick
			return true
		}
		s.Value = 0
		return true
	})
}

package voxel

// CellStatus is the three-valued classification every query resolves to.
// Unknown is a first-class answer, not an error: a voxel with no record
// has simply never been observed.
type CellStatus int

const (
	StatusUnknown CellStatus = iota
	StatusFree
	StatusOccupied
)

func (s CellStatus) String() string {
	switch s {
	case StatusFree:
		return "free"
	case StatusOccupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// SaliencyPhase is the lifecycle phase of a voxel's saliency state.
// Transitions only ever move forward: Normal -> Salient -> Retired.
type SaliencyPhase uint8

const (
	// PhaseNormal accumulates intensity samples and may promote.
	PhaseNormal SaliencyPhase = iota
	// PhaseSalient has crossed the promotion threshold; frozen against
	// further sampling, subject to inhibition-of-return decay.
	PhaseSalient
	// PhaseRetired has decayed back below threshold. Terminal.
	PhaseRetired
)

func (p SaliencyPhase) String() string {
	switch p {
	case PhaseSalient:
		return "salient"
	case PhaseRetired:
		return "retired"
	default:
		return "normal"
	}
}

// Saliency is the per-voxel attention state. Value is the current salience
// in [0,255]; ValueBuffer holds the running mean of intensities seen this
// tick; SampleCount doubles as the decay clock once the voxel promotes.
type Saliency struct {
	Phase           SaliencyPhase
	Value           uint8
	ValueBuffer     float32
	SampleCount     uint32
	LastTouchedTick uint64
	ViewpointCount  uint32
	Density         uint32
}

// VoxelRecord is the uniform per-voxel state: occupancy log-odds plus the
// saliency annotation. Records are created lazily on first write and are
// never created by reads.
type VoxelRecord struct {
	LogOdds  float32
	Saliency Saliency
}

// SaliencyConfig tunes the saliency state machine. It is passed explicitly
// into every saliency-fusion call rather than held as process-wide state.
type SaliencyConfig struct {
	// Alpha is the accumulation gain applied to running-mean deltas.
	Alpha float64
	// Beta is the decay rate. Decay runs only when Beta < 0.
	Beta float64
	// Threshold is the promotion cutoff: Value > Threshold promotes.
	Threshold uint8
}

// DecayEnabled reports whether inhibition-of-return decay ticks run.
func (c SaliencyConfig) DecayEnabled() bool { return c.Beta < 0 }

package voxel

import (
	"fmt"
	"math"
)

// MapParams configures the occupancy map. Probabilities are expressed in
// [0,1] and converted to log-odds once at construction; the occupancy
// invariant is occupied(k) <=> logOdds(k) >= logOdds(ThresholdOccupancy).
type MapParams struct {
	// Resolution is the voxel edge length in meters. Must be > 0.
	// Changing it invalidates and resets the whole store.
	Resolution float64

	ProbabilityHit  float64 // evidence increment for an observed endpoint
	ProbabilityMiss float64 // evidence decrement for a traversed free cell

	ThresholdMin       float64 // clamp floor, as probability
	ThresholdMax       float64 // clamp ceiling, as probability
	ThresholdOccupancy float64 // occupied/free cutoff, as probability

	// SensorMaxRange clips rays longer than this; negative disables
	// clipping. A clipped ray contributes free evidence only.
	SensorMaxRange float64

	// MaxFreeSpace, when > 0, stops marking traversed cells free beyond
	// this distance from the sensor unless the cell clears the height
	// exemption below. Zero marks every traversed cell free.
	MaxFreeSpace float64
	// MinHeightFreeSpace keeps cells with z > origin.z-MinHeightFreeSpace
	// marked free past the MaxFreeSpace cutoff (overhang heuristic).
	MinHeightFreeSpace float64

	TreatUnknownAsOccupied bool
	FilterSpeckles         bool

	// ChangeDetection records occupancy flips for ChangedVoxels.
	ChangeDetection bool
}

// DefaultMapParams returns the stock tuning: 15cm voxels with the usual
// hit/miss probabilities for depth sensors.
func DefaultMapParams() MapParams {
	return MapParams{
		Resolution:         0.15,
		ProbabilityHit:     0.65,
		ProbabilityMiss:    0.40,
		ThresholdMin:       0.12,
		ThresholdMax:       0.97,
		ThresholdOccupancy: 0.5,
		SensorMaxRange:     5.0,
		MaxFreeSpace:       0,
		MinHeightFreeSpace: 0,
		ChangeDetection:    true,
	}
}

// Validate rejects configurations the map cannot be built from.
func (p MapParams) Validate() error {
	if p.Resolution <= 0 {
		return fmt.Errorf("voxel: non-positive resolution %v", p.Resolution)
	}
	if p.ProbabilityHit <= 0 || p.ProbabilityHit >= 1 {
		return fmt.Errorf("voxel: probability_hit %v out of (0,1)", p.ProbabilityHit)
	}
	if p.ProbabilityMiss <= 0 || p.ProbabilityMiss >= 1 {
		return fmt.Errorf("voxel: probability_miss %v out of (0,1)", p.ProbabilityMiss)
	}
	if p.ThresholdMin >= p.ThresholdMax {
		return fmt.Errorf("voxel: clamp floor %v not below ceiling %v", p.ThresholdMin, p.ThresholdMax)
	}
	if p.ThresholdOccupancy <= 0 || p.ThresholdOccupancy >= 1 {
		return fmt.Errorf("voxel: threshold_occupancy %v out of (0,1)", p.ThresholdOccupancy)
	}
	return nil
}

// logOdds converts a probability to additive log-odds form.
func logOdds(p float64) float32 {
	return float32(math.Log(p / (1 - p)))
}

// probability inverts logOdds.
func probability(l float32) float64 {
	return 1.0 / (1.0 + math.Exp(float64(-l)))
}

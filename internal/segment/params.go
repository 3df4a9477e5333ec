package segment

import "fmt"

// Params configures plane extraction.
type Params struct {
	// DistanceThreshold is the maximum point-to-plane distance of an inlier.
	DistanceThreshold float64
	// MinPlanePoints is the smallest patch that is accepted; extraction stops
	// once no candidate reaches it.
	MinPlanePoints int
	// MaxIterations caps the RANSAC trials per extracted plane.
	MaxIterations int
	// MaxPlanes caps the number of extracted planes; 0 means no cap.
	MaxPlanes int
	// Confidence drives adaptive early exit: sampling stops once a better
	// model would have been found with this probability.
	Confidence float64
	// MergeAngleDeg and MergeOffset bound the normal angle and the
	// centroid-to-plane distance of two patches that are merged.
	MergeAngleDeg float64
	MergeOffset   float64
	// ConnectivityRadius is the flood-fill step between inliers of one
	// patch; 0 derives it from the point spacing.
	ConnectivityRadius float64
	Seed               uint64
	Workers            int
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		DistanceThreshold: 0.02,
		MinPlanePoints:    500,
		MaxIterations:     1000,
		MaxPlanes:         64,
		Confidence:        0.99,
		MergeAngleDeg:     5,
		MergeOffset:       0.05,
		Seed:              1,
	}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	switch {
	case !(p.DistanceThreshold > 0):
		return fmt.Errorf("distance_threshold must be > 0, got %v", p.DistanceThreshold)
	case p.MinPlanePoints < 3:
		return fmt.Errorf("min_plane_points must be >= 3, got %d", p.MinPlanePoints)
	case p.MaxIterations < 1:
		return fmt.Errorf("max_iterations must be >= 1, got %d", p.MaxIterations)
	case p.MaxPlanes < 0:
		return fmt.Errorf("max_planes must be >= 0, got %d", p.MaxPlanes)
	case !(p.Confidence > 0 && p.Confidence < 1):
		return fmt.Errorf("confidence must be in (0, 1), got %v", p.Confidence)
	case p.MergeAngleDeg < 0 || p.MergeAngleDeg > 90:
		return fmt.Errorf("merge_angle_deg must be in [0, 90], got %v", p.MergeAngleDeg)
	case p.MergeOffset < 0:
		return fmt.Errorf("merge_offset must be >= 0, got %v", p.MergeOffset)
	case p.ConnectivityRadius < 0:
		return fmt.Errorf("connectivity radius must be >= 0, got %v", p.ConnectivityRadius)
	}
	return nil
}

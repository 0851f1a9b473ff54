package models

// Tier is the complexity bucket assigned to a request by the classifier.
// It drives routing: cheaper tiers take the direct path, complex requests
// go through planning.
type Tier string

const (
	TierSimple   Tier = "simple"
	TierStandard Tier = "standard"
	TierComplex  Tier = "complex"
)

// Rank returns the ordinal position of the tier, with simple lowest.
// Unknown tiers rank below simple so they never shadow a real bucket.
func (t Tier) Rank() int {
	switch t {
	case TierSimple:
		return 1
	case TierStandard:
		return 2
	case TierComplex:
		return 3
	default:
		return 0
	}
}

// Classification is the classifier's verdict on a request. Produced once,
// never mutated, consumed only by the router.
type Classification struct {
	Tier              Tier     // Complexity bucket
	Confidence        float64  // Normalized margin between the top two tier scores (0..1)
	Signals           []string // Matched cue names, for the report and for debugging
	FileCountEstimate int      // Rough number of files the request will touch
	Creative          bool     // Request asks for open-ended content generation
}

package trust

// Composite provider trust score. Four weighted components, weights sum
// to 1.0; the final score is clamped to [0, 100] but the components are
// not individually clamped (inputs are validated upstream).

const (
	weightCompletion     = 0.4
	weightRating         = 0.3
	weightVerification   = 0.2
	weightResponsiveness = 0.1
)

// Inputs is the provider history a score is computed from.
// ResponseMinutes is nil when the provider has never responded to anything;
// that gets a neutral responsiveness component rather than a penalty.
type Inputs struct {
	CompletedBookings int
	TotalBookings     int
	AverageRating     float64 // 0..5 scale
	HasRatings        bool
	ApprovedDocs      int
	TotalDocs         int
	ResponseMinutes   *float64 // median, nil if unknown
}

// Score computes the 0..100 composite trust score. Every zero-denominator
// component degrades to 0 so a provider with no history still gets a
// defined (low) score.
func Score(in Inputs) float64 {
	var completion float64
	if in.TotalBookings > 0 {
		completion = float64(in.CompletedBookings) / float64(in.TotalBookings) * 100
	}

	var rating float64
	if in.HasRatings {
		rating = in.AverageRating * 20 // 0..5 -> 0..100
	}

	var verification float64
	if in.TotalDocs > 0 {
		verification = float64(in.ApprovedDocs) / float64(in.TotalDocs) * 100
	}

	score := weightCompletion*completion +
		weightRating*rating +
		weightVerification*verification +
		weightResponsiveness*responsiveness(in.ResponseMinutes)

	return clamp(score)
}

// responsiveness is a step function on the median response time.
func responsiveness(minutes *float64) float64 {
	if minutes == nil {
		return 50 // neutral default
	}
	switch m := *minutes; {
	case m <= 15:
		return 100
	case m <= 30:
		return 80
	case m <= 60:
		return 60
	default:
		return 40
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

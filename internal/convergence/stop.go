// Package convergence drives per-product harvest rounds: planning sources,
// fanning out fetches, gating and merging candidates, and deciding when to
// stop.
package convergence

// Default stop-decision bounds.
const (
	DefaultMaxRounds       = 8
	diminishingReturnLimit = 2
)

// Stop reasons.
const (
	StopComplete           = "complete"
	StopTimeBudget         = "time_budget_exhausted"
	StopMaxRounds          = "max_rounds"
	StopDiminishingReturns = "diminishing_returns"
	StopCancelled          = "cancelled"
)

// StopInput is everything the stop decision reads. The decision is a pure
// function of this struct.
type StopInput struct {
	Round     int
	MaxRounds int
	ElapsedMs int64
	MaxMs     int64

	RequiredSatisfied bool
	CriticalSatisfied bool

	// NoNewHighYieldRounds counts consecutive rounds without a new
	// high-yield source; NoNewFieldsRounds without a newly accepted field.
	NoNewHighYieldRounds int
	NoNewFieldsRounds    int

	// NoProgressLimit is how many flat rounds trigger the
	// diminishing-returns stop. Zero means the default.
	NoProgressLimit int
}

// StopDecision is the verdict for one round boundary.
type StopDecision struct {
	Stop   bool   `json:"stop"`
	Reason string `json:"reason,omitempty"`
}

// UberStopDecision decides whether the run continues past this round.
func UberStopDecision(in StopInput) StopDecision {
	if in.RequiredSatisfied && in.CriticalSatisfied {
		return StopDecision{Stop: true, Reason: StopComplete}
	}

	if in.MaxMs > 0 && in.ElapsedMs >= in.MaxMs {
		return StopDecision{Stop: true, Reason: StopTimeBudget}
	}

	maxRounds := in.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if in.Round+1 >= maxRounds {
		return StopDecision{Stop: true, Reason: StopMaxRounds}
	}

	limit := in.NoProgressLimit
	if limit <= 0 {
		limit = diminishingReturnLimit
	}
	if in.NoNewHighYieldRounds >= limit && in.NoNewFieldsRounds >= limit {
		return StopDecision{Stop: true, Reason: StopDiminishingReturns}
	}

	return StopDecision{}
}

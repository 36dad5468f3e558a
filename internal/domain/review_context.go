package domain

// ReviewReason tags a ReviewContext. The set is closed; every consumer
// switches exhaustively over it.
type ReviewReason string

const (
	ReasonManualReview            ReviewReason = "manual_review"
	ReasonOldStatsCannotBeFound   ReviewReason = "old_stats_cannot_be_found"
	ReasonNewNameNotOnHiscores    ReviewReason = "new_name_not_on_the_hiscores"
	ReasonNegativeGains           ReviewReason = "negative_gains"
	ReasonTransitionPeriodTooLong ReviewReason = "transition_period_too_long"
	ReasonExcessiveGains          ReviewReason = "excessive_gains"
	ReasonTotalLevelTooLow        ReviewReason = "total_level_too_low"
)

func (r ReviewReason) Valid() bool {
	switch r {
	case ReasonManualReview, ReasonOldStatsCannotBeFound, ReasonNewNameNotOnHiscores,
		ReasonNegativeGains, ReasonTransitionPeriodTooLong, ReasonExcessiveGains,
		ReasonTotalLevelTooLow:
		return true
	}
	return false
}

// ReviewContext records why the auto-review engine denied a request or left
// it pending. The payload fields carried depend on Reason; unused fields are
// omitted from the serialized form.
type ReviewContext struct {
	Reason ReviewReason `json:"reason"`

	// negative_gains
	NegativeGains map[Metric]int64 `json:"negativeGains,omitempty"`

	// transition_period_too_long, excessive_gains
	HoursDiff    float64 `json:"hoursDiff,omitempty"`
	MaxHoursDiff float64 `json:"maxHoursDiff,omitempty"`

	// excessive_gains
	EHPDiff float64 `json:"ehpDiff,omitempty"`
	EHBDiff float64 `json:"ehbDiff,omitempty"`

	// total_level_too_low
	MinTotalLevel int `json:"minTotalLevel,omitempty"`
	TotalLevel    int `json:"totalLevel,omitempty"`
}

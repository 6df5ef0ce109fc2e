package dto

// TierChangePreview shows what applying the tier rules would do for one
// squad without moving it.
type TierChangePreview struct {
	SquadID         string `json:"squadId"`
	CurrentTier     string `json:"currentTier"`
	RecommendedTier string `json:"recommendedTier"`
	Action          string `json:"action"`
	RuleCode        string `json:"ruleCode"`
	EligibleNow     *bool  `json:"eligibleNow,omitempty"`
	EligiblePrev    *bool  `json:"eligiblePrev,omitempty"`
}

// TierChangeApplyResult summarizes a bulk apply over a phase.
type TierChangeApplyResult struct {
	Applied int      `json:"applied"`
	Skipped []string `json:"skipped,omitempty"`
}

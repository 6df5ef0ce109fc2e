package dto

// PhaseTargetItem is one per-tier squad target.
type PhaseTargetItem struct {
	Tier         string `json:"tier" validate:"required,oneof=D C B A"`
	TargetPoints int    `json:"targetPoints" validate:"required,min=1"`
}

// CreatePhaseRequest defines payload for opening a new scoring phase.
// The end date and change-day are derived by walking working days forward
// from the start date.
type CreatePhaseRequest struct {
	Name             string            `json:"name" validate:"required,max=100"`
	StartDate        string            `json:"startDate" validate:"required,datetime=2006-01-02"`
	WorkingDays      int               `json:"workingDays" validate:"required,min=1,max=60"`
	ChangeDayIndex   int               `json:"changeDayIndex" validate:"required,min=1"`
	IndividualTarget *int              `json:"individualTarget" validate:"omitempty,min=1"`
	Targets          []PhaseTargetItem `json:"targets" validate:"required,len=4,dive"`
}

// UpdatePhaseTargetsRequest replaces the tier targets of an open phase.
type UpdatePhaseTargetsRequest struct {
	Targets []PhaseTargetItem `json:"targets" validate:"required,min=1,max=4,dive"`
}

package dto

// AwardPointsRequest defines payload for recording a ledger entry.
type AwardPointsRequest struct {
	StudentID    string `json:"studentId" validate:"required,uuid4"`
	ActivityDate string `json:"activityDate" validate:"required,datetime=2006-01-02"`
	Points       int    `json:"points" validate:"required,min=1,max=1000"`
	Reason       string `json:"reason" validate:"required,max=500"`
}

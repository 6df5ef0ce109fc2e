package models

import "time"

// RequestStatus captures workflow states shared by all request types.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// Valid reports whether the status is a supported decision value.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected:
		return true
	}
	return false
}

// JoinRequest is a student's pending application to join a squad.
type JoinRequest struct {
	ID             string        `db:"id" json:"id"`
	StudentID      string        `db:"student_id" json:"student_id"`
	SquadID        string        `db:"squad_id" json:"squad_id"`
	Status         RequestStatus `db:"status" json:"status"`
	Message        string        `db:"message" json:"message"`
	DecidedBy      *string       `db:"decided_by" json:"decided_by,omitempty"`
	DecisionReason *string       `db:"decision_reason" json:"decision_reason,omitempty"`
	RequestedAt    time.Time     `db:"requested_at" json:"requested_at"`
	DecidedAt      *time.Time    `db:"decided_at" json:"decided_at,omitempty"`
}

// RoleRequest is a member's application for a vacant leadership role.
// SquadID is denormalised from the membership so pending-uniqueness per
// (squad, role) can be enforced without a join under lock.
type RoleRequest struct {
	ID             string         `db:"id" json:"id"`
	MembershipID   string         `db:"membership_id" json:"membership_id"`
	StudentID      string         `db:"student_id" json:"student_id"`
	SquadID        string         `db:"squad_id" json:"squad_id"`
	Role           MembershipRole `db:"role" json:"role"`
	Status         RequestStatus  `db:"status" json:"status"`
	Message        string         `db:"message" json:"message"`
	DecidedBy      *string        `db:"decided_by" json:"decided_by,omitempty"`
	DecisionReason *string        `db:"decision_reason" json:"decision_reason,omitempty"`
	RequestedAt    time.Time      `db:"requested_at" json:"requested_at"`
	DecidedAt      *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
}

// TierChangeRequestType distinguishes promotion from demotion requests.
type TierChangeRequestType string

const (
	TierChangePromotion TierChangeRequestType = "PROMOTION"
	TierChangeDemotion  TierChangeRequestType = "DEMOTION"
)

// TierChangeRequest asks for a squad to be moved to another tier.
// FromTier records the tier observed at request time and acts as the
// optimistic-concurrency guard checked again at decision time.
type TierChangeRequest struct {
	ID             string                `db:"id" json:"id"`
	SquadID        string                `db:"squad_id" json:"squad_id"`
	FromTier       Tier                  `db:"from_tier" json:"from_tier"`
	ToTier         Tier                  `db:"to_tier" json:"to_tier"`
	Type           TierChangeRequestType `db:"type" json:"type"`
	Status         RequestStatus         `db:"status" json:"status"`
	Message        string                `db:"message" json:"message"`
	RequestedBy    string                `db:"requested_by" json:"requested_by"`
	DecidedBy      *string               `db:"decided_by" json:"decided_by,omitempty"`
	DecisionReason *string               `db:"decision_reason" json:"decision_reason,omitempty"`
	RequestedAt    time.Time             `db:"requested_at" json:"requested_at"`
	DecidedAt      *time.Time            `db:"decided_at" json:"decided_at,omitempty"`
}

// RequestFilter constrains request listing queries.
type RequestFilter struct {
	Status    []RequestStatus
	SquadID   string
	StudentID string
	Page      int
	PageSize  int
}

package models

import "time"

// MembershipRole enumerates the roles a student can hold inside a squad.
type MembershipRole string

const (
	RoleMember      MembershipRole = "MEMBER"
	RoleCaptain     MembershipRole = "CAPTAIN"
	RoleViceCaptain MembershipRole = "VICE_CAPTAIN"
	RoleStrategist  MembershipRole = "STRATEGIST"
	RoleManager     MembershipRole = "MANAGER"
)

// LeadershipRoles lists the roles that are unique per squad among active members.
var LeadershipRoles = []MembershipRole{RoleCaptain, RoleViceCaptain, RoleStrategist, RoleManager}

// Valid reports whether the role is one of the supported membership roles.
func (r MembershipRole) Valid() bool {
	switch r {
	case RoleMember, RoleCaptain, RoleViceCaptain, RoleStrategist, RoleManager:
		return true
	}
	return false
}

// IsLeadership reports whether the role is a single-holder leadership role.
func (r MembershipRole) IsLeadership() bool {
	return r.Valid() && r != RoleMember
}

// MembershipStatus captures the lifecycle state of a membership row.
type MembershipStatus string

const (
	MembershipStatusActive MembershipStatus = "ACTIVE"
	MembershipStatusLeft   MembershipStatus = "LEFT"
)

// Membership links a student to a squad. Rows are terminated, never deleted.
type Membership struct {
	ID             string           `db:"id" json:"id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	SquadID        string           `db:"squad_id" json:"squad_id"`
	Role           MembershipRole   `db:"role" json:"role"`
	Status         MembershipStatus `db:"status" json:"status"`
	JoinDate       time.Time        `db:"join_date" json:"join_date"`
	LeaveDate      *time.Time       `db:"leave_date" json:"leave_date,omitempty"`
	RejoinDeadline *time.Time       `db:"rejoin_deadline" json:"rejoin_deadline,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// MembershipDetail augments a membership with student context for listings.
type MembershipDetail struct {
	Membership
	StudentName string `db:"student_name" json:"student_name"`
	StudentNIS  string `db:"student_nis" json:"student_nis"`
}

package dto

// CreateSquadRequest defines payload for registering a new squad.
type CreateSquadRequest struct {
	Code string `json:"code" validate:"required,max=20"`
	Name string `json:"name" validate:"required,max=100"`
	Tier string `json:"tier" validate:"required,oneof=D C B A"`
}

// SquadListQuery filters squad listing.
type SquadListQuery struct {
	Tier      string `form:"tier" validate:"omitempty,oneof=D C B A"`
	Status    string `form:"status" validate:"omitempty,oneof=ACTIVE INACTIVE FROZEN"`
	Search    string `form:"search"`
	Page      int    `form:"page"`
	PageSize  int    `form:"pageSize"`
	SortBy    string `form:"sortBy"`
	SortOrder string `form:"sortOrder"`
}

// SquadDetail is a squad with its current composition summary.
type SquadDetail struct {
	ID            string `json:"id"`
	Code          string `json:"code"`
	Name          string `json:"name"`
	Tier          string `json:"tier"`
	Status        string `json:"status"`
	ActiveMembers int    `json:"activeMembers"`
}

package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionPasswordChange = "PASSWORD_CHANGE"

	AuditActionUserCreate = "USER_CREATE"
	AuditActionUserUpdate = "USER_UPDATE"
	AuditActionUserDelete = "USER_DELETE"

	AuditActionSquadCreate   = "SQUAD_CREATE"
	AuditActionSquadFreeze   = "SQUAD_FREEZE"
	AuditActionSquadUnfreeze = "SQUAD_UNFREEZE"

	AuditActionMembershipJoin   = "MEMBERSHIP_JOIN"
	AuditActionMembershipLeave  = "MEMBERSHIP_LEAVE"
	AuditActionMembershipRole   = "MEMBERSHIP_ROLE_UPDATE"
	AuditActionMembershipRemove = "MEMBERSHIP_ADMIN_REMOVE"

	AuditActionJoinRequestCreate       = "JOIN_REQUEST_CREATE"
	AuditActionJoinRequestDecide       = "JOIN_REQUEST_DECIDE"
	AuditActionRoleRequestCreate       = "ROLE_REQUEST_CREATE"
	AuditActionRoleRequestDecide       = "ROLE_REQUEST_DECIDE"
	AuditActionTierChangeRequestCreate = "TIER_CHANGE_REQUEST_CREATE"
	AuditActionTierChangeRequestDecide = "TIER_CHANGE_REQUEST_DECIDE"

	AuditActionPhaseCreate     = "PHASE_CREATE"
	AuditActionPhaseTargets    = "PHASE_TARGETS_UPSERT"
	AuditActionPhaseFinalize   = "PHASE_FINALIZE"
	AuditActionPhaseEvaluate   = "PHASE_EVALUATE"
	AuditActionPointsAward     = "POINTS_AWARD"
	AuditActionTierChangeApply = "TIER_CHANGE_APPLY"
	AuditActionPolicyUpdate    = "POLICY_UPDATE"
	AuditActionExportDownload  = "EXPORT_DOWNLOAD"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

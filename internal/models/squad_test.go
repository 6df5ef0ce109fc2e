package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierOrdering(t *testing.T) {
	assert.True(t, TierD.Rank() < TierC.Rank())
	assert.True(t, TierC.Rank() < TierB.Rank())
	assert.True(t, TierB.Rank() < TierA.Rank())

	assert.Equal(t, TierC, TierD.Next())
	assert.Equal(t, TierA, TierA.Next())
	assert.Equal(t, TierB, TierA.Prev())
	assert.Equal(t, TierD, TierD.Prev())

	assert.True(t, TierB.Valid())
	assert.False(t, Tier("E").Valid())
}

func TestDeriveSquadStatus(t *testing.T) {
	policy := ActivationPolicy{MinMembers: 9, MaxMembers: 11, RequireLeadership: true}

	cases := []struct {
		name             string
		members          int
		leadershipFilled bool
		want             SquadStatus
	}{
		{"below minimum", 8, true, SquadStatusInactive},
		{"at minimum with leadership", 9, true, SquadStatusActive},
		{"at maximum with leadership", 11, true, SquadStatusActive},
		{"above maximum", 12, true, SquadStatusInactive},
		{"leadership vacant", 10, false, SquadStatusInactive},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveSquadStatus(tc.members, tc.leadershipFilled, policy)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDeriveSquadStatusWithoutLeadershipRequirement(t *testing.T) {
	policy := ActivationPolicy{MinMembers: 9, MaxMembers: 11, RequireLeadership: false}
	assert.Equal(t, SquadStatusActive, DeriveSquadStatus(9, false, policy))
}

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(v bool) *bool { return &v }

func TestRecommendTierChange(t *testing.T) {
	cases := []struct {
		name         string
		current      Tier
		eligibleNow  *bool
		eligiblePrev *bool
		wantAction   TierChangeAction
		wantTier     Tier
		wantRule     string
	}{
		{"eligible squad promotes", TierC, boolPtr(true), nil, TierChangePromote, TierB, RuleLastPhaseEligiblePromote},
		{"eligible at top holds", TierA, boolPtr(true), boolPtr(true), TierChangeSame, TierA, RuleAlreadyTopTier},
		{"two misses demote", TierB, boolPtr(false), boolPtr(false), TierChangeDemote, TierC, RuleTwoPhasesIneligibleDemote},
		{"two misses at bottom hold", TierD, boolPtr(false), boolPtr(false), TierChangeSame, TierD, RuleAlreadyBottomTier},
		{"single miss holds", TierB, boolPtr(false), boolPtr(true), TierChangeSame, TierB, RuleSinglePhaseIneligibleHold},
		{"single miss without history holds", TierB, boolPtr(false), nil, TierChangeSame, TierB, RuleSinglePhaseIneligibleHold},
		{"never evaluated holds", TierC, nil, nil, TierChangeSame, TierC, RuleNotEvaluatedHold},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			action, tier, rule := RecommendTierChange(tc.current, tc.eligibleNow, tc.eligiblePrev)
			assert.Equal(t, tc.wantAction, action)
			assert.Equal(t, tc.wantTier, tier)
			assert.Equal(t, tc.wantRule, rule)
		})
	}
}

func TestMembershipRoleHelpers(t *testing.T) {
	assert.True(t, RoleCaptain.IsLeadership())
	assert.False(t, RoleMember.IsLeadership())
	assert.False(t, MembershipRole("COACH").Valid())
	assert.Len(t, LeadershipRoles, 4)
}

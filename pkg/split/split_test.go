package split_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/audit"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/config"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/split"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/store"
)

func newEnforcer() (*split.Enforcer, *audit.Log) {
	log := audit.NewLog(store.NewAuditStore())
	return split.NewEnforcer(config.DefaultPolicy(), log), log
}

func TestValidateSplit_Valid(t *testing.T) {
	e, log := newEnforcer()
	res, err := e.ValidateSplit(context.Background(), split.Split{
		RecipientPercentages: map[contracts.Role]float64{contracts.RoleCreator: 70, contracts.RoleRecruiter: 20},
		PlatformPercent:      10,
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 100.0, res.TotalPercent)
	assert.Equal(t, 0, log.Store().Size())
}

func TestValidateSplit_WithinTolerance(t *testing.T) {
	e, _ := newEnforcer()
	res, err := e.ValidateSplit(context.Background(), split.Split{
		RecipientPercentages: map[contracts.Role]float64{contracts.RoleCreator: 85.005},
		PlatformPercent:      15,
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidateSplit_BothChecksFire(t *testing.T) {
	e, log := newEnforcer()
	res, err := e.ValidateSplit(context.Background(), split.Split{
		RecipientPercentages: map[contracts.Role]float64{contracts.RoleCreator: 50, contracts.RoleAffiliate: 20},
		PlatformPercent:      10,
		TransactionID:        "tx-9",
	})
	require.NoError(t, err)

	assert.False(t, res.Valid)
	assert.Equal(t, []contracts.ErrorCode{contracts.ErrCorruptedSplit, contracts.ErrCorruptedSplit}, res.Errors)
	require.Len(t, res.Messages, 2)
	assert.NotEqual(t, res.Messages[0], res.Messages[1])
	assert.Contains(t, res.Messages[0], "80%")
	assert.Contains(t, res.Messages[1], "below the 70% minimum")

	events, _ := log.FailsafeEvents(audit.FailsafeFilter{QuarantinedOnly: true})
	assert.Len(t, events, 2)
	assert.Equal(t, "tx-9", events[0].AffectedTransactionID)
}

func TestValidateSplit_ExplicitPrimaryRole(t *testing.T) {
	e, _ := newEnforcer()
	res, err := e.ValidateSplit(context.Background(), split.Split{
		RecipientPercentages: map[contracts.Role]float64{contracts.RoleHost: 75, contracts.RoleCreator: 25},
		PrimaryRole:          contracts.RoleHost,
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidateSplit_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("balanced splits with primary >= 70 are valid", prop.ForAll(
		func(creator, affiliate int) bool {
			if affiliate > 100-creator {
				affiliate = 100 - creator
			}
			e, log := newEnforcer()
			res, err := e.ValidateSplit(context.Background(), split.Split{
				RecipientPercentages: map[contracts.Role]float64{
					contracts.RoleCreator:   float64(creator),
					contracts.RoleAffiliate: float64(affiliate),
				},
				PlatformPercent: float64(100 - creator - affiliate),
			})
			return err == nil && res.Valid && len(res.Errors) == 0 && log.Store().Size() == 0
		},
		gen.IntRange(70, 100),
		gen.IntRange(0, 30),
	))

	properties.Property("unbalanced splits log exactly one critical quarantined event", prop.ForAll(
		func(creator, delta int, over bool) bool {
			if !over {
				delta = -delta
			}
			e, log := newEnforcer()
			res, err := e.ValidateSplit(context.Background(), split.Split{
				RecipientPercentages: map[contracts.Role]float64{contracts.RoleCreator: float64(creator)},
				PlatformPercent:      float64(100 - creator + delta),
			})
			if err != nil || res.Valid {
				return false
			}
			events, err := log.FailsafeEvents(audit.FailsafeFilter{})
			return err == nil && len(events) == 1 &&
				events[0].Severity == contracts.SeverityCritical && events[0].Quarantined
		},
		gen.IntRange(70, 100),
		gen.IntRange(1, 40),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func scenarioBreakdown() contracts.CommissionBreakdown {
	return contracts.CommissionBreakdown{
		TotalAmount:    1000,
		PlatformMargin: 200,
		Recipients: []contracts.Recipient{
			{RecipientID: "op-main", Role: contracts.RoleOperator, Amount: 100, Percentage: 10},
			{RecipientID: "creator-1", Role: contracts.RoleCreator, Amount: 700, Percentage: 70},
		},
	}
}

func TestApplyFloor_Scenario(t *testing.T) {
	in := scenarioBreakdown()
	out := split.ApplyFloor(in, 15, contracts.RoleOperator)

	assert.Equal(t, int64(150), out.Recipients[0].Amount)
	assert.Equal(t, 15.0, out.Recipients[0].Percentage)
	assert.Equal(t, int64(150), out.PlatformMargin)
	require.NotNil(t, out.FloorAdjustment)
	assert.Equal(t, int64(50), *out.FloorAdjustment)
	assert.Equal(t, in.Recipients[1], out.Recipients[1], "creator untouched")
	assert.True(t, out.Balanced())

	assert.Equal(t, int64(100), in.Recipients[0].Amount, "input is not mutated")
	assert.Nil(t, in.FloorAdjustment)
}

func TestApplyFloor_NoOpCases(t *testing.T) {
	already := split.ApplyFloor(scenarioBreakdown(), 10, contracts.RoleOperator)
	assert.Nil(t, already.FloorAdjustment)

	noProtected := scenarioBreakdown()
	noProtected.Recipients = noProtected.Recipients[1:]
	noProtected.PlatformMargin = 300
	out := split.ApplyFloor(noProtected, 15, contracts.RoleOperator)
	assert.Nil(t, out.FloorAdjustment)

	zero := contracts.CommissionBreakdown{}
	assert.Equal(t, zero.TotalAmount, split.ApplyFloor(zero, 15, contracts.RoleOperator).TotalAmount)
}

func TestApplyFloor_MarginExhausted(t *testing.T) {
	b := scenarioBreakdown()
	b.PlatformMargin = 20
	b.Recipients[1].Amount = 880

	out := split.ApplyFloor(b, 15, contracts.RoleOperator)
	require.NotNil(t, out.FloorAdjustment)
	assert.Equal(t, int64(20), *out.FloorAdjustment)
	assert.Equal(t, int64(0), out.PlatformMargin)
	assert.Equal(t, int64(880), out.Recipients[1].Amount)
	assert.True(t, out.Balanced())
	assert.False(t, split.ValidateFloor(out, 15, contracts.RoleOperator).Valid)
}

func TestValidateFloor(t *testing.T) {
	check := split.ValidateFloor(scenarioBreakdown(), 15, contracts.RoleOperator)
	assert.False(t, check.Valid)
	assert.Equal(t, 10.0, check.ProtectedPercent)
	assert.Contains(t, check.Message, "below")

	check = split.ValidateFloor(split.ApplyFloor(scenarioBreakdown(), 15, contracts.RoleOperator), 15, contracts.RoleOperator)
	assert.True(t, check.Valid)
	assert.Equal(t, 15.0, check.ProtectedPercent)

	// Integer flooring leaves 150/1001 just under 15%, which is still the floor.
	b := contracts.CommissionBreakdown{
		TotalAmount: 1001, PlatformMargin: 851,
		Recipients: []contracts.Recipient{{RecipientID: "op", Role: contracts.RoleOperator, Amount: 150}},
	}
	assert.True(t, split.ValidateFloor(b, 15, contracts.RoleOperator).Valid)
	assert.Nil(t, split.ApplyFloor(b, 15, contracts.RoleOperator).FloorAdjustment)
}

func TestApplyFloor_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	build := func(total int64, protectedShare, otherShare float64) contracts.CommissionBreakdown {
		protected := int64(float64(total) * protectedShare)
		other := int64(float64(total-protected) * otherShare)
		return contracts.CommissionBreakdown{
			TotalAmount:    total,
			PlatformMargin: total - protected - other,
			Recipients: []contracts.Recipient{
				{RecipientID: "creator", Role: contracts.RoleCreator, Amount: other},
				{RecipientID: "op", Role: contracts.RoleOperator, Amount: protected},
			},
		}
	}

	properties.Property("balance is preserved and only margin funds the floor", prop.ForAll(
		func(total int64, protectedShare, otherShare, floor float64) bool {
			in := build(total, protectedShare, otherShare)
			out := split.ApplyFloor(in, floor, contracts.RoleOperator)
			return out.Balanced() &&
				out.PlatformMargin >= 0 &&
				out.PlatformMargin <= in.PlatformMargin &&
				out.Recipients[0] == in.Recipients[0] &&
				out.Recipients[1].Amount >= in.Recipients[1].Amount
		},
		gen.Int64Range(1, 1_000_000_000),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 100),
	))

	properties.Property("applying the floor twice is a no-op the second time", prop.ForAll(
		func(total int64, protectedShare, otherShare, floor float64) bool {
			once := split.ApplyFloor(build(total, protectedShare, otherShare), floor, contracts.RoleOperator)
			twice := split.ApplyFloor(once, floor, contracts.RoleOperator)
			return assert.ObjectsAreEqual(once, twice)
		},
		gen.Int64Range(1, 1_000_000_000),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 100),
	))

	properties.Property("with enough margin the floor is met afterwards", prop.ForAll(
		func(total int64, protectedShare, floor float64) bool {
			in := build(total, protectedShare, 0)
			out := split.ApplyFloor(in, floor, contracts.RoleOperator)
			return split.ValidateFloor(out, floor, contracts.RoleOperator).Valid
		},
		gen.Int64Range(1, 1_000_000_000),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 100),
	))

	properties.TestingRun(t)
}

func TestEnforcer_PolicyFloor(t *testing.T) {
	e, _ := newEnforcer()
	out := e.ApplyPolicyFloor(context.Background(), scenarioBreakdown())
	require.NotNil(t, out.FloorAdjustment)
	assert.Equal(t, int64(50), *out.FloorAdjustment)
	assert.True(t, e.CheckPolicyFloor(out).Valid)
}

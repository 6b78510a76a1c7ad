package emergency

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/audit"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/auth"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/config"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
)

var hundred = decimal.NewFromInt(100)

// Commission is the result of ApplyOperatorCommission.
type Commission struct {
	Rate           float64 `json:"rate"`
	OperatorAmount int64   `json:"operator_amount"`
	Remaining      int64   `json:"remaining"`
}

// OverrideAuthority performs audited, operator-only rewrites of computed
// money movement and owns the standing operator commission rate.
type OverrideAuthority struct {
	authz     *auth.OperatorAuthorizer
	log       *audit.Log
	logger    *slog.Logger
	tolerance decimal.Decimal
	minRate   decimal.Decimal
	maxRate   decimal.Decimal

	mu   sync.RWMutex
	rate decimal.Decimal
}

func NewOverrideAuthority(policy *config.Policy, authz *auth.OperatorAuthorizer, log *audit.Log) *OverrideAuthority {
	return &OverrideAuthority{
		authz:     authz,
		log:       log,
		logger:    slog.Default().With("component", "override"),
		tolerance: decimal.NewFromFloat(policy.Split.Tolerance),
		minRate:   decimal.NewFromFloat(policy.Operators.MinCommissionRate),
		maxRate:   decimal.NewFromFloat(policy.Operators.MaxCommissionRate),
		rate:      decimal.NewFromFloat(policy.Operators.CommissionRate),
	}
}

// RestoreRate reloads the standing rate from the most recent RATE_CHANGE
// override in the audit log. Without one the configured rate stays.
func (o *OverrideAuthority) RestoreRate() error {
	recs, err := o.log.Overrides(contracts.OverrideRateChange)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	last := recs[len(recs)-1]
	v, ok := last.NewValue.(float64)
	if !ok {
		return fmt.Errorf("rate change %s has non-numeric new value %v", last.ID, last.NewValue)
	}
	o.mu.Lock()
	o.rate = decimal.NewFromFloat(v)
	o.mu.Unlock()
	return nil
}

func sumPercentages(split map[string]float64) decimal.Decimal {
	keys := make([]string, 0, len(split))
	for k := range split {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	total := decimal.Zero
	for _, k := range keys {
		total = total.Add(decimal.NewFromFloat(split[k]))
	}
	return total
}

// OverrideSplit records a retroactive replacement of a transaction's split.
// The new split must total 100% within tolerance.
func (o *OverrideAuthority) OverrideSplit(ctx context.Context, operatorID, txnID string,
	original, updated map[string]float64, reason, affectedPartyID string) (Result, error) {
	if !o.authz.IsOperator(ctx, operatorID) {
		return unauthorized(operatorID, "override a split"), nil
	}
	total := sumPercentages(updated)
	if total.Sub(hundred).Abs().GreaterThan(o.tolerance) {
		return rejected("split override rejected: total is %s%%, must be 100%%", total.String()), nil
	}

	return o.record(ctx, contracts.OverrideRecord{
		OperatorID:            operatorID,
		Kind:                  contracts.OverrideSplit,
		OriginalValue:         original,
		NewValue:              updated,
		Reason:                reason,
		AffectedPartyID:       affectedPartyID,
		AffectedTransactionID: txnID,
	})
}

// AdjustPayout records a corrected payout amount. Negative amounts are refused.
func (o *OverrideAuthority) AdjustPayout(ctx context.Context, operatorID, partyID string, original, updated int64, reason string) (Result, error) {
	if !o.authz.IsOperator(ctx, operatorID) {
		return unauthorized(operatorID, "adjust a payout"), nil
	}
	if updated < 0 {
		return rejected("payout adjustment rejected: amount %d is negative", updated), nil
	}
	return o.record(ctx, contracts.OverrideRecord{
		OperatorID:      operatorID,
		Kind:            contracts.OverridePayoutAdjustment,
		OriginalValue:   original,
		NewValue:        updated,
		Reason:          reason,
		AffectedPartyID: partyID,
	})
}

// SetOperatorCommissionRate changes the standing rate. The rate only changes
// once the override is durably recorded.
func (o *OverrideAuthority) SetOperatorCommissionRate(ctx context.Context, operatorID string, rate float64) (Result, error) {
	if !o.authz.IsOperator(ctx, operatorID) {
		return unauthorized(operatorID, "change the commission rate"), nil
	}
	next := decimal.NewFromFloat(rate)
	if next.LessThan(o.minRate) || next.GreaterThan(o.maxRate) {
		return rejected("commission rate %s%% outside [%s%%, %s%%]", next.String(), o.minRate.String(), o.maxRate.String()), nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	prev, _ := o.rate.Float64()
	res, err := o.record(ctx, contracts.OverrideRecord{
		OperatorID:    operatorID,
		Kind:          contracts.OverrideRateChange,
		OriginalValue: prev,
		NewValue:      rate,
		Reason:        fmt.Sprintf("operator commission rate %s%% -> %s%%", o.rate.String(), next.String()),
	})
	if err != nil {
		return Result{}, err
	}
	o.rate = next
	return res, nil
}

// CommissionRate returns the standing operator commission rate in percent.
func (o *OverrideAuthority) CommissionRate() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	f, _ := o.rate.Float64()
	return f
}

// ApplyOperatorCommission splits total at the standing rate, rounding the
// operator's share down to whole minor units. It is not operator-gated.
func (o *OverrideAuthority) ApplyOperatorCommission(total int64) Commission {
	o.mu.RLock()
	rate := o.rate
	o.mu.RUnlock()

	f, _ := rate.Float64()
	if total <= 0 {
		return Commission{Rate: f, Remaining: total}
	}
	amount := decimal.NewFromInt(total).Mul(rate).Div(hundred).Floor().IntPart()
	return Commission{Rate: f, OperatorAmount: amount, Remaining: total - amount}
}

func (o *OverrideAuthority) record(ctx context.Context, rec contracts.OverrideRecord) (Result, error) {
	stored, err := o.log.RecordOverride(ctx, rec)
	if err != nil {
		return Result{}, err
	}
	o.logger.InfoContext(ctx, "override recorded",
		"id", stored.ID,
		"kind", stored.Kind,
		"operator_id", stored.OperatorID,
		"party_id", stored.AffectedPartyID,
		"transaction_id", stored.AffectedTransactionID,
	)
	return Result{Success: true, Message: fmt.Sprintf("%s recorded", stored.Kind), Override: &stored}, nil
}

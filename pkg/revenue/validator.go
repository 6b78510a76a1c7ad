// Package revenue sanity-checks earning events before they may generate
// commissions.
package revenue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/audit"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/config"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
)

// Result is the outcome of Validate. Corrected is set whenever at least one
// check rewrote a field.
type Result struct {
	Valid     bool                    `json:"valid"`
	Errors    []contracts.ErrorCode   `json:"errors"`
	Corrected *contracts.RevenueEvent `json:"corrected,omitempty"`
}

// MultiplierResult is the outcome of ValidatePurchasingPowerMultiplier.
type MultiplierResult struct {
	Valid     bool     `json:"valid"`
	Corrected *float64 `json:"corrected,omitempty"`
}

// Validator checks revenue events against the configured regions.
type Validator struct {
	policy *config.Policy
	log    *audit.Log
	logger *slog.Logger
}

func NewValidator(policy *config.Policy, log *audit.Log) *Validator {
	return &Validator{
		policy: policy,
		log:    log,
		logger: slog.Default().With("component", "revenue"),
	}
}

// Validate runs the amount, region and party checks in that order. Each
// check that fires appends one failsafe event. The event is invalid iff a
// CRITICAL check fired. The returned error is reserved for audit failures.
func (v *Validator) Validate(ctx context.Context, evt contracts.RevenueEvent) (Result, error) {
	res := Result{Valid: true, Errors: []contracts.ErrorCode{}}
	corrected := evt
	changed := false

	if evt.Amount < 0 {
		corrected.Amount = 0
		changed = true
		if err := v.raise(ctx, &res, contracts.FailsafeEvent{
			Kind:                  contracts.ErrNegativeRevenue,
			Severity:              contracts.SeverityCritical,
			Description:           fmt.Sprintf("negative revenue amount %d", evt.Amount),
			AffectedPartyID:       evt.EarningPartyID,
			AffectedTransactionID: evt.SourceTransactionID,
			Correction:            contracts.Correction{Applied: true, Action: "clamp_amount", Result: "0"},
			Quarantined:           true,
		}); err != nil {
			return Result{}, err
		}
	}

	if !v.policy.IsRecognizedRegion(evt.OriginRegion) {
		def := v.policy.Revenue.DefaultRegion
		corrected.OriginRegion = def
		changed = true
		if err := v.raise(ctx, &res, contracts.FailsafeEvent{
			Kind:                  contracts.ErrInvalidRegion,
			Severity:              contracts.SeverityHigh,
			Description:           fmt.Sprintf("unrecognized origin region %q", evt.OriginRegion),
			AffectedPartyID:       evt.EarningPartyID,
			AffectedTransactionID: evt.SourceTransactionID,
			Correction:            contracts.Correction{Applied: true, Action: "default_region", Result: def},
		}); err != nil {
			return Result{}, err
		}
	}

	if strings.TrimSpace(evt.EarningPartyID) == "" {
		if err := v.raise(ctx, &res, contracts.FailsafeEvent{
			Kind:                  contracts.ErrMissingParty,
			Severity:              contracts.SeverityCritical,
			Description:           "revenue event has no earning party",
			AffectedTransactionID: evt.SourceTransactionID,
			Correction:            contracts.Correction{Applied: false, Action: "none", Result: "manual review required"},
			Quarantined:           true,
		}); err != nil {
			return Result{}, err
		}
	}

	if changed {
		res.Corrected = &corrected
	}
	return res, nil
}

// ValidatePurchasingPowerMultiplier clamps multiplier into the region's band.
// Regions without a band pass through unchanged.
func (v *Validator) ValidatePurchasingPowerMultiplier(ctx context.Context, multiplier float64, region string) (MultiplierResult, error) {
	band, ok := v.policy.Revenue.PurchasingPower[region]
	if !ok || (multiplier >= band.Min && multiplier <= band.Max) {
		return MultiplierResult{Valid: true}, nil
	}

	clamped := band.Min
	if multiplier > band.Max {
		clamped = band.Max
	}
	evt := contracts.FailsafeEvent{
		Kind:        contracts.ErrMultiplierOutOfBand,
		Severity:    contracts.SeverityMedium,
		Description: fmt.Sprintf("multiplier %.4f outside [%.4f, %.4f] for %s", multiplier, band.Min, band.Max, region),
		Correction:  contracts.Correction{Applied: true, Action: "clamp_multiplier", Result: fmt.Sprintf("%.4f", clamped)},
	}
	if err := v.log.RecordFailsafe(ctx, evt); err != nil {
		return MultiplierResult{}, err
	}
	v.logger.DebugContext(ctx, "multiplier clamped", "region", region, "from", multiplier, "to", clamped)
	return MultiplierResult{Valid: false, Corrected: &clamped}, nil
}

func (v *Validator) raise(ctx context.Context, res *Result, evt contracts.FailsafeEvent) error {
	if err := v.log.RecordFailsafe(ctx, evt); err != nil {
		return err
	}
	res.Errors = append(res.Errors, evt.Kind)
	if evt.Severity == contracts.SeverityCritical {
		res.Valid = false
	}
	v.logger.WarnContext(ctx, "revenue anomaly",
		"kind", evt.Kind,
		"severity", evt.Severity,
		"party_id", evt.AffectedPartyID,
		"transaction_id", evt.AffectedTransactionID,
		"quarantined", evt.Quarantined,
	)
	return nil
}

// Package split checks proposed percentage splits and restores a protected
// party's earnings floor on finished commission breakdowns.
package split

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/audit"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/config"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
)

var hundred = decimal.NewFromInt(100)

// Split is a proposed percentage split keyed by recipient role, plus the
// platform's own share. An empty PrimaryRole means the policy's primary
// earner role.
type Split struct {
	RecipientPercentages map[contracts.Role]float64 `json:"recipient_percentages"`
	PlatformPercent      float64                    `json:"platform_percent"`
	PrimaryRole          contracts.Role             `json:"primary_role,omitempty"`
	PartyID              string                     `json:"party_id,omitempty"`
	TransactionID        string                     `json:"transaction_id,omitempty"`
}

// Total sums the percentages exactly.
func (s Split) Total() decimal.Decimal {
	roles := make([]string, 0, len(s.RecipientPercentages))
	for r := range s.RecipientPercentages {
		roles = append(roles, string(r))
	}
	sort.Strings(roles)

	total := decimal.NewFromFloat(s.PlatformPercent)
	for _, r := range roles {
		total = total.Add(decimal.NewFromFloat(s.RecipientPercentages[contracts.Role(r)]))
	}
	return total
}

// Result is the outcome of ValidateSplit.
type Result struct {
	Valid        bool                  `json:"valid"`
	Errors       []contracts.ErrorCode `json:"errors"`
	Messages     []string              `json:"messages"`
	TotalPercent float64               `json:"total_percent"`
}

// Enforcer validates splits against the policy. It never corrects a split.
type Enforcer struct {
	policy *config.Policy
	log    *audit.Log
	logger *slog.Logger
}

func NewEnforcer(policy *config.Policy, log *audit.Log) *Enforcer {
	return &Enforcer{
		policy: policy,
		log:    log,
		logger: slog.Default().With("component", "split"),
	}
}

// ValidateSplit runs the total and primary-floor checks independently. Each
// failure appends one CRITICAL, quarantined failsafe event.
func (e *Enforcer) ValidateSplit(ctx context.Context, s Split) (Result, error) {
	total := s.Total()
	res := Result{Valid: true, Errors: []contracts.ErrorCode{}, Messages: []string{}}
	res.TotalPercent, _ = total.Float64()

	tolerance := decimal.NewFromFloat(e.policy.Split.Tolerance)
	if total.Sub(hundred).Abs().GreaterThan(tolerance) {
		msg := fmt.Sprintf("split totals %s%%, must be 100%%", total.String())
		if err := e.reject(ctx, &res, s, msg); err != nil {
			return Result{}, err
		}
	}

	primary := s.PrimaryRole
	if primary == "" {
		primary = e.policy.Split.PrimaryRole
	}
	share := decimal.NewFromFloat(s.RecipientPercentages[primary])
	floor := decimal.NewFromFloat(e.policy.Split.MinPrimaryPercent)
	if share.LessThan(floor) {
		msg := fmt.Sprintf("%s share %s%% is below the %s%% minimum", primary, share.String(), floor.String())
		if err := e.reject(ctx, &res, s, msg); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

func (e *Enforcer) reject(ctx context.Context, res *Result, s Split, msg string) error {
	evt := contracts.FailsafeEvent{
		Kind:                  contracts.ErrCorruptedSplit,
		Severity:              contracts.SeverityCritical,
		Description:           msg,
		AffectedPartyID:       s.PartyID,
		AffectedTransactionID: s.TransactionID,
		Correction:            contracts.Correction{Applied: false, Action: "reject", Result: "split rejected"},
		Quarantined:           true,
	}
	if err := e.log.RecordFailsafe(ctx, evt); err != nil {
		return err
	}
	res.Valid = false
	res.Errors = append(res.Errors, contracts.ErrCorruptedSplit)
	res.Messages = append(res.Messages, msg)
	e.logger.WarnContext(ctx, "corrupted split", "transaction_id", s.TransactionID, "reason", msg)
	return nil
}

// ApplyPolicyFloor applies the policy's protected-role floor to b.
func (e *Enforcer) ApplyPolicyFloor(ctx context.Context, b contracts.CommissionBreakdown) contracts.CommissionBreakdown {
	out := ApplyFloor(b, e.policy.Floor.Percent, e.policy.Floor.ProtectedRole)
	if out.FloorAdjustment != nil && b.FloorAdjustment == nil {
		e.logger.InfoContext(ctx, "earnings floor restored",
			"role", e.policy.Floor.ProtectedRole,
			"adjustment", *out.FloorAdjustment,
			"platform_margin", out.PlatformMargin,
		)
	}
	return out
}

// CheckPolicyFloor is the read-only counterpart of ApplyPolicyFloor.
func (e *Enforcer) CheckPolicyFloor(b contracts.CommissionBreakdown) FloorCheck {
	return ValidateFloor(b, e.policy.Floor.Percent, e.policy.Floor.ProtectedRole)
}

// Package controlplane composes the validators, the zero-billing guard and
// the emergency controls into the pipeline a money-moving caller runs before
// it posts anything.
package controlplane

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/audit"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/auth"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/billing"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/config"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/emergency"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/revenue"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/split"
)

// Settlement is everything FinalizeBreakdown needs for one revenue event.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Settlement struct {
	Event     contracts.RevenueEvent        `json:"event"`
	Split     split.Split                   `json:"split"`
	Breakdown contracts.CommissionBreakdown `json:"breakdown"`
}

// Decision is the outcome of FinalizeBreakdown. Breakdown is the one to post
// when Commit is true; Event is the corrected revenue event if any check
// rewrote it. Commit is never true while Floor reports an unmet floor.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Decision struct {
	Commit    bool                           `json:"commit"`
	Halted    bool                           `json:"halted"`
	Reasons   []string                       `json:"reasons"`
	Errors    []contracts.ErrorCode          `json:"errors"`
	Event     contracts.RevenueEvent         `json:"event"`
	Breakdown *contracts.CommissionBreakdown `json:"breakdown,omitempty"`
	Floor     *split.FloorCheck              `json:"floor,omitempty"`
}

// Screen is the outcome of ScreenCharge and ScreenPayout.
type Screen struct {
	Allowed bool   `json:"allowed"`
	Halted  bool   `json:"halted"`
	Reason  string `json:"reason"`
}

// Statistics is the audit summary plus the live emergency controls.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Statistics struct {
	audit.Stats
	KillSwitch     contracts.KillSwitchState `json:"kill_switch"`
	CommissionRate float64                   `json:"operator_commission_rate"`
}

// Service is the caller-facing control plane.
type Service struct {
	policy     *config.Policy
	log        *audit.Log
	revenue    *revenue.Validator
	splits     *split.Enforcer
	guard      *billing.Guard
	killSwitch *emergency.KillSwitch
	overrides  *emergency.OverrideAuthority
	logger     *slog.Logger
}

// New wires a Service from a policy. states may be nil for a process-local
// kill switch. The standing commission rate is restored from log.
func New(policy *config.Policy, log *audit.Log, states emergency.StateStore) (*Service, error) {
	if log == nil {
		return nil, audit.ErrNotConfigured
	}
	guard, err := billing.NewGuard(policy, log)
	if err != nil {
		return nil, fmt.Errorf("billing guard: %w", err)
	}
	authz := auth.NewOperatorAuthorizer(policy.Operators.IDs, policy.Operators.Prefixes)
	overrides := emergency.NewOverrideAuthority(policy, authz, log)
	if err := overrides.RestoreRate(); err != nil {
		return nil, fmt.Errorf("restore commission rate: %w", err)
	}
	return &Service{
		policy:     policy,
		log:        log,
		revenue:    revenue.NewValidator(policy, log),
		splits:     split.NewEnforcer(policy, log),
		guard:      guard,
		killSwitch: emergency.NewKillSwitch(authz, states, log),
		overrides:  overrides,
		logger:     slog.Default().With("component", "controlplane"),
	}, nil
}

func (s *Service) KillSwitch() *emergency.KillSwitch { return s.killSwitch }
func (s *Service) Overrides() *emergency.OverrideAuthority { return s.overrides }
func (s *Service) Log() *audit.Log { return s.log }
func (s *Service) Policy() *config.Policy { return s.policy }
func (s *Service) Guard() *billing.Guard { return s.guard }
func (s *Service) Revenue() *revenue.Validator { return s.revenue }

// ScreenRevenue validates a revenue event.
func (s *Service) ScreenRevenue(ctx context.Context, evt contracts.RevenueEvent) (revenue.Result, error) {
	return s.revenue.Validate(ctx, evt)
}

// CheckSplit validates a proposed percentage split.
func (s *Service) CheckSplit(ctx context.Context, sp split.Split) (split.Result, error) {
	return s.splits.ValidateSplit(ctx, sp)
}

// CheckFloor reports whether b meets the policy's earnings floor without
// rewriting it.
func (s *Service) CheckFloor(b contracts.CommissionBreakdown) split.FloorCheck {
	return s.splits.CheckPolicyFloor(b)
}

// FinalizeBreakdown runs the commission pipeline: kill-switch gate, revenue
// validation, split check, breakdown soundness, then the earnings floor.
// Commit is false as soon as a gate refuses; later gates are not run. A floor
// the platform margin cannot fund is quarantined rather than committed.
func (s *Service) FinalizeBreakdown(ctx context.Context, in Settlement) (Decision, error) {
	d := Decision{Reasons: []string{}, Errors: []contracts.ErrorCode{}, Event: in.Event}

	halted, err := s.killSwitch.IsBlocked(ctx, contracts.ComponentCommissions, in.Event.EarningPartyID)
	if err != nil {
		return Decision{}, err
	}
	if halted {
		d.Halted = true
		d.Reasons = append(d.Reasons, "commissions halted by kill switch")
		return d, nil
	}

	rv, err := s.revenue.Validate(ctx, in.Event)
	if err != nil {
		return Decision{}, err
	}
	d.Errors = append(d.Errors, rv.Errors...)
	if rv.Corrected != nil {
		d.Event = *rv.Corrected
	}
	if !rv.Valid {
		d.Reasons = append(d.Reasons, "revenue event quarantined")
		return d, nil
	}

	sp := in.Split
	if sp.PartyID == "" {
		sp.PartyID = d.Event.EarningPartyID
	}
	if sp.TransactionID == "" {
		sp.TransactionID = d.Event.SourceTransactionID
	}
	sr, err := s.splits.ValidateSplit(ctx, sp)
	if err != nil {
		return Decision{}, err
	}
	if !sr.Valid {
		d.Errors = append(d.Errors, sr.Errors...)
		d.Reasons = append(d.Reasons, sr.Messages...)
		return d, nil
	}

	if err := in.Breakdown.Validate(); err != nil {
		if recErr := s.log.RecordFailsafe(ctx, contracts.FailsafeEvent{
			Kind:                  contracts.ErrCorruptedSplit,
			Severity:              contracts.SeverityCritical,
			Description:           err.Error(),
			AffectedPartyID:       d.Event.EarningPartyID,
			AffectedTransactionID: d.Event.SourceTransactionID,
			Correction:            contracts.Correction{Applied: false, Action: "reject", Result: "breakdown rejected"},
			Quarantined:           true,
		}); recErr != nil {
			return Decision{}, recErr
		}
		d.Errors = append(d.Errors, contracts.ErrCorruptedSplit)
		d.Reasons = append(d.Reasons, err.Error())
		return d, nil
	}

	out := s.splits.ApplyPolicyFloor(ctx, in.Breakdown)
	check := s.splits.CheckPolicyFloor(out)
	d.Breakdown = &out
	d.Floor = &check
	if !check.Valid {
		if err := s.log.RecordFailsafe(ctx, contracts.FailsafeEvent{
			Kind:                  contracts.ErrCorruptedSplit,
			Severity:              contracts.SeverityCritical,
			Description:           fmt.Sprintf("%s; platform margin %d cannot fund the shortfall", check.Message, out.PlatformMargin),
			AffectedPartyID:       d.Event.EarningPartyID,
			AffectedTransactionID: d.Event.SourceTransactionID,
			Correction:            contracts.Correction{Applied: out.FloorAdjustment != nil, Action: "apply_floor", Result: "floor still unmet"},
			Quarantined:           true,
		}); err != nil {
			return Decision{}, err
		}
		d.Errors = append(d.Errors, contracts.ErrCorruptedSplit)
		d.Reasons = append(d.Reasons, check.Message)
		return d, nil
	}
	d.Commit = true
	s.logger.DebugContext(ctx, "breakdown finalized",
		"transaction_id", d.Event.SourceTransactionID,
		"total", out.TotalAmount,
		"platform_margin", out.PlatformMargin,
		"floor_adjusted", out.FloorAdjustment != nil,
	)
	return d, nil
}

// ScreenCharge refuses charges while charges are halted for subjectID and
// otherwise defers to the zero-billing guard.
func (s *Service) ScreenCharge(ctx context.Context, subjectID string, amount int64, reason string) (Screen, error) {
	halted, err := s.killSwitch.IsBlocked(ctx, contracts.ComponentCharges, subjectID)
	if err != nil {
		return Screen{}, err
	}
	if halted {
		return Screen{Halted: true, Reason: "charges halted by kill switch"}, nil
	}
	dec, err := s.guard.Check(ctx, subjectID, amount, reason)
	if err != nil {
		return Screen{}, err
	}
	return Screen{Allowed: !dec.Blocked, Reason: dec.Reason}, nil
}

// ScreenPayout refuses transfers while payouts are halted for the recipient
// and otherwise checks the transfer direction.
func (s *Service) ScreenPayout(ctx context.Context, t billing.Transfer) (Screen, error) {
	halted, err := s.killSwitch.IsBlocked(ctx, contracts.ComponentPayouts, t.ToID)
	if err != nil {
		return Screen{}, err
	}
	if halted {
		return Screen{Halted: true, Reason: "payouts halted by kill switch"}, nil
	}
	if t.Amount < 0 {
		return Screen{Reason: fmt.Sprintf("transfer amount %d is negative", t.Amount)}, nil
	}
	dr := s.guard.ValidateDirection(t)
	if !dr.Valid {
		s.logger.WarnContext(ctx, "transfer direction refused", "from_id", t.FromID, "to_id", t.ToID, "kind", t.Kind)
		return Screen{Reason: dr.Error}, nil
	}
	return Screen{Allowed: true, Reason: "transfer direction valid"}, nil
}

// Statistics summarizes the audit trail and the current emergency controls.
// The trail is reloaded first so the counts cover every instance sharing the
// audit backend.
func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	if err := s.log.Sync(ctx); err != nil {
		return Statistics{}, fmt.Errorf("sync audit trail: %w", err)
	}
	st, err := s.log.Stats()
	if err != nil {
		return Statistics{}, err
	}
	ks, err := s.killSwitch.State(ctx)
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{Stats: st, KillSwitch: ks, CommissionRate: s.overrides.CommissionRate()}, nil
}

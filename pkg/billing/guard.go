// Package billing enforces zero-billing: value producers are never charged
// for ordinary platform usage, and payouts never flow back to the platform.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/audit"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/config"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
)

// Decision explains a ShouldBlock outcome.
type Decision struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"`
	Match   string `json:"match,omitempty"`
}

// Transfer is a proposed money movement between two parties.
type Transfer struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Amount int64  `json:"amount"`
	Kind   string `json:"kind"`
}

// DirectionResult is the outcome of ValidateDirection.
type DirectionResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Guard is a strict allow-list over charge reasons.
type Guard struct {
	log        *audit.Log
	logger     *slog.Logger
	platformID string
	forbidden  []string
	allowed    []string
	premium    map[string]bool
	rules      []blockRule
}

// NewGuard builds a guard from the policy. It fails if a CEL rule does not compile.
func NewGuard(policy *config.Policy, log *audit.Log) (*Guard, error) {
	rules, err := compileRules(policy.Billing.Rules)
	if err != nil {
		return nil, err
	}
	g := &Guard{
		log:        log,
		logger:     slog.Default().With("component", "billing"),
		platformID: policy.PlatformID,
		premium:    make(map[string]bool),
		rules:      rules,
	}
	for _, f := range policy.Billing.Forbidden {
		g.forbidden = append(g.forbidden, g.normalize(f))
	}
	for _, a := range policy.Billing.Allowed {
		g.allowed = append(g.allowed, g.normalize(a))
	}
	for _, k := range policy.Billing.PremiumKinds {
		g.premium[g.normalize(k)] = true
	}
	return g, nil
}

// normalize folds case and width and unifies separators so "Platform Fee",
// "platform-fee" and "PLATFORM_FEE" compare equal.
func (g *Guard) normalize(s string) string {
	s = cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
	return strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(s)
}

func containsAny(s string, tokens []string) (string, bool) {
	for _, t := range tokens {
		if t != "" && strings.Contains(s, t) {
			return t, true
		}
	}
	return "", false
}

// Evaluate classifies a proposed charge without recording anything.
// Forbidden reasons block first; an allowed reason passes unless a policy
// rule blocks it; anything else is blocked.
func (g *Guard) Evaluate(subjectID string, amount int64, reason string) Decision {
	r := g.normalize(reason)
	if m, ok := containsAny(r, g.forbidden); ok {
		return Decision{Blocked: true, Reason: "forbidden charge reason", Match: m}
	}
	m, ok := containsAny(r, g.allowed)
	if !ok {
		return Decision{Blocked: true, Reason: "charge reason not on the premium allow-list"}
	}
	for _, rule := range g.rules {
		if rule.matches(subjectID, amount, r) {
			return Decision{Blocked: true, Reason: "blocked by policy rule", Match: rule.expr}
		}
	}
	return Decision{Blocked: false, Reason: "opt-in premium charge", Match: m}
}

// Check evaluates a charge and records a BlockedChargeAttempt when it is
// blocked. The error is reserved for audit failures.
func (g *Guard) Check(ctx context.Context, subjectID string, amount int64, reason string) (Decision, error) {
	d := g.Evaluate(subjectID, amount, reason)
	if !d.Blocked {
		return d, nil
	}
	if err := g.log.RecordBlockedCharge(ctx, contracts.BlockedChargeAttempt{
		SubjectID: subjectID,
		Amount:    amount,
		Reason:    reason,
	}); err != nil {
		return d, err
	}
	g.logger.WarnContext(ctx, "charge blocked",
		"subject_id", subjectID,
		"amount", amount,
		"reason", reason,
		"why", d.Reason,
	)
	return d, nil
}

// ShouldBlock reports whether a charge against subjectID must be refused.
func (g *Guard) ShouldBlock(ctx context.Context, subjectID string, amount int64, reason string) (bool, error) {
	d, err := g.Check(ctx, subjectID, amount, reason)
	return d.Blocked, err
}

// ValidateDirection rejects transfers from a non-platform party into the
// platform unless the kind is an explicit premium purchase.
func (g *Guard) ValidateDirection(t Transfer) DirectionResult {
	if t.FromID != g.platformID && t.ToID == g.platformID && !g.premium[g.normalize(t.Kind)] {
		return DirectionResult{
			Valid: false,
			Error: fmt.Sprintf("transfer of %d from %s to the platform is not a premium transaction (kind %q)", t.Amount, t.FromID, t.Kind),
		}
	}
	return DirectionResult{Valid: true}
}

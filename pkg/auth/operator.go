package auth

import (
	"context"
	"strings"
)

// OperatorAuthorizer is the single predicate every operator-gated action uses.
//
// An ID qualifies when it exactly matches a configured operator ID or starts
// with a configured prefix. When the context carries an authenticated
// principal, that principal must additionally be the same identity and hold
// the operator role, so a free-text ID alone never grants authority through
// the API.
type OperatorAuthorizer struct {
	ids      map[string]bool
	prefixes []string
}

func NewOperatorAuthorizer(ids, prefixes []string) *OperatorAuthorizer {
	a := &OperatorAuthorizer{ids: make(map[string]bool, len(ids))}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			a.ids[id] = true
		}
	}
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			a.prefixes = append(a.prefixes, p)
		}
	}
	return a
}

// IsOperator reports whether operatorID may act as the operator in ctx.
func (a *OperatorAuthorizer) IsOperator(ctx context.Context, operatorID string) bool {
	if a == nil || operatorID == "" || !a.listed(operatorID) {
		return false
	}
	p, err := GetPrincipal(ctx)
	if err != nil {
		return true
	}
	return p.GetID() == operatorID && p.HasRole(RoleOperator)
}

func (a *OperatorAuthorizer) listed(id string) bool {
	if a.ids[id] {
		return true
	}
	for _, p := range a.prefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

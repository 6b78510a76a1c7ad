// Package auth carries authenticated operator and administrator identities
// through request contexts and decides who may act as the operator.
package auth

import (
	"context"
	"errors"
)

// Roles recognized by the control plane. The pipeline role belongs to the
// checkout and payout services that submit events for screening.
const (
	RoleOperator      = "operator"
	RoleAdministrator = "administrator"
	RolePipeline      = "pipeline"
)

// KnownRole reports whether r is a recognized role.
func KnownRole(r string) bool {
	return r == RoleOperator || r == RoleAdministrator || r == RolePipeline
}

// Principal is an authenticated caller.
type Principal interface {
	GetID() string
	GetRoles() []string
	HasRole(role string) bool
}

// BasePrincipal is a simple implementation of Principal.
type BasePrincipal struct {
	ID    string
	Roles []string
}

func (b *BasePrincipal) GetID() string {
	return b.ID
}

func (b *BasePrincipal) GetRoles() []string {
	return b.Roles
}

func (b *BasePrincipal) HasRole(role string) bool {
	for _, r := range b.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey string

const principalKey contextKey = "principal"

var ErrNoPrincipal = errors.New("no principal in context")

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p == nil {
		return nil, ErrNoPrincipal
	}
	return p, nil
}

// ActorID returns the principal's ID, or "system" when the call did not come
// through an authenticated surface.
func ActorID(ctx context.Context) string {
	if p, err := GetPrincipal(ctx); err == nil {
		return p.GetID()
	}
	return "system"
}

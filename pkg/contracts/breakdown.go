package contracts

import "fmt"

// Role is the closed set of parties a breakdown can pay. It is fixed when the
// breakdown is built and never inferred from recipient labels.
type Role string

// Recipient roles.
const (
	RoleCreator   Role = "CREATOR"
	RoleOperator  Role = "OPERATOR"
	RoleAffiliate Role = "AFFILIATE"
	RoleRecruiter Role = "RECRUITER"
	RoleHost      Role = "HOST"
)

var knownRoles = map[Role]bool{
	RoleCreator:   true,
	RoleOperator:  true,
	RoleAffiliate: true,
	RoleRecruiter: true,
	RoleHost:      true,
}

// Valid reports whether r is one of the declared roles.
func (r Role) Valid() bool {
	return knownRoles[r]
}

// ParseRole converts a wire value into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown recipient role %q", s)
	}
	return r, nil
}

// Recipient is one paid party within a CommissionBreakdown.
// Amount is in minor currency units.
type Recipient struct {
	RecipientID string  `json:"recipient_id"`
	Role        Role    `json:"role"`
	Amount      int64   `json:"amount"`
	Percentage  float64 `json:"percentage"`
}

// CommissionBreakdown is a proposed or finalized split of TotalAmount.
//
// Invariant: sum(Recipients[].Amount) + PlatformMargin == TotalAmount.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type CommissionBreakdown struct {
	TotalAmount     int64       `json:"total_amount"`
	PlatformMargin  int64       `json:"platform_margin"`
	Recipients      []Recipient `json:"recipients"`
	FloorAdjustment *int64      `json:"floor_adjustment,omitempty"`
}

// RecipientTotal sums every recipient amount.
func (b CommissionBreakdown) RecipientTotal() int64 {
	var sum int64
	for _, r := range b.Recipients {
		sum += r.Amount
	}
	return sum
}

// RoleTotal sums the amounts paid to recipients holding role.
func (b CommissionBreakdown) RoleTotal(role Role) int64 {
	var sum int64
	for _, r := range b.Recipients {
		if r.Role == role {
			sum += r.Amount
		}
	}
	return sum
}

// Balanced reports whether recipients plus margin account for the total exactly.
func (b CommissionBreakdown) Balanced() bool {
	return b.RecipientTotal()+b.PlatformMargin == b.TotalAmount
}

// Clone returns a deep copy so callers can rewrite without aliasing.
func (b CommissionBreakdown) Clone() CommissionBreakdown {
	out := b
	out.Recipients = append([]Recipient(nil), b.Recipients...)
	if b.FloorAdjustment != nil {
		v := *b.FloorAdjustment
		out.FloorAdjustment = &v
	}
	return out
}

// Validate checks structural soundness: known roles, non-negative amounts and
// the balance invariant.
func (b CommissionBreakdown) Validate() error {
	if b.TotalAmount < 0 {
		return fmt.Errorf("total amount %d is negative", b.TotalAmount)
	}
	for i, r := range b.Recipients {
		if !r.Role.Valid() {
			return fmt.Errorf("recipient %d: unknown role %q", i, r.Role)
		}
		if r.Amount < 0 {
			return fmt.Errorf("recipient %d: amount %d is negative", i, r.Amount)
		}
	}
	if !b.Balanced() {
		return fmt.Errorf("breakdown unbalanced: recipients %d + margin %d != total %d",
			b.RecipientTotal(), b.PlatformMargin, b.TotalAmount)
	}
	return nil
}

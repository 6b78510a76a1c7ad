package split

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
)

// FloorCheck reports a protected party's share without changing anything.
type FloorCheck struct {
	Valid            bool    `json:"valid"`
	ProtectedPercent float64 `json:"protected_percent"`
	Message          string  `json:"message"`
}

func protectedPercent(b contracts.CommissionBreakdown, role contracts.Role) decimal.Decimal {
	if b.TotalAmount <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(b.RoleTotal(role)).Mul(hundred).Div(decimal.NewFromInt(b.TotalAmount))
}

// ValidateFloor reports whether role holds at least floorPercent of b.
func ValidateFloor(b contracts.CommissionBreakdown, floorPercent float64, role contracts.Role) FloorCheck {
	pct := protectedPercent(b, role)
	f, _ := pct.Round(4).Float64()
	floor := decimal.NewFromFloat(floorPercent)

	if b.TotalAmount <= 0 {
		return FloorCheck{Valid: true, ProtectedPercent: 0, Message: "no revenue to protect"}
	}
	if pct.GreaterThanOrEqual(floor) || !shortfall(b, floorPercent, role).IsPositive() {
		return FloorCheck{Valid: true, ProtectedPercent: f,
			Message: fmt.Sprintf("%s share %s%% meets the %s%% floor", role, pct.Round(2).String(), floor.String())}
	}
	return FloorCheck{Valid: false, ProtectedPercent: f,
		Message: fmt.Sprintf("%s share %s%% is below the %s%% floor", role, pct.Round(2).String(), floor.String())}
}

// shortfall is floor(total * floorPercent / 100) - protected earnings.
func shortfall(b contracts.CommissionBreakdown, floorPercent float64, role contracts.Role) decimal.Decimal {
	target := decimal.NewFromInt(b.TotalAmount).Mul(decimal.NewFromFloat(floorPercent)).Div(hundred).Floor()
	return target.Sub(decimal.NewFromInt(b.RoleTotal(role)))
}

// ApplyFloor returns a copy of b in which recipients holding role receive at
// least floorPercent of TotalAmount. The shortfall is credited to the first
// recipient holding role and debited from PlatformMargin only; no other
// recipient's amount changes. The debit never drives the margin below zero.
// A breakdown that already carries a FloorAdjustment is returned unchanged.
func ApplyFloor(b contracts.CommissionBreakdown, floorPercent float64, role contracts.Role) contracts.CommissionBreakdown {
	out := b.Clone()
	if b.TotalAmount <= 0 || b.FloorAdjustment != nil {
		return out
	}
	if protectedPercent(b, role).GreaterThanOrEqual(decimal.NewFromFloat(floorPercent)) {
		return out
	}

	idx := -1
	for i, r := range out.Recipients {
		if r.Role == role {
			idx = i
			break
		}
	}
	if idx < 0 {
		return out
	}

	need := shortfall(b, floorPercent, role).IntPart()
	if need > out.PlatformMargin {
		need = out.PlatformMargin
	}
	if need <= 0 {
		return out
	}

	r := &out.Recipients[idx]
	r.Amount += need
	r.Percentage, _ = decimal.NewFromInt(r.Amount).Mul(hundred).
		Div(decimal.NewFromInt(out.TotalAmount)).Round(4).Float64()
	out.PlatformMargin -= need
	out.FloorAdjustment = &need
	return out
}

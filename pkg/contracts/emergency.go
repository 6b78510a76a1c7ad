package contracts

import (
	"sort"
	"time"
)

// ComponentTag names a subsystem the kill switch can halt.
type ComponentTag string

// Component tags.
const (
	ComponentAll         ComponentTag = "ALL"
	ComponentPayments    ComponentTag = "payments"
	ComponentPayouts     ComponentTag = "payouts"
	ComponentCommissions ComponentTag = "commissions"
	ComponentCharges     ComponentTag = "charges"
)

// KnownComponent reports whether c is one of the declared component tags.
func KnownComponent(c ComponentTag) bool {
	switch c {
	case ComponentAll, ComponentPayments, ComponentPayouts, ComponentCommissions, ComponentCharges:
		return true
	}
	return false
}

// covers reports whether halting c halts component. ALL covers everything
// and payments covers both money-movement gates (charges and payouts).
func (c ComponentTag) covers(component ComponentTag) bool {
	switch c {
	case ComponentAll:
		return true
	case ComponentPayments:
		return component == ComponentPayments || component == ComponentCharges || component == ComponentPayouts
	}
	return c == component
}

// KillSwitchState is the operator-controlled halt flag. Version increases on
// every transition; shared stores use it for compare-and-swap.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type KillSwitchState struct {
	Active             bool           `json:"active"`
	ActivatedAt        *time.Time     `json:"activated_at,omitempty"`
	ActivatedBy        string         `json:"activated_by,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	AffectedComponents []ComponentTag `json:"affected_components"`
	AllowedPartyIDs    []string       `json:"allowed_party_ids"`
	Version            uint64         `json:"version"`
}

// Affects reports whether component is halted by this state.
func (s KillSwitchState) Affects(component ComponentTag) bool {
	for _, c := range s.AffectedComponents {
		if c.covers(component) {
			return true
		}
	}
	return false
}

// Allows reports whether partyID is exempt from the halt.
func (s KillSwitchState) Allows(partyID string) bool {
	for _, id := range s.AllowedPartyIDs {
		if id == partyID {
			return true
		}
	}
	return false
}

// Clone returns a copy with independent slices.
func (s KillSwitchState) Clone() KillSwitchState {
	out := s
	out.AffectedComponents = append([]ComponentTag(nil), s.AffectedComponents...)
	out.AllowedPartyIDs = append([]string(nil), s.AllowedPartyIDs...)
	if s.ActivatedAt != nil {
		t := *s.ActivatedAt
		out.ActivatedAt = &t
	}
	return out
}

// AddAllowed inserts partyID into the allow-list, keeping it a sorted set.
func (s *KillSwitchState) AddAllowed(partyID string) {
	if s.Allows(partyID) {
		return
	}
	s.AllowedPartyIDs = append(s.AllowedPartyIDs, partyID)
	sort.Strings(s.AllowedPartyIDs)
}

// OverrideKind classifies an operator override.
type OverrideKind string

// Override kinds.
const (
	OverrideSplit            OverrideKind = "SPLIT_OVERRIDE"
	OverridePayoutAdjustment OverrideKind = "PAYOUT_ADJUSTMENT"
	OverrideRateChange       OverrideKind = "RATE_CHANGE"
)

// OverrideRecord is the audit record of a retroactive operator change.
// OriginalValue and NewValue hold whatever shape the override touched
// (a split map, an amount, a rate).
//
//nolint:govet // fieldalignment: struct layout is human-readable
type OverrideRecord struct {
	ID                    string       `json:"id"`
	Timestamp             time.Time    `json:"timestamp"`
	OperatorID            string       `json:"operator_id"`
	Kind                  OverrideKind `json:"kind"`
	OriginalValue         any          `json:"original_value"`
	NewValue              any          `json:"new_value"`
	Reason                string       `json:"reason"`
	AffectedPartyID       string       `json:"affected_party_id,omitempty"`
	AffectedTransactionID string       `json:"affected_transaction_id,omitempty"`
}

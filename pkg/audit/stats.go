package audit

import (
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/store"
)

type FailsafeStats struct {
	Total         int                         `json:"total"`
	Critical      int                         `json:"critical"`
	Quarantined   int                         `json:"quarantined"`
	AutoCorrected int                         `json:"auto_corrected"`
	ByKind        map[contracts.ErrorCode]int `json:"by_kind"`
}

type BlockedChargeStats struct {
	Total             int   `json:"total"`
	TotalAmount       int64 `json:"total_amount"`
	ProtectedSubjects int   `json:"protected_subjects"`
}

type OverrideStats struct {
	Total  int                            `json:"total"`
	ByKind map[contracts.OverrideKind]int `json:"by_kind"`
}

// Stats is the read-only statistics surface over the audit trail.
type Stats struct {
	Failsafe              FailsafeStats      `json:"failsafe_events"`
	BlockedCharges        BlockedChargeStats `json:"blocked_charges"`
	Overrides             OverrideStats      `json:"overrides"`
	KillSwitchTransitions int                `json:"kill_switch_transitions"`
	ChainHead             string             `json:"chain_head"`
	Sequence              uint64             `json:"sequence"`
}

// Stats aggregates every entry currently in the store.
func (l *Log) Stats() (Stats, error) {
	if l == nil || l.store == nil {
		return Stats{}, ErrNotConfigured
	}
	st := Stats{
		Failsafe:  FailsafeStats{ByKind: make(map[contracts.ErrorCode]int)},
		Overrides: OverrideStats{ByKind: make(map[contracts.OverrideKind]int)},
	}
	subjects := make(map[string]bool)

	for _, e := range l.store.Query(store.QueryFilter{}) {
		switch e.EntryType {
		case store.EntryTypeFailsafe:
			var evt contracts.FailsafeEvent
			if err := e.Decode(&evt); err != nil {
				return Stats{}, err
			}
			st.Failsafe.Total++
			st.Failsafe.ByKind[evt.Kind]++
			if evt.Severity == contracts.SeverityCritical {
				st.Failsafe.Critical++
			}
			if evt.Quarantined {
				st.Failsafe.Quarantined++
			}
			if evt.Correction.Applied {
				st.Failsafe.AutoCorrected++
			}
		case store.EntryTypeBlockedCharge:
			var a contracts.BlockedChargeAttempt
			if err := e.Decode(&a); err != nil {
				return Stats{}, err
			}
			st.BlockedCharges.Total++
			st.BlockedCharges.TotalAmount += a.Amount
			subjects[a.SubjectID] = true
		case store.EntryTypeOverride:
			st.Overrides.Total++
			st.Overrides.ByKind[contracts.OverrideKind(e.Action)]++
		case store.EntryTypeKillSwitch:
			st.KillSwitchTransitions++
		}
	}
	st.BlockedCharges.ProtectedSubjects = len(subjects)
	st.ChainHead = l.store.GetChainHead()
	st.Sequence = l.store.GetSequence()
	return st, nil
}

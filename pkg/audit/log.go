// Package audit records control-plane outcomes as typed entries on the
// hash-chained store and derives the statistics surface from them.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/auth"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/store"
)

var ErrNotConfigured = errors.New("fail-closed: audit store not configured")

// Log is the single append path for failsafe events, blocked charges,
// overrides and kill-switch transitions.
type Log struct {
	store *store.AuditStore
	clock func() time.Time
}

func NewLog(s *store.AuditStore) *Log {
	return &Log{store: s, clock: time.Now}
}

// WithClock overrides the timestamp source for records created by the log.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Store exposes the underlying chain for verification and export.
func (l *Log) Store() *store.AuditStore {
	return l.store
}

// Sync reloads the trail from the store's backend so reads include entries
// written by other instances sharing it.
func (l *Log) Sync(ctx context.Context) error {
	if l == nil || l.store == nil {
		return ErrNotConfigured
	}
	return l.store.Restore(ctx)
}

func (l *Log) append(ctx context.Context, t store.EntryType, subject, action string, payload any, extra map[string]string) error {
	if l == nil || l.store == nil {
		return ErrNotConfigured
	}
	meta := map[string]string{"actor_id": auth.ActorID(ctx)}
	for k, v := range extra {
		meta[k] = v
	}
	if _, err := l.store.Append(ctx, t, subject, action, payload, meta); err != nil {
		return fmt.Errorf("audit %s: %w", t, err)
	}
	return nil
}

func (l *Log) now() time.Time {
	return l.clock().UTC()
}

// RecordFailsafe appends an anomaly record. A zero Timestamp is filled in.
func (l *Log) RecordFailsafe(ctx context.Context, evt contracts.FailsafeEvent) error {
	if evt.Timestamp.IsZero() && l != nil {
		evt.Timestamp = l.now()
	}
	return l.append(ctx, store.EntryTypeFailsafe, evt.AffectedPartyID, string(evt.Kind), evt, map[string]string{
		"severity":    string(evt.Severity),
		"quarantined": fmt.Sprintf("%t", evt.Quarantined),
	})
}

// RecordBlockedCharge appends a refused charge.
func (l *Log) RecordBlockedCharge(ctx context.Context, attempt contracts.BlockedChargeAttempt) error {
	if attempt.Timestamp.IsZero() && l != nil {
		attempt.Timestamp = l.now()
	}
	return l.append(ctx, store.EntryTypeBlockedCharge, attempt.SubjectID, "charge_blocked", attempt, nil)
}

// RecordOverride appends an operator override, assigning ID and Timestamp
// when they are unset, and returns the record as stored.
func (l *Log) RecordOverride(ctx context.Context, rec contracts.OverrideRecord) (contracts.OverrideRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() && l != nil {
		rec.Timestamp = l.now()
	}
	err := l.append(ctx, store.EntryTypeOverride, rec.OperatorID, string(rec.Kind), rec, map[string]string{
		"override_id": rec.ID,
	})
	return rec, err
}

// RecordKillSwitch appends a kill-switch transition with the resulting state.
func (l *Log) RecordKillSwitch(ctx context.Context, operatorID, action string, state contracts.KillSwitchState) error {
	return l.append(ctx, store.EntryTypeKillSwitch, operatorID, action, state, nil)
}

// FailsafeFilter narrows FailsafeEvents. Zero fields match everything.
type FailsafeFilter struct {
	Kind            contracts.ErrorCode
	Severity        contracts.Severity
	PartyID         string
	QuarantinedOnly bool
}

// FailsafeEvents returns recorded anomalies in append order.
func (l *Log) FailsafeEvents(f FailsafeFilter) ([]contracts.FailsafeEvent, error) {
	if l == nil || l.store == nil {
		return nil, ErrNotConfigured
	}
	entries := l.store.Query(store.QueryFilter{
		EntryType: store.EntryTypeFailsafe,
		Subject:   f.PartyID,
		Action:    string(f.Kind),
	})
	out := make([]contracts.FailsafeEvent, 0, len(entries))
	for _, e := range entries {
		var evt contracts.FailsafeEvent
		if err := e.Decode(&evt); err != nil {
			return nil, err
		}
		if f.Severity != "" && evt.Severity != f.Severity {
			continue
		}
		if f.QuarantinedOnly && !evt.Quarantined {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

// BlockedCharges returns every refused charge in append order.
func (l *Log) BlockedCharges() ([]contracts.BlockedChargeAttempt, error) {
	return decodeAll[contracts.BlockedChargeAttempt](l, store.QueryFilter{EntryType: store.EntryTypeBlockedCharge})
}

// Overrides returns override records, optionally restricted to kind.
func (l *Log) Overrides(kind contracts.OverrideKind) ([]contracts.OverrideRecord, error) {
	return decodeAll[contracts.OverrideRecord](l, store.QueryFilter{EntryType: store.EntryTypeOverride, Action: string(kind)})
}

func decodeAll[T any](l *Log, filter store.QueryFilter) ([]T, error) {
	if l == nil || l.store == nil {
		return nil, ErrNotConfigured
	}
	entries := l.store.Query(filter)
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		var v T
		if err := e.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

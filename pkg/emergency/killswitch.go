package emergency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/audit"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/auth"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
)

const maxSwapAttempts = 5

var ErrStateContention = errors.New("kill switch state changed concurrently")

// KillSwitch is the INACTIVE/ACTIVE halt flag. Transitions are serialized in
// process by a mutex and across processes by the store's compare-and-swap.
type KillSwitch struct {
	mu     sync.Mutex
	authz  *auth.OperatorAuthorizer
	states StateStore
	log    *audit.Log
	logger *slog.Logger
	clock  func() time.Time
}

func NewKillSwitch(authz *auth.OperatorAuthorizer, states StateStore, log *audit.Log) *KillSwitch {
	if states == nil {
		states = NewMemoryStateStore()
	}
	return &KillSwitch{
		authz:  authz,
		states: states,
		log:    log,
		logger: slog.Default().With("component", "killswitch"),
		clock:  time.Now,
	}
}

// State returns the current kill-switch state.
func (k *KillSwitch) State(ctx context.Context) (contracts.KillSwitchState, error) {
	return k.states.Load(ctx)
}

// IsBlocked reports whether component is halted for partyID.
func (k *KillSwitch) IsBlocked(ctx context.Context, component contracts.ComponentTag, partyID string) (bool, error) {
	st, err := k.states.Load(ctx)
	if err != nil {
		return false, err
	}
	if !st.Active || st.Allows(partyID) {
		return false, nil
	}
	return st.Affects(component), nil
}

// Activate halts components (ALL when none are given). The allow-list is
// reset to the activating operator. Unknown component tags are rejected
// without touching the state.
func (k *KillSwitch) Activate(ctx context.Context, operatorID, reason string, components ...contracts.ComponentTag) (Result, error) {
	if !k.authz.IsOperator(ctx, operatorID) {
		return unauthorized(operatorID, "activate the kill switch"), nil
	}
	if len(components) == 0 {
		components = []contracts.ComponentTag{contracts.ComponentAll}
	}
	for _, c := range components {
		if !contracts.KnownComponent(c) {
			return rejected("unknown component %q", c), nil
		}
	}

	return k.transition(ctx, operatorID, "activate", func(cur contracts.KillSwitchState) (contracts.KillSwitchState, *Result) {
		now := k.clock().UTC()
		return contracts.KillSwitchState{
			Active:             true,
			ActivatedAt:        &now,
			ActivatedBy:        operatorID,
			Reason:             reason,
			AffectedComponents: append([]contracts.ComponentTag(nil), components...),
			AllowedPartyIDs:    []string{operatorID},
		}, nil
	})
}

// Deactivate returns to INACTIVE and clears all state.
func (k *KillSwitch) Deactivate(ctx context.Context, operatorID string) (Result, error) {
	if !k.authz.IsOperator(ctx, operatorID) {
		return unauthorized(operatorID, "deactivate the kill switch"), nil
	}
	return k.transition(ctx, operatorID, "deactivate", func(cur contracts.KillSwitchState) (contracts.KillSwitchState, *Result) {
		if !cur.Active {
			r := rejected("kill switch is not active")
			return cur, &r
		}
		return contracts.KillSwitchState{}, nil
	})
}

// AddAllowedParty exempts partyID from an active halt. It is a no-op while
// the switch is inactive.
func (k *KillSwitch) AddAllowedParty(ctx context.Context, operatorID, partyID string) (Result, error) {
	if !k.authz.IsOperator(ctx, operatorID) {
		return unauthorized(operatorID, "modify the kill switch allow-list"), nil
	}
	if partyID == "" {
		return rejected("party id is required"), nil
	}
	return k.transition(ctx, operatorID, "allow_party", func(cur contracts.KillSwitchState) (contracts.KillSwitchState, *Result) {
		if !cur.Active {
			r := rejected("kill switch is not active; nothing to allow")
			return cur, &r
		}
		if cur.Allows(partyID) {
			st := cur.Clone()
			r := Result{Success: true, Message: fmt.Sprintf("%s already allowed", partyID), State: &st}
			return cur, &r
		}
		next := cur.Clone()
		next.AddAllowed(partyID)
		return next, nil
	})
}

// transition applies next to the current state with compare-and-swap, then
// appends the audit record. If the append fails the previous state is put
// back and the error returned. A non-nil early result ends the transition
// without writing anything.
func (k *KillSwitch) transition(ctx context.Context, operatorID, action string,
	next func(cur contracts.KillSwitchState) (contracts.KillSwitchState, *Result)) (Result, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		cur, err := k.states.Load(ctx)
		if err != nil {
			return Result{}, err
		}
		proposed, early := next(cur.Clone())
		if early != nil {
			return *early, nil
		}
		proposed.Version = cur.Version + 1

		ok, err := k.states.CompareAndSwap(ctx, cur.Version, proposed)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			continue
		}

		if err := k.log.RecordKillSwitch(ctx, operatorID, action, proposed); err != nil {
			restore := cur.Clone()
			restore.Version = proposed.Version + 1
			if _, rbErr := k.states.CompareAndSwap(ctx, proposed.Version, restore); rbErr != nil {
				k.logger.ErrorContext(ctx, "kill switch rollback failed", "error", rbErr)
			}
			return Result{}, err
		}

		k.logger.WarnContext(ctx, "kill switch transition",
			"action", action,
			"operator_id", operatorID,
			"active", proposed.Active,
			"components", proposed.AffectedComponents,
			"version", proposed.Version,
		)
		st := proposed.Clone()
		return Result{Success: true, Message: fmt.Sprintf("kill switch %s", action), State: &st}, nil
	}
	return Result{}, ErrStateContention
}

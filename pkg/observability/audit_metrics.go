package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/store"
)

// AuditMetrics counts audit entries as they are appended.
type AuditMetrics struct {
	failsafe    metric.Int64Counter
	blocked     metric.Int64Counter
	blockedAmt  metric.Int64Counter
	overrides   metric.Int64Counter
	transitions metric.Int64Counter
}

// NewAuditMetrics registers the integrity counters on meter.
func NewAuditMetrics(meter metric.Meter) (*AuditMetrics, error) {
	var (
		m   AuditMetrics
		err error
	)
	if m.failsafe, err = meter.Int64Counter("integrity.failsafe.events",
		metric.WithDescription("Failsafe events raised by the validators"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if m.blocked, err = meter.Int64Counter("integrity.charges.blocked",
		metric.WithDescription("Charges refused by the zero-billing guard"),
		metric.WithUnit("{charge}"),
	); err != nil {
		return nil, err
	}
	if m.blockedAmt, err = meter.Int64Counter("integrity.charges.blocked.amount",
		metric.WithDescription("Minor currency units protected by blocked charges"),
		metric.WithUnit("{unit}"),
	); err != nil {
		return nil, err
	}
	if m.overrides, err = meter.Int64Counter("integrity.overrides",
		metric.WithDescription("Operator overrides recorded"),
		metric.WithUnit("{override}"),
	); err != nil {
		return nil, err
	}
	if m.transitions, err = meter.Int64Counter("integrity.killswitch.transitions",
		metric.WithDescription("Kill switch state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// Attach subscribes the counters to every entry appended to s.
func (m *AuditMetrics) Attach(s *store.AuditStore) {
	s.AddHandler(m.Observe)
}

// Observe increments the counter matching entry's type.
func (m *AuditMetrics) Observe(entry *store.AuditEntry) {
	ctx := context.Background()
	switch entry.EntryType {
	case store.EntryTypeFailsafe:
		m.failsafe.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", entry.Action),
			attribute.String("severity", entry.Metadata["severity"]),
			attribute.Bool("quarantined", entry.Metadata["quarantined"] == "true"),
		))
	case store.EntryTypeBlockedCharge:
		m.blocked.Add(ctx, 1)
		var attempt struct {
			Amount int64 `json:"amount"`
		}
		if err := entry.Decode(&attempt); err == nil && attempt.Amount > 0 {
			m.blockedAmt.Add(ctx, attempt.Amount)
		}
	case store.EntryTypeOverride:
		m.overrides.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", entry.Action)))
	case store.EntryTypeKillSwitch:
		m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", entry.Action)))
	}
}

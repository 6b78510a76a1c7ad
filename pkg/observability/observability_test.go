package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/store"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "integrityd", cfg.ServiceName)
	require.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	require.Equal(t, 1.0, cfg.SampleRate)
	require.False(t, cfg.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	ctx, span := p.StartSpan(context.Background(), "noop")
	require.NotNil(t, ctx)
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func sums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestAuditMetrics_CountsEntries(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewAuditMetrics(mp.Meter("test"))
	require.NoError(t, err)

	s := store.NewAuditStore()
	m.Attach(s)
	ctx := context.Background()

	_, _ = s.Append(ctx, store.EntryTypeFailsafe, "p", "NEGATIVE_REVENUE", nil, map[string]string{"severity": "CRITICAL", "quarantined": "true"})
	_, _ = s.Append(ctx, store.EntryTypeFailsafe, "p", "INVALID_REGION", nil, map[string]string{"severity": "HIGH", "quarantined": "false"})
	_, _ = s.Append(ctx, store.EntryTypeBlockedCharge, "p", "charge_blocked", map[string]any{"subject_id": "p", "amount": 250}, nil)
	_, _ = s.Append(ctx, store.EntryTypeOverride, "op", "RATE_CHANGE", nil, nil)
	_, _ = s.Append(ctx, store.EntryTypeKillSwitch, "op", "activate", nil, nil)
	_, _ = s.Append(ctx, store.EntryTypeKillSwitch, "op", "deactivate", nil, nil)

	got := sums(t, reader)
	assert.Equal(t, int64(2), got["integrity.failsafe.events"])
	assert.Equal(t, int64(1), got["integrity.charges.blocked"])
	assert.Equal(t, int64(250), got["integrity.charges.blocked.amount"])
	assert.Equal(t, int64(1), got["integrity.overrides"])
	assert.Equal(t, int64(2), got["integrity.killswitch.transitions"])
}

package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/config"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "DATA_DIR", "REDIS_DB", "OPERATOR_IDS", "OTEL_ENABLED", "RATE_LIMIT_RPS"} {
		t.Setenv(k, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.LiteMode())
	assert.Equal(t, "data", cfg.DataDir)
	assert.Empty(t, cfg.OperatorIDs)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, 20.0, cfg.RateLimitRPS)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("OPERATOR_IDS", " op-main , op-backup,,")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("RATE_LIMIT_RPS", "-1")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.False(t, cfg.LiteMode())
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, []string{"op-main", "op-backup"}, cfg.OperatorIDs)
	assert.True(t, cfg.OTelEnabled)
	assert.Equal(t, 20.0, cfg.RateLimitRPS, "non-positive rates fall back to the default")
}

func TestDefaultPolicy_Valid(t *testing.T) {
	p := config.DefaultPolicy()
	require.NoError(t, p.Validate())
	assert.True(t, p.IsRecognizedRegion("US"))
	assert.False(t, p.IsRecognizedRegion("ZZ"))
	assert.Equal(t, contracts.RoleCreator, p.Split.PrimaryRole)
	assert.Equal(t, 70.0, p.Split.MinPrimaryPercent)
}

const validPolicy = `
schema_version: "1.2.0"
platform_id: cv-platform
operators:
  ids: [op-main]
  prefixes: [ops-]
  commission_rate: 2.5
  min_commission_rate: 0
  max_commission_rate: 10
revenue:
  default_region: US
  regions: [US, KE]
  purchasing_power:
    KE: {min: 0.25, max: 0.5}
split:
  primary_role: CREATOR
  min_primary_percent: 70
  tolerance: 0.01
floor:
  protected_role: OPERATOR
  percent: 15
billing:
  forbidden: [platform_fee]
  allowed: [verified_badge]
  premium_kinds: [premium_purchase]
  rules:
    - 'amount > 1000000'
`

func TestParsePolicy(t *testing.T) {
	p, err := config.ParsePolicy([]byte(validPolicy))
	require.NoError(t, err)

	assert.Equal(t, "cv-platform", p.PlatformID)
	assert.Equal(t, []string{"ops-"}, p.Operators.Prefixes)
	assert.True(t, p.IsRecognizedRegion("KE"))
	assert.Equal(t, config.Band{Min: 0.25, Max: 0.5}, p.Revenue.PurchasingPower["KE"])
	assert.Equal(t, contracts.RoleOperator, p.Floor.ProtectedRole)
	assert.Len(t, p.Billing.Rules, 1)
}

func TestParsePolicy_Rejections(t *testing.T) {
	cases := map[string]string{
		"unknown role":         `split: {primary_role: OWNER, min_primary_percent: 70, tolerance: 0.01}`,
		"unsupported version":  `schema_version: "2.0.0"`,
		"unrecognized default": `revenue: {default_region: FR, regions: [US]}`,
		"inverted band":        `revenue: {default_region: US, regions: [US], purchasing_power: {US: {min: 2, max: 1}}}`,
		"rate above max":       `operators: {ids: [op], commission_rate: 12, min_commission_rate: 0, max_commission_rate: 10}`,
		"unknown field":        `surprise: true`,
	}
	for name, patch := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.ParsePolicy([]byte(mergeYAML(t, validPolicy, patch)))
			require.Error(t, err)
			assert.True(t, errors.Is(err, config.ErrInvalidPolicy), "got %v", err)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	p, err := config.LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPolicy().PlatformID, p.PlatformID)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validPolicy), 0o600))
	p, err = config.LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, "cv-platform", p.PlatformID)

	_, err = config.LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWithOperators(t *testing.T) {
	base := config.DefaultPolicy()
	p := base.WithOperators([]string{"op-a"})
	assert.Equal(t, []string{"op-a"}, p.Operators.IDs)
	assert.Equal(t, []string{"operator"}, base.Operators.IDs)
	assert.Equal(t, base.Operators.IDs, base.WithOperators(nil).Operators.IDs)
}

// mergeYAML replaces top-level keys of base with those in patch.
func mergeYAML(t *testing.T, base, patch string) string {
	t.Helper()
	var doc, over map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(base), &doc))
	require.NoError(t, yaml.Unmarshal([]byte(patch), &over))
	for k, v := range over {
		doc[k] = v
	}
	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	return string(out)
}

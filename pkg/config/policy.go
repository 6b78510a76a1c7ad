package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
)

// SupportedSchemaVersions is the semver constraint policy documents must satisfy.
const SupportedSchemaVersions = ">= 1.0.0, < 2.0.0"

var ErrInvalidPolicy = errors.New("invalid policy")

//go:embed policy.schema.json
var policySchemaJSON string

// Band is an inclusive [Min, Max] range for a regional purchasing-power multiplier.
type Band struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Policy is the economic policy enforced by the control plane.
type Policy struct {
	SchemaVersion string         `yaml:"schema_version" json:"schema_version"`
	PlatformID    string         `yaml:"platform_id" json:"platform_id"`
	Operators     OperatorPolicy `yaml:"operators" json:"operators"`
	Revenue       RevenuePolicy  `yaml:"revenue" json:"revenue"`
	Split         SplitPolicy    `yaml:"split" json:"split"`
	Floor         FloorPolicy    `yaml:"floor" json:"floor"`
	Billing       BillingPolicy  `yaml:"billing" json:"billing"`
}

// OperatorPolicy identifies the operator and bounds the standing commission rate.
type OperatorPolicy struct {
	IDs               []string `yaml:"ids" json:"ids"`
	Prefixes          []string `yaml:"prefixes,omitempty" json:"prefixes,omitempty"`
	CommissionRate    float64  `yaml:"commission_rate" json:"commission_rate"`
	MinCommissionRate float64  `yaml:"min_commission_rate" json:"min_commission_rate"`
	MaxCommissionRate float64  `yaml:"max_commission_rate" json:"max_commission_rate"`
}

// RevenuePolicy lists recognized regions and their purchasing-power bands.
type RevenuePolicy struct {
	DefaultRegion   string          `yaml:"default_region" json:"default_region"`
	Regions         []string        `yaml:"regions" json:"regions"`
	PurchasingPower map[string]Band `yaml:"purchasing_power,omitempty" json:"purchasing_power,omitempty"`
}

type SplitPolicy struct {
	PrimaryRole       contracts.Role `yaml:"primary_role" json:"primary_role"`
	MinPrimaryPercent float64        `yaml:"min_primary_percent" json:"min_primary_percent"`
	Tolerance         float64        `yaml:"tolerance" json:"tolerance"`
}

type FloorPolicy struct {
	ProtectedRole contracts.Role `yaml:"protected_role" json:"protected_role"`
	Percent       float64        `yaml:"percent" json:"percent"`
}

// BillingPolicy drives the zero-billing guard. Rules are CEL expressions
// over (subject, amount, reason) that can only add blocks.
type BillingPolicy struct {
	Forbidden    []string `yaml:"forbidden" json:"forbidden"`
	Allowed      []string `yaml:"allowed" json:"allowed"`
	PremiumKinds []string `yaml:"premium_kinds" json:"premium_kinds"`
	Rules        []string `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// DefaultPolicy returns the built-in policy used when no file is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		SchemaVersion: "1.0.0",
		PlatformID:    "platform",
		Operators: OperatorPolicy{
			IDs:               []string{"operator"},
			CommissionRate:    5,
			MinCommissionRate: 0,
			MaxCommissionRate: 10,
		},
		Revenue: RevenuePolicy{
			DefaultRegion: "US",
			Regions:       []string{"US", "CA", "GB", "DO", "HT", "MX", "CO", "BR", "NG", "GH", "IN", "PH", "JM"},
			PurchasingPower: map[string]Band{
				"US": {Min: 1.0, Max: 1.0},
				"CA": {Min: 0.9, Max: 1.0},
				"GB": {Min: 0.9, Max: 1.1},
				"DO": {Min: 0.3, Max: 0.6},
				"HT": {Min: 0.2, Max: 0.5},
				"MX": {Min: 0.4, Max: 0.7},
				"NG": {Min: 0.2, Max: 0.5},
				"IN": {Min: 0.2, Max: 0.5},
			},
		},
		Split: SplitPolicy{
			PrimaryRole:       contracts.RoleCreator,
			MinPrimaryPercent: 70,
			Tolerance:         0.01,
		},
		Floor: FloorPolicy{
			ProtectedRole: contracts.RoleOperator,
			Percent:       15,
		},
		Billing: BillingPolicy{
			Forbidden: []string{
				"platform_fee", "usage_fee", "hosting_fee", "storage_fee",
				"bandwidth_fee", "upload_fee", "streaming_fee", "subscription_fee",
				"account_fee", "maintenance_fee", "listing_fee",
			},
			Allowed: []string{
				"verified_badge", "verification_badge", "promoted_listing",
				"featured_placement", "ai_generation_credits", "premium_generation_credits",
			},
			PremiumKinds: []string{"premium_purchase", "verification", "promotion", "generation_credits"},
		},
	}
}

// LoadPolicy reads a policy document. An empty path yields DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %q: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy validates a YAML policy document against the embedded schema
// and the supported schema version range.
func ParsePolicy(data []byte) (*Policy, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON-typed values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}

	schema, err := compilePolicySchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func compilePolicySchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://integrity.schemas.local/policy.schema.json"
	if err := c.AddResource(url, strings.NewReader(policySchemaJSON)); err != nil {
		return nil, fmt.Errorf("policy schema load failed: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("policy schema compile failed: %w", err)
	}
	return schema, nil
}

// Validate checks the cross-field rules the schema cannot express.
func (p *Policy) Validate() error {
	v, err := semver.NewVersion(p.SchemaVersion)
	if err != nil {
		return fmt.Errorf("%w: schema_version %q: %w", ErrInvalidPolicy, p.SchemaVersion, err)
	}
	constraint, err := semver.NewConstraint(SupportedSchemaVersions)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: schema_version %s does not satisfy %s", ErrInvalidPolicy, v, SupportedSchemaVersions)
	}

	if !p.IsRecognizedRegion(p.Revenue.DefaultRegion) {
		return fmt.Errorf("%w: default_region %q is not a recognized region", ErrInvalidPolicy, p.Revenue.DefaultRegion)
	}
	for region, band := range p.Revenue.PurchasingPower {
		if band.Min > band.Max {
			return fmt.Errorf("%w: purchasing_power band for %s has min > max", ErrInvalidPolicy, region)
		}
	}
	op := p.Operators
	if op.MinCommissionRate > op.MaxCommissionRate {
		return fmt.Errorf("%w: min_commission_rate exceeds max_commission_rate", ErrInvalidPolicy)
	}
	if op.CommissionRate < op.MinCommissionRate || op.CommissionRate > op.MaxCommissionRate {
		return fmt.Errorf("%w: commission_rate %.2f outside [%.2f, %.2f]",
			ErrInvalidPolicy, op.CommissionRate, op.MinCommissionRate, op.MaxCommissionRate)
	}
	return nil
}

// IsRecognizedRegion reports whether code is one of the configured regions.
func (p *Policy) IsRecognizedRegion(code string) bool {
	for _, r := range p.Revenue.Regions {
		if r == code {
			return true
		}
	}
	return false
}

// WithOperators returns a copy of p whose operator allow-list is replaced by ids.
// An empty ids leaves the policy unchanged.
func (p *Policy) WithOperators(ids []string) *Policy {
	out := *p
	if len(ids) > 0 {
		out.Operators.IDs = append([]string(nil), ids...)
	}
	return &out
}

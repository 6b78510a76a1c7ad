package billing

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// blockRule is a compiled CEL expression over subject, amount and reason.
// A rule that evaluates to true blocks the charge.
type blockRule struct {
	expr string
	prg  cel.Program
}

func compileRules(exprs []string) ([]blockRule, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.StringType),
		cel.Variable("amount", cel.IntType),
		cel.Variable("reason", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	rules := make([]blockRule, 0, len(exprs))
	for i, expr := range exprs {
		parsed, issues := env.Parse(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("billing rule %d: parse: %w", i, issues.Err())
		}
		if err := checkDeterministic(parsed.Expr()); err != nil { //nolint:staticcheck // AST walk needs the proto form
			return nil, fmt.Errorf("billing rule %d: %w", i, err)
		}
		ast, issues := env.Check(parsed)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("billing rule %d: compile: %w", i, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("billing rule %d: must evaluate to bool, got %s", i, ast.OutputType())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			return nil, fmt.Errorf("billing rule %d: program: %w", i, err)
		}
		rules = append(rules, blockRule{expr: expr, prg: prg})
	}
	return rules, nil
}

// matches evaluates the rule. Evaluation errors count as a match.
func (r blockRule) matches(subject string, amount int64, reason string) bool {
	out, _, err := r.prg.Eval(map[string]any{
		"subject": subject,
		"amount":  amount,
		"reason":  reason,
	})
	if err != nil {
		return true
	}
	b, ok := out.Value().(bool)
	return !ok || b
}

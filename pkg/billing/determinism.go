package billing

import (
	"fmt"

	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Block rules must give the same answer when a decision is replayed from the
// audit trail, so clock reads, map iteration and floating point literals are
// refused. Amounts are integer minor units.
var forbiddenCalls = map[string]string{
	"now":    "now() reads the clock",
	"keys":   "map iteration (keys) has no stable order",
	"values": "map iteration (values) has no stable order",
}

func checkDeterministic(e *exprpb.Expr) error {
	if e == nil {
		return nil
	}
	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		if _, ok := k.ConstExpr.ConstantKind.(*exprpb.Constant_DoubleValue); ok {
			return fmt.Errorf("floating point literals are forbidden; amounts are integer minor units")
		}
	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		if why, ok := forbiddenCalls[call.Function]; ok {
			return fmt.Errorf("%s is forbidden: %s", call.Function, why)
		}
		if err := checkDeterministic(call.Target); err != nil {
			return err
		}
		for _, arg := range call.Args {
			if err := checkDeterministic(arg); err != nil {
				return err
			}
		}
	case *exprpb.Expr_SelectExpr:
		return checkDeterministic(k.SelectExpr.Operand)
	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			if err := checkDeterministic(el); err != nil {
				return err
			}
		}
	case *exprpb.Expr_StructExpr:
		for _, entry := range k.StructExpr.Entries {
			if err := checkDeterministic(entry.GetMapKey()); err != nil {
				return err
			}
			if err := checkDeterministic(entry.Value); err != nil {
				return err
			}
		}
	case *exprpb.Expr_ComprehensionExpr:
		comp := k.ComprehensionExpr
		for _, sub := range []*exprpb.Expr{comp.IterRange, comp.AccuInit, comp.LoopCondition, comp.LoopStep, comp.Result} {
			if err := checkDeterministic(sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// Package policy evaluates operator-defined gateway selection rules. Rules
// are boolean govaluate expressions over the candidate gateway and the order
// being placed; a candidate is eligible only if every rule holds.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// RuleConfig is one named selection rule, e.g.
//
//	{Name: "DomesticOnlyOverCap", Expression: "amount < 500000 || supports_international"}
//
// Parameters available to expressions: amount, currency, gateway_type,
// supports_upi, supports_international, consecutive_failures.
type RuleConfig struct {
	Name       string
	Expression string
}

type compiledRule struct {
	name string
	expr *govaluate.EvaluableExpression
}

// Enforcer holds compiled selection rules. Zero rules means every candidate
// is eligible.
type Enforcer struct {
	rules []compiledRule
}

// NewEnforcer compiles the given rules, failing fast on a malformed
// expression.
func NewEnforcer(rules []RuleConfig) (*Enforcer, error) {
	e := &Enforcer{}
	for _, rc := range rules {
		expr, err := govaluate.NewEvaluableExpression(rc.Expression)
		if err != nil {
			return nil, fmt.Errorf("policy: compile rule %q: %w", rc.Name, err)
		}
		e.rules = append(e.rules, compiledRule{name: rc.Name, expr: expr})
	}
	return e, nil
}

// Eligible evaluates all rules against params. A rule that errors or yields a
// non-boolean fails closed: the candidate is excluded and the rule named in
// the reason.
func (e *Enforcer) Eligible(params map[string]interface{}) (bool, string) {
	for _, rule := range e.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			return false, fmt.Sprintf("rule %q failed to evaluate: %v", rule.name, err)
		}
		ok, isBool := result.(bool)
		if !isBool {
			return false, fmt.Sprintf("rule %q did not yield a boolean", rule.name)
		}
		if !ok {
			return false, fmt.Sprintf("rule %q rejected candidate", rule.name)
		}
	}
	return true, ""
}

package conditions

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Result is the outcome of evaluating a condition. Reason is human-readable
// and stable across runs for the same inputs.
type Result struct {
	Satisfied bool
	Reason    string
}

// Evaluate evaluates a condition (clause or group) against the scope.
// Missing values leave clauses unsatisfied with reason "not found"; only
// structural mistakes (invalid regex, unbound dimensions) return an error.
func Evaluate(ctx context.Context, cond *Condition, scope *Scope) (Result, error) {
	if cond == nil {
		return Result{Satisfied: true, Reason: "no condition"}, nil
	}
	if cond.IsGroup() {
		return evalGroup(ctx, cond, scope)
	}
	return evalClause(ctx, cond, scope)
}

// evalGroup applies all/any semantics. Empty all is true; empty any with no
// all is true; both present require both to hold. Evaluation short-circuits
// on the first failing clause of an all, first satisfying clause of an any.
func evalGroup(ctx context.Context, cond *Condition, scope *Scope) (Result, error) {
	for _, child := range cond.All {
		res, err := Evaluate(ctx, child, scope)
		if err != nil {
			return Result{}, err
		}
		if !res.Satisfied {
			return res, nil
		}
	}

	if len(cond.Any) > 0 {
		var last Result
		for _, child := range cond.Any {
			res, err := Evaluate(ctx, child, scope)
			if err != nil {
				return Result{}, err
			}
			if res.Satisfied {
				return res, nil
			}
			last = res
		}
		return Result{Satisfied: false, Reason: fmt.Sprintf("no alternative satisfied (last: %s)", last.Reason)}, nil
	}

	return Result{Satisfied: true, Reason: "all conditions satisfied"}, nil
}

// evalClause resolves the when path and applies every operator set on the
// clause; all listed operators must hold.
func evalClause(ctx context.Context, cond *Condition, scope *Scope) (Result, error) {
	value, found, err := resolveValue(ctx, cond.When, scope)
	if err != nil {
		return Result{}, err
	}

	field := fieldName(cond.When)

	if !found {
		// exists:false is the only operator satisfied by a missing path.
		if cond.Exists != nil && !*cond.Exists && soleOperator(cond) {
			return Result{Satisfied: true, Reason: fmt.Sprintf("%s not found", field)}, nil
		}
		return Result{Satisfied: false, Reason: "not found"}, nil
	}

	if cond.Exists != nil {
		present := value != nil
		if *cond.Exists != present {
			if *cond.Exists {
				return Result{Satisfied: false, Reason: fmt.Sprintf("%s is null", field)}, nil
			}
			return Result{Satisfied: false, Reason: fmt.Sprintf("%s exists", field)}, nil
		}
	}

	if cond.Is != nil {
		expected := normalize(cond.Is.V)
		if !deepEqual(coerce(value, expected), expected) {
			return Result{Satisfied: false, Reason: fmt.Sprintf("%s !== %s", field, formatLit(expected))}, nil
		}
	}

	if cond.IsNot != nil {
		expected := normalize(cond.IsNot.V)
		if deepEqual(coerce(value, expected), expected) {
			return Result{Satisfied: false, Reason: fmt.Sprintf("%s === %s", field, formatLit(expected))}, nil
		}
	}

	if cond.Contains != nil {
		res := evalContains(field, value, cond.Contains.V)
		if !res.Satisfied {
			return res, nil
		}
	}

	if res, done := evalComparisons(field, cond, value); done {
		return res, nil
	}

	if cond.Matches != "" {
		re, err := regexp.Compile(cond.Matches)
		if err != nil {
			return Result{}, &Error{Code: CodeInvalidPattern, Msg: fmt.Sprintf("pattern %q: %v", cond.Matches, err)}
		}
		s, ok := value.(string)
		if !ok {
			return Result{Satisfied: false, Reason: fmt.Sprintf("%s is not a string", field)}, nil
		}
		if !re.MatchString(s) {
			return Result{Satisfied: false, Reason: fmt.Sprintf("%s does not match %q", field, cond.Matches)}, nil
		}
	}

	return Result{Satisfied: true, Reason: fmt.Sprintf("%s satisfied", field)}, nil
}

// evalContains handles substring match on strings and deep-equal membership
// on arrays. An empty string pattern matches any string.
func evalContains(field string, value, operand interface{}) Result {
	switch v := normalize(value).(type) {
	case string:
		needle, ok := normalize(operand).(string)
		if !ok {
			return Result{Satisfied: false, Reason: fmt.Sprintf("%s is a string but operand is not", field)}
		}
		if !strings.Contains(v, needle) {
			return Result{Satisfied: false, Reason: fmt.Sprintf("%s does not contain %s", field, formatLit(needle))}
		}
	case []interface{}:
		for _, elem := range v {
			if deepEqual(elem, operand) {
				return Result{Satisfied: true}
			}
		}
		return Result{Satisfied: false, Reason: fmt.Sprintf("%s does not contain %s", field, formatLit(operand))}
	default:
		return Result{Satisfied: false, Reason: fmt.Sprintf("%s is neither string nor array", field)}
	}
	return Result{Satisfied: true}
}

// evalComparisons applies the numeric inequality operators. The boolean
// return is true when a comparison decided the clause (failed); satisfied
// comparisons fall through to the remaining operators.
func evalComparisons(field string, cond *Condition, value interface{}) (Result, bool) {
	type cmp struct {
		operand *float64
		op      string
		hold    func(a, b float64) bool
	}
	checks := []cmp{
		{cond.GreaterThan, ">", func(a, b float64) bool { return a > b }},
		{cond.LessThan, "<", func(a, b float64) bool { return a < b }},
		{cond.GreaterOrEqual, ">=", func(a, b float64) bool { return a >= b }},
		{cond.LessOrEqual, "<=", func(a, b float64) bool { return a <= b }},
	}

	for _, c := range checks {
		if c.operand == nil {
			continue
		}
		n, ok := toNumber(value)
		if !ok {
			return Result{Satisfied: false, Reason: fmt.Sprintf("%s is not numeric", field)}, true
		}
		if !c.hold(n, *c.operand) {
			return Result{
				Satisfied: false,
				Reason:    fmt.Sprintf("%s not %s %s", field, c.op, formatLit(*c.operand)),
			}, true
		}
	}
	return Result{}, false
}

// soleOperator reports whether Exists is the only operator on the clause.
func soleOperator(cond *Condition) bool {
	return cond.Is == nil && cond.IsNot == nil && cond.Contains == nil &&
		cond.GreaterThan == nil && cond.LessThan == nil &&
		cond.GreaterOrEqual == nil && cond.LessOrEqual == nil &&
		cond.Matches == ""
}

// fieldName returns the last path segment without brackets, used for stable
// reason strings.
func fieldName(when string) string {
	last := when
	if dot := strings.LastIndex(when, "."); dot >= 0 {
		last = when[dot+1:]
	}
	if open := strings.Index(last, "["); open >= 0 {
		last = last[:open]
	}
	return last
}

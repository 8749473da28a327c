// Package dryrun checks condition coverage without touching a provider.
// Synthetic cases supply artifact values, every condition clause of the tree
// is evaluated across its dimension coordinates, and the report flags clauses
// that never flipped outcome or never varied along an indexed dimension.
package dryrun

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/reelforge/reelforge/pkg/blueprint"
	"github.com/reelforge/reelforge/pkg/conditions"
	"github.com/reelforge/reelforge/pkg/engine"
	"github.com/reelforge/reelforge/pkg/ident"
)

// Case maps canonical decomposed artifact ids to synthetic values for one
// dry-run pass.
type Case struct {
	Name   string                 `json:"name"`
	Values map[string]interface{} `json:"values"`
}

// Gap reports one missing piece of coverage, shaped like the diagnostics of
// a failed artifact event so tooling can render both uniformly.
type Gap struct {
	ErrorCode    string                 `json:"errorCode"`
	Message      string                 `json:"message"`
	CausedByUser bool                   `json:"causedByUser"`
	Raw          map[string]interface{} `json:"raw,omitempty"`
}

// Coverage gap codes.
const (
	GapNoTrueOutcome  = "COVERAGE_NO_TRUE"
	GapNoFalseOutcome = "COVERAGE_NO_FALSE"
	GapNoVariation    = "COVERAGE_NO_VARIATION"
)

// FieldCoverage aggregates what the cases exercised for one condition clause.
type FieldCoverage struct {
	// When is the clause path, qualified from the tree root.
	When string `json:"when"`

	// Operator is the clause's primary operator name.
	Operator string `json:"operator"`

	// MatchedArtifacts counts the distinct coordinate combinations that
	// resolved to a value in at least one case.
	MatchedArtifacts int `json:"matchedArtifacts"`

	// ObservedValues lists the distinct resolved values in first-seen order.
	ObservedValues []interface{} `json:"observedValues,omitempty"`

	TrueOutcomeObserved  bool `json:"trueOutcomeObserved"`
	FalseOutcomeObserved bool `json:"falseOutcomeObserved"`

	// DimensionVariation is true for a dimension when two observations with
	// differing coordinates on it produced differing outcomes.
	DimensionVariation map[string]bool `json:"dimensionVariation,omitempty"`
}

// Report is the outcome of one dry-run pass over the tree.
type Report struct {
	Cases  int             `json:"cases"`
	Fields []FieldCoverage `json:"fields"`
	Gaps   []Gap           `json:"gaps,omitempty"`
}

// Covered reports whether every clause met the coverage requirement.
func (r *Report) Covered() bool {
	return len(r.Gaps) == 0
}

// Validator evaluates condition coverage for a blueprint tree.
type Validator struct {
	logger zerolog.Logger
}

// New creates a dry-run validator.
func New(logger zerolog.Logger) *Validator {
	return &Validator{logger: logger}
}

// clause is one leaf condition clause collected from the tree, its When
// qualified from the root.
type clause struct {
	cond *conditions.Condition
	dims []string
}

// Run evaluates every condition clause of the tree against the cases. dims
// maps loop dimension names to their cardinality.
func (v *Validator) Run(ctx context.Context, tree *blueprint.Tree, dims map[string]int, cases []Case) (*Report, error) {
	clauses, err := collectClauses(tree)
	if err != nil {
		return nil, err
	}

	report := &Report{Cases: len(cases)}
	for _, cl := range clauses {
		cov, gaps := v.measure(ctx, cl, dims, cases)
		report.Fields = append(report.Fields, cov)
		report.Gaps = append(report.Gaps, gaps...)
	}

	sort.Slice(report.Fields, func(i, j int) bool {
		a, b := report.Fields[i], report.Fields[j]
		if a.When != b.When {
			return a.When < b.When
		}
		return a.Operator < b.Operator
	})

	v.logger.Info().
		Int("clauses", len(clauses)).
		Int("cases", len(cases)).
		Int("gaps", len(report.Gaps)).
		Msg("dry-run coverage pass complete")
	return report, nil
}

type observation struct {
	coords    map[string]int
	satisfied bool
}

func (v *Validator) measure(ctx context.Context, cl clause, dims map[string]int, cases []Case) (FieldCoverage, []Gap) {
	cov := FieldCoverage{
		When:               cl.cond.When,
		Operator:           operatorName(cl.cond),
		DimensionVariation: make(map[string]bool),
	}

	combos, err := enumerate(cl.dims, dims)
	if err != nil {
		return cov, []Gap{{
			ErrorCode:    conditions.CodeUnboundDimension,
			Message:      err.Error(),
			CausedByUser: true,
			Raw:          map[string]interface{}{"when": cl.cond.When},
		}}
	}

	matched := make(map[string]bool)
	var observations []observation

	for _, c := range cases {
		for _, combo := range combos {
			scope := &conditions.Scope{Indices: combo, Source: caseSource{values: c.Values}}

			value, found, err := conditions.ResolvePath(ctx, cl.cond.When, scope)
			if err != nil {
				return cov, []Gap{evalGap(cl.cond.When, err)}
			}
			if found {
				matched[comboKey(cl.dims, combo)] = true
				cov.ObservedValues = appendDistinct(cov.ObservedValues, value)
			}

			res, err := conditions.Evaluate(ctx, cl.cond, scope)
			if err != nil {
				return cov, []Gap{evalGap(cl.cond.When, err)}
			}
			if res.Satisfied {
				cov.TrueOutcomeObserved = true
			} else {
				cov.FalseOutcomeObserved = true
			}
			observations = append(observations, observation{coords: combo, satisfied: res.Satisfied})
		}
	}

	cov.MatchedArtifacts = len(matched)
	for _, dim := range cl.dims {
		cov.DimensionVariation[dim] = variesAlong(observations, dim)
	}

	return cov, coverageGaps(cl, dims, cov)
}

// coverageGaps derives the required-coverage violations for one clause. A
// clause that never matched any artifact reports that alone; outcome and
// variation gaps would only restate it.
func coverageGaps(cl clause, dims map[string]int, cov FieldCoverage) []Gap {
	raw := map[string]interface{}{"when": cov.When, "operator": cov.Operator}

	if cov.MatchedArtifacts == 0 {
		return []Gap{{
			ErrorCode:    engine.ErrCodeMissingArtifact,
			Message:      fmt.Sprintf("condition %q never matched an artifact value", cov.When),
			CausedByUser: true,
			Raw:          raw,
		}}
	}

	var gaps []Gap
	if !cov.TrueOutcomeObserved {
		gaps = append(gaps, Gap{
			ErrorCode:    GapNoTrueOutcome,
			Message:      fmt.Sprintf("condition %q was never satisfied by any case", cov.When),
			CausedByUser: true,
			Raw:          raw,
		})
	}
	if !cov.FalseOutcomeObserved {
		gaps = append(gaps, Gap{
			ErrorCode:    GapNoFalseOutcome,
			Message:      fmt.Sprintf("condition %q was never unsatisfied by any case", cov.When),
			CausedByUser: true,
			Raw:          raw,
		})
	}
	for _, dim := range cl.dims {
		if dims[dim] > 1 && !cov.DimensionVariation[dim] {
			gaps = append(gaps, Gap{
				ErrorCode:    GapNoVariation,
				Message:      fmt.Sprintf("condition %q never varied along dimension %q", cov.When, dim),
				CausedByUser: true,
				Raw:          map[string]interface{}{"when": cov.When, "dimension": dim},
			})
		}
	}
	return gaps
}

// variesAlong reports whether two observations with differing coordinates on
// the dimension produced differing outcomes.
func variesAlong(observations []observation, dim string) bool {
	for i := range observations {
		for j := i + 1; j < len(observations); j++ {
			a, b := observations[i], observations[j]
			if a.coords[dim] != b.coords[dim] && a.satisfied != b.satisfied {
				return true
			}
		}
	}
	return false
}

func evalGap(when string, err error) Gap {
	code := engine.ErrCodeValidation
	var cerr *conditions.Error
	if errors.As(err, &cerr) {
		code = cerr.Code
	}
	return Gap{
		ErrorCode:    code,
		Message:      err.Error(),
		CausedByUser: true,
		Raw:          map[string]interface{}{"when": when},
	}
}

// collectClauses gathers every leaf clause referenced by the tree's edges,
// qualified from the root and deduplicated by path and operator.
func collectClauses(tree *blueprint.Tree) ([]clause, error) {
	var clauses []clause
	seen := make(map[string]bool)

	err := tree.Walk(func(n *blueprint.Node) error {
		for _, edge := range n.Document.Connections {
			cond, err := edgeCondition(n.Document, edge)
			if err != nil {
				return err
			}
			if cond == nil {
				continue
			}
			for _, leaf := range flatten(cond) {
				qualified, err := qualifyClause(n, leaf)
				if err != nil {
					return err
				}
				key := qualified.cond.When + "\x00" + operatorName(qualified.cond)
				if seen[key] {
					continue
				}
				seen[key] = true
				clauses = append(clauses, qualified)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clauses, nil
}

// edgeCondition resolves an edge's condition: a named reference under the
// document's conditions key, or the inline set.
func edgeCondition(doc *blueprint.Document, edge blueprint.EdgeDef) (*conditions.Condition, error) {
	if edge.If != "" {
		cond, ok := doc.Conditions[edge.If]
		if !ok {
			return nil, engine.NewUserInputError(
				fmt.Sprintf("edge %s -> %s references unknown condition %q", edge.From, edge.To, edge.If), nil).
				WithCode(engine.ErrCodeUnknownRef)
		}
		return cond, nil
	}
	if edge.Conditions != nil {
		return edge.Conditions.Cond, nil
	}
	return nil, nil
}

// flatten walks a condition group down to its leaf clauses.
func flatten(cond *conditions.Condition) []*conditions.Condition {
	if cond == nil {
		return nil
	}
	if !cond.IsGroup() {
		return []*conditions.Condition{cond}
	}
	var leaves []*conditions.Condition
	for _, child := range cond.All {
		leaves = append(leaves, flatten(child)...)
	}
	for _, child := range cond.Any {
		leaves = append(leaves, flatten(child)...)
	}
	return leaves
}

// qualifyClause prefixes the declaring node's alias path onto the clause's
// when path and extracts its symbolic dimensions.
func qualifyClause(n *blueprint.Node, leaf *conditions.Condition) (clause, error) {
	qualified := *leaf
	if len(n.AliasPath) > 0 {
		qualified.When = strings.Join(n.AliasPath, ".") + "." + leaf.When
	}

	ref, err := blueprint.ParseRef(qualified.When)
	if err != nil {
		return clause{}, engine.NewUserInputError(
			fmt.Sprintf("condition path %q is malformed", qualified.When), err).
			WithCode(engine.ErrCodeValidation)
	}
	return clause{cond: &qualified, dims: symbolicDims(ref)}, nil
}

// symbolicDims returns the non-numeric dimension symbols of a reference in
// order of appearance.
func symbolicDims(ref blueprint.Ref) []string {
	var dims []string
	for _, dim := range ref.Dims() {
		if !isNumeric(dim) {
			dims = append(dims, dim)
		}
	}
	return dims
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// enumerate builds every coordinate combination of the named dimensions.
// Dimensions absent from dims are an error; a zero cardinality yields no
// combinations.
func enumerate(dimNames []string, dims map[string]int) ([]map[string]int, error) {
	combos := []map[string]int{{}}
	for _, name := range dimNames {
		card, ok := dims[name]
		if !ok {
			return nil, engine.NewUserInputError(
				fmt.Sprintf("dimension %q has no known cardinality", name), nil).
				WithCode(engine.ErrCodeMissingInput)
		}
		var next []map[string]int
		for _, combo := range combos {
			for i := 0; i < card; i++ {
				extended := make(map[string]int, len(combo)+1)
				for k, v := range combo {
					extended[k] = v
				}
				extended[name] = i
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos, nil
}

func comboKey(dimNames []string, combo map[string]int) string {
	parts := make([]string, 0, len(dimNames))
	for _, name := range dimNames {
		parts = append(parts, fmt.Sprintf("%s=%d", name, combo[name]))
	}
	return strings.Join(parts, ",")
}

func appendDistinct(values []interface{}, value interface{}) []interface{} {
	for _, existing := range values {
		if reflect.DeepEqual(existing, value) {
			return values
		}
	}
	return append(values, value)
}

// operatorName returns the clause's primary operator for reporting.
func operatorName(c *conditions.Condition) string {
	switch {
	case c.Is != nil:
		return "is"
	case c.IsNot != nil:
		return "isNot"
	case c.Contains != nil:
		return "contains"
	case c.GreaterThan != nil:
		return "greaterThan"
	case c.LessThan != nil:
		return "lessThan"
	case c.GreaterOrEqual != nil:
		return "greaterOrEqual"
	case c.LessOrEqual != nil:
		return "lessOrEqual"
	case c.Exists != nil:
		return "exists"
	case c.Matches != "":
		return "matches"
	default:
		return "none"
	}
}

// caseSource resolves artifact values out of a case's value map. Both the
// decomposed and composite lookups key on the canonical id string, so a case
// may supply per-leaf values, whole json artifacts, or a mix.
type caseSource struct {
	values map[string]interface{}
}

func (s caseSource) DecomposedValue(_ context.Context, id ident.ID) (interface{}, bool, error) {
	v, ok := s.values[id.String()]
	return v, ok, nil
}

func (s caseSource) CompositeValue(_ context.Context, id ident.ID) (interface{}, bool, error) {
	v, ok := s.values[id.String()]
	return v, ok, nil
}

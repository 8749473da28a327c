// Package conditions implements the typed predicate language evaluated
// against resolved artifact values. A condition is either a single clause
// binding a `when` path to one or more operators, or a group combining child
// conditions with all/any semantics.
package conditions

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Condition is a clause or a group. A clause sets When plus at least one
// operator field; a group sets All and/or Any. The two shapes are mutually
// exclusive.
type Condition struct {
	// When is the dotted value path this clause binds to, with optional
	// bracketed dimension symbols (e.g. "Script.Segments[segment].HasAudio").
	When string `yaml:"when,omitempty" json:"when,omitempty"`

	// Is asserts deep equality after coercion.
	Is *Value `yaml:"is,omitempty" json:"is,omitempty"`

	// IsNot asserts the negation of Is.
	IsNot *Value `yaml:"isNot,omitempty" json:"isNot,omitempty"`

	// Contains asserts substring match on strings or deep-equal membership
	// on arrays.
	Contains *Value `yaml:"contains,omitempty" json:"contains,omitempty"`

	// Numeric strict inequalities. The clause fails when either side is
	// non-numeric after coercion.
	GreaterThan    *float64 `yaml:"greaterThan,omitempty" json:"greaterThan,omitempty"`
	LessThan       *float64 `yaml:"lessThan,omitempty" json:"lessThan,omitempty"`
	GreaterOrEqual *float64 `yaml:"greaterOrEqual,omitempty" json:"greaterOrEqual,omitempty"`
	LessOrEqual    *float64 `yaml:"lessOrEqual,omitempty" json:"lessOrEqual,omitempty"`

	// Exists asserts value presence (true) or absence (false). Falsy scalars
	// like 0, "" and false still count as present.
	Exists *bool `yaml:"exists,omitempty" json:"exists,omitempty"`

	// Matches asserts a regular expression match on the string value.
	Matches string `yaml:"matches,omitempty" json:"matches,omitempty"`

	// All children must hold (logical AND). An empty All is true.
	All []*Condition `yaml:"all,omitempty" json:"all,omitempty"`

	// Any child must hold (logical OR). An empty Any with no All is true.
	Any []*Condition `yaml:"any,omitempty" json:"any,omitempty"`
}

// Value wraps an untyped JSON-like operand so clause operators can
// distinguish "absent" from "explicit null".
type Value struct {
	V interface{}
}

// UnmarshalYAML decodes any scalar, sequence or mapping operand.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v.V = normalize(raw)
	return nil
}

// MarshalYAML emits the wrapped operand.
func (v Value) MarshalYAML() (interface{}, error) {
	return v.V, nil
}

// IsGroup reports whether the condition is a group rather than a clause.
func (c *Condition) IsGroup() bool {
	return len(c.All) > 0 || len(c.Any) > 0
}

// hasOperator reports whether the clause sets at least one operator.
func (c *Condition) hasOperator() bool {
	return c.Is != nil || c.IsNot != nil || c.Contains != nil ||
		c.GreaterThan != nil || c.LessThan != nil ||
		c.GreaterOrEqual != nil || c.LessOrEqual != nil ||
		c.Exists != nil || c.Matches != ""
}

// Validate checks the clause/group shape.
func (c *Condition) Validate() error {
	if c == nil {
		return fmt.Errorf("nil condition")
	}
	if c.IsGroup() {
		if c.When != "" || c.hasOperator() {
			return fmt.Errorf("condition mixes group and clause fields")
		}
		for _, child := range append(append([]*Condition{}, c.All...), c.Any...) {
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil
	}
	if c.When == "" {
		return fmt.Errorf("clause is missing when path")
	}
	if !c.hasOperator() {
		return fmt.Errorf("clause %q has no operator", c.When)
	}
	return nil
}

// Set is the YAML shape used for inline `conditions` on an edge: either a
// single clause/group mapping or a sequence of clauses (implicit AND).
type Set struct {
	Cond *Condition
}

// UnmarshalYAML accepts a mapping or a sequence of mappings.
func (s *Set) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var c Condition
		if err := node.Decode(&c); err != nil {
			return err
		}
		s.Cond = &c
		return nil
	case yaml.SequenceNode:
		var clauses []*Condition
		if err := node.Decode(&clauses); err != nil {
			return err
		}
		// A bare list of clauses is implicit AND.
		s.Cond = &Condition{All: clauses}
		return nil
	default:
		return fmt.Errorf("conditions must be a mapping or a sequence")
	}
}

// normalize rewrites decoded YAML values into the canonical runtime value
// model: nil, bool, float64, string, []interface{}, map[string]interface{}.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[fmt.Sprintf("%v", k)] = normalize(e)
		}
		return out
	default:
		return v
	}
}

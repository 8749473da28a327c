package conditions

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"gopkg.in/yaml.v3"

	"github.com/reelforge/reelforge/pkg/ident"
)

// mapSource is an in-memory ValueSource keyed by canonical id strings.
type mapSource struct {
	decomposed map[string]interface{}
	composite  map[string]interface{}
}

func (m *mapSource) DecomposedValue(_ context.Context, id ident.ID) (interface{}, bool, error) {
	v, ok := m.decomposed[id.String()]
	return v, ok, nil
}

func (m *mapSource) CompositeValue(_ context.Context, id ident.ID) (interface{}, bool, error) {
	v, ok := m.composite[id.String()]
	return v, ok, nil
}

func scopeWith(src *mapSource, indices map[string]int) *Scope {
	return &Scope{Indices: indices, Source: src}
}

func boolPtr(b bool) *bool      { return &b }
func f64Ptr(f float64) *float64 { return &f }
func val(v interface{}) *Value  { return &Value{V: normalize(v)} }

func TestEvaluate_IsAgainstComposite(t *testing.T) {
	src := &mapSource{
		composite: map[string]interface{}{
			"Artifact:A.Output": map[string]interface{}{"HasAudio": false},
		},
	}
	cond := &Condition{When: "A.Output.HasAudio", Is: val(true)}

	res, err := Evaluate(context.Background(), cond, scopeWith(src, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Satisfied {
		t.Fatal("expected unsatisfied")
	}
	if res.Reason != "HasAudio !== true" {
		t.Errorf("unexpected reason: %q", res.Reason)
	}
}

func TestEvaluate_DecomposedWinsOverComposite(t *testing.T) {
	src := &mapSource{
		decomposed: map[string]interface{}{
			"Artifact:P.Script.Segments.HasTransition[1]": "true",
		},
		composite: map[string]interface{}{
			"Artifact:P.Script": map[string]interface{}{
				"Segments": []interface{}{
					map[string]interface{}{"HasTransition": false},
					map[string]interface{}{"HasTransition": false},
				},
			},
		},
	}
	cond := &Condition{When: "P.Script.Segments[segment].HasTransition", Is: val(true)}

	res, err := Evaluate(context.Background(), cond, scopeWith(src, map[string]int{"segment": 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Satisfied {
		t.Errorf("decomposed text \"true\" should coerce and satisfy, got %q", res.Reason)
	}
}

func TestEvaluate_TextPlainCoercion(t *testing.T) {
	src := &mapSource{decomposed: map[string]interface{}{
		"Artifact:P.Script.Count": "3",
		"Artifact:P.Script.Flag":  "false",
		"Artifact:P.Script.Word":  "maybe",
	}}
	scope := scopeWith(src, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"numeric string equals number", &Condition{When: "P.Script.Count", Is: val(3)}, true},
		{"numeric string comparison", &Condition{When: "P.Script.Count", GreaterThan: f64Ptr(2)}, true},
		{"numeric string strict", &Condition{When: "P.Script.Count", LessThan: f64Ptr(3)}, false},
		{"bool string equals bool", &Condition{When: "P.Script.Flag", Is: val(false)}, true},
		{"bool string isNot", &Condition{When: "P.Script.Flag", IsNot: val(true)}, true},
		{"non-matching string fails", &Condition{When: "P.Script.Word", Is: val(true)}, false},
		{"non-numeric comparison fails", &Condition{When: "P.Script.Word", GreaterThan: f64Ptr(0)}, false},
	}
	for _, tc := range cases {
		res, err := Evaluate(ctx, tc.cond, scope)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if res.Satisfied != tc.want {
			t.Errorf("%s: satisfied=%v want %v (reason %q)", tc.name, res.Satisfied, tc.want, res.Reason)
		}
	}
}

func TestEvaluate_Exists(t *testing.T) {
	src := &mapSource{composite: map[string]interface{}{
		"Artifact:A.Out": map[string]interface{}{
			"Zero":  float64(0),
			"Empty": "",
			"Off":   false,
			"Null":  nil,
		},
	}}
	scope := scopeWith(src, nil)
	ctx := context.Background()

	for _, field := range []string{"Zero", "Empty", "Off"} {
		res, err := Evaluate(ctx, &Condition{When: "A.Out." + field, Exists: boolPtr(true)}, scope)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Satisfied {
			t.Errorf("falsy scalar %s should satisfy exists:true (%s)", field, res.Reason)
		}
	}

	res, err := Evaluate(ctx, &Condition{When: "A.Out.Null", Exists: boolPtr(false)}, scope)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Satisfied {
		t.Errorf("explicit null should satisfy exists:false (%s)", res.Reason)
	}

	res, err = Evaluate(ctx, &Condition{When: "A.Out.Missing", Exists: boolPtr(false)}, scope)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Satisfied {
		t.Errorf("missing path should satisfy exists:false (%s)", res.Reason)
	}

	res, err = Evaluate(ctx, &Condition{When: "B.Gone.Field", Is: val(1)}, scope)
	if err != nil {
		t.Fatal(err)
	}
	if res.Satisfied || res.Reason != "not found" {
		t.Errorf("missing composite should fail with reason \"not found\", got %q", res.Reason)
	}
}

func TestEvaluate_Contains(t *testing.T) {
	src := &mapSource{composite: map[string]interface{}{
		"Artifact:A.Out": map[string]interface{}{
			"Title": "the quick fox",
			"Tags":  []interface{}{"intro", map[string]interface{}{"k": float64(1)}},
		},
	}}
	scope := scopeWith(src, nil)
	ctx := context.Background()

	cases := []struct {
		cond *Condition
		want bool
	}{
		{&Condition{When: "A.Out.Title", Contains: val("quick")}, true},
		{&Condition{When: "A.Out.Title", Contains: val("")}, true},
		{&Condition{When: "A.Out.Title", Contains: val("slow")}, false},
		{&Condition{When: "A.Out.Tags", Contains: val("intro")}, true},
		{&Condition{When: "A.Out.Tags", Contains: val(map[string]interface{}{"k": 1})}, true},
		{&Condition{When: "A.Out.Tags", Contains: val("outro")}, false},
	}
	for i, tc := range cases {
		res, err := Evaluate(ctx, tc.cond, scope)
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if res.Satisfied != tc.want {
			t.Errorf("case %d: satisfied=%v want %v (%s)", i, res.Satisfied, tc.want, res.Reason)
		}
	}
}

func TestEvaluate_InvalidPattern(t *testing.T) {
	src := &mapSource{composite: map[string]interface{}{
		"Artifact:A.Out": map[string]interface{}{"S": "abc"},
	}}
	_, err := Evaluate(context.Background(),
		&Condition{When: "A.Out.S", Matches: "["}, scopeWith(src, nil))
	var ee *Error
	if !errors.As(err, &ee) || ee.Code != CodeInvalidPattern {
		t.Fatalf("expected INVALID_PATTERN, got %v", err)
	}
}

func TestEvaluate_UnboundDimension(t *testing.T) {
	src := &mapSource{}
	_, err := Evaluate(context.Background(),
		&Condition{When: "A.Out[segment].S", Exists: boolPtr(true)}, scopeWith(src, nil))
	var ee *Error
	if !errors.As(err, &ee) || ee.Code != CodeUnboundDimension {
		t.Fatalf("expected UNBOUND_DIMENSION, got %v", err)
	}
}

func TestEvaluate_Groups(t *testing.T) {
	src := &mapSource{composite: map[string]interface{}{
		"Artifact:A.Out": map[string]interface{}{"X": float64(5), "Y": "no"},
	}}
	scope := scopeWith(src, nil)
	ctx := context.Background()

	xOK := &Condition{When: "A.Out.X", Is: val(5)}
	xBad := &Condition{When: "A.Out.X", Is: val(6)}
	yBad := &Condition{When: "A.Out.Y", Is: val("yes")}

	cases := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"empty all", &Condition{All: []*Condition{}}, true},
		{"all pass", &Condition{All: []*Condition{xOK}}, true},
		{"all short-circuit", &Condition{All: []*Condition{xBad, yBad}}, false},
		{"any pass", &Condition{Any: []*Condition{xBad, xOK}}, true},
		{"any fail", &Condition{Any: []*Condition{xBad, yBad}}, false},
		{"both must hold", &Condition{All: []*Condition{xOK}, Any: []*Condition{xBad}}, false},
		{"both hold", &Condition{All: []*Condition{xOK}, Any: []*Condition{yBad, xOK}}, true},
	}
	for _, tc := range cases {
		res, err := Evaluate(ctx, tc.cond, scope)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if res.Satisfied != tc.want {
			t.Errorf("%s: satisfied=%v want %v (%s)", tc.name, res.Satisfied, tc.want, res.Reason)
		}
	}
}

// is and isNot must be exact negations for any scalar operand and value.
func TestIsIsNotNegationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	scalarGen := gen.OneGenOf(
		gen.AlphaString(),
		gen.Float64Range(-1e6, 1e6),
		gen.Bool(),
	)

	properties.Property("is(v) xor isNot(v)", prop.ForAll(
		func(stored, operand interface{}) bool {
			src := &mapSource{composite: map[string]interface{}{
				"Artifact:A.Out": map[string]interface{}{"F": stored},
			}}
			scope := scopeWith(src, nil)
			ctx := context.Background()

			isRes, err := Evaluate(ctx, &Condition{When: "A.Out.F", Is: val(operand)}, scope)
			if err != nil {
				return false
			}
			notRes, err := Evaluate(ctx, &Condition{When: "A.Out.F", IsNot: val(operand)}, scope)
			if err != nil {
				return false
			}
			return isRes.Satisfied != notRes.Satisfied
		},
		scalarGen, scalarGen,
	))

	properties.TestingRun(t)
}

func TestSet_UnmarshalYAML(t *testing.T) {
	var single Set
	if err := yaml.Unmarshal([]byte("when: A.Out.X\nis: 1\n"), &single); err != nil {
		t.Fatal(err)
	}
	if single.Cond == nil || single.Cond.When != "A.Out.X" {
		t.Fatalf("unexpected condition: %+v", single.Cond)
	}

	var list Set
	doc := "- when: A.Out.X\n  is: 1\n- when: A.Out.Y\n  exists: true\n"
	if err := yaml.Unmarshal([]byte(doc), &list); err != nil {
		t.Fatal(err)
	}
	if list.Cond == nil || len(list.Cond.All) != 2 {
		t.Fatalf("sequence should become implicit AND, got %+v", list.Cond)
	}

	var bad Set
	if err := yaml.Unmarshal([]byte("42\n"), &bad); err == nil {
		t.Fatal("scalar conditions should be rejected")
	}
}

func TestCondition_Validate(t *testing.T) {
	if err := (&Condition{When: "A.B.C", Is: val(1)}).Validate(); err != nil {
		t.Errorf("valid clause rejected: %v", err)
	}
	if err := (&Condition{When: "A.B.C"}).Validate(); err == nil {
		t.Error("clause without operator accepted")
	}
	if err := (&Condition{}).Validate(); err == nil {
		t.Error("empty condition accepted")
	}
	if err := (&Condition{When: "A.B.C", Is: val(1), All: []*Condition{{When: "X.Y.Z", Is: val(2)}}}).Validate(); err == nil {
		t.Error("mixed clause/group accepted")
	}
}

package blueprint

import (
	"strings"
	"testing"
)

func loadForValidation(t *testing.T, rootYAML string, extra map[string]string) *Tree {
	t.Helper()
	reader := MemReader{"root.yaml": rootYAML}
	for path, doc := range extra {
		reader[path] = doc
	}
	if _, ok := reader["leaf.yaml"]; !ok {
		reader["leaf.yaml"] = `
meta: {id: leaf}
inputs:
  - name: In
    type: string
  - name: Items
    type: array
    fanIn: true
artifacts:
  - name: Out
    type: string
`
	}
	tree, err := LoadTree("root.yaml", reader)
	if err != nil {
		t.Fatalf("LoadTree() error = %v", err)
	}
	return tree
}

func findError(report *Report, kind ErrorKind, fragment string) bool {
	for _, e := range report.Errors {
		if e.Kind == kind && strings.Contains(e.Msg, fragment) {
			return true
		}
	}
	return false
}

func TestValidateCleanTree(t *testing.T) {
	tree := loadForValidation(t, `
meta: {id: root}
inputs:
  - name: Topic
    type: string
  - name: NumSegments
    type: int
loops:
  - name: segment
    countInput: NumSegments
producers:
  - alias: P
    path: leaf.yaml
connections:
  - from: Topic
    to: P.In
`, nil)

	report := NewValidator().Validate(tree)
	if !report.OK() {
		t.Fatalf("expected clean report, got errors %v", report.Errors)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name     string
		root     string
		kind     ErrorKind
		fragment string
	}{
		{
			name: "unknown producer alias in edge",
			root: `
meta: {id: root}
inputs:
  - name: Topic
    type: string
producers:
  - alias: P
    path: leaf.yaml
connections:
  - from: Topic
    to: Ghost.In
`,
			kind:     KindMissingReference,
			fragment: "unknown producer alias",
		},
		{
			name: "unknown artifact across import boundary",
			root: `
meta: {id: root}
inputs:
  - name: Topic
    type: string
producers:
  - alias: P
    path: leaf.yaml
connections:
  - from: P.Missing
    to: P.In
`,
			kind:     KindMissingReference,
			fragment: "declares no artifact",
		},
		{
			name: "unknown input across import boundary",
			root: `
meta: {id: root}
inputs:
  - name: Topic
    type: string
producers:
  - alias: P
    path: leaf.yaml
connections:
  - from: Topic
    to: P.Missing
`,
			kind:     KindMissingReference,
			fragment: "declares no input",
		},
		{
			name: "unknown loop dimension",
			root: `
meta: {id: root}
inputs:
  - name: Topic
    type: string
producers:
  - alias: P
    path: leaf.yaml
connections:
  - from: P.Out[ghost]
    to: P.In
`,
			kind:     KindMissingReference,
			fragment: "unknown loop dimension",
		},
		{
			name: "loop countInput not declared",
			root: `
meta: {id: root}
inputs:
  - name: Topic
    type: string
loops:
  - name: segment
    countInput: NumSegments
producers:
  - alias: P
    path: leaf.yaml
connections:
  - from: Topic
    to: P.In
`,
			kind:     KindMissingReference,
			fragment: "not a declared input",
		},
		{
			name: "collector groupBy not a loop",
			root: `
meta: {id: root}
inputs:
  - name: Topic
    type: string
producers:
  - alias: P
    path: leaf.yaml
connections:
  - from: Topic
    to: P.In
  - from: P.Out
    to: P.Items
collectors:
  - from: P.Out
    into: P.Items
    groupBy: ghost
`,
			kind:     KindMissingReference,
			fragment: "not a declared loop",
		},
		{
			name: "collector without matching connection",
			root: `
meta: {id: root}
inputs:
  - name: Topic
    type: string
  - name: N
    type: int
loops:
  - name: segment
    countInput: N
producers:
  - alias: P
    path: leaf.yaml
connections:
  - from: Topic
    to: P.In
collectors:
  - from: P.Out
    into: P.Items
    groupBy: segment
`,
			kind:     KindMissingReference,
			fragment: "no matching connection",
		},
		{
			name: "collector into non-fanIn input",
			root: `
meta: {id: root}
inputs:
  - name: N
    type: int
loops:
  - name: segment
    countInput: N
producers:
  - alias: P
    path: leaf.yaml
connections:
  - from: P.Out
    to: P.In
collectors:
  - from: P.Out
    into: P.In
    groupBy: segment
`,
			kind:     KindSchemaError,
			fragment: "not declared fanIn",
		},
		{
			name: "condition references unknown producer",
			root: `
meta: {id: root}
inputs:
  - name: Topic
    type: string
producers:
  - alias: P
    path: leaf.yaml
connections:
  - from: Topic
    to: P.In
    conditions:
      when: Ghost.Out
      is: true
`,
			kind:     KindMissingReference,
			fragment: "unknown producer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := loadForValidation(t, tt.root, nil)
			report := NewValidator().Validate(tree)
			if report.OK() {
				t.Fatal("expected validation errors, got clean report")
			}
			if !findError(report, tt.kind, tt.fragment) {
				t.Errorf("no %s error containing %q; got %v", tt.kind, tt.fragment, report.Errors)
			}
		})
	}
}

func TestValidateConditionDownstreamProducer(t *testing.T) {
	tree := loadForValidation(t, `
meta: {id: root}
inputs:
  - name: Topic
    type: string
producers:
  - alias: A
    path: leaf.yaml
  - alias: B
    path: leaf.yaml
  - alias: C
    path: leaf.yaml
connections:
  - from: Topic
    to: A.In
  - from: A.Out
    to: B.In
    conditions:
      when: C.Out
      is: true
  - from: B.Out
    to: C.In
`, nil)

	report := NewValidator().Validate(tree)
	if !findError(report, KindSchemaError, "downstream") {
		t.Errorf("expected downstream-producer error, got %v", report.Errors)
	}
}

func TestValidateWarnings(t *testing.T) {
	tree := loadForValidation(t, `
meta: {id: root}
inputs:
  - name: Topic
    type: string
  - name: Unused
    type: string
artifacts:
  - name: Final
    type: video
producers:
  - alias: P
    path: leaf.yaml
  - alias: Orphan
    path: leaf.yaml
connections:
  - from: Topic
    to: P.In
`, nil)

	report := NewValidator().Validate(tree)
	if !report.OK() {
		t.Fatalf("expected no errors, got %v", report.Errors)
	}

	var unusedInput, unfedArtifact, unreachable bool
	for _, w := range report.Warnings {
		switch {
		case w.Ref == "Unused":
			unusedInput = true
		case w.Ref == "Final":
			unfedArtifact = true
		case w.Ref == "Orphan":
			unreachable = true
		}
	}
	if !unusedInput {
		t.Error("missing unused-input warning")
	}
	if !unfedArtifact {
		t.Error("missing unfed-artifact warning")
	}
	if !unreachable {
		t.Error("missing unreachable-producer warning")
	}
}

package blueprint

import (
	"fmt"
	"strings"

	"github.com/reelforge/reelforge/pkg/conditions"
)

// Warning is a non-blocking finding from validation.
type Warning struct {
	// Path is the source path of the document.
	Path string `json:"path"`

	// Ref is the symbol the warning concerns.
	Ref string `json:"ref"`

	// Msg describes the finding.
	Msg string `json:"msg"`
}

// Report is the outcome of validating a tree. Errors block planning;
// warnings are informational.
type Report struct {
	Errors   []*Error  `json:"errors,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// OK reports whether the tree can be planned.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Validator performs cross-reference checks over a loaded tree: edges,
// collectors, loops and conditions must all resolve to declared symbols, and
// references across an import boundary must match the child document's
// declared slots.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks every node of the tree and returns the combined report.
func (v *Validator) Validate(tree *Tree) *Report {
	report := &Report{}
	_ = tree.Walk(func(n *Node) error {
		v.checkNode(tree, n, report)
		return nil
	})
	return report
}

// nodeSymbols indexes the declared names of one document.
type nodeSymbols struct {
	inputs    map[string]*InputDef
	artifacts map[string]*ArtifactDef
	loops     map[string]*LoopDef
	aliases   map[string]bool
}

func indexSymbols(doc *Document) *nodeSymbols {
	syms := &nodeSymbols{
		inputs:    make(map[string]*InputDef, len(doc.Inputs)),
		artifacts: make(map[string]*ArtifactDef, len(doc.Artifacts)),
		loops:     make(map[string]*LoopDef, len(doc.Loops)),
		aliases:   make(map[string]bool, len(doc.Producers)),
	}
	for i := range doc.Inputs {
		syms.inputs[doc.Inputs[i].Name] = &doc.Inputs[i]
	}
	for i := range doc.Artifacts {
		syms.artifacts[doc.Artifacts[i].Name] = &doc.Artifacts[i]
	}
	for i := range doc.Loops {
		syms.loops[doc.Loops[i].Name] = &doc.Loops[i]
	}
	for i := range doc.Producers {
		syms.aliases[doc.Producers[i].Alias] = true
	}
	return syms
}

func (v *Validator) checkNode(tree *Tree, n *Node, report *Report) {
	doc := n.Document
	syms := indexSymbols(doc)
	path := doc.SourcePath

	for i := range doc.Loops {
		loop := &doc.Loops[i]
		if _, ok := syms.inputs[loop.CountInput]; !ok {
			report.Errors = append(report.Errors, newError(KindMissingReference, path, loop.Name,
				"loop countInput %q is not a declared input", loop.CountInput))
		}
		if loop.Parent != "" {
			if _, ok := syms.loops[loop.Parent]; !ok {
				report.Errors = append(report.Errors, newError(KindMissingReference, path, loop.Name,
					"loop parent %q is not a declared loop", loop.Parent))
			}
		}
	}

	usedInputs := make(map[string]bool, len(doc.Inputs))
	fedSlots := make(map[string]bool)
	for i := range doc.Connections {
		edge := &doc.Connections[i]
		v.checkEndpoint(tree, n, syms, edge.From, true, usedInputs, report)
		v.checkEndpoint(tree, n, syms, edge.To, false, usedInputs, report)
		if to, err := ParseRef(edge.To); err == nil {
			fedSlots[to.Raw] = true
		}
		if edge.If != "" {
			if _, ok := doc.Conditions[edge.If]; !ok {
				report.Errors = append(report.Errors, newError(KindMissingReference, path, edge.If,
					"edge references undeclared condition %q", edge.If))
			}
		}
		v.checkConditionPaths(tree, n, syms, edge, report)
	}

	for i := range doc.Collectors {
		v.checkCollector(tree, n, syms, &doc.Collectors[i], report)
	}

	// Loop and artifact count inputs count as usage.
	for i := range doc.Loops {
		usedInputs[doc.Loops[i].CountInput] = true
	}
	for i := range doc.Artifacts {
		if doc.Artifacts[i].CountInput != "" {
			usedInputs[doc.Artifacts[i].CountInput] = true
		}
		for _, decl := range doc.Artifacts[i].Arrays {
			usedInputs[decl.CountInput] = true
		}
	}

	if !doc.IsLeaf() {
		for i := range doc.Inputs {
			if !usedInputs[doc.Inputs[i].Name] {
				report.Warnings = append(report.Warnings, Warning{Path: path, Ref: doc.Inputs[i].Name,
					Msg: "input is never referenced by an edge, loop or collector"})
			}
		}
		for i := range doc.Artifacts {
			if !fedSlots[doc.Artifacts[i].Name] {
				report.Warnings = append(report.Warnings, Warning{Path: path, Ref: doc.Artifacts[i].Name,
					Msg: "artifact has no incoming edge"})
			}
		}
		v.checkReachability(n, report)
	}
}

// checkEndpoint resolves one edge endpoint against the declaring document and,
// across an import boundary, against the child document's slots.
func (v *Validator) checkEndpoint(tree *Tree, n *Node, syms *nodeSymbols, raw string, isSource bool,
	usedInputs map[string]bool, report *Report) {

	doc := n.Document
	path := doc.SourcePath

	ref, err := ParseRef(raw)
	if err != nil {
		report.Errors = append(report.Errors, newError(KindSchemaError, path, raw,
			"invalid reference: %v", err))
		return
	}

	for _, dim := range ref.Dims() {
		if !v.dimensionKnown(tree, n, syms, ref, dim) {
			report.Errors = append(report.Errors, newError(KindMissingReference, path, raw,
				"unknown loop dimension %q", dim))
		}
	}

	if ref.IsLocal() {
		name := ref.Segments[0].Name
		_, isInput := syms.inputs[name]
		_, isArtifact := syms.artifacts[name]
		if !isInput && !isArtifact {
			report.Errors = append(report.Errors, newError(KindMissingReference, path, raw,
				"reference names no declared input or artifact"))
			return
		}
		if isInput && isSource {
			usedInputs[name] = true
		}
		return
	}

	alias := ref.Alias()
	child, ok := tree.Child(n, alias)
	if !ok {
		report.Errors = append(report.Errors, newError(KindMissingReference, path, raw,
			"unknown producer alias %q", alias))
		return
	}

	slot := ref.Segments[1].Name
	if isSource {
		if _, ok := child.Document.Artifact(slot); !ok {
			report.Errors = append(report.Errors, newError(KindMissingReference, path, raw,
				"producer %q declares no artifact %q", alias, slot))
		}
	} else {
		if _, ok := child.Document.Input(slot); !ok {
			report.Errors = append(report.Errors, newError(KindMissingReference, path, raw,
				"producer %q declares no input %q", alias, slot))
		}
	}
}

// dimensionKnown reports whether a bracketed symbol is a declared loop of the
// declaring document or a dimension synthesized by decomposition of the
// referenced artifact.
func (v *Validator) dimensionKnown(tree *Tree, n *Node, syms *nodeSymbols, ref Ref, dim string) bool {
	if _, ok := syms.loops[dim]; ok {
		return true
	}

	var art *ArtifactDef
	if ref.IsLocal() {
		art = syms.artifacts[ref.Segments[0].Name]
	} else if child, ok := tree.Child(n, ref.Alias()); ok && len(ref.Segments) > 1 {
		art, _ = child.Document.Artifact(ref.Segments[1].Name)
	}
	if art == nil {
		return false
	}
	leaves, err := Decompose(art)
	if err != nil {
		return false
	}
	for _, leaf := range leaves {
		for _, d := range leaf.Dimensions {
			if d.Name == dim {
				return true
			}
		}
	}
	return false
}

func (v *Validator) checkCollector(tree *Tree, n *Node, syms *nodeSymbols, col *CollectorDef, report *Report) {
	doc := n.Document
	path := doc.SourcePath
	label := col.Name
	if label == "" {
		label = col.Into
	}

	if _, ok := syms.loops[col.GroupBy]; !ok {
		report.Errors = append(report.Errors, newError(KindMissingReference, path, label,
			"collector groupBy %q is not a declared loop", col.GroupBy))
	}
	if col.OrderBy != "" {
		if _, ok := syms.loops[col.OrderBy]; !ok {
			report.Errors = append(report.Errors, newError(KindMissingReference, path, label,
				"collector orderBy %q is not a declared loop", col.OrderBy))
		}
	}

	intoRef, err := ParseRef(col.Into)
	if err != nil {
		report.Errors = append(report.Errors, newError(KindSchemaError, path, col.Into,
			"invalid collector into reference: %v", err))
		return
	}
	if !intoRef.IsLocal() {
		if child, ok := tree.Child(n, intoRef.Alias()); ok {
			if in, ok := child.Document.Input(intoRef.Segments[1].Name); ok && !in.FanIn {
				report.Errors = append(report.Errors, newError(KindSchemaError, path, label,
					"collector target input %q is not declared fanIn", col.Into))
			}
		}
	}

	// Fan-in needs both the collector and a connection carrying the data.
	matched := false
	for i := range doc.Connections {
		edge := &doc.Connections[i]
		if baseRef(edge.From) == baseRef(col.From) && baseRef(edge.To) == baseRef(col.Into) {
			matched = true
			break
		}
	}
	if !matched {
		report.Errors = append(report.Errors, newError(KindMissingReference, path, label,
			"collector has no matching connection from %q to %q", col.From, col.Into))
	}
}

// checkConditionPaths verifies that every condition on an edge names a known
// producer and does not read a producer downstream of the edge's target.
func (v *Validator) checkConditionPaths(tree *Tree, n *Node, syms *nodeSymbols, edge *EdgeDef, report *Report) {
	doc := n.Document
	path := doc.SourcePath

	var cond *conditions.Condition
	if edge.Conditions != nil {
		cond = edge.Conditions.Cond
	} else if edge.If != "" {
		cond = doc.Conditions[edge.If]
	}
	if cond == nil {
		return
	}

	toRef, err := ParseRef(edge.To)
	if err != nil {
		return
	}
	targetAlias := toRef.Alias()

	downstream := v.downstreamAliases(doc, targetAlias)

	walkConditionPaths(cond, func(when string) {
		ref, err := ParseRef(when)
		if err != nil || ref.IsLocal() {
			return
		}
		alias := ref.Alias()
		if !syms.aliases[alias] {
			report.Errors = append(report.Errors, newError(KindMissingReference, path, when,
				"condition references unknown producer %q", alias))
			return
		}
		if downstream[alias] {
			report.Errors = append(report.Errors, newError(KindSchemaError, path, when,
				"condition reads producer %q downstream of %q", alias, targetAlias))
		}
	})
}

// walkConditionPaths visits every when path in a condition, groups included.
func walkConditionPaths(cond *conditions.Condition, fn func(when string)) {
	if cond == nil {
		return
	}
	if cond.When != "" {
		fn(cond.When)
	}
	for _, child := range cond.All {
		walkConditionPaths(child, fn)
	}
	for _, child := range cond.Any {
		walkConditionPaths(child, fn)
	}
}

// downstreamAliases computes the producer aliases reachable from start
// through the document's edges.
func (v *Validator) downstreamAliases(doc *Document, start string) map[string]bool {
	if start == "" {
		return nil
	}
	adj := make(map[string][]string)
	for i := range doc.Connections {
		from, errF := ParseRef(doc.Connections[i].From)
		to, errT := ParseRef(doc.Connections[i].To)
		if errF != nil || errT != nil {
			continue
		}
		fa, ta := from.Alias(), to.Alias()
		if fa != "" && ta != "" && fa != ta {
			adj[fa] = append(adj[fa], ta)
		}
	}
	reach := make(map[string]bool)
	stack := append([]string(nil), adj[start]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reach[cur] {
			continue
		}
		reach[cur] = true
		stack = append(stack, adj[cur]...)
	}
	return reach
}

// checkReachability warns about child producers nothing feeds and nothing
// collects from.
func (v *Validator) checkReachability(n *Node, report *Report) {
	doc := n.Document
	fed := make(map[string]bool)
	for i := range doc.Connections {
		if to, err := ParseRef(doc.Connections[i].To); err == nil {
			fed[to.Alias()] = true
		}
	}
	for i := range doc.Collectors {
		if into, err := ParseRef(doc.Collectors[i].Into); err == nil {
			fed[into.Alias()] = true
		}
	}
	for i := range doc.Producers {
		alias := doc.Producers[i].Alias
		if !fed[alias] {
			report.Warnings = append(report.Warnings, Warning{Path: doc.SourcePath, Ref: alias,
				Msg: fmt.Sprintf("producer %q has no incoming edge and no collector target", alias)})
		}
	}
}

// baseRef strips bracketed dimensions from a reference for matching.
func baseRef(raw string) string {
	var b strings.Builder
	depth := 0
	for _, r := range raw {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		default:
			if depth == 0 {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/reelforge/reelforge/pkg/blueprint"
	"github.com/reelforge/reelforge/pkg/conditions"
	"github.com/reelforge/reelforge/pkg/ident"
	"github.com/reelforge/reelforge/pkg/storage"
)

// Planner expands a blueprint tree into an execution plan: loop dimensions
// become concrete job coordinates, edges become job dependencies and Kahn
// layers order the work. Planning is deterministic: the same tree, inputs,
// base manifest and scope yield the same job ids and layer indices.
type Planner struct {
	logger zerolog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(logger zerolog.Logger) *Planner {
	return &Planner{logger: logger}
}

// BuildPlan produces the layered plan for one run. The base manifest, when
// present, supplies the base revision the new plan builds on. Planner errors
// abort the plan; no partial plan is returned.
func (p *Planner) BuildPlan(ctx context.Context, tree *blueprint.Tree, inputs Inputs,
	movieID string, base *storage.Manifest, scope Scope) (*ExecutionPlan, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	baseRevision := ""
	baseHash := ""
	if base != nil {
		baseRevision = base.Revision
		baseHash = manifestHash(base)
	}

	b := &planBuilder{
		tree:         tree,
		baseRevision: baseRevision,
		produced:     make(map[string]string),
		producedBase: make(map[string][]string),
		jobIndex:     make(map[string]int),
	}

	if err := b.planNode(tree.Root(), nil, map[string]interface{}(inputs)); err != nil {
		return nil, err
	}

	layers, err := NewDAGBuilder().Build(b.jobs)
	if err != nil {
		return nil, err
	}

	plan := &ExecutionPlan{
		MovieID:             movieID,
		Revision:            storage.NextRevision(baseRevision),
		BaseRevision:        baseRevision,
		BaseManifestHash:    baseHash,
		Jobs:                b.jobs,
		Layers:              indexLayers(layers, b.jobIndex),
		BlueprintLayerCount: len(layers),
	}

	if err := p.applyScope(plan, scope); err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("movie_id", movieID).
		Str("revision", plan.Revision).
		Int("jobs", len(plan.Jobs)).
		Int("layers", len(plan.Layers)).
		Str("scope", string(scope.Kind)).
		Msg("plan built")
	return plan, nil
}

// planBuilder accumulates jobs while walking the tree.
type planBuilder struct {
	tree         *blueprint.Tree
	baseRevision string

	jobs     []JobDescriptor
	jobIndex map[string]int

	// produced maps canonical artifact ids to the job id producing them.
	produced map[string]string

	// producedBase maps an indexless artifact id to every producing job.
	producedBase map[string][]string
}

// planNode plans one orchestration document: its leaf children become jobs,
// non-leaf children recurse with their bound literal inputs.
func (b *planBuilder) planNode(node *blueprint.Node, prefix []string, nodeInputs map[string]interface{}) error {
	doc := node.Document

	counts, err := b.loopCounts(doc, nodeInputs)
	if err != nil {
		return err
	}

	// First pass: create every job of this document so sibling dependencies
	// resolve regardless of declaration order.
	type leafExpansion struct {
		alias string
		child *blueprint.Node
		dims  []string
	}
	var leaves []leafExpansion
	for _, alias := range sortedAliases(node.Children) {
		child, _ := b.tree.Child(node, alias)
		if !child.Document.IsLeaf() {
			childInputs, err := b.literalChildInputs(doc, alias, nodeInputs)
			if err != nil {
				return err
			}
			if err := b.planNode(child, append(append([]string(nil), prefix...), alias), childInputs); err != nil {
				return err
			}
			continue
		}
		dims := b.childDims(doc, alias)
		if err := b.createLeafJobs(doc, child, prefix, alias, dims, counts); err != nil {
			return err
		}
		leaves = append(leaves, leafExpansion{alias: alias, child: child, dims: dims})
	}

	// Second pass: wire inputs, dependencies, conditions and collectors.
	for _, leaf := range leaves {
		if err := b.wireLeafJobs(doc, leaf.child, prefix, leaf.alias, leaf.dims, counts, nodeInputs); err != nil {
			return err
		}
	}
	return nil
}

// loopCounts resolves every loop dimension of the document to its concrete
// count, applying countInputOffset.
func (b *planBuilder) loopCounts(doc *blueprint.Document, nodeInputs map[string]interface{}) (map[string]int, error) {
	counts := make(map[string]int, len(doc.Loops))
	for i := range doc.Loops {
		loop := &doc.Loops[i]
		raw, ok := nodeInputs[loop.CountInput]
		if !ok {
			return nil, NewUserInputError(
				fmt.Sprintf("loop %q has no value for countInput %q", loop.Name, loop.CountInput), nil).
				WithCode(ErrCodeMissingInput)
		}
		count, ok := toCount(raw)
		if !ok || count < 0 {
			return nil, NewUserInputError(
				fmt.Sprintf("loop %q countInput %q is not a non-negative integer", loop.Name, loop.CountInput), nil).
				WithCode(ErrCodeValidation)
		}
		count -= loop.CountInputOffset
		if count < 0 {
			count = 0
		}
		counts[loop.Name] = count
	}
	return counts, nil
}

// childDims collects the loop dimensions a producer is instantiated over:
// every bracketed symbol on an edge touching the alias, closed over loop
// parents, ordered parents first.
func (b *planBuilder) childDims(doc *blueprint.Document, alias string) []string {
	seen := make(map[string]bool)
	for i := range doc.Connections {
		for _, raw := range []string{doc.Connections[i].From, doc.Connections[i].To} {
			ref, err := blueprint.ParseRef(raw)
			if err != nil || ref.Alias() != alias {
				continue
			}
			for _, dim := range ref.Dims() {
				if _, isLoop := doc.Loop(dim); isLoop {
					seen[dim] = true
				}
			}
		}
	}

	// Close over parents so nested loops carry their outer coordinate.
	for changed := true; changed; {
		changed = false
		for dim := range seen {
			if loop, ok := doc.Loop(dim); ok && loop.Parent != "" && !seen[loop.Parent] {
				seen[loop.Parent] = true
				changed = true
			}
		}
	}

	var dims []string
	for dim := range seen {
		dims = append(dims, dim)
	}
	sort.Slice(dims, func(i, j int) bool {
		di, dj := loopDepth(doc, dims[i]), loopDepth(doc, dims[j])
		if di != dj {
			return di < dj
		}
		return dims[i] < dims[j]
	})
	return dims
}

func loopDepth(doc *blueprint.Document, name string) int {
	depth := 0
	for {
		loop, ok := doc.Loop(name)
		if !ok || loop.Parent == "" {
			return depth
		}
		name = loop.Parent
		depth++
	}
}

// createLeafJobs emits one job per coordinate in the cartesian product of the
// child's dimensions and registers every produced artifact id.
func (b *planBuilder) createLeafJobs(doc *blueprint.Document, child *blueprint.Node,
	prefix []string, alias string, dims []string, counts map[string]int) error {

	path := append(append([]string(nil), prefix...), alias)
	producer := strings.Join(path, ".")

	var model *blueprint.ModelDef
	if len(child.Document.Models) > 0 {
		model = &child.Document.Models[0]
	}
	var config map[string]interface{}
	if imp, ok := doc.Import(alias); ok {
		config = imp.Config
	}

	for _, coords := range cartesian(dims, counts) {
		job := JobDescriptor{
			ID:       jobID(producer, coords, b.baseRevision),
			Producer: producer,
			Indices:  coords,
			Config:   config,
		}
		if model != nil {
			job.Provider = model.Provider
			job.Model = model.Model
			job.RateKey = model.Provider + "/" + model.Model
		}

		indices := coordIndices(dims, coords)
		for i := range child.Document.Artifacts {
			art := &child.Document.Artifacts[i]
			id := ident.Artifact(path, art.Name, indices...)
			job.Produces = append(job.Produces, id.String())
			b.produced[id.String()] = job.ID
			base := ident.Artifact(path, art.Name).String()
			b.producedBase[base] = append(b.producedBase[base], job.ID)
		}

		b.jobIndex[job.ID] = len(b.jobs)
		b.jobs = append(b.jobs, job)
	}
	return nil
}

// wireLeafJobs binds inputs, dependencies, conditions and fan-in collectors
// onto the jobs created for one leaf producer.
func (b *planBuilder) wireLeafJobs(doc *blueprint.Document, child *blueprint.Node,
	prefix []string, alias string, dims []string, counts map[string]int,
	nodeInputs map[string]interface{}) error {

	path := append(append([]string(nil), prefix...), alias)
	producer := strings.Join(path, ".")

	collectors := make(map[string]*blueprint.CollectorDef)
	for i := range doc.Collectors {
		col := &doc.Collectors[i]
		ref, err := blueprint.ParseRef(col.Into)
		if err == nil && !ref.IsLocal() && ref.Alias() == alias {
			collectors[ref.Segments[1].Name] = col
		}
	}

	for _, coords := range cartesian(dims, counts) {
		id := jobID(producer, coords, b.baseRevision)
		job := &b.jobs[b.jobIndex[id]]

		for i := range doc.Connections {
			edge := &doc.Connections[i]
			toRef, err := blueprint.ParseRef(edge.To)
			if err != nil || toRef.Alias() != alias {
				continue
			}
			inputName := toRef.Segments[1].Name
			inputDef, ok := child.Document.Input(inputName)
			if !ok {
				return NewUserInputError(
					fmt.Sprintf("producer %q declares no input %q", alias, inputName), nil).
					WithCode(ErrCodeUnknownRef)
			}
			inputID := ident.Input(path, inputName).String()

			if inputDef.FanIn {
				col, ok := collectors[inputName]
				if !ok {
					return NewUserInputError(
						fmt.Sprintf("fan-in input %q has no collector", edge.To), nil).
						WithCode(ErrCodeUnknownRef)
				}
				binding, deps, err := b.collectFanIn(doc, prefix, col, coords, counts)
				if err != nil {
					return err
				}
				binding.InputID = inputID
				job.Inputs = append(job.Inputs, binding)
				job.DependsOn = mergeDeps(job.DependsOn, deps)
			} else {
				binding, dep, err := b.resolveSource(doc, prefix, edge.From, coords, nodeInputs)
				if err != nil {
					return err
				}
				binding.InputID = inputID
				job.Inputs = append(job.Inputs, binding)
				if dep != "" && dep != job.ID {
					job.DependsOn = mergeDeps(job.DependsOn, []string{dep})
				}
			}

			if cond := edgeCondition(doc, edge); cond != nil {
				job.InputConditions = append(job.InputConditions, JobCondition{
					Condition: cond,
					Indices:   mergeIndices(sourceIndices(edge.From, coords), coords),
					Source:    edge.From,
				})
			}
		}

		// Required inputs with no incoming edge fall back to a same-named
		// run input; a miss is the user's to fix.
		for i := range child.Document.Inputs {
			in := &child.Document.Inputs[i]
			inputID := ident.Input(path, in.Name).String()
			if hasBinding(job.Inputs, inputID) {
				continue
			}
			if value, ok := nodeInputs[in.Name]; ok {
				job.Inputs = append(job.Inputs, InputBinding{InputID: inputID, Value: value})
				continue
			}
			if in.Required {
				return NewUserInputError(
					fmt.Sprintf("required input %q of producer %q is unbound", in.Name, alias), nil).
					WithCode(ErrCodeMissingInput).WithProducer(alias)
			}
		}
	}
	return nil
}

// resolveSource resolves an edge source at the target's coordinate: a local
// input yields a literal value, a producer artifact yields an artifact
// reference plus a dependency. A local artifact follows its feeding edge.
func (b *planBuilder) resolveSource(doc *blueprint.Document, prefix []string,
	from string, coords map[string]int, nodeInputs map[string]interface{}) (InputBinding, string, error) {

	ref, err := blueprint.ParseRef(from)
	if err != nil {
		return InputBinding{}, "", NewUserInputError("invalid edge source", err).WithCode(ErrCodeUnknownRef)
	}

	if ref.IsLocal() {
		name := ref.Segments[0].Name
		if value, ok := nodeInputs[name]; ok {
			return InputBinding{Value: value}, "", nil
		}
		if _, isArtifact := doc.Artifact(name); isArtifact {
			// A local artifact is fed by some producer edge; follow it.
			for i := range doc.Connections {
				toRef, err := blueprint.ParseRef(doc.Connections[i].To)
				if err == nil && toRef.IsLocal() && toRef.Segments[0].Name == name {
					return b.resolveSource(doc, prefix, doc.Connections[i].From, coords, nodeInputs)
				}
			}
		}
		if _, isInput := doc.Input(name); isInput {
			return InputBinding{}, "", NewUserInputError(
				fmt.Sprintf("input %q has no value", name), nil).WithCode(ErrCodeMissingInput)
		}
		return InputBinding{}, "", NewUserInputError(
			fmt.Sprintf("unknown edge source %q", from), nil).WithCode(ErrCodeUnknownRef)
	}

	srcPath := append(append([]string(nil), prefix...), ref.Alias())
	indices, err := projectIndices(ref, coords)
	if err != nil {
		return InputBinding{}, "", err
	}
	artifactID := ident.Artifact(srcPath, ref.Segments[1].Name, indices...)

	dep := b.produced[artifactID.String()]
	if dep == "" {
		// Producer instantiated without the edge's dims: fall back to its
		// indexless instance.
		dep = b.produced[artifactID.Base().String()]
	}
	if dep == "" {
		return InputBinding{}, "", NewUserInputError(
			fmt.Sprintf("edge source %q resolves to no produced artifact", from), nil).
			WithCode(ErrCodeUnknownRef)
	}
	return InputBinding{ArtifactID: artifactID.String()}, dep, nil
}

// collectFanIn builds the ordered fan-in sequence for a collector at the
// consuming job's coordinate: one entry per index of the groupBy loop.
func (b *planBuilder) collectFanIn(doc *blueprint.Document, prefix []string,
	col *blueprint.CollectorDef, coords map[string]int, counts map[string]int) (InputBinding, []string, error) {

	fromRef, err := blueprint.ParseRef(col.From)
	if err != nil || fromRef.IsLocal() {
		return InputBinding{}, nil, NewUserInputError(
			fmt.Sprintf("collector source %q is not a producer artifact", col.From), nil).
			WithCode(ErrCodeUnknownRef)
	}

	groupCount, ok := counts[col.GroupBy]
	if !ok {
		return InputBinding{}, nil, NewUserInputError(
			fmt.Sprintf("collector groupBy %q is not a resolved loop", col.GroupBy), nil).
			WithCode(ErrCodeUnknownRef)
	}

	srcPath := append(append([]string(nil), prefix...), fromRef.Alias())
	binding := InputBinding{}
	var deps []string
	for i := 0; i < groupCount; i++ {
		merged := mergeIndices(coords, map[string]int{col.GroupBy: i})
		indices, err := projectIndices(fromRef, merged)
		if err != nil {
			return InputBinding{}, nil, err
		}
		artifactID := ident.Artifact(srcPath, fromRef.Segments[1].Name, indices...)
		dep := b.produced[artifactID.String()]
		if dep == "" {
			return InputBinding{}, nil, NewUserInputError(
				fmt.Sprintf("collector source %q has no producer at %s=%d", col.From, col.GroupBy, i), nil).
				WithCode(ErrCodeUnknownRef)
		}
		binding.FanIn = append(binding.FanIn, artifactID.String())
		deps = append(deps, dep)
	}
	return binding, deps, nil
}

// literalChildInputs resolves the literal input values bound onto a non-leaf
// child via edges from this document's inputs.
func (b *planBuilder) literalChildInputs(doc *blueprint.Document, alias string,
	nodeInputs map[string]interface{}) (map[string]interface{}, error) {

	childInputs := make(map[string]interface{})
	for i := range doc.Connections {
		toRef, err := blueprint.ParseRef(doc.Connections[i].To)
		if err != nil || toRef.Alias() != alias {
			continue
		}
		fromRef, err := blueprint.ParseRef(doc.Connections[i].From)
		if err != nil || !fromRef.IsLocal() {
			continue
		}
		if value, ok := nodeInputs[fromRef.Segments[0].Name]; ok {
			childInputs[toRef.Segments[1].Name] = value
		}
	}
	return childInputs, nil
}

// applyScope narrows the plan after layering.
func (p *Planner) applyScope(plan *ExecutionPlan, scope Scope) error {
	switch scope.Kind {
	case "", ScopeFull:
		return nil

	case ScopeUpToLayer:
		if scope.Layer < 0 || scope.Layer >= len(plan.Layers) {
			return NewUserInputError(
				fmt.Sprintf("upToLayer %d outside plan with %d layers", scope.Layer, len(plan.Layers)), nil).
				WithCode(ErrCodeValidation)
		}
		plan.Layers = plan.Layers[:scope.Layer+1]
		return nil

	case ScopeReRunFrom:
		if scope.Layer < 0 || scope.Layer >= len(plan.Layers) {
			return NewUserInputError(
				fmt.Sprintf("reRunFrom %d outside plan with %d layers", scope.Layer, len(plan.Layers)), nil).
				WithCode(ErrCodeValidation)
		}
		// Lower layers keep their slots but contribute no work.
		for i := 0; i < scope.Layer; i++ {
			plan.Layers[i] = nil
		}
		return nil

	case ScopeSurgical:
		return p.applySurgicalScope(plan, scope.ArtifactIDs)

	default:
		return NewUserInputError(fmt.Sprintf("unknown scope kind %q", scope.Kind), nil).
			WithCode(ErrCodeValidation)
	}
}

// applySurgicalScope keeps exactly the jobs producing the targets plus their
// downstream closure. Layer indices stay aligned with the full plan.
func (p *Planner) applySurgicalScope(plan *ExecutionPlan, targets []string) error {
	producing := make(map[string]int, len(plan.Jobs))
	dependents := make(map[string][]int)
	jobAt := make(map[string]int, len(plan.Jobs))
	for i := range plan.Jobs {
		jobAt[plan.Jobs[i].ID] = i
		for _, id := range plan.Jobs[i].Produces {
			producing[id] = i
		}
	}
	for i := range plan.Jobs {
		for _, dep := range plan.Jobs[i].DependsOn {
			if j, ok := jobAt[dep]; ok {
				dependents[plan.Jobs[j].ID] = append(dependents[plan.Jobs[j].ID], i)
			}
		}
	}

	keep := make(map[int]bool)
	var stack []int
	for _, target := range targets {
		idx, ok := producing[target]
		if !ok {
			// Decomposed leaf ids nest under a composite artifact.
			idx, ok = producingComposite(plan, target)
		}
		if !ok {
			return NewUserInputError(
				fmt.Sprintf("no job produces artifact %q", target), nil).
				WithCode(ErrCodeMissingArtifact)
		}
		plan.Surgical = append(plan.Surgical, SurgicalTarget{ArtifactID: target, JobID: plan.Jobs[idx].ID})
		stack = append(stack, idx)
	}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if keep[idx] {
			continue
		}
		keep[idx] = true
		for _, dep := range dependents[plan.Jobs[idx].ID] {
			stack = append(stack, dep)
		}
	}

	for i := range plan.Layers {
		var kept []int
		for _, idx := range plan.Layers[i] {
			if keep[idx] {
				kept = append(kept, idx)
			}
		}
		plan.Layers[i] = kept
	}
	return nil
}

// producingComposite matches a decomposed leaf id to the job producing its
// composite parent: the produced id whose path is a prefix of the target's.
func producingComposite(plan *ExecutionPlan, target string) (int, bool) {
	targetID, err := ident.Parse(target)
	if err != nil || targetID.Kind != ident.KindArtifact {
		return 0, false
	}
	for i := range plan.Jobs {
		for _, produced := range plan.Jobs[i].Produces {
			pid, err := ident.Parse(produced)
			if err != nil {
				continue
			}
			if isCompositePrefix(pid, targetID) {
				return i, true
			}
		}
	}
	return 0, false
}

func isCompositePrefix(composite, leaf ident.ID) bool {
	names := append(append([]string(nil), composite.Path...), composite.Name)
	leafNames := append(append([]string(nil), leaf.Path...), leaf.Name)
	if len(leafNames) <= len(names) {
		return false
	}
	for i := range names {
		if leafNames[i] != names[i] {
			return false
		}
	}
	if len(leaf.Indices) < len(composite.Indices) {
		return false
	}
	for i := range composite.Indices {
		if leaf.Indices[i] != composite.Indices[i] {
			return false
		}
	}
	return true
}

// edgeCondition resolves the condition attached to an edge: a named
// condition via if, or the inline set.
func edgeCondition(doc *blueprint.Document, edge *blueprint.EdgeDef) *conditions.Condition {
	if edge.Conditions != nil {
		return edge.Conditions.Cond
	}
	if edge.If != "" {
		return doc.Conditions[edge.If]
	}
	return nil
}

// sourceIndices extracts the coordinate the edge's bracketed source dims
// take at the target's coordinate.
func sourceIndices(from string, coords map[string]int) map[string]int {
	ref, err := blueprint.ParseRef(from)
	if err != nil {
		return nil
	}
	indices := make(map[string]int)
	for _, dim := range ref.Dims() {
		if v, ok := coords[dim]; ok {
			indices[dim] = v
		}
	}
	return indices
}

// mergeIndices merges two coordinate maps; values of dst win for shared
// dimension names.
func mergeIndices(src, dst map[string]int) map[string]int {
	merged := make(map[string]int, len(src)+len(dst))
	for k, v := range src {
		merged[k] = v
	}
	for k, v := range dst {
		merged[k] = v
	}
	return merged
}

// projectIndices maps a reference's bracketed dims to concrete indices from
// a coordinate map, in appearance order.
func projectIndices(ref blueprint.Ref, coords map[string]int) ([]int, error) {
	var indices []int
	for _, dim := range ref.Dims() {
		v, ok := coords[dim]
		if !ok {
			return nil, NewUserInputError(
				fmt.Sprintf("dimension %q is unbound at %q", dim, ref.Raw), nil).
				WithCode(ErrCodeUnknownRef)
		}
		indices = append(indices, v)
	}
	return indices, nil
}

// cartesian enumerates every coordinate of the given dims in row-major
// order, outermost dim varying slowest. Zero dims yield one empty
// coordinate; a zero-count dim yields none.
func cartesian(dims []string, counts map[string]int) []map[string]int {
	result := []map[string]int{{}}
	for _, dim := range dims {
		count := counts[dim]
		var next []map[string]int
		for _, base := range result {
			for i := 0; i < count; i++ {
				coords := make(map[string]int, len(base)+1)
				for k, v := range base {
					coords[k] = v
				}
				coords[dim] = i
				next = append(next, coords)
			}
		}
		result = next
	}
	return result
}

// coordIndices projects a coordinate map onto dim order.
func coordIndices(dims []string, coords map[string]int) []int {
	indices := make([]int, 0, len(dims))
	for _, dim := range dims {
		indices = append(indices, coords[dim])
	}
	return indices
}

// jobID derives the stable job id from producer, sorted coordinates and base
// revision.
func jobID(producer string, coords map[string]int, baseRevision string) string {
	id := producer
	if len(coords) > 0 {
		id += "[" + formatIndices(coords) + "]"
	}
	if baseRevision != "" {
		id += "@" + baseRevision
	}
	return id
}

func sortedAliases(children map[string]int) []string {
	aliases := make([]string, 0, len(children))
	for alias := range children {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

func hasBinding(bindings []InputBinding, inputID string) bool {
	for i := range bindings {
		if bindings[i].InputID == inputID {
			return true
		}
	}
	return false
}

func mergeDeps(deps []string, add []string) []string {
	for _, dep := range add {
		found := false
		for _, existing := range deps {
			if existing == dep {
				found = true
				break
			}
		}
		if !found {
			deps = append(deps, dep)
		}
	}
	return deps
}

// indexLayers converts layered job ids to layered indices into the job
// arena.
func indexLayers(layers [][]string, jobIndex map[string]int) [][]int {
	result := make([][]int, len(layers))
	for i, ids := range layers {
		for _, id := range ids {
			result[i] = append(result[i], jobIndex[id])
		}
	}
	return result
}

// manifestHash fingerprints a manifest by its canonical JSON encoding.
func manifestHash(m *storage.Manifest) string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// toCount accepts the integer shapes YAML and JSON decoding produce.
func toCount(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
		return 0, false
	default:
		return 0, false
	}
}

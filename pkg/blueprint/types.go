// Package blueprint loads and links the YAML blueprint tree that drives a
// pipeline run. A blueprint document declares inputs, artifacts, loop
// dimensions, producer imports, connections, collectors and named
// conditions; imports nest documents into a tree namespaced by the alias
// chosen at each import site.
package blueprint

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reelforge/reelforge/pkg/conditions"
)

// ValueType tokens accepted for inputs and artifacts.
var ValueTypes = map[string]bool{
	"string": true, "int": true, "number": true, "boolean": true,
	"json": true, "image": true, "audio": true, "video": true,
	"binary": true, "array": true,
}

// Meta identifies a blueprint document.
type Meta struct {
	ID          string `yaml:"id" json:"id" validate:"required"`
	Name        string `yaml:"name" json:"name"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Author      string `yaml:"author,omitempty" json:"author,omitempty"`
	License     string `yaml:"license,omitempty" json:"license,omitempty"`
}

// InputDef declares an input slot on a blueprint node.
type InputDef struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Type        string `yaml:"type" json:"type" validate:"required"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// FanIn marks the input as collector-fed: it receives an ordered
	// sequence of sub-artifact ids rather than a single scalar.
	FanIn bool `yaml:"fanIn,omitempty" json:"fanIn,omitempty"`
}

// ArrayDecl maps a JSON-schema array path inside an artifact to the input
// that drives its cardinality.
type ArrayDecl struct {
	Path             string `yaml:"path" json:"path" validate:"required"`
	CountInput       string `yaml:"countInput" json:"countInput" validate:"required"`
	CountInputOffset int    `yaml:"countInputOffset,omitempty" json:"countInputOffset,omitempty"`
}

// ArtifactDef declares an output slot of a producer.
type ArtifactDef struct {
	Name        string `yaml:"name" json:"name" validate:"required"`
	Type        string `yaml:"type" json:"type" validate:"required"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	ItemType    string `yaml:"itemType,omitempty" json:"itemType,omitempty"`

	// CountInput makes the artifact array-valued along the loop dimension
	// whose cardinality the named input provides.
	CountInput       string `yaml:"countInput,omitempty" json:"countInput,omitempty"`
	CountInputOffset int    `yaml:"countInputOffset,omitempty" json:"countInputOffset,omitempty"`

	Required bool `yaml:"required,omitempty" json:"required,omitempty"`

	// Arrays declares which schema array paths decompose into per-leaf
	// blobs (json artifacts only).
	Arrays []ArrayDecl `yaml:"arrays,omitempty" json:"arrays,omitempty"`

	// Schema is the JSON schema of a json artifact, used for decomposition
	// and producer output validation.
	Schema map[string]interface{} `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// LoopDef declares a named index axis over which producers are instantiated.
type LoopDef struct {
	Name             string `yaml:"name" json:"name" validate:"required"`
	Parent           string `yaml:"parent,omitempty" json:"parent,omitempty"`
	CountInput       string `yaml:"countInput" json:"countInput" validate:"required"`
	CountInputOffset int    `yaml:"countInputOffset,omitempty" json:"countInputOffset,omitempty"`
}

// ProducerImport loads another blueprint document under a child scope keyed
// by Alias. The alias, not the imported document's internal id, is the
// canonical Producer: key.
type ProducerImport struct {
	Alias  string                 `yaml:"alias" json:"alias" validate:"required"`
	Path   string                 `yaml:"path" json:"path" validate:"required"`
	Config map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
}

// EdgeDef connects a source endpoint to a target endpoint. If and Conditions
// are mutually exclusive; If names a condition declared under the document's
// conditions key.
type EdgeDef struct {
	From       string          `yaml:"from" json:"from" validate:"required"`
	To         string          `yaml:"to" json:"to" validate:"required"`
	Note       string          `yaml:"note,omitempty" json:"note,omitempty"`
	If         string          `yaml:"if,omitempty" json:"if,omitempty"`
	Conditions *conditions.Set `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// CollectorDef gathers per-coordinate outputs of From into the fan-in input
// Into, grouped by the GroupBy loop and ordered by OrderBy (GroupBy when
// unset).
type CollectorDef struct {
	Name    string `yaml:"name" json:"name"`
	From    string `yaml:"from" json:"from" validate:"required"`
	Into    string `yaml:"into" json:"into" validate:"required"`
	GroupBy string `yaml:"groupBy" json:"groupBy" validate:"required"`
	OrderBy string `yaml:"orderBy,omitempty" json:"orderBy,omitempty"`
}

// ModelDef selects a provider model for a leaf producer.
type ModelDef struct {
	Provider string                 `yaml:"provider" json:"provider" validate:"required"`
	Model    string                 `yaml:"model" json:"model" validate:"required"`
	Config   map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
}

// Document is one parsed blueprint file, normalized from legacy synonyms.
type Document struct {
	Meta        Meta
	Inputs      []InputDef
	Artifacts   []ArtifactDef
	Loops       []LoopDef
	Producers   []ProducerImport
	Connections []EdgeDef
	Collectors  []CollectorDef
	Conditions  map[string]*conditions.Condition
	Models      []ModelDef

	// SourcePath is the absolute path the document was loaded from.
	SourcePath string
}

// documentYAML is the raw wire shape, carrying legacy synonyms
// (artefacts/artifacts, modules/producers) that are normalized away.
type documentYAML struct {
	Meta        *Meta                            `yaml:"meta"`
	Inputs      []InputDef                       `yaml:"inputs"`
	Artifacts   []ArtifactDef                    `yaml:"artifacts"`
	Artefacts   []ArtifactDef                    `yaml:"artefacts"`
	Loops       []LoopDef                        `yaml:"loops"`
	Producers   []ProducerImport                 `yaml:"producers"`
	Modules     []ProducerImport                 `yaml:"modules"`
	Connections []EdgeDef                        `yaml:"connections"`
	Collectors  []CollectorDef                   `yaml:"collectors"`
	Conditions  map[string]*conditions.Condition `yaml:"conditions"`
	Models      []ModelDef                       `yaml:"models"`
}

// UnmarshalYAML normalizes legacy synonyms while decoding.
func (d *Document) UnmarshalYAML(node *yaml.Node) error {
	var raw documentYAML
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if len(raw.Artifacts) > 0 && len(raw.Artefacts) > 0 {
		return fmt.Errorf("document declares both artifacts and artefacts")
	}
	if len(raw.Producers) > 0 && len(raw.Modules) > 0 {
		return fmt.Errorf("document declares both producers and modules")
	}

	if raw.Meta != nil {
		d.Meta = *raw.Meta
	}
	d.Inputs = raw.Inputs
	d.Artifacts = raw.Artifacts
	if len(raw.Artefacts) > 0 {
		d.Artifacts = raw.Artefacts
	}
	d.Loops = raw.Loops
	d.Producers = raw.Producers
	if len(raw.Modules) > 0 {
		d.Producers = raw.Modules
	}
	d.Connections = raw.Connections
	d.Collectors = raw.Collectors
	d.Conditions = raw.Conditions
	d.Models = raw.Models
	return nil
}

// IsLeaf reports whether the document is a leaf producer blueprint (no
// producer imports). The planner synthesizes edges for leaves: every input
// feeds the producer, the producer feeds every declared artifact.
func (d *Document) IsLeaf() bool {
	return len(d.Producers) == 0
}

// Input returns the named input definition.
func (d *Document) Input(name string) (*InputDef, bool) {
	for i := range d.Inputs {
		if d.Inputs[i].Name == name {
			return &d.Inputs[i], true
		}
	}
	return nil, false
}

// Artifact returns the named artifact definition.
func (d *Document) Artifact(name string) (*ArtifactDef, bool) {
	for i := range d.Artifacts {
		if d.Artifacts[i].Name == name {
			return &d.Artifacts[i], true
		}
	}
	return nil, false
}

// Loop returns the named loop definition.
func (d *Document) Loop(name string) (*LoopDef, bool) {
	for i := range d.Loops {
		if d.Loops[i].Name == name {
			return &d.Loops[i], true
		}
	}
	return nil, false
}

// Import returns the producer import with the given alias.
func (d *Document) Import(alias string) (*ProducerImport, bool) {
	for i := range d.Producers {
		if d.Producers[i].Alias == alias {
			return &d.Producers[i], true
		}
	}
	return nil, false
}

// Node is one linked blueprint in the tree. Nodes live in a flat arena on
// the Tree; Children maps child aliases to arena indices so the structure
// stays free of owning pointers and serializes cleanly.
type Node struct {
	// Alias is the import-site alias ("" for the root).
	Alias string `json:"alias"`

	// AliasPath is the namespace scope from the root to this node.
	AliasPath []string `json:"aliasPath"`

	// Document is the parsed blueprint document.
	Document *Document `json:"document"`

	// Children maps child alias to node index in the tree arena.
	Children map[string]int `json:"children,omitempty"`
}

// Tree is the linked blueprint tree. It is immutable after loading and safe
// to share across goroutines without locking.
type Tree struct {
	// Nodes is the flat node arena; index 0 is the root.
	Nodes []Node `json:"nodes"`
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return &t.Nodes[0]
}

// Child resolves an alias under the given node.
func (t *Tree) Child(n *Node, alias string) (*Node, bool) {
	idx, ok := n.Children[alias]
	if !ok {
		return nil, false
	}
	return &t.Nodes[idx], true
}

// NodeAt resolves an alias path from the root.
func (t *Tree) NodeAt(aliasPath []string) (*Node, bool) {
	cur := t.Root()
	for _, alias := range aliasPath {
		next, ok := t.Child(cur, alias)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Walk visits every node depth-first, root first.
func (t *Tree) Walk(fn func(n *Node) error) error {
	return t.walk(0, fn)
}

func (t *Tree) walk(idx int, fn func(n *Node) error) error {
	n := &t.Nodes[idx]
	if err := fn(n); err != nil {
		return err
	}
	// Children are visited in sorted-alias order for determinism.
	for _, alias := range sortedKeys(n.Children) {
		if err := t.walk(n.Children[alias], fn); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ref is a parsed endpoint reference from an edge, collector or condition:
// dotted segments with optional bracketed dimension symbols, e.g.
// "Script.Segments[segment].Text". A single-segment reference is local to
// the declaring document.
type Ref struct {
	Raw      string
	Segments []RefSegment
}

// RefSegment is one dotted component of a reference.
type RefSegment struct {
	Name string
	Dims []string
}

// ParseRef parses a reference string.
func ParseRef(raw string) (Ref, error) {
	if raw == "" {
		return Ref{}, fmt.Errorf("empty reference")
	}
	ref := Ref{Raw: raw}
	for _, part := range strings.Split(raw, ".") {
		seg := RefSegment{Name: part}
		if open := strings.Index(part, "["); open >= 0 {
			seg.Name = part[:open]
			rest := part[open:]
			for rest != "" {
				if rest[0] != '[' {
					return Ref{}, fmt.Errorf("malformed brackets in %q", raw)
				}
				end := strings.Index(rest, "]")
				if end < 0 {
					return Ref{}, fmt.Errorf("unbalanced bracket in %q", raw)
				}
				dim := rest[1:end]
				if dim == "" {
					return Ref{}, fmt.Errorf("empty dimension in %q", raw)
				}
				seg.Dims = append(seg.Dims, dim)
				rest = rest[end+1:]
			}
		}
		if seg.Name == "" {
			return Ref{}, fmt.Errorf("empty segment in %q", raw)
		}
		ref.Segments = append(ref.Segments, seg)
	}
	return ref, nil
}

// IsLocal reports whether the reference names a same-document input or
// artifact (no dot).
func (r Ref) IsLocal() bool {
	return len(r.Segments) == 1
}

// Alias returns the child producer alias a non-local reference targets.
func (r Ref) Alias() string {
	if r.IsLocal() {
		return ""
	}
	return r.Segments[0].Name
}

// Dims returns all dimension symbols in segment order.
func (r Ref) Dims() []string {
	var dims []string
	for _, seg := range r.Segments {
		dims = append(dims, seg.Dims...)
	}
	return dims
}

package blueprint

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Reader abstracts file access so blueprints can live on a local filesystem
// or inside storage-backed workspaces.
type Reader interface {
	// ReadFile returns the bytes of the document at path.
	ReadFile(path string) ([]byte, error)

	// Resolve turns an import reference into an absolute document path,
	// relative to the importing document.
	Resolve(base, ref string) (string, error)
}

// OSReader reads blueprint documents from the local filesystem.
type OSReader struct{}

// ReadFile implements Reader.
func (OSReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Resolve implements Reader. References are resolved relative to the
// importing document's directory.
func (OSReader) Resolve(base, ref string) (string, error) {
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref), nil
	}
	return filepath.Abs(filepath.Join(filepath.Dir(base), ref))
}

// Loader links blueprint documents into a Tree.
type Loader struct {
	reader   Reader
	validate *validator.Validate
}

// NewLoader creates a loader over the given reader.
func NewLoader(reader Reader) *Loader {
	if reader == nil {
		reader = OSReader{}
	}
	return &Loader{
		reader:   reader,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadTree loads the document at entryPath and every transitive producer
// import into an immutable Tree. Import cycles, undeclared references and
// structurally invalid documents fail with a typed *Error.
func LoadTree(entryPath string, reader Reader) (*Tree, error) {
	return NewLoader(reader).Load(entryPath)
}

// Load builds the tree rooted at entryPath.
func (l *Loader) Load(entryPath string) (*Tree, error) {
	abs, err := l.reader.Resolve(".", entryPath)
	if err != nil {
		return nil, newError(KindSchemaError, entryPath, "", "cannot resolve entry path: %v", err)
	}

	tree := &Tree{}
	visiting := make(map[string]bool)
	if _, err := l.loadNode(tree, abs, "", nil, visiting); err != nil {
		return nil, err
	}
	return tree, nil
}

// loadNode loads one document, appends its node to the arena and recurses
// into its producer imports depth-first. The visiting set tracks the current
// DFS path for cycle detection.
func (l *Loader) loadNode(tree *Tree, path, alias string, aliasPath []string, visiting map[string]bool) (int, error) {
	if visiting[path] {
		return 0, newError(KindCircularReference, path, alias, "import cycle detected")
	}
	visiting[path] = true
	defer delete(visiting, path)

	doc, err := l.parseDocument(path)
	if err != nil {
		return 0, err
	}

	idx := len(tree.Nodes)
	tree.Nodes = append(tree.Nodes, Node{
		Alias:     alias,
		AliasPath: append(append([]string(nil), aliasPath...), splitAlias(alias)...),
		Document:  doc,
	})

	if len(doc.Producers) > 0 {
		children := make(map[string]int, len(doc.Producers))
		for _, imp := range doc.Producers {
			if _, dup := children[imp.Alias]; dup {
				return 0, newError(KindSchemaError, path, imp.Alias, "duplicate producer alias")
			}
			childPath, err := l.reader.Resolve(path, imp.Path)
			if err != nil {
				return 0, newError(KindMissingReference, path, imp.Path, "cannot resolve import: %v", err)
			}
			childIdx, err := l.loadNode(tree, childPath, imp.Alias, tree.Nodes[idx].AliasPath, visiting)
			if err != nil {
				return 0, err
			}
			children[imp.Alias] = childIdx
		}
		tree.Nodes[idx].Children = children
	}

	return idx, nil
}

// parseDocument reads, decodes and structurally checks a single document.
func (l *Loader) parseDocument(path string) (*Document, error) {
	data, err := l.reader.ReadFile(path)
	if err != nil {
		return nil, newError(KindSchemaError, path, "", "cannot read document: %v", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, newError(KindSchemaError, path, "", "empty document")
		}
		return nil, newError(KindSchemaError, path, "", "invalid yaml: %v", err)
	}
	doc.SourcePath = path

	if err := l.checkDocument(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// checkDocument enforces the structural invariants every document must
// satisfy regardless of its position in the tree. Cross-document reference
// checks belong to the Validator.
func (l *Loader) checkDocument(doc *Document) error {
	path := doc.SourcePath

	if doc.Meta.ID == "" {
		return newError(KindSchemaError, path, "", "document is missing meta.id")
	}
	if len(doc.Producers) > 0 && len(doc.Models) > 0 {
		return newError(KindVersionMismatch, path, doc.Meta.ID,
			"producers and models are mutually exclusive")
	}
	if doc.IsLeaf() && len(doc.Artifacts) == 0 {
		return newError(KindSchemaError, path, doc.Meta.ID,
			"leaf producer declares no artifacts")
	}

	if err := l.validate.Struct(doc.Meta); err != nil {
		return newError(KindSchemaError, path, "meta", "invalid meta: %v", err)
	}
	for i := range doc.Inputs {
		in := &doc.Inputs[i]
		if err := l.validate.Struct(in); err != nil {
			return newError(KindSchemaError, path, in.Name, "invalid input: %v", err)
		}
		if !ValueTypes[in.Type] {
			return newError(KindSchemaError, path, in.Name, "invalid input type %q", in.Type)
		}
	}
	for i := range doc.Artifacts {
		art := &doc.Artifacts[i]
		if err := l.validate.Struct(art); err != nil {
			return newError(KindSchemaError, path, art.Name, "invalid artifact: %v", err)
		}
		if !ValueTypes[art.Type] {
			return newError(KindSchemaError, path, art.Name, "invalid artifact type %q", art.Type)
		}
		if len(art.Arrays) > 0 && art.Type != "json" {
			return newError(KindSchemaError, path, art.Name,
				"arrays decomposition requires a json artifact")
		}
		for _, decl := range art.Arrays {
			if decl.CountInputOffset < 0 {
				return newError(KindSchemaError, path, art.Name,
					"negative countInputOffset on array %q", decl.Path)
			}
		}
	}
	for i := range doc.Loops {
		loop := &doc.Loops[i]
		if err := l.validate.Struct(loop); err != nil {
			return newError(KindSchemaError, path, loop.Name, "invalid loop: %v", err)
		}
		if loop.CountInputOffset < 0 {
			return newError(KindSchemaError, path, loop.Name, "negative countInputOffset")
		}
	}
	for i := range doc.Connections {
		edge := &doc.Connections[i]
		if edge.From == "" || edge.To == "" {
			return newError(KindSchemaError, path, "", "connection is missing from/to")
		}
		if edge.If != "" && edge.Conditions != nil {
			return newError(KindSchemaError, path, edge.From,
				"edge declares both if and inline conditions")
		}
		if edge.Conditions != nil && edge.Conditions.Cond != nil {
			if err := edge.Conditions.Cond.Validate(); err != nil {
				return newError(KindSchemaError, path, edge.From, "invalid conditions: %v", err)
			}
		}
		if _, err := ParseRef(edge.From); err != nil {
			return newError(KindSchemaError, path, edge.From, "invalid from reference: %v", err)
		}
		if _, err := ParseRef(edge.To); err != nil {
			return newError(KindSchemaError, path, edge.To, "invalid to reference: %v", err)
		}
	}
	for name, cond := range doc.Conditions {
		if err := cond.Validate(); err != nil {
			return newError(KindSchemaError, path, name, "invalid named condition: %v", err)
		}
	}
	for i := range doc.Collectors {
		col := &doc.Collectors[i]
		if col.From == "" || col.Into == "" || col.GroupBy == "" {
			return newError(KindSchemaError, path, col.Name,
				"collector needs from, into and groupBy")
		}
	}
	return nil
}

// splitAlias returns the alias as a path fragment; the root's empty alias
// contributes nothing.
func splitAlias(alias string) []string {
	if alias == "" {
		return nil
	}
	return []string{alias}
}

// MemReader serves documents from an in-memory map, used by tests and the
// dry-run validator.
type MemReader map[string]string

// ReadFile implements Reader.
func (m MemReader) ReadFile(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("no such document: %s", path)
	}
	return []byte(data), nil
}

// Resolve implements Reader. Memory paths are flat.
func (m MemReader) Resolve(_, ref string) (string, error) {
	return ref, nil
}

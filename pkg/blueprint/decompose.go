package blueprint

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// SynthDimension is a dimension synthesized from a declared array path
// during decomposition.
type SynthDimension struct {
	// Name is the heuristic dimension name derived from CountInput.
	Name string `json:"name"`

	// CountInput names the input providing the array cardinality.
	CountInput string `json:"countInput"`

	// CountInputOffset is subtracted from the resolved count.
	CountInputOffset int `json:"countInputOffset,omitempty"`
}

// LeafField is one scalar leaf of a decomposed json artifact. Each leaf
// becomes a first-class addressable artifact whose canonical id embeds the
// synthesized dimensions.
type LeafField struct {
	// FieldPath is the property path under the artifact, array segments
	// included (e.g. ["Segments", "HasTransition"]).
	FieldPath []string `json:"fieldPath"`

	// Dimensions are the synthesized dimensions in nesting order.
	Dimensions []SynthDimension `json:"dimensions,omitempty"`

	// Type is the scalar JSON-schema type of the leaf.
	Type string `json:"type"`
}

// Decompose walks a json artifact's schema and returns its scalar leaves.
// Array paths declared in arrays[] synthesize a dimension each; arrays not
// declared stay opaque json leaves. Artifacts without a schema or without
// array declarations do not decompose.
func Decompose(art *ArtifactDef) ([]LeafField, error) {
	if len(art.Arrays) == 0 || art.Schema == nil {
		return nil, nil
	}

	decls := make(map[string]ArrayDecl, len(art.Arrays))
	for _, decl := range art.Arrays {
		decls[decl.Path] = decl
	}

	var leaves []LeafField
	seen := make(map[string]bool, len(decls))
	if err := walkSchema(art.Schema, nil, nil, decls, seen, &leaves); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", art.Name, err)
	}

	for path := range decls {
		if !seen[path] {
			return nil, fmt.Errorf("artifact %s: declared array path %q not found in schema", art.Name, path)
		}
	}
	return leaves, nil
}

// walkSchema recurses through a JSON-schema fragment collecting leaves.
func walkSchema(schema map[string]interface{}, path []string, dims []SynthDimension,
	decls map[string]ArrayDecl, seen map[string]bool, out *[]LeafField) error {

	typ, _ := schema["type"].(string)

	switch typ {
	case "object":
		props, _ := schema["properties"].(map[string]interface{})
		for _, name := range sortedPropNames(props) {
			child, ok := props[name].(map[string]interface{})
			if !ok {
				return fmt.Errorf("property %q has a non-object schema", name)
			}
			if err := walkSchema(child, append(path, name), dims, decls, seen, out); err != nil {
				return err
			}
		}
		return nil

	case "array":
		joined := strings.Join(path, ".")
		decl, declared := decls[joined]
		if !declared {
			// Undeclared arrays stay whole: the value is one json leaf.
			*out = append(*out, LeafField{
				FieldPath:  append([]string(nil), path...),
				Dimensions: append([]SynthDimension(nil), dims...),
				Type:       "json",
			})
			return nil
		}
		seen[joined] = true
		items, ok := schema["items"].(map[string]interface{})
		if !ok {
			return fmt.Errorf("declared array %q has no items schema", joined)
		}
		dim := SynthDimension{
			Name:             DimensionName(decl.CountInput),
			CountInput:       decl.CountInput,
			CountInputOffset: decl.CountInputOffset,
		}
		return walkSchema(items, path, append(dims, dim), decls, seen, out)

	case "string", "number", "integer", "boolean":
		*out = append(*out, LeafField{
			FieldPath:  append([]string(nil), path...),
			Dimensions: append([]SynthDimension(nil), dims...),
			Type:       typ,
		})
		return nil

	default:
		// Untyped or mixed fragments stay opaque json.
		*out = append(*out, LeafField{
			FieldPath:  append([]string(nil), path...),
			Dimensions: append([]SynthDimension(nil), dims...),
			Type:       "json",
		})
		return nil
	}
}

func sortedPropNames(props map[string]interface{}) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DimensionName derives a dimension name from a count input name: strip
// NumOf/CountOf style prefixes, Count/Number suffixes and Per-contexts,
// drop a trailing plural s and lowercase the head. Falls back to "item".
func DimensionName(countInput string) string {
	name := countInput

	for _, prefix := range []string{"NumberOf", "NumOf", "CountOf", "Num", "Count"} {
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// "ImagesPerSegment" counts images, so the dimension is the part
	// before Per.
	if idx := strings.Index(name, "Per"); idx > 0 {
		name = name[:idx]
	}

	for _, suffix := range []string{"Count", "Number"} {
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			name = name[:len(name)-len(suffix)]
			break
		}
	}

	if strings.HasSuffix(name, "s") && len(name) > 1 {
		name = name[:len(name)-1]
	}

	if name == "" {
		return "item"
	}

	runes := []rune(name)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

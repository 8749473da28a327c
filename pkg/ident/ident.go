// Package ident implements parsing and formatting of the canonical
// identifiers used across the ReelForge pipeline. Canonical ids are the sole
// interchange form crossing subsystem boundaries: the loader, planner,
// executor, storage layer and producer SDK all address nodes through them.
package ident

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the addressable node category of a canonical id.
type Kind string

const (
	// KindInput addresses an input slot on a blueprint node.
	KindInput Kind = "Input"

	// KindArtifact addresses a concrete artifact instance at specific
	// dimension coordinates.
	KindArtifact Kind = "Artifact"

	// KindProducer addresses a producer instance by its import alias.
	KindProducer Kind = "Producer"
)

// ID is a parsed canonical identifier.
//
// The three canonical forms are:
//
//	Input:<path>.<name>
//	Artifact:<path>.<name>[i][j]...
//	Producer:<alias>
//
// For Input and Artifact ids, Path holds the dotted scope segments and Name
// the final slot name. For Producer ids Path is empty and Name is the alias.
// Indices are numeric only; symbolic dimensions are resolved to numerics at
// plan time.
type ID struct {
	Kind    Kind     `json:"kind"`
	Path    []string `json:"path,omitempty"`
	Name    string   `json:"name"`
	Indices []int    `json:"indices,omitempty"`
}

// ParseError is returned when a canonical id cannot be parsed.
type ParseError struct {
	// Input is the malformed id string.
	Input string

	// Reason describes why parsing failed.
	Reason string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed canonical id %q: %s", e.Input, e.Reason)
}

func parseErr(input, reason string) error {
	return &ParseError{Input: input, Reason: reason}
}

// Parse parses a canonical id string into an ID. It rejects malformed ids
// with a *ParseError.
func Parse(s string) (ID, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return ID{}, parseErr(s, "missing kind prefix")
	}

	switch Kind(kind) {
	case KindProducer:
		return parseProducer(s, rest)
	case KindInput:
		id, err := parseSlot(s, rest, false)
		if err != nil {
			return ID{}, err
		}
		id.Kind = KindInput
		return id, nil
	case KindArtifact:
		id, err := parseSlot(s, rest, true)
		if err != nil {
			return ID{}, err
		}
		id.Kind = KindArtifact
		return id, nil
	default:
		return ID{}, parseErr(s, fmt.Sprintf("unknown kind %q", kind))
	}
}

// parseProducer parses the alias portion of a Producer id.
func parseProducer(input, rest string) (ID, error) {
	if rest == "" {
		return ID{}, parseErr(input, "empty producer alias")
	}
	if strings.ContainsAny(rest, "[]") {
		return ID{}, parseErr(input, "producer ids carry no indices")
	}
	return ID{Kind: KindProducer, Name: rest}, nil
}

// parseSlot parses `<path>.<name>` with optional trailing `[i][j]` indices.
func parseSlot(input, rest string, allowIndices bool) (ID, error) {
	var indices []int

	for strings.HasSuffix(rest, "]") {
		open := strings.LastIndex(rest, "[")
		if open < 0 {
			return ID{}, parseErr(input, "unbalanced index bracket")
		}
		raw := rest[open+1 : len(rest)-1]
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 0 {
			return ID{}, parseErr(input, fmt.Sprintf("non-numeric index %q", raw))
		}
		indices = append([]int{idx}, indices...)
		rest = rest[:open]
	}

	if !allowIndices && len(indices) > 0 {
		return ID{}, parseErr(input, "input ids carry no indices")
	}
	if strings.ContainsAny(rest, "[]") {
		return ID{}, parseErr(input, "indices must trail the id")
	}

	segments := strings.Split(rest, ".")
	if len(segments) < 2 {
		return ID{}, parseErr(input, "expected <path>.<name>")
	}
	for _, seg := range segments {
		if seg == "" {
			return ID{}, parseErr(input, "empty path segment")
		}
	}

	return ID{
		Path:    segments[:len(segments)-1],
		Name:    segments[len(segments)-1],
		Indices: indices,
	}, nil
}

// String formats the ID back into its canonical string form.
// Parse(id.String()) round-trips for every valid ID.
func (id ID) String() string {
	var sb strings.Builder
	sb.WriteString(string(id.Kind))
	sb.WriteByte(':')

	if id.Kind == KindProducer {
		sb.WriteString(id.Name)
		return sb.String()
	}

	for _, seg := range id.Path {
		sb.WriteString(seg)
		sb.WriteByte('.')
	}
	sb.WriteString(id.Name)
	for _, idx := range id.Indices {
		fmt.Fprintf(&sb, "[%d]", idx)
	}
	return sb.String()
}

// Validate checks structural invariants of the ID.
func (id ID) Validate() error {
	switch id.Kind {
	case KindProducer:
		if id.Name == "" {
			return parseErr(id.String(), "empty producer alias")
		}
		if len(id.Path) > 0 || len(id.Indices) > 0 {
			return parseErr(id.String(), "producer ids carry no path or indices")
		}
	case KindInput:
		if len(id.Indices) > 0 {
			return parseErr(id.String(), "input ids carry no indices")
		}
		fallthrough
	case KindArtifact:
		if len(id.Path) == 0 || id.Name == "" {
			return parseErr(id.String(), "expected <path>.<name>")
		}
		for _, idx := range id.Indices {
			if idx < 0 {
				return parseErr(id.String(), "negative index")
			}
		}
	default:
		return parseErr(id.String(), fmt.Sprintf("unknown kind %q", id.Kind))
	}
	return nil
}

// Input builds an Input id.
func Input(path []string, name string) ID {
	return ID{Kind: KindInput, Path: append([]string(nil), path...), Name: name}
}

// Artifact builds an Artifact id at the given coordinates.
func Artifact(path []string, name string, indices ...int) ID {
	return ID{
		Kind:    KindArtifact,
		Path:    append([]string(nil), path...),
		Name:    name,
		Indices: append([]int(nil), indices...),
	}
}

// Producer builds a Producer id for the given alias.
func Producer(alias string) ID {
	return ID{Kind: KindProducer, Name: alias}
}

// WithIndices returns a copy of the ID with the given coordinates.
func (id ID) WithIndices(indices ...int) ID {
	out := id
	out.Indices = append([]int(nil), indices...)
	return out
}

// Base returns a copy of the ID with its coordinates stripped. Two artifact
// ids share a slot iff their bases are equal.
func (id ID) Base() ID {
	out := id
	out.Indices = nil
	return out
}

// Equal reports deep equality of two ids.
func (id ID) Equal(other ID) bool {
	if id.Kind != other.Kind || id.Name != other.Name ||
		len(id.Path) != len(other.Path) || len(id.Indices) != len(other.Indices) {
		return false
	}
	for i := range id.Path {
		if id.Path[i] != other.Path[i] {
			return false
		}
	}
	for i := range id.Indices {
		if id.Indices[i] != other.Indices[i] {
			return false
		}
	}
	return true
}

// Alias returns the producer alias the id belongs to: the first path segment
// for slot ids, the name for producer ids.
func (id ID) Alias() string {
	if id.Kind == KindProducer {
		return id.Name
	}
	if len(id.Path) > 0 {
		return id.Path[0]
	}
	return ""
}

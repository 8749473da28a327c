package conditions

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/reelforge/reelforge/pkg/ident"
)

// Error is a typed evaluation error. Evaluation errors are user-input
// mistakes (bad pattern, unbound dimension); a missing value is never an
// error, it just leaves the clause unsatisfied.
type Error struct {
	Code string
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

// Error codes raised by the evaluator.
const (
	CodeInvalidPattern   = "INVALID_PATTERN"
	CodeUnboundDimension = "UNBOUND_DIMENSION"
	CodeBadPath          = "BAD_PATH"
	CodeSource           = "SOURCE_ERROR"
)

// ValueSource resolves artifact values for the evaluator. The decomposed
// lookup checks whether a blob is stored under the fully substituted
// canonical id of a field; the composite lookup returns the nested JSON
// value of a whole artifact.
type ValueSource interface {
	DecomposedValue(ctx context.Context, id ident.ID) (interface{}, bool, error)
	CompositeValue(ctx context.Context, id ident.ID) (interface{}, bool, error)
}

// Scope carries the dimension coordinates of the job a condition is
// evaluated for. When an edge merges source and target indices, the target
// value wins for shared dimension names; callers build Indices accordingly.
type Scope struct {
	Indices map[string]int
	Source  ValueSource
}

// pathSegment is one dotted segment of a when path with its brackets.
type pathSegment struct {
	name    string
	indices []int
}

// parsePath splits a when path into segments, substituting bracketed
// dimension symbols with coordinates from the scope.
func parsePath(when string, scope *Scope) ([]pathSegment, error) {
	parts := strings.Split(when, ".")
	segments := make([]pathSegment, 0, len(parts))

	for _, part := range parts {
		if part == "" {
			return nil, &Error{Code: CodeBadPath, Msg: fmt.Sprintf("empty segment in %q", when)}
		}
		seg := pathSegment{}
		rest := part
		if open := strings.Index(rest, "["); open >= 0 {
			seg.name = rest[:open]
			rest = rest[open:]
			for rest != "" {
				if rest[0] != '[' {
					return nil, &Error{Code: CodeBadPath, Msg: fmt.Sprintf("malformed brackets in %q", when)}
				}
				close := strings.Index(rest, "]")
				if close < 0 {
					return nil, &Error{Code: CodeBadPath, Msg: fmt.Sprintf("unbalanced bracket in %q", when)}
				}
				sym := rest[1:close]
				idx, err := resolveSymbol(sym, scope)
				if err != nil {
					return nil, err
				}
				seg.indices = append(seg.indices, idx)
				rest = rest[close+1:]
			}
		} else {
			seg.name = rest
		}
		if seg.name == "" {
			return nil, &Error{Code: CodeBadPath, Msg: fmt.Sprintf("empty segment name in %q", when)}
		}
		segments = append(segments, seg)
	}

	if len(segments) < 2 {
		return nil, &Error{Code: CodeBadPath, Msg: fmt.Sprintf("path %q needs at least <Producer>.<Artifact>", when)}
	}
	return segments, nil
}

// resolveSymbol maps a bracketed symbol to a concrete coordinate. Numeric
// symbols pass through; loop-qualified symbols ("loop.segment") fall back to
// their final component.
func resolveSymbol(sym string, scope *Scope) (int, error) {
	if n, err := strconv.Atoi(sym); err == nil {
		if n < 0 {
			return 0, &Error{Code: CodeBadPath, Msg: fmt.Sprintf("negative index %d", n)}
		}
		return n, nil
	}
	if scope != nil {
		if idx, ok := scope.Indices[sym]; ok {
			return idx, nil
		}
		if dot := strings.LastIndex(sym, "."); dot >= 0 {
			if idx, ok := scope.Indices[sym[dot+1:]]; ok {
				return idx, nil
			}
		}
	}
	return 0, &Error{Code: CodeUnboundDimension, Msg: fmt.Sprintf("dimension %q is not bound", sym)}
}

// ResolvePath resolves a when path against the scope without applying an
// operator, reporting the value and whether it was found.
func ResolvePath(ctx context.Context, when string, scope *Scope) (interface{}, bool, error) {
	return resolveValue(ctx, when, scope)
}

// resolveValue looks a when path up against the scope. The decomposed form
// wins when both it and the composite artifact exist. A missing composite
// artifact is not an error; the value is simply not found.
func resolveValue(ctx context.Context, when string, scope *Scope) (interface{}, bool, error) {
	segments, err := parsePath(when, scope)
	if err != nil {
		return nil, false, err
	}

	// Decomposed lookup: the whole path with indices is a single leaf id.
	var indices []int
	path := make([]string, 0, len(segments)-1)
	for i, seg := range segments {
		if i < len(segments)-1 {
			path = append(path, seg.name)
		}
		indices = append(indices, seg.indices...)
	}
	leaf := ident.Artifact(path, segments[len(segments)-1].name, indices...)
	if val, ok, err := scope.Source.DecomposedValue(ctx, leaf); err != nil {
		return nil, false, &Error{Code: CodeSource, Msg: err.Error()}
	} else if ok {
		return val, true, nil
	}

	// Composite lookup: first two segments name the artifact; the remaining
	// segments traverse the nested JSON value.
	composite := ident.Artifact(
		[]string{segments[0].name},
		segments[1].name,
		append(append([]int{}, segments[0].indices...), segments[1].indices...)...,
	)
	val, ok, err := scope.Source.CompositeValue(ctx, composite)
	if err != nil {
		return nil, false, &Error{Code: CodeSource, Msg: err.Error()}
	}
	if !ok {
		return nil, false, nil
	}

	cur := normalize(val)
	for _, seg := range segments[2:] {
		obj, isObj := cur.(map[string]interface{})
		if !isObj {
			return nil, false, nil
		}
		next, present := obj[seg.name]
		if !present {
			return nil, false, nil
		}
		cur = normalize(next)
		for _, idx := range seg.indices {
			arr, isArr := cur.([]interface{})
			if !isArr || idx >= len(arr) {
				return nil, false, nil
			}
			cur = normalize(arr[idx])
		}
	}
	return cur, true, nil
}

package dryrun

import (
	"fmt"
	"strconv"

	"github.com/reelforge/reelforge/pkg/blueprint"
	"github.com/reelforge/reelforge/pkg/engine"
	"github.com/reelforge/reelforge/pkg/ident"
)

// Hint supplies candidate values for one templated when path, e.g.
// "Script.Out.Segments[segment].HasAudio" with candidates [true, false].
type Hint struct {
	When       string        `yaml:"when" json:"when"`
	Candidates []interface{} `yaml:"candidates" json:"candidates"`
}

// SynthesizeCases expands every hint across its dimension coordinates and
// deals candidate values from a sequence rotated by seed plus case index, so
// consecutive cases and neighbouring coordinates observe different values.
// The same seed always yields the same cases.
func SynthesizeCases(hints []Hint, dims map[string]int, seed, count int) ([]Case, error) {
	cases := make([]Case, 0, count)
	for caseIndex := 0; caseIndex < count; caseIndex++ {
		values := make(map[string]interface{})

		for _, hint := range hints {
			if len(hint.Candidates) == 0 {
				return nil, engine.NewUserInputError(
					fmt.Sprintf("hint %q has no candidate values", hint.When), nil).
					WithCode(engine.ErrCodeValidation)
			}
			ref, err := blueprint.ParseRef(hint.When)
			if err != nil {
				return nil, engine.NewUserInputError(
					fmt.Sprintf("hint path %q is malformed", hint.When), err).
					WithCode(engine.ErrCodeValidation)
			}
			combos, err := enumerate(symbolicDims(ref), dims)
			if err != nil {
				return nil, err
			}

			offset := (seed + caseIndex) % len(hint.Candidates)
			for k, combo := range combos {
				id, err := leafID(ref, combo)
				if err != nil {
					return nil, err
				}
				values[id] = hint.Candidates[(offset+k)%len(hint.Candidates)]
			}
		}

		cases = append(cases, Case{
			Name:   fmt.Sprintf("case-%03d", caseIndex),
			Values: values,
		})
	}
	return cases, nil
}

// leafID substitutes the coordinate combination into the reference and
// returns the canonical decomposed artifact id.
func leafID(ref blueprint.Ref, combo map[string]int) (string, error) {
	var indices []int
	path := make([]string, 0, len(ref.Segments)-1)

	for i, seg := range ref.Segments {
		if i < len(ref.Segments)-1 {
			path = append(path, seg.Name)
		}
		for _, dim := range seg.Dims {
			if isNumeric(dim) {
				n, _ := strconv.Atoi(dim)
				indices = append(indices, n)
				continue
			}
			idx, ok := combo[dim]
			if !ok {
				return "", engine.NewUserInputError(
					fmt.Sprintf("dimension %q in %q is not bound", dim, ref.Raw), nil).
					WithCode(engine.ErrCodeMissingInput)
			}
			indices = append(indices, idx)
		}
	}

	last := ref.Segments[len(ref.Segments)-1]
	return ident.Artifact(path, last.Name, indices...).String(), nil
}

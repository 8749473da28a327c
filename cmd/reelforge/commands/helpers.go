package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/reelforge/reelforge/pkg/blueprint"
	"github.com/reelforge/reelforge/pkg/catalog"
	"github.com/reelforge/reelforge/pkg/engine"
	"github.com/reelforge/reelforge/pkg/storage"
	"github.com/reelforge/reelforge/pkg/stores"
)

// storeEnv bundles the durable layer every command that touches a build
// needs. All three share the same data directory.
type storeEnv struct {
	events    *storage.EventLog
	blobs     *storage.BlobStore
	manifests *storage.ManifestStore
}

func openStorage() *storeEnv {
	events := storage.NewEventLog(dataDir, log.Logger)
	return &storeEnv{
		events:    events,
		blobs:     storage.NewBlobStore(dataDir, log.Logger),
		manifests: storage.NewManifestStore(dataDir, events, log.Logger),
	}
}

// openRunIndex opens (and migrates) the SQLite run index. An empty path
// defaults to reelforge.db inside the data directory.
func openRunIndex(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path == "" {
		path = filepath.Join(dataDir, "reelforge.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run index directory: %w", err)
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// loadTree loads and links a blueprint entry document, then cross-checks it.
func loadTree(entry string) (*blueprint.Tree, *blueprint.Report, error) {
	tree, err := blueprint.LoadTree(entry, blueprint.OSReader{})
	if err != nil {
		return nil, nil, err
	}
	return tree, blueprint.NewValidator().Validate(tree), nil
}

// requireValidTree loads a tree and fails when validation reports errors.
// Warnings are logged but do not block.
func requireValidTree(entry string) (*blueprint.Tree, error) {
	tree, report, err := loadTree(entry)
	if err != nil {
		return nil, err
	}
	for _, w := range report.Warnings {
		log.Warn().Str("path", w.Path).Str("ref", w.Ref).Msg(w.Msg)
	}
	for _, e := range report.Errors {
		log.Error().Msg(e.Error())
	}
	if !report.OK() {
		return nil, fmt.Errorf("blueprint %s has %d validation errors", entry, len(report.Errors))
	}
	return tree, nil
}

// parseInputs merges an optional YAML inputs file with key=value pairs from
// the command line. Pair values parse as JSON first so numbers and booleans
// keep their types; anything else stays a string.
func parseInputs(pairs []string, file string) (engine.Inputs, error) {
	inputs := engine.Inputs{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read inputs file: %w", err)
		}
		if err := yaml.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("failed to parse inputs file %s: %w", file, err)
		}
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, want key=value", pair)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		inputs[key] = value
	}
	return inputs, nil
}

// buildScope resolves the mutually exclusive scope flags into an engine
// scope. reRunFrom and upToLayer use -1 as the unset sentinel.
func buildScope(reRunFrom, upToLayer int, targets []string) (engine.Scope, error) {
	set := 0
	scope := engine.FullScope()
	if reRunFrom >= 0 {
		set++
		scope = engine.Scope{Kind: engine.ScopeReRunFrom, Layer: reRunFrom}
	}
	if upToLayer >= 0 {
		set++
		scope = engine.Scope{Kind: engine.ScopeUpToLayer, Layer: upToLayer}
	}
	if len(targets) > 0 {
		set++
		scope = engine.Scope{Kind: engine.ScopeSurgical, ArtifactIDs: targets}
	}
	if set > 1 {
		return engine.Scope{}, fmt.Errorf("--re-run-from, --up-to-layer and --target are mutually exclusive")
	}
	return scope, nil
}

// loadCatalog loads the model catalog when a path is given.
func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return nil, nil
	}
	return catalog.Load(path)
}

// emit prints v as indented JSON on stdout.
func emit(v interface{}) error {
	data, err := marshalIndent(v)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func marshalIndent(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Package project detects per-directory build overrides declared in a
// package.json and runs them through npm or yarn.
package project

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	uerrors "github.com/conneroisu/unifee/internal/errors"
	"github.com/conneroisu/unifee/internal/logging"
)

// Manifest script keys that mark an asset class as externally built.
const (
	ScriptKey = "unifee:js"
	StyleKey  = "unifee:css"
)

// ManifestName is the manifest file looked up in each page directory.
const ManifestName = "package.json"

// BuildSource says who produces one asset class: the built-in pipeline or a
// named project script.
type BuildSource struct {
	// Name is the manifest script key; empty means the internal pipeline.
	Name string
	// Definition is the script body as declared, kept for logging.
	Definition string
}

// Internal returns the built-in pipeline source.
func Internal() BuildSource { return BuildSource{} }

// External returns a source delegating to the project script name.
func External(name, definition string) BuildSource {
	return BuildSource{Name: name, Definition: definition}
}

// IsExternal reports whether a project script builds this asset class.
func (s BuildSource) IsExternal() bool { return s.Name != "" }

func (s BuildSource) String() string {
	if !s.IsExternal() {
		return "internal"
	}
	return "external(" + s.Name + ")"
}

// Command is the resolved build source for scripts and styles of one
// directory.
type Command struct {
	Script BuildSource
	Style  BuildSource
}

// HasOverrides reports whether any asset class is externally built.
func (c Command) HasOverrides() bool {
	return c.Script.IsExternal() || c.Style.IsExternal()
}

// Scripts returns the script names to run before a build, scripts first.
func (c Command) Scripts() []string {
	var names []string
	if c.Script.IsExternal() {
		names = append(names, c.Script.Name)
	}
	if c.Style.IsExternal() {
		names = append(names, c.Style.Name)
	}
	return names
}

type manifest struct {
	Scripts map[string]string `json:"scripts"`
}

// Resolver reads manifests and caches the resulting Command per directory
// for its lifetime.
type Resolver struct {
	logger logging.Logger

	mu    sync.RWMutex
	cache map[string]Command
	group singleflight.Group
}

// NewResolver creates a Resolver.
func NewResolver(logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Resolver{
		logger: logger.WithComponent("project"),
		cache:  make(map[string]Command),
	}
}

// Resolve returns the Command for dir. A missing or malformed manifest
// yields the zero Command; the parse failure is logged, never returned.
func (r *Resolver) Resolve(ctx context.Context, dir string) Command {
	dir = filepath.Clean(dir)

	r.mu.RLock()
	cmd, ok := r.cache[dir]
	r.mu.RUnlock()
	if ok {
		return cmd
	}

	v, _, _ := r.group.Do(dir, func() (interface{}, error) {
		cmd, err := readCommand(dir)
		if err != nil {
			r.logger.Debug(ctx, "Ignoring project manifest",
				"dir", dir,
				"error", err.Error(),
				"kind", string(uerrors.KindOf(err)),
			)
		}

		r.mu.Lock()
		r.cache[dir] = cmd
		r.mu.Unlock()
		return cmd, nil
	})

	return v.(Command)
}

func readCommand(dir string) (Command, error) {
	path := filepath.Join(dir, ManifestName)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Command{}, nil
		}
		return Command{}, uerrors.NewManifestParseFailure(path, err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Command{}, uerrors.NewManifestParseFailure(path, err)
	}

	var cmd Command
	if def := m.Scripts[ScriptKey]; def != "" {
		cmd.Script = External(ScriptKey, def)
	}
	if def := m.Scripts[StyleKey]; def != "" {
		cmd.Style = External(StyleKey, def)
	}
	return cmd, nil
}

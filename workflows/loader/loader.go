// Package loader reads workflow definitions from YAML, JSON and CUE files
// and ships the built-in templates.
package loader

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"

	"github.com/davidroman0O/stageflow/errors"
	workflow "github.com/davidroman0O/stageflow/workflows"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Supported definition file extensions
const (
	ExtYAML = ".yaml"
	ExtYML  = ".yml"
	ExtJSON = ".json"
	ExtCUE  = ".cue"
)

// document is the multi-definition file layout. A file without a
// top-level workflows list holds a single definition.
type document struct {
	Workflows []workflow.Definition `json:"workflows" yaml:"workflows"`
}

// Supported reports whether the loader understands the file extension.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ExtYAML, ExtYML, ExtJSON, ExtCUE:
		return true
	}
	return false
}

// LoadFile reads every definition held by the file at filePath.
func LoadFile(ctx context.Context, filePath string) ([]workflow.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCancelled, "load cancelled")
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("error getting absolute path for %s: %w", filePath, err)
	}

	var defs []workflow.Definition
	switch ext := strings.ToLower(filepath.Ext(absPath)); ext {
	case ExtCUE:
		defs, err = loadCUE(absPath)
	case ExtYAML, ExtYML, ExtJSON:
		var raw []byte
		raw, err = os.ReadFile(absPath)
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrNotFound, "definition file %s does not exist", absPath)
		}
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", absPath, err)
		}
		if ext == ExtJSON {
			defs, err = decodeJSON(raw)
		} else {
			defs, err = decodeYAML(raw)
		}
	default:
		return nil, errors.Newf(errors.ErrInvalidInput, "unsupported definition format %q", ext)
	}
	if err != nil {
		return nil, errors.WithContext(errors.WithOp(err, "LoadFile"), map[string]interface{}{"file": absPath})
	}
	return defs, nil
}

// LoadDir reads every supported file directly under dir, in name order.
func LoadDir(ctx context.Context, dir string) ([]workflow.Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrNotFound, "definition directory %s does not exist", dir)
		}
		return nil, fmt.Errorf("error reading %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && Supported(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var defs []workflow.Definition
	for _, name := range names {
		loaded, err := LoadFile(ctx, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, loaded...)
	}
	return defs, nil
}

// Builtins returns the templates embedded in the binary, tagged builtin.
func Builtins() ([]workflow.Definition, error) {
	files, err := fs.Glob(builtinFS, "builtin/*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var defs []workflow.Definition
	for _, name := range files {
		raw, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		loaded, err := decodeYAML(raw)
		if err != nil {
			return nil, errors.WithContext(err, map[string]interface{}{"file": path.Base(name)})
		}
		for i := range loaded {
			if !contains(loaded[i].Metadata.Tags, workflow.TagBuiltin) {
				loaded[i].Metadata.Tags = append(loaded[i].Metadata.Tags, workflow.TagBuiltin)
			}
		}
		defs = append(defs, loaded...)
	}
	return defs, nil
}

// RegisterAll registers defs in order and stops at the first rejection.
func RegisterAll(r *workflow.Registry, defs []workflow.Definition) error {
	for _, def := range defs {
		if err := r.RegisterWorkflow(def); err != nil {
			return err
		}
	}
	return nil
}

func decodeYAML(raw []byte) ([]workflow.Definition, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, "invalid YAML definition")
	}
	if len(doc.Workflows) > 0 {
		return doc.Workflows, nil
	}

	var def workflow.Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, "invalid YAML definition")
	}
	return single(def)
}

func decodeJSON(raw []byte) ([]workflow.Definition, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var defs []workflow.Definition
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return nil, errors.Wrap(err, errors.ErrInvalidInput, "invalid JSON definition list")
		}
		return defs, nil
	}

	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, "invalid JSON definition")
	}
	if len(doc.Workflows) > 0 {
		return doc.Workflows, nil
	}

	var def workflow.Definition
	if err := json.Unmarshal(trimmed, &def); err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, "invalid JSON definition")
	}
	return single(def)
}

func loadCUE(absPath string) ([]workflow.Definition, error) {
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return nil, errors.Newf(errors.ErrNotFound, "definition file %s does not exist", absPath)
	}

	cueCtx := cuecontext.New()

	// Build the instance from the file name relative to its directory
	loadConfig := &load.Config{Dir: filepath.Dir(absPath)}
	instances := load.Instances([]string{filepath.Base(absPath)}, loadConfig)
	if len(instances) == 0 {
		return nil, errors.Newf(errors.ErrInvalidInput, "no CUE instances found in %s", absPath)
	}
	if instances[0].Err != nil {
		return nil, errors.Wrap(instances[0].Err, errors.ErrInvalidInput, "error loading CUE file")
	}

	value := cueCtx.BuildInstance(instances[0])
	if value.Err() != nil {
		return nil, errors.Wrap(value.Err(), errors.ErrInvalidInput, "error building CUE instance")
	}
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, errors.Wrap(err, errors.ErrValidation, "CUE definition is not concrete")
	}

	if list := value.LookupPath(cue.ParsePath("workflows")); list.Exists() {
		var defs []workflow.Definition
		if err := list.Decode(&defs); err != nil {
			return nil, errors.Wrap(err, errors.ErrInvalidInput, "error decoding workflows")
		}
		return defs, nil
	}

	var def workflow.Definition
	if err := value.Decode(&def); err != nil {
		return nil, errors.Wrap(err, errors.ErrInvalidInput, "error decoding workflow")
	}
	return single(def)
}

func single(def workflow.Definition) ([]workflow.Definition, error) {
	if def.ID == "" && len(def.Stages) == 0 {
		return nil, errors.New(errors.ErrInvalidInput, "file holds no workflow definition")
	}
	return []workflow.Definition{def}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/terminail/autodroid-sub001/internal/driver"
	"github.com/terminail/autodroid-sub001/internal/script"
)

var extensions = []string{".yaml", ".yml"}

// Module wraps a parsed workflow as a script module with a single unit.
func Module(name string, wf *Workflow, in *Interpreter) script.Module {
	return script.Module{
		Name:        name,
		Description: wf.Description,
		Version:     wf.Version,
		Units: []script.Factory{func() script.Script {
			return &unit{wf: wf, interp: in}
		}},
	}
}

type unit struct {
	wf     *Workflow
	interp *Interpreter
}

func (u *unit) Execute(ctx context.Context, data map[string]any, dev driver.Device) (script.Outcome, error) {
	return u.interp.Run(ctx, u.wf, data, dev)
}

// DirSource serves workflow files from a directory. The module name is the
// file name without its extension. Files are parsed on every Lookup; the
// engine caches successful loads.
type DirSource struct {
	fsys   fs.FS
	interp *Interpreter
}

// NewDirSource creates a source over fsys, typically os.DirFS(dir).
func NewDirSource(fsys fs.FS, in *Interpreter) *DirSource {
	return &DirSource{fsys: fsys, interp: in}
}

// Name implements script.Source.
func (s *DirSource) Name() string { return "workflows" }

// Lookup implements script.Source.
func (s *DirSource) Lookup(name string) (script.Module, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || !fs.ValidPath(name) {
		return script.Module{}, fmt.Errorf("%w: %q", script.ErrNotFound, name)
	}

	for _, ext := range extensions {
		data, err := fs.ReadFile(s.fsys, name+ext)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return script.Module{}, fmt.Errorf("reading workflow %s%s: %w", name, ext, err)
		}

		wf, err := ParseBytes(data)
		if err != nil {
			return script.Module{}, fmt.Errorf("parsing workflow %s%s: %w", name, ext, err)
		}
		return Module(name, wf, s.interp), nil
	}
	return script.Module{}, fmt.Errorf("%w: %q", script.ErrNotFound, name)
}

// List implements script.Source.
func (s *DirSource) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := path.Ext(e.Name())
		if !slices.Contains(extensions, ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

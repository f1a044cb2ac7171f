// Package fsdir exposes a build output directory as a host.Compilation.
package fsdir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"esminify/host"
	"esminify/internal/logging"
	"esminify/sink"
)

// Dir reads assets from Root and buffers changes until Flush.
type Dir struct {
	Root    string
	Options host.OutputOptions
	Sinks   []sink.Adapter

	mu       sync.Mutex
	pending  map[string]string
	order    []string // pending names in first-write order
	errors   int
	warnings int
}

func Open(root string, opts host.OutputOptions, sinks ...sink.Adapter) (*Dir, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("fsdir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fsdir: %s is not a directory", root)
	}
	return &Dir{Root: root, Options: opts, Sinks: sinks, pending: map[string]string{}}, nil
}

// Assets lists regular files under Root as slash-separated relative paths,
// sorted.
func (d *Dir) Assets() []string {
	var out []string
	err := filepath.WalkDir(d.Root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !e.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		logging.L().Warn("listing assets", "root", d.Root, "err", err)
	}
	sort.Strings(out)
	return out
}

func (d *Dir) Source(name string) (string, error) {
	d.mu.Lock()
	code, ok := d.pending[name]
	d.mu.Unlock()
	if ok {
		return code, nil
	}
	b, err := os.ReadFile(d.path(name))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Dir) Update(name, code string) { d.stage(name, code) }
func (d *Dir) Emit(name, code string)   { d.stage(name, code) }

func (d *Dir) stage(name, code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[name]; !ok {
		d.order = append(d.order, name)
	}
	d.pending[name] = code
}

func (d *Dir) PushError(err error) {
	d.mu.Lock()
	d.errors++
	d.mu.Unlock()
	d.push(sink.Diagnostic{Severity: sink.SeverityError, Message: err.Error()})
}

func (d *Dir) PushWarning(msg string) {
	d.mu.Lock()
	d.warnings++
	d.mu.Unlock()
	d.push(sink.Diagnostic{Severity: sink.SeverityWarning, Message: msg})
}

func (d *Dir) push(diag sink.Diagnostic) {
	for _, s := range d.Sinks {
		if err := s.Push(diag); err != nil {
			logging.L().Warn("sink push failed", "err", err)
		}
	}
}

func (d *Dir) Output() host.OutputOptions { return d.Options }

// Counts reports how many errors and warnings were pushed.
func (d *Dir) Counts() (errs, warns int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errors, d.warnings
}

// Flush writes staged assets to disk.
func (d *Dir) Flush() error {
	d.mu.Lock()
	names := d.order
	staged := d.pending
	d.order = nil
	d.pending = map[string]string{}
	d.mu.Unlock()

	var errs []error
	for _, name := range names {
		p := d.path(name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.WriteFile(p, []byte(staged[name]), 0o644); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (d *Dir) Close() error {
	var errs []error
	for _, s := range d.Sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

func (d *Dir) path(name string) string {
	return filepath.Join(d.Root, filepath.FromSlash(name))
}

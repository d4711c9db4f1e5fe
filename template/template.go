// Package template preloads a filesystem from declarative templates or
// from directories on the host. Templates are YAML or JSON documents
// listing directories and files, with ${name} variable substitution in
// paths and inline content.
package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sandkit/vfs"
	"github.com/sandkit/vfs/data"
	"github.com/sandkit/vfs/log"
)

// File is one templated file. Content is used verbatim after variable
// substitution; ContentFrom loads the content from a host file instead.
type File struct {
	Path        string `json:"path" yaml:"path"`
	Content     string `json:"content,omitempty" yaml:"content,omitempty"`
	ContentFrom string `json:"content_from,omitempty" yaml:"content_from,omitempty"`
}

// Template is a declarative description of a filesystem subtree.
type Template struct {
	Directories []string `json:"directories,omitempty" yaml:"directories,omitempty"`
	Files       []File   `json:"files,omitempty" yaml:"files,omitempty"`
}

// Loader populates one filesystem from templates.
type Loader struct {
	fs     *vfs.FileSystem
	logger *log.Logger
}

func NewLoader(fs *vfs.FileSystem) *Loader {
	return &Loader{fs: fs, logger: log.Discard()}
}

// WithLogger replaces the loader's logger and returns the loader.
func (l *Loader) WithLogger(logger *log.Logger) *Loader {
	l.logger = logger.Named("template")
	return l
}

// Load reads a template file from the host and applies it under target.
// The format follows the file extension: .yaml, .yml or .json.
func (l *Loader) Load(ctx context.Context, templatePath, target string, vars map[string]string) error {
	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return err
	}

	tpl := &Template{}
	switch strings.ToLower(filepath.Ext(templatePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, tpl); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", templatePath, err)
		}
	case ".json":
		if err := json.Unmarshal(raw, tpl); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", templatePath, err)
		}
	default:
		return fmt.Errorf("%w: template format %q", data.ErrUnsupported, filepath.Ext(templatePath))
	}

	return l.Apply(ctx, tpl, target, vars)
}

// Apply creates the template's directories and files under target.
// Directories come first so files can land inside them.
func (l *Loader) Apply(ctx context.Context, tpl *Template, target string, vars map[string]string) error {
	if target == "" {
		target = "/"
	}
	if err := l.ensureDir(ctx, target); err != nil {
		return err
	}

	for _, dir := range tpl.Directories {
		path := data.Join(target, strings.TrimPrefix(expand(dir, vars), "/"))
		if err := l.ensureDir(ctx, path); err != nil {
			return err
		}
	}

	for _, file := range tpl.Files {
		if file.Path == "" {
			return fmt.Errorf("%w: file entry without path", data.ErrInvalidPath)
		}

		content := expand(file.Content, vars)
		if file.ContentFrom != "" {
			raw, err := os.ReadFile(file.ContentFrom)
			if err != nil {
				return fmt.Errorf("failed to load content for %s: %w", file.Path, err)
			}
			content = string(raw)
		}

		path := data.Join(target, strings.TrimPrefix(expand(file.Path, vars), "/"))
		parent, _ := data.Split(path)
		if err := l.ensureDir(ctx, parent); err != nil {
			return err
		}
		if err := l.fs.WriteFile(ctx, path, []byte(content)); err != nil {
			return err
		}
		l.logger.Debug("Templated %s (%d bytes)", path, len(content))
	}
	return nil
}

// LoadAll applies every .yaml, .yml and .json template found directly in
// templateDir, in lexical order. It keeps going past individual failures
// and returns how many templates applied cleanly, joined with the
// errors of those that did not.
func (l *Loader) LoadAll(ctx context.Context, templateDir, target string, vars map[string]string) (int, error) {
	entries, err := os.ReadDir(templateDir)
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	applied := 0
	var errs []error
	for _, name := range names {
		if err := l.Load(ctx, filepath.Join(templateDir, name), target, vars); err != nil {
			l.logger.Warn("Template %s failed: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}

// QuickLoad writes a batch of files given as a path-to-content map.
// Relative paths are taken under base. Parent directories are created
// as needed. Returns the number of files written.
func (l *Loader) QuickLoad(ctx context.Context, files map[string]string, base string) (int, error) {
	if base == "" {
		base = "/"
	}

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	written := 0
	for _, path := range paths {
		full := path
		if !strings.HasPrefix(full, "/") {
			full = data.Join(base, full)
		}
		parent, _ := data.Split(full)
		if err := l.ensureDir(ctx, parent); err != nil {
			return written, err
		}
		if err := l.fs.WriteFile(ctx, full, []byte(files[path])); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// Preload mirrors files from a host directory into the filesystem under
// target. pattern is matched against file names; an empty pattern
// matches everything. Returns the number of files copied.
func (l *Loader) Preload(ctx context.Context, sourceDir, target, pattern string, recursive bool) (int, error) {
	if target == "" {
		target = "/"
	}
	if err := l.ensureDir(ctx, target); err != nil {
		return 0, err
	}

	loaded := 0
	err := filepath.WalkDir(sourceDir, func(hostPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, hostPath)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if entry.IsDir() {
			if !recursive {
				return fs.SkipDir
			}
			return l.ensureDir(ctx, data.Join(target, filepath.ToSlash(rel)))
		}

		if pattern != "" {
			matched, err := filepath.Match(pattern, entry.Name())
			if err != nil {
				return err
			}
			if !matched {
				return nil
			}
		}

		content, err := os.ReadFile(hostPath)
		if err != nil {
			return err
		}

		dst := data.Join(target, filepath.ToSlash(rel))
		parent, _ := data.Split(dst)
		if err := l.ensureDir(ctx, parent); err != nil {
			return err
		}
		if err := l.fs.WriteFile(ctx, dst, content); err != nil {
			return err
		}
		loaded++
		return nil
	})
	if err != nil {
		return loaded, err
	}

	l.logger.Info("Preloaded %d files from %s into %s", loaded, sourceDir, target)
	return loaded, nil
}

// ensureDir creates path and any missing ancestors.
func (l *Loader) ensureDir(ctx context.Context, path string) error {
	if data.IsRoot(path) {
		return nil
	}

	parent, _ := data.Split(path)
	if err := l.ensureDir(ctx, parent); err != nil {
		return err
	}

	err := l.fs.Mkdir(ctx, path)
	if err == nil || errors.Is(err, data.ErrExist) {
		return nil
	}
	return err
}

// expand substitutes ${name} placeholders.
func expand(text string, vars map[string]string) string {
	for name, value := range vars {
		text = strings.ReplaceAll(text, "${"+name+"}", value)
	}
	return text
}

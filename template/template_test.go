package template_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sandkit/vfs"
	"github.com/sandkit/vfs/data"
	"github.com/sandkit/vfs/log"
	"github.com/sandkit/vfs/provider/memory"
	"github.com/sandkit/vfs/template"
)

func newTestFS(tst *testing.T) *vfs.FileSystem {
	tst.Helper()

	fs, err := vfs.New(tst.Context(), memory.New(), vfs.WithLogger(log.Discard()))
	if err != nil {
		tst.Fatalf("Failed to initialize filesystem: %v", err)
	}
	tst.Cleanup(func() { fs.Close(context.Background()) })
	return fs
}

func TestApplyWithVariables(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t)

	tpl := &template.Template{
		Directories: []string{"home/${user}", "etc"},
		Files: []template.File{
			{Path: "home/${user}/readme.txt", Content: "Welcome, ${user}!"},
			{Path: "etc/motd", Content: "hello"},
		},
	}

	loader := template.NewLoader(fs)
	if err := loader.Apply(ctx, tpl, "/", map[string]string{"user": "alice"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, err := fs.ReadFile(ctx, "/home/alice/readme.txt")
	if err != nil {
		t.Fatalf("Templated file missing: %v", err)
	}
	if string(got) != "Welcome, alice!" {
		t.Errorf("Variable not substituted in content: %q", got)
	}

	if ok, _ := fs.IsDir(ctx, "/etc"); !ok {
		t.Error("Templated directory missing")
	}
	if _, err := fs.ReadFile(ctx, "/etc/motd"); err != nil {
		t.Errorf("Templated file missing: %v", err)
	}
}

func TestApplyUnderTarget(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t)

	tpl := &template.Template{
		Files: []template.File{{Path: "nested/deep/file.txt", Content: "x"}},
	}

	// The target and every intermediate directory are created.
	if err := template.NewLoader(fs).Apply(ctx, tpl, "/sandbox", nil); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := fs.ReadFile(ctx, "/sandbox/nested/deep/file.txt"); err != nil {
		t.Errorf("Nested templated file missing: %v", err)
	}

	// Re-applying over existing directories is idempotent.
	if err := template.NewLoader(fs).Apply(ctx, tpl, "/sandbox", nil); err != nil {
		t.Errorf("Second Apply failed: %v", err)
	}
}

func TestLoadFormats(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(yamlPath, []byte(
		"directories:\n  - logs\nfiles:\n  - path: app.conf\n    content: port=${port}\n",
	), 0o644); err != nil {
		t.Fatalf("Failed to write template: %v", err)
	}

	jsonPath := filepath.Join(dir, "extra.json")
	if err := os.WriteFile(jsonPath, []byte(
		`{"files":[{"path":"extra.txt","content":"more"}]}`,
	), 0o644); err != nil {
		t.Fatalf("Failed to write template: %v", err)
	}

	loader := template.NewLoader(fs)
	if err := loader.Load(ctx, yamlPath, "/", map[string]string{"port": "8080"}); err != nil {
		t.Fatalf("Load yaml failed: %v", err)
	}

	got, err := fs.ReadFile(ctx, "/app.conf")
	if err != nil {
		t.Fatalf("Templated file missing: %v", err)
	}
	if string(got) != "port=8080" {
		t.Errorf("Expected substituted content, got %q", got)
	}
	if ok, _ := fs.IsDir(ctx, "/logs"); !ok {
		t.Error("Templated directory missing")
	}

	if err := loader.Load(ctx, jsonPath, "/", nil); err != nil {
		t.Fatalf("Load json failed: %v", err)
	}
	if _, err := fs.ReadFile(ctx, "/extra.txt"); err != nil {
		t.Errorf("Templated file missing: %v", err)
	}

	badPath := filepath.Join(dir, "tpl.toml")
	os.WriteFile(badPath, []byte("x"), 0o644)
	if err := loader.Load(ctx, badPath, "/", nil); !errors.Is(err, data.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported for unknown format, got %v", err)
	}
}

func TestContentFrom(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t)

	hostFile := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(hostFile, []byte("host content"), 0o644); err != nil {
		t.Fatalf("Failed to write host file: %v", err)
	}

	tpl := &template.Template{
		Files: []template.File{{Path: "copy.txt", ContentFrom: hostFile}},
	}
	if err := template.NewLoader(fs).Apply(ctx, tpl, "/", nil); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, _ := fs.ReadFile(ctx, "/copy.txt")
	if string(got) != "host content" {
		t.Errorf("Expected host file content, got %q", got)
	}
}

func TestLoadAll(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t)
	dir := t.TempDir()

	os.WriteFile(filepath.Join(dir, "a.json"), []byte(`{"files":[{"path":"a.txt","content":"a"}]}`), 0o644)
	os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("files:\n  - path: b.txt\n    content: b\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "broken.json"), []byte("not json"), 0o644)
	os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644)

	applied, err := template.NewLoader(fs).LoadAll(ctx, dir, "/", nil)
	if applied != 2 {
		t.Errorf("Expected 2 applied templates, got %d", applied)
	}
	if err == nil {
		t.Error("Expected joined error for the broken template")
	}

	for _, path := range []string{"/a.txt", "/b.txt"} {
		if _, err := fs.ReadFile(ctx, path); err != nil {
			t.Errorf("Templated file %s missing: %v", path, err)
		}
	}
}

func TestQuickLoad(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t)

	written, err := template.NewLoader(fs).QuickLoad(ctx, map[string]string{
		"notes/today.md": "todo",
		"/abs/path.txt":  "absolute",
	}, "/home")
	if err != nil {
		t.Fatalf("QuickLoad failed: %v", err)
	}
	if written != 2 {
		t.Errorf("Expected 2 written files, got %d", written)
	}

	got, err := fs.ReadFile(ctx, "/home/notes/today.md")
	if err != nil {
		t.Fatalf("Relative path not placed under base: %v", err)
	}
	if string(got) != "todo" {
		t.Errorf("Expected %q, got %q", "todo", got)
	}
	if _, err := fs.ReadFile(ctx, "/abs/path.txt"); err != nil {
		t.Errorf("Absolute path missing: %v", err)
	}
}

func TestPreload(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t)

	src := t.TempDir()
	os.WriteFile(filepath.Join(src, "top.txt"), []byte("top"), 0o644)
	os.WriteFile(filepath.Join(src, "skip.log"), []byte("skip"), 0o644)
	os.MkdirAll(filepath.Join(src, "sub"), 0o755)
	os.WriteFile(filepath.Join(src, "sub", "inner.txt"), []byte("inner"), 0o644)

	loaded, err := template.NewLoader(fs).Preload(ctx, src, "/mirror", "*.txt", true)
	if err != nil {
		t.Fatalf("Preload failed: %v", err)
	}
	if loaded != 2 {
		t.Errorf("Expected 2 loaded files, got %d", loaded)
	}

	got, err := fs.ReadFile(ctx, "/mirror/sub/inner.txt")
	if err != nil {
		t.Fatalf("Recursive file missing: %v", err)
	}
	if string(got) != "inner" {
		t.Errorf("Expected %q, got %q", "inner", got)
	}
	if ok, _ := fs.Exists(ctx, "/mirror/skip.log"); ok {
		t.Error("Pattern did not filter files")
	}

	// Non-recursive stays at the top level.
	fs2 := newTestFS(t)
	loaded, err = template.NewLoader(fs2).Preload(ctx, src, "/flat", "", false)
	if err != nil {
		t.Fatalf("Preload failed: %v", err)
	}
	if loaded != 2 {
		t.Errorf("Expected 2 top-level files, got %d", loaded)
	}
	if ok, _ := fs2.Exists(ctx, "/flat/sub/inner.txt"); ok {
		t.Error("Non-recursive preload descended into subdirectory")
	}
}

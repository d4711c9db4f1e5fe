package vfs_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sandkit/vfs"
	"github.com/sandkit/vfs/data"
	"github.com/sandkit/vfs/log"
	"github.com/sandkit/vfs/policy"
	"github.com/sandkit/vfs/provider"
	"github.com/sandkit/vfs/provider/memory"
	"github.com/sandkit/vfs/provider/sqlite"
)

type TestProviderFactory func(tst *testing.T) (provider.StorageProvider, error)

func GetTestProviderFactories() map[string]TestProviderFactory {
	return map[string]TestProviderFactory{
		"memory": func(tst *testing.T) (provider.StorageProvider, error) {
			return memory.New(), nil
		},
		"sqlite": func(tst *testing.T) (provider.StorageProvider, error) {
			return sqlite.New(sqlite.Config{Path: ":memory:"})
		},
	}
}

func newTestFS(tst *testing.T, factory TestProviderFactory, opts ...vfs.Option) *vfs.FileSystem {
	tst.Helper()

	p, err := factory(tst)
	if err != nil {
		tst.Fatalf("Factory failed: %v", err)
	}

	opts = append([]vfs.Option{vfs.WithLogger(log.Discard())}, opts...)
	fs, err := vfs.New(tst.Context(), p, opts...)
	if err != nil {
		tst.Fatalf("Failed to initialize filesystem: %v", err)
	}
	tst.Cleanup(func() { fs.Close(context.Background()) })
	return fs
}

// TestFileSystem_RoundTrip verifies write followed by read across all
// provider implementations.
func TestFileSystem_RoundTrip(t *testing.T) {
	for name, factory := range GetTestProviderFactories() {
		t.Run(name, func(tst *testing.T) {
			ctx := tst.Context()
			fs := newTestFS(tst, factory)

			content := []byte("hello world")
			if err := fs.WriteFile(ctx, "/test.txt", content); err != nil {
				tst.Fatalf("WriteFile failed: %v", err)
			}

			got, err := fs.ReadFile(ctx, "/test.txt")
			if err != nil {
				tst.Fatalf("ReadFile failed: %v", err)
			}
			if !bytes.Equal(got, content) {
				tst.Errorf("Expected %q, got %q", content, got)
			}

			info, err := fs.Stat(ctx, "/test.txt")
			if err != nil {
				tst.Fatalf("Stat failed: %v", err)
			}
			if info.Size != int64(len(content)) {
				tst.Errorf("Expected size %d, got %d", len(content), info.Size)
			}
			if info.MimeType != "text/plain" {
				tst.Errorf("Expected text/plain, got %q", info.MimeType)
			}
		})
	}
}

// TestFileSystem_ParentMustExist verifies that intermediate directories
// are never created implicitly.
func TestFileSystem_ParentMustExist(t *testing.T) {
	for name, factory := range GetTestProviderFactories() {
		t.Run(name, func(tst *testing.T) {
			ctx := tst.Context()
			fs := newTestFS(tst, factory)

			if err := fs.WriteFile(ctx, "/missing/file.txt", []byte("x")); !errors.Is(err, data.ErrNotExist) {
				tst.Errorf("Expected ErrNotExist writing under missing dir, got %v", err)
			}
			if err := fs.Mkdir(ctx, "/a/b"); !errors.Is(err, data.ErrNotExist) {
				tst.Errorf("Expected ErrNotExist creating nested dir, got %v", err)
			}

			if err := fs.Mkdir(ctx, "/a"); err != nil {
				tst.Fatalf("Mkdir /a failed: %v", err)
			}
			if err := fs.Mkdir(ctx, "/a/b"); err != nil {
				tst.Fatalf("Mkdir /a/b failed: %v", err)
			}
			if err := fs.WriteFile(ctx, "/a/b/file.txt", []byte("x")); err != nil {
				tst.Fatalf("WriteFile after mkdir failed: %v", err)
			}
		})
	}
}

// TestFileSystem_RemoveSemantics verifies the non-empty directory guard
// and typed errors on removal.
func TestFileSystem_RemoveSemantics(t *testing.T) {
	for name, factory := range GetTestProviderFactories() {
		t.Run(name, func(tst *testing.T) {
			ctx := tst.Context()
			fs := newTestFS(tst, factory)

			if err := fs.Mkdir(ctx, "/dir"); err != nil {
				tst.Fatalf("Mkdir failed: %v", err)
			}
			if err := fs.WriteFile(ctx, "/dir/file.txt", []byte("x")); err != nil {
				tst.Fatalf("WriteFile failed: %v", err)
			}

			if err := fs.Remove(ctx, "/dir"); !errors.Is(err, data.ErrDirectoryNotEmpty) {
				tst.Errorf("Expected ErrDirectoryNotEmpty, got %v", err)
			}

			if err := fs.Remove(ctx, "/dir/file.txt"); err != nil {
				tst.Fatalf("Remove file failed: %v", err)
			}
			if err := fs.Remove(ctx, "/dir"); err != nil {
				tst.Fatalf("Remove empty dir failed: %v", err)
			}

			if err := fs.Remove(ctx, "/dir"); !errors.Is(err, data.ErrNotExist) {
				tst.Errorf("Expected ErrNotExist, got %v", err)
			}
			if err := fs.Remove(ctx, "/"); !errors.Is(err, data.ErrInvalidPath) {
				tst.Errorf("Expected ErrInvalidPath removing root, got %v", err)
			}
		})
	}
}

// TestFileSystem_TTLExpiry verifies that expired nodes read as absent and
// can be replaced.
func TestFileSystem_TTLExpiry(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t, GetTestProviderFactories()["memory"])

	if err := fs.WriteFile(ctx, "/temp.txt", []byte("short lived"), vfs.WithTTL(20*time.Millisecond)); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := fs.ReadFile(ctx, "/temp.txt"); err != nil {
		t.Fatalf("Read before expiry failed: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	if _, err := fs.ReadFile(ctx, "/temp.txt"); !errors.Is(err, data.ErrNotExist) {
		t.Errorf("Expected ErrNotExist after expiry, got %v", err)
	}
	if _, err := fs.Stat(ctx, "/temp.txt"); !errors.Is(err, data.ErrNotExist) {
		t.Errorf("Expected ErrNotExist from Stat after expiry, got %v", err)
	}

	names, err := fs.List(ctx, "/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, name := range names {
		if name == "temp.txt" {
			t.Error("Expired node still listed")
		}
	}

	// The expired slot must be reusable.
	if err := fs.WriteFile(ctx, "/temp.txt", []byte("reborn")); err != nil {
		t.Fatalf("WriteFile over expired node failed: %v", err)
	}
	got, err := fs.ReadFile(ctx, "/temp.txt")
	if err != nil {
		t.Fatalf("ReadFile after rewrite failed: %v", err)
	}
	if string(got) != "reborn" {
		t.Errorf("Expected %q, got %q", "reborn", got)
	}
}

// countingProvider wraps a provider and counts every call that reaches it.
type countingProvider struct {
	provider.StorageProvider
	calls int
}

func (c *countingProvider) CreateNode(ctx context.Context, info *data.NodeInfo) (bool, error) {
	c.calls++
	return c.StorageProvider.CreateNode(ctx, info)
}

func (c *countingProvider) WriteFile(ctx context.Context, path string, content []byte) (bool, error) {
	c.calls++
	return c.StorageProvider.WriteFile(ctx, path, content)
}

func (c *countingProvider) DeleteNode(ctx context.Context, path string) (bool, error) {
	c.calls++
	return c.StorageProvider.DeleteNode(ctx, path)
}

func (c *countingProvider) Stats(ctx context.Context) (*data.StorageStats, error) {
	c.calls++
	return c.StorageProvider.Stats(ctx)
}

// TestFileSystem_ReadOnlyShortCircuit verifies that read-only mode rejects
// mutations before any provider call is made.
func TestFileSystem_ReadOnlyShortCircuit(t *testing.T) {
	ctx := t.Context()

	counting := &countingProvider{StorageProvider: memory.New()}
	fs, err := vfs.New(ctx, counting,
		vfs.WithLogger(log.Discard()),
		vfs.WithPolicy(&policy.Policy{ReadOnly: true}))
	if err != nil {
		t.Fatalf("Failed to initialize filesystem: %v", err)
	}
	defer fs.Close(ctx)

	counting.calls = 0

	if err := fs.WriteFile(ctx, "/x.txt", []byte("x")); !policy.IsViolation(err, policy.ViolationReadOnly) {
		t.Errorf("Expected read-only violation, got %v", err)
	}
	if err := fs.Mkdir(ctx, "/dir"); !policy.IsViolation(err, policy.ViolationReadOnly) {
		t.Errorf("Expected read-only violation, got %v", err)
	}
	if err := fs.Remove(ctx, "/x.txt"); !policy.IsViolation(err, policy.ViolationReadOnly) {
		t.Errorf("Expected read-only violation, got %v", err)
	}

	if counting.calls != 0 {
		t.Errorf("Expected zero provider calls, got %d", counting.calls)
	}

	// Reads still pass through.
	if _, err := fs.List(ctx, "/"); err != nil {
		t.Errorf("List on read-only filesystem failed: %v", err)
	}
}

// TestFileSystem_TraversalRejected verifies that climbing paths never
// reach the provider.
func TestFileSystem_TraversalRejected(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t, GetTestProviderFactories()["memory"])

	for _, path := range []string{"/../etc/passwd", "/a/../../etc", "/../.."} {
		if _, err := fs.ReadFile(ctx, path); !policy.IsViolation(err, policy.ViolationTraversal) {
			t.Errorf("Path %q: expected traversal violation, got %v", path, err)
		}
	}

	violations := fs.Policy().Violations()
	if len(violations) == 0 {
		t.Error("Expected recorded violations")
	}
}

// TestFileSystem_Rename verifies file and directory moves.
func TestFileSystem_Rename(t *testing.T) {
	for name, factory := range GetTestProviderFactories() {
		t.Run(name, func(tst *testing.T) {
			ctx := tst.Context()
			fs := newTestFS(tst, factory)

			if err := fs.Mkdir(ctx, "/src"); err != nil {
				tst.Fatalf("Mkdir failed: %v", err)
			}
			if err := fs.Mkdir(ctx, "/dst"); err != nil {
				tst.Fatalf("Mkdir failed: %v", err)
			}
			if err := fs.WriteFile(ctx, "/src/a.txt", []byte("content a")); err != nil {
				tst.Fatalf("WriteFile failed: %v", err)
			}

			if err := fs.Rename(ctx, "/src/a.txt", "/dst/b.txt"); err != nil {
				tst.Fatalf("Rename file failed: %v", err)
			}

			got, err := fs.ReadFile(ctx, "/dst/b.txt")
			if err != nil {
				tst.Fatalf("ReadFile after rename failed: %v", err)
			}
			if string(got) != "content a" {
				tst.Errorf("Expected %q, got %q", "content a", got)
			}
			if _, err := fs.Stat(ctx, "/src/a.txt"); !errors.Is(err, data.ErrNotExist) {
				tst.Errorf("Expected source gone, got %v", err)
			}

			// Directory move carries the subtree.
			if err := fs.WriteFile(ctx, "/src/deep.txt", []byte("deep")); err != nil {
				tst.Fatalf("WriteFile failed: %v", err)
			}
			if err := fs.Rename(ctx, "/src", "/dst/moved"); err != nil {
				tst.Fatalf("Rename dir failed: %v", err)
			}
			got, err = fs.ReadFile(ctx, "/dst/moved/deep.txt")
			if err != nil {
				tst.Fatalf("ReadFile in moved dir failed: %v", err)
			}
			if string(got) != "deep" {
				tst.Errorf("Expected %q, got %q", "deep", got)
			}

			// Moving a directory into itself is refused.
			if err := fs.Rename(ctx, "/dst", "/dst/moved/inner"); !errors.Is(err, data.ErrInvalidPath) {
				tst.Errorf("Expected ErrInvalidPath, got %v", err)
			}
		})
	}
}

// TestFileSystem_Find verifies pattern search.
func TestFileSystem_Find(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t, GetTestProviderFactories()["memory"])

	for _, dir := range []string{"/docs", "/docs/sub", "/other"} {
		if err := fs.Mkdir(ctx, dir); err != nil {
			t.Fatalf("Mkdir %s failed: %v", dir, err)
		}
	}
	for _, file := range []string{"/docs/a.md", "/docs/b.txt", "/docs/sub/c.md", "/other/d.md"} {
		if err := fs.WriteFile(ctx, file, []byte("x")); err != nil {
			t.Fatalf("WriteFile %s failed: %v", file, err)
		}
	}

	matches, err := fs.Find(ctx, "/docs", "*.md", true)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	expected := []string{"/docs/a.md", "/docs/sub/c.md"}
	if len(matches) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, matches)
	}
	for i := range expected {
		if matches[i] != expected[i] {
			t.Errorf("Expected %v, got %v", expected, matches)
			break
		}
	}

	// Non-recursive search stays at the top level.
	matches, err = fs.Find(ctx, "/docs", "*.md", false)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(matches) != 1 || matches[0] != "/docs/a.md" {
		t.Errorf("Expected [/docs/a.md], got %v", matches)
	}

	if _, err := fs.Find(ctx, "/docs/a.md", "*", false); !errors.Is(err, data.ErrNotDirectory) {
		t.Errorf("Expected ErrNotDirectory on file root, got %v", err)
	}
}

// TestFileSystem_Quotas verifies per-file and aggregate limits.
func TestFileSystem_Quotas(t *testing.T) {
	ctx := t.Context()

	fs := newTestFS(t, GetTestProviderFactories()["memory"],
		vfs.WithPolicy(&policy.Policy{
			MaxFileSize: 8,
			MaxFiles:    2,
		}))

	if err := fs.WriteFile(ctx, "/big.bin", bytes.Repeat([]byte{0}, 9)); !policy.IsViolation(err, policy.ViolationQuota) {
		t.Errorf("Expected quota violation for oversized file, got %v", err)
	}

	if err := fs.WriteFile(ctx, "/a.bin", []byte("1")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fs.WriteFile(ctx, "/b.bin", []byte("2")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fs.WriteFile(ctx, "/c.bin", []byte("3")); !policy.IsViolation(err, policy.ViolationQuota) {
		t.Errorf("Expected quota violation for file count, got %v", err)
	}

	// Overwriting an existing file is not a new node and stays allowed.
	if err := fs.WriteFile(ctx, "/a.bin", []byte("11")); err != nil {
		t.Errorf("Overwrite under file-count quota failed: %v", err)
	}
}

// TestFileSystem_StatsCounters verifies the merged operation counters.
func TestFileSystem_StatsCounters(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t, GetTestProviderFactories()["memory"])

	content := []byte("0123456789")
	if err := fs.WriteFile(ctx, "/f.txt", content); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := fs.ReadFile(ctx, "/f.txt"); err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	stats, err := fs.StorageStats(ctx)
	if err != nil {
		t.Fatalf("StorageStats failed: %v", err)
	}
	if stats.FilesCreated != 1 {
		t.Errorf("Expected 1 file created, got %d", stats.FilesCreated)
	}
	if stats.BytesWritten != int64(len(content)) {
		t.Errorf("Expected %d bytes written, got %d", len(content), stats.BytesWritten)
	}
	if stats.BytesRead != int64(len(content)) {
		t.Errorf("Expected %d bytes read, got %d", len(content), stats.BytesRead)
	}
}

// TestFileSystem_Closed verifies that operations fail after Close.
func TestFileSystem_Closed(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t, GetTestProviderFactories()["memory"])

	if err := fs.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := fs.WriteFile(ctx, "/x.txt", []byte("x")); !errors.Is(err, data.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := fs.ReadFile(ctx, "/x.txt"); !errors.Is(err, data.ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	// Close is idempotent.
	if err := fs.Close(ctx); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

// TestFileSystem_ProfileUntrusted verifies the restrictive predefined
// profile end to end.
func TestFileSystem_ProfileUntrusted(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t, GetTestProviderFactories()["memory"], vfs.WithProfile("untrusted"))

	if err := fs.Mkdir(ctx, "/sandbox"); err != nil {
		t.Fatalf("Mkdir /sandbox failed: %v", err)
	}
	if err := fs.WriteFile(ctx, "/sandbox/notes.txt", []byte("ok")); err != nil {
		t.Fatalf("Write inside allowed prefix failed: %v", err)
	}

	if err := fs.WriteFile(ctx, "/outside.txt", []byte("nope")); !policy.IsViolation(err, policy.ViolationDeniedPath) {
		t.Errorf("Expected denied-path violation, got %v", err)
	}
	if err := fs.WriteFile(ctx, "/sandbox/tool.exe", []byte("bin")); !policy.IsViolation(err, policy.ViolationExtension) {
		t.Errorf("Expected extension violation, got %v", err)
	}
}

// TestFileSystem_ExpiredDirectoryHidesChildren verifies that a directory
// past its TTL is absent as a whole, even when its children carry no TTL
// of their own.
func TestFileSystem_ExpiredDirectoryHidesChildren(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t, GetTestProviderFactories()["memory"])

	if err := fs.Mkdir(ctx, "/cache", vfs.WithTTL(20*time.Millisecond)); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	if err := fs.WriteFile(ctx, "/cache/a.txt", []byte("x")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	if _, err := fs.Stat(ctx, "/cache"); !errors.Is(err, data.ErrNotExist) {
		t.Errorf("Expected ErrNotExist from Stat, got %v", err)
	}
	if _, err := fs.List(ctx, "/cache"); !errors.Is(err, data.ErrNotExist) {
		t.Errorf("Expected ErrNotExist from List, got %v", err)
	}
}

// TestFileSystem_ExistsSurfacesFaults verifies that Exists and IsDir only
// map absence to false; other failures must not be swallowed.
func TestFileSystem_ExistsSurfacesFaults(t *testing.T) {
	ctx := t.Context()
	fs := newTestFS(t, GetTestProviderFactories()["memory"])

	if ok, err := fs.Exists(ctx, "/nope"); err != nil || ok {
		t.Errorf("Expected (false, nil) for absent node, got (%v, %v)", ok, err)
	}

	if err := fs.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := fs.Exists(ctx, "/nope"); !errors.Is(err, data.ErrClosed) {
		t.Errorf("Expected ErrClosed from Exists, got %v", err)
	}
	if _, err := fs.IsDir(ctx, "/nope"); !errors.Is(err, data.ErrClosed) {
		t.Errorf("Expected ErrClosed from IsDir, got %v", err)
	}
}

// flakyProvider refuses a configurable number of CreateNode calls with a
// negative result, imitating read-after-delete lag.
type flakyProvider struct {
	provider.StorageProvider
	failCreates int
}

func (f *flakyProvider) CreateNode(ctx context.Context, info *data.NodeInfo) (bool, error) {
	if f.failCreates > 0 {
		f.failCreates--
		return false, nil
	}
	return f.StorageProvider.CreateNode(ctx, info)
}

// TestFileSystem_SetTagsSurvivesFlakyCreate verifies that the recreate
// step of a tag update retries transient refusals and reports persistent
// ones instead of silently losing the file.
func TestFileSystem_SetTagsSurvivesFlakyCreate(t *testing.T) {
	ctx := t.Context()

	flaky := &flakyProvider{StorageProvider: memory.New()}
	fs, err := vfs.New(ctx, flaky,
		vfs.WithLogger(log.Discard()),
		vfs.WithRetry(3, time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to initialize filesystem: %v", err)
	}
	defer fs.Close(ctx)

	if err := fs.WriteFile(ctx, "/tagged.txt", []byte("payload")); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// One refusal is within the retry budget.
	flaky.failCreates = 1
	if err := fs.SetTags(ctx, "/tagged.txt", map[string]string{"env": "prod"}); err != nil {
		t.Fatalf("SetTags with transient refusal failed: %v", err)
	}

	got, err := fs.ReadFile(ctx, "/tagged.txt")
	if err != nil {
		t.Fatalf("Content lost after tag update: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Expected %q, got %q", "payload", got)
	}
	tags, err := fs.GetTags(ctx, "/tagged.txt")
	if err != nil {
		t.Fatalf("GetTags failed: %v", err)
	}
	if tags["env"] != "prod" {
		t.Errorf("Expected tag env=prod, got %v", tags)
	}

	// A persistent refusal must surface as an error, never a silent nil.
	flaky.failCreates = 100
	if err := fs.SetTags(ctx, "/tagged.txt", map[string]string{"env": "dev"}); !errors.Is(err, data.ErrProviderUnavailable) {
		t.Errorf("Expected ErrProviderUnavailable, got %v", err)
	}
}

// TestFileSystem_DottedDirectoryNames verifies that extension rules bind
// file creation only; directory names are free to contain dots.
func TestFileSystem_DottedDirectoryNames(t *testing.T) {
	ctx := t.Context()

	fs := newTestFS(t, GetTestProviderFactories()["memory"],
		vfs.WithPolicy(&policy.Policy{
			AllowedExtensions: []string{".txt"},
		}))

	if err := fs.Mkdir(ctx, "/v1.2"); err != nil {
		t.Fatalf("Mkdir with dotted name failed: %v", err)
	}

	if err := fs.WriteFile(ctx, "/v1.2/notes.txt", []byte("ok")); err != nil {
		t.Fatalf("Allowed write failed: %v", err)
	}
	if err := fs.WriteFile(ctx, "/v1.2/tool.exe", []byte("no")); !policy.IsViolation(err, policy.ViolationExtension) {
		t.Errorf("Expected extension violation from write, got %v", err)
	}
	if err := fs.Touch(ctx, "/v1.2/page.html"); !policy.IsViolation(err, policy.ViolationExtension) {
		t.Errorf("Expected extension violation from touch, got %v", err)
	}
	if err := fs.Rename(ctx, "/v1.2/notes.txt", "/v1.2/notes.bin"); !policy.IsViolation(err, policy.ViolationExtension) {
		t.Errorf("Expected extension violation from rename, got %v", err)
	}
	// Directory renames stay exempt.
	if err := fs.Rename(ctx, "/v1.2", "/v1.3"); err != nil {
		t.Errorf("Directory rename with dotted name failed: %v", err)
	}
}

func ExampleFileSystem() {
	ctx := context.Background()

	fs, err := vfs.New(ctx, memory.New(), vfs.WithLogger(log.Discard()))
	if err != nil {
		panic(err)
	}
	defer fs.Close(ctx)

	fs.Mkdir(ctx, "/docs")
	fs.WriteFile(ctx, "/docs/hello.txt", []byte("hello"))

	content, _ := fs.ReadFile(ctx, "/docs/hello.txt")
	fmt.Println(string(content))
	// Output: hello
}

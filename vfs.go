// Package vfs implements a sandboxed, hierarchical virtual filesystem:
// an in-process tree of files and directories guarded by a security
// policy and backed by a swappable storage provider.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sandkit/vfs/data"
	"github.com/sandkit/vfs/log"
	"github.com/sandkit/vfs/policy"
	"github.com/sandkit/vfs/provider"
)

// FileSystem orchestrates the security policy and a storage provider
// behind one uniform API. All methods return typed errors from the data
// package or *policy.Violation; provider-level negative results never
// leak through.
type FileSystem struct {
	provider provider.StorageProvider
	policy   *policy.Policy
	logger   *log.Logger
	locks    *parentLocks
	retry    retryConfig

	closed atomic.Bool

	// Operation counters, merged into StorageStats.
	ops          atomic.Int64
	errs         atomic.Int64
	bytesRead    atomic.Int64
	bytesWritten atomic.Int64
	filesCreated atomic.Int64
	filesDeleted atomic.Int64
}

// New initializes prov and wraps it in a FileSystem. Provider
// initialization failure is fatal to the instance; the caller decides
// whether to retry with a fresh one.
func New(ctx context.Context, prov provider.StorageProvider, opts ...Option) (*FileSystem, error) {
	options := newDefaultOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	if err := prov.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}

	fs := &FileSystem{
		provider: prov,
		policy:   options.Policy,
		logger:   options.Logger.Named("vfs"),
		locks:    newParentLocks(),
		retry:    options.Retry,
	}

	fs.logger.Info("Initialized filesystem with %s provider", prov.Name())
	return fs, nil
}

// Policy exposes the active security policy.
func (fs *FileSystem) Policy() *policy.Policy {
	return fs.policy
}

// Provider exposes the underlying storage provider.
func (fs *FileSystem) Provider() provider.StorageProvider {
	return fs.provider
}

// Close shuts down the provider. Further operations fail with ErrClosed.
func (fs *FileSystem) Close(ctx context.Context) error {
	if !fs.closed.CompareAndSwap(false, true) {
		return nil
	}

	fs.logger.Info("Closing filesystem")
	return fs.provider.Close(ctx)
}

func (fs *FileSystem) guard() error {
	if fs.closed.Load() {
		return data.ErrClosed
	}
	return nil
}

// resolve normalizes and policy-checks a path for a read operation.
func (fs *FileSystem) resolve(operation, path string) (string, error) {
	resolved, err := fs.policy.Resolve("/", path)
	if err != nil {
		return "", err
	}
	if err := fs.policy.Validate(operation, resolved); err != nil {
		return "", err
	}
	return resolved, nil
}

// resolveWrite normalizes and policy-checks a path for a mutation of the
// given size, including the aggregate size quota when configured.
// Read-only mode rejects before the provider is ever consulted. The file
// count quota is checked separately once the caller knows whether the
// write creates a new node.
func (fs *FileSystem) resolveWrite(ctx context.Context, operation, path string, size int64) (string, error) {
	resolved, err := fs.policy.Resolve("/", path)
	if err != nil {
		return "", err
	}
	if err := fs.policy.ValidateWrite(operation, resolved, size); err != nil {
		return "", err
	}

	if fs.policy.NeedsUsage() {
		stats, err := fs.provider.Stats(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
		}
		if err := fs.policy.ValidateQuota(operation, resolved, size, false, stats); err != nil {
			return "", err
		}
	}

	return resolved, nil
}

// checkFileCountQuota enforces the maximum file count for a write that
// creates a node which did not exist before.
func (fs *FileSystem) checkFileCountQuota(ctx context.Context, operation, path string) error {
	if !fs.policy.NeedsUsage() {
		return nil
	}
	stats, err := fs.provider.Stats(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	return fs.policy.ValidateQuota(operation, path, 0, true, stats)
}

// statLive returns live node metadata, treating expired nodes as absent.
func (fs *FileSystem) statLive(ctx context.Context, path string) (*data.NodeInfo, error) {
	info, err := fs.provider.GetNodeInfo(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	if info == nil || info.IsExpired() {
		return nil, nil
	}
	return info, nil
}

// requireDir verifies that path exists and is a directory.
func (fs *FileSystem) requireDir(ctx context.Context, path string) error {
	info, err := fs.statLive(ctx, path)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("%w: %s", data.ErrNotExist, path)
	}
	if !info.IsDir {
		return fmt.Errorf("%w: %s", data.ErrNotDirectory, path)
	}
	return nil
}

// Mkdir creates a directory. The parent must already exist; intermediate
// directories are never auto-created.
func (fs *FileSystem) Mkdir(ctx context.Context, path string, opts ...NodeOption) error {
	if err := fs.guard(); err != nil {
		return err
	}

	resolved, err := fs.resolveWrite(ctx, "mkdir", path, 0)
	if err != nil {
		fs.errs.Add(1)
		return err
	}
	if data.IsRoot(resolved) {
		return fmt.Errorf("%w: %s", data.ErrExist, resolved)
	}

	parent, name := data.Split(resolved)
	unlock := fs.locks.lock(parent)
	defer unlock()

	if err := fs.requireDir(ctx, parent); err != nil {
		fs.errs.Add(1)
		return err
	}
	if err := fs.reapIfExpired(ctx, resolved); err != nil {
		return err
	}

	info := data.NewNodeInfo(name, parent, true)
	for _, opt := range opts {
		opt(info)
	}

	ok, err := fs.provider.CreateNode(ctx, info)
	if err != nil {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	if !ok {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %s", data.ErrExist, resolved)
	}

	fs.ops.Add(1)
	fs.logger.Debug("Created directory %s", resolved)
	return nil
}

// WriteFile writes content to path, creating the file when absent. The
// parent directory must exist.
func (fs *FileSystem) WriteFile(ctx context.Context, path string, content []byte, opts ...NodeOption) error {
	if err := fs.guard(); err != nil {
		return err
	}

	resolved, err := fs.resolveWrite(ctx, "write", path, int64(len(content)))
	if err != nil {
		fs.errs.Add(1)
		return err
	}
	if err := fs.policy.ValidateExtension("write", resolved); err != nil {
		fs.errs.Add(1)
		return err
	}
	if data.IsRoot(resolved) {
		return fmt.Errorf("%w: %s", data.ErrIsDirectory, resolved)
	}

	parent, name := data.Split(resolved)
	unlock := fs.locks.lock(parent)
	defer unlock()

	if err := fs.reapIfExpired(ctx, resolved); err != nil {
		return err
	}

	existing, err := fs.statLive(ctx, resolved)
	if err != nil {
		fs.errs.Add(1)
		return err
	}
	if existing != nil && existing.IsDir {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %s", data.ErrIsDirectory, resolved)
	}

	if existing == nil {
		if err := fs.requireDir(ctx, parent); err != nil {
			fs.errs.Add(1)
			return err
		}
		if err := fs.checkFileCountQuota(ctx, "write", resolved); err != nil {
			fs.errs.Add(1)
			return err
		}

		info := data.NewNodeInfo(name, parent, false)
		for _, opt := range opts {
			opt(info)
		}

		ok, err := fs.provider.CreateNode(ctx, info)
		if err != nil {
			fs.errs.Add(1)
			return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
		}
		if !ok {
			fs.errs.Add(1)
			return fmt.Errorf("%w: %s", data.ErrExist, resolved)
		}
		fs.filesCreated.Add(1)
	}

	// Tolerate read-after-create lag on eventually-consistent providers.
	ok, err := fs.withRetry(ctx, func() (bool, error) {
		return fs.provider.WriteFile(ctx, resolved, content)
	})
	if err != nil {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	if !ok {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %s", data.ErrNotExist, resolved)
	}

	fs.ops.Add(1)
	fs.bytesWritten.Add(int64(len(content)))
	fs.logger.Debug("Wrote %d bytes to %s", len(content), resolved)
	return nil
}

// ReadFile returns the content of a file.
func (fs *FileSystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := fs.guard(); err != nil {
		return nil, err
	}

	resolved, err := fs.resolve("read", path)
	if err != nil {
		fs.errs.Add(1)
		return nil, err
	}

	info, err := fs.statLive(ctx, resolved)
	if err != nil {
		fs.errs.Add(1)
		return nil, err
	}
	if info == nil {
		fs.errs.Add(1)
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, resolved)
	}
	if info.IsDir {
		fs.errs.Add(1)
		return nil, fmt.Errorf("%w: %s", data.ErrIsDirectory, resolved)
	}

	var content []byte
	_, err = fs.withRetry(ctx, func() (bool, error) {
		c, err := fs.provider.ReadFile(ctx, resolved)
		if err != nil {
			return false, err
		}
		content = c
		return c != nil, nil
	})
	if err != nil {
		fs.errs.Add(1)
		return nil, fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	if content == nil {
		fs.errs.Add(1)
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, resolved)
	}

	fs.ops.Add(1)
	fs.bytesRead.Add(int64(len(content)))
	return content, nil
}

// Remove deletes a file or an empty directory. The root cannot be removed.
func (fs *FileSystem) Remove(ctx context.Context, path string) error {
	if err := fs.guard(); err != nil {
		return err
	}

	resolved, err := fs.resolveWrite(ctx, "remove", path, 0)
	if err != nil {
		fs.errs.Add(1)
		return err
	}
	if data.IsRoot(resolved) {
		fs.errs.Add(1)
		return fmt.Errorf("%w: cannot remove root", data.ErrInvalidPath)
	}

	parent, _ := data.Split(resolved)
	unlock := fs.locks.lock(parent)
	defer unlock()

	info, err := fs.statLive(ctx, resolved)
	if err != nil {
		fs.errs.Add(1)
		return err
	}
	if info == nil {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %s", data.ErrNotExist, resolved)
	}

	if info.IsDir {
		children, err := fs.provider.ListDirectory(ctx, resolved)
		if err != nil && err != data.ErrNotDirectory {
			fs.errs.Add(1)
			return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
		}
		if len(children) > 0 {
			fs.errs.Add(1)
			return fmt.Errorf("%w: %s", data.ErrDirectoryNotEmpty, resolved)
		}
	}

	ok, err := fs.provider.DeleteNode(ctx, resolved)
	if err != nil {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	if !ok {
		fs.errs.Add(1)
		if info.IsDir {
			return fmt.Errorf("%w: %s", data.ErrDirectoryNotEmpty, resolved)
		}
		return fmt.Errorf("%w: %s", data.ErrNotExist, resolved)
	}

	fs.ops.Add(1)
	if !info.IsDir {
		fs.filesDeleted.Add(1)
	}
	fs.logger.Debug("Removed %s", resolved)
	return nil
}

// List returns the child names of a directory in deterministic order.
// Expired children are filtered out.
func (fs *FileSystem) List(ctx context.Context, path string) ([]string, error) {
	if err := fs.guard(); err != nil {
		return nil, err
	}

	resolved, err := fs.resolve("list", path)
	if err != nil {
		fs.errs.Add(1)
		return nil, err
	}

	// An expired directory is absent, children included.
	info, err := fs.statLive(ctx, resolved)
	if err != nil {
		fs.errs.Add(1)
		return nil, err
	}
	if info == nil {
		fs.errs.Add(1)
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, resolved)
	}
	if !info.IsDir {
		fs.errs.Add(1)
		return nil, fmt.Errorf("%w: %s", data.ErrNotDirectory, resolved)
	}

	names, err := fs.provider.ListDirectory(ctx, resolved)
	if err != nil {
		fs.errs.Add(1)
		if err == data.ErrNotDirectory {
			return nil, fmt.Errorf("%w: %s", data.ErrNotDirectory, resolved)
		}
		return nil, fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	if names == nil {
		fs.errs.Add(1)
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, resolved)
	}

	live := make([]string, 0, len(names))
	for _, name := range names {
		info, err := fs.provider.GetNodeInfo(ctx, data.Join(resolved, name))
		if err != nil {
			fs.errs.Add(1)
			return nil, fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
		}
		if info != nil && info.IsExpired() {
			continue
		}
		live = append(live, name)
	}

	fs.ops.Add(1)
	return live, nil
}

// Stat returns node metadata. Expired nodes report ErrNotExist.
func (fs *FileSystem) Stat(ctx context.Context, path string) (*data.NodeInfo, error) {
	if err := fs.guard(); err != nil {
		return nil, err
	}

	resolved, err := fs.resolve("stat", path)
	if err != nil {
		fs.errs.Add(1)
		return nil, err
	}

	info, err := fs.statLive(ctx, resolved)
	if err != nil {
		fs.errs.Add(1)
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s", data.ErrNotExist, resolved)
	}

	fs.ops.Add(1)
	return info, nil
}

// Exists reports whether a live node is present at path. Only absence
// maps to false; violations and transport faults surface as errors.
func (fs *FileSystem) Exists(ctx context.Context, path string) (bool, error) {
	_, err := fs.Stat(ctx, path)
	if err != nil {
		if errors.Is(err, data.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsDir reports whether path exists and is a directory.
func (fs *FileSystem) IsDir(ctx context.Context, path string) (bool, error) {
	info, err := fs.Stat(ctx, path)
	if err != nil {
		if errors.Is(err, data.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir, nil
}

// Touch creates an empty file, or advances the modification time when the
// file already exists.
func (fs *FileSystem) Touch(ctx context.Context, path string, opts ...NodeOption) error {
	if err := fs.guard(); err != nil {
		return err
	}

	resolved, err := fs.resolveWrite(ctx, "touch", path, 0)
	if err != nil {
		fs.errs.Add(1)
		return err
	}
	if err := fs.policy.ValidateExtension("touch", resolved); err != nil {
		fs.errs.Add(1)
		return err
	}

	info, err := fs.statLive(ctx, resolved)
	if err != nil {
		fs.errs.Add(1)
		return err
	}
	if info != nil {
		if info.IsDir {
			return fmt.Errorf("%w: %s", data.ErrIsDirectory, resolved)
		}
		content, err := fs.provider.ReadFile(ctx, resolved)
		if err != nil {
			return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
		}
		// Rewrite advances modified_at through the provider.
		if _, err := fs.provider.WriteFile(ctx, resolved, content); err != nil {
			return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
		}
		fs.ops.Add(1)
		return nil
	}

	return fs.WriteFile(ctx, resolved, []byte{}, opts...)
}

// StorageStats merges provider-side aggregates with the manager's own
// operation counters.
func (fs *FileSystem) StorageStats(ctx context.Context) (*data.StorageStats, error) {
	if err := fs.guard(); err != nil {
		return nil, err
	}

	stats, err := fs.provider.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}

	stats.Operations = fs.ops.Load()
	stats.Errors = fs.errs.Load()
	stats.BytesRead = fs.bytesRead.Load()
	stats.BytesWritten = fs.bytesWritten.Load()
	stats.FilesCreated = fs.filesCreated.Load()
	stats.FilesDeleted = fs.filesDeleted.Load()
	return stats, nil
}

// Cleanup reclaims TTL-expired nodes from the provider.
func (fs *FileSystem) Cleanup(ctx context.Context) (*data.CleanupReport, error) {
	if err := fs.guard(); err != nil {
		return nil, err
	}

	report, err := fs.provider.Cleanup(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}

	if report.FilesRemoved > 0 {
		fs.logger.Info("Cleanup reclaimed %d files (%d bytes)", report.FilesRemoved, report.BytesFreed)
	}
	return report, nil
}

// reapIfExpired physically removes an expired node occupying path so a new
// node can take its place. Must be called with the parent lock held.
func (fs *FileSystem) reapIfExpired(ctx context.Context, path string) error {
	info, err := fs.provider.GetNodeInfo(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	if info == nil || !info.IsExpired() {
		return nil
	}

	fs.logger.Debug("Reaping expired node %s", path)
	if _, err := fs.provider.DeleteNode(ctx, path); err != nil {
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	return nil
}

// SetTags replaces the custom tags stored on a node.
func (fs *FileSystem) SetTags(ctx context.Context, path string, tags map[string]string) error {
	if err := fs.guard(); err != nil {
		return err
	}

	resolved, err := fs.resolveWrite(ctx, "set-tags", path, 0)
	if err != nil {
		fs.errs.Add(1)
		return err
	}

	info, err := fs.statLive(ctx, resolved)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("%w: %s", data.ErrNotExist, resolved)
	}
	if info.IsDir {
		return fmt.Errorf("%w: tags on directories", data.ErrUnsupported)
	}

	content, err := fs.provider.ReadFile(ctx, resolved)
	if err != nil {
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}

	// Providers persist metadata alongside content, so tag updates ride
	// a rewrite. Recreate with the merged info when the provider keeps
	// metadata immutable on write.
	parent, _ := data.Split(resolved)
	unlock := fs.locks.lock(parent)
	defer unlock()

	ok, err := fs.provider.DeleteNode(ctx, resolved)
	if err != nil {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	if !ok {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %s", data.ErrNotExist, resolved)
	}

	// The node is gone until the recreate lands. A refused recreate must
	// surface, and transient refusals on eventually-consistent providers
	// get retried rather than dropped.
	info.Tags = tags
	ok, err = fs.withRetry(ctx, func() (bool, error) {
		return fs.provider.CreateNode(ctx, info)
	})
	if err != nil {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	if !ok {
		fs.errs.Add(1)
		return fmt.Errorf("%w: recreating %s after tag update", data.ErrProviderUnavailable, resolved)
	}

	ok, err = fs.withRetry(ctx, func() (bool, error) {
		return fs.provider.WriteFile(ctx, resolved, content)
	})
	if err != nil {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	if !ok {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %s", data.ErrNotExist, resolved)
	}

	fs.ops.Add(1)
	return nil
}

// GetTags returns the custom tags stored on a node.
func (fs *FileSystem) GetTags(ctx context.Context, path string) (map[string]string, error) {
	info, err := fs.Stat(ctx, path)
	if err != nil {
		return nil, err
	}

	tags := make(map[string]string, len(info.Tags))
	for k, v := range info.Tags {
		tags[k] = v
	}
	return tags, nil
}

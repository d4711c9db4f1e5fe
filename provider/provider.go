// Package provider defines the contract a storage backend must satisfy to
// hold the authoritative copy of nodes and their content.
//
// Backends signal logical failure through explicit negative results: a
// false bool or a nil result with a nil error. Non-nil errors are reserved
// for transport faults (connection loss, malformed responses), so the
// manager has exactly one way to interpret outcomes. Backends may be
// eventually consistent; callers must tolerate a create followed by a
// transient not-found on immediate read.
package provider

import (
	"context"

	"github.com/sandkit/vfs/data"
)

// StorageProvider is the full method set every backend implements.
// A backend lacking a capability returns data.ErrUnsupported from the
// affected method instead of omitting it.
type StorageProvider interface {
	// Name returns the identifier name defined for this provider.
	Name() string

	// Initialize prepares the provider for use. It must be called once
	// before any other method; failure is fatal to the owning manager.
	Initialize(ctx context.Context) error

	// Close releases all provider resources.
	Close(ctx context.Context) error

	// CreateNode persists new node metadata. It succeeds only when the
	// parent exists and is a directory and the path is not yet taken;
	// otherwise it returns (false, nil).
	CreateNode(ctx context.Context, info *data.NodeInfo) (bool, error)

	// GetNodeInfo returns the metadata stored for path, or (nil, nil)
	// when the path is absent.
	GetNodeInfo(ctx context.Context, path string) (*data.NodeInfo, error)

	// ListDirectory returns the sorted child names of a directory.
	// It returns data.ErrNotDirectory when path exists but is a file,
	// and (nil, nil) when the path is absent.
	ListDirectory(ctx context.Context, path string) ([]string, error)

	// WriteFile replaces the content of an existing non-directory node.
	// It returns (false, nil) when the node is absent or a directory.
	WriteFile(ctx context.Context, path string, content []byte) (bool, error)

	// ReadFile returns the content of a file, or (nil, nil) when absent.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// DeleteNode removes a file or an empty directory. It returns
	// (false, nil) when the node is absent or a non-empty directory.
	DeleteNode(ctx context.Context, path string) (bool, error)

	// Stats reports aggregate node counts and sizes.
	Stats(ctx context.Context) (*data.StorageStats, error)

	// Cleanup reclaims TTL-expired nodes and reports what was freed.
	Cleanup(ctx context.Context) (*data.CleanupReport, error)
}

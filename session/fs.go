package session

import (
	"context"

	"github.com/sandkit/vfs"
	"github.com/sandkit/vfs/data"
)

// FS is a view of one filesystem gated by one session. Every call is
// validated against the session's access rules before it reaches the
// filesystem, and usage is accounted to the session afterwards.
type FS struct {
	fs  *vfs.FileSystem
	mgr *Manager
	id  string
}

// Bind ties fs to the session with the given ID. The session does not
// have to exist yet; calls through a missing or expired session fail
// with ErrNoSession.
func (m *Manager) Bind(fs *vfs.FileSystem, sessionID string) *FS {
	return &FS{fs: fs, mgr: m, id: sessionID}
}

// SessionID returns the bound session's ID.
func (f *FS) SessionID() string {
	return f.id
}

func (f *FS) Mkdir(ctx context.Context, path string, opts ...vfs.NodeOption) error {
	if err := f.mgr.Validate(f.id, path, "create"); err != nil {
		return err
	}
	if err := f.fs.Mkdir(ctx, path, opts...); err != nil {
		return err
	}
	f.mgr.record(f.id, "create", 0)
	return nil
}

func (f *FS) WriteFile(ctx context.Context, path string, content []byte, opts ...vfs.NodeOption) error {
	if err := f.mgr.Validate(f.id, path, "write"); err != nil {
		return err
	}
	if err := f.fs.WriteFile(ctx, path, content, opts...); err != nil {
		return err
	}
	f.mgr.record(f.id, "write", int64(len(content)))
	return nil
}

func (f *FS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := f.mgr.Validate(f.id, path, "read"); err != nil {
		return nil, err
	}
	content, err := f.fs.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	f.mgr.record(f.id, "read", int64(len(content)))
	return content, nil
}

func (f *FS) Remove(ctx context.Context, path string) error {
	if err := f.mgr.Validate(f.id, path, "delete"); err != nil {
		return err
	}
	if err := f.fs.Remove(ctx, path); err != nil {
		return err
	}
	f.mgr.record(f.id, "delete", 0)
	return nil
}

func (f *FS) List(ctx context.Context, path string) ([]string, error) {
	if err := f.mgr.Validate(f.id, path, "read"); err != nil {
		return nil, err
	}
	return f.fs.List(ctx, path)
}

func (f *FS) Stat(ctx context.Context, path string) (*data.NodeInfo, error) {
	if err := f.mgr.Validate(f.id, path, "read"); err != nil {
		return nil, err
	}
	return f.fs.Stat(ctx, path)
}

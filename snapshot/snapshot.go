// Package snapshot captures point-in-time copies of a filesystem tree
// and restores or transports them as JSON documents.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandkit/vfs"
	"github.com/sandkit/vfs/data"
)

// Node is one captured filesystem entry. Content is nil for
// directories; JSON encodes it base64.
type Node struct {
	Info    *data.NodeInfo `json:"info"`
	Content []byte         `json:"content,omitempty"`
}

// Snapshot is a full capture of the tree, parents before children.
type Snapshot struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Nodes       []Node    `json:"nodes"`
}

// Manager creates, restores and transports snapshots of one filesystem.
// Snapshots are held in memory; Export and Import move them across
// process boundaries.
type Manager struct {
	fs *vfs.FileSystem

	mu        sync.Mutex
	snapshots map[string]*Snapshot
}

func NewManager(fs *vfs.FileSystem) *Manager {
	return &Manager{
		fs:        fs,
		snapshots: make(map[string]*Snapshot),
	}
}

// Create captures the whole tree under a new snapshot. An empty name is
// replaced with a generated unique one. The chosen name is returned.
func (m *Manager) Create(ctx context.Context, name, description string) (string, error) {
	if name == "" {
		name = fmt.Sprintf("snapshot_%s_%s",
			time.Now().UTC().Format("20060102_150405"),
			uuid.NewString()[:8])
	}

	m.mu.Lock()
	_, taken := m.snapshots[name]
	m.mu.Unlock()
	if taken {
		return "", fmt.Errorf("%w: snapshot %q", data.ErrExist, name)
	}

	snap := &Snapshot{
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.capture(ctx, "/", snap); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.snapshots[name] = snap
	m.mu.Unlock()
	return name, nil
}

// capture walks depth first, recording each directory before its
// children so Restore can replay the list in order.
func (m *Manager) capture(ctx context.Context, dir string, snap *Snapshot) error {
	names, err := m.fs.List(ctx, dir)
	if err != nil {
		return err
	}

	for _, name := range names {
		child := data.Join(dir, name)
		info, err := m.fs.Stat(ctx, child)
		if err != nil {
			return err
		}

		node := Node{Info: info.Clone()}
		if !info.IsDir {
			content, err := m.fs.ReadFile(ctx, child)
			if err != nil {
				return err
			}
			node.Content = content
		}
		snap.Nodes = append(snap.Nodes, node)

		if info.IsDir {
			if err := m.capture(ctx, child, snap); err != nil {
				return err
			}
		}
	}
	return nil
}

// Restore replays a snapshot onto the filesystem additively: captured
// nodes are recreated or overwritten, but nodes created after the
// snapshot are left untouched.
func (m *Manager) Restore(ctx context.Context, name string) error {
	m.mu.Lock()
	snap, ok := m.snapshots[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: snapshot %q", data.ErrNotExist, name)
	}
	return m.apply(ctx, snap)
}

func (m *Manager) apply(ctx context.Context, snap *Snapshot) error {
	for _, node := range snap.Nodes {
		path := node.Info.Path()
		if node.Info.IsDir {
			if err := m.fs.Mkdir(ctx, path); err != nil {
				if errors.Is(err, data.ErrExist) {
					continue
				}
				return err
			}
			continue
		}

		var opts []vfs.NodeOption
		if len(node.Info.Tags) > 0 {
			opts = append(opts, vfs.WithTags(node.Info.Tags))
		}
		if err := m.fs.WriteFile(ctx, path, node.Content, opts...); err != nil {
			return err
		}
	}
	return nil
}

// List returns the stored snapshot names in lexical order.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.snapshots))
	for name := range m.snapshots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a stored snapshot by name.
func (m *Manager) Get(name string) (*Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.snapshots[name]
	return snap, ok
}

// Delete discards a stored snapshot. Deleting an unknown name is a no-op.
func (m *Manager) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, name)
}

// Export serializes a snapshot to JSON for storage outside the process.
func (m *Manager) Export(name string) ([]byte, error) {
	m.mu.Lock()
	snap, ok := m.snapshots[name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: snapshot %q", data.ErrNotExist, name)
	}
	return json.MarshalIndent(snap, "", "  ")
}

// Import registers a previously exported snapshot. The embedded name is
// kept unless it collides, in which case a suffix is appended.
func (m *Manager) Import(raw []byte) (string, error) {
	snap := &Snapshot{}
	if err := json.Unmarshal(raw, snap); err != nil {
		return "", fmt.Errorf("%w: %v", data.ErrInvalidPath, err)
	}
	if snap.Name == "" {
		snap.Name = "imported_" + uuid.NewString()[:8]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := snap.Name
	if _, taken := m.snapshots[name]; taken {
		name = fmt.Sprintf("%s_%s", name, uuid.NewString()[:8])
		snap.Name = name
	}
	m.snapshots[name] = snap
	return name, nil
}

// ExportTo writes a snapshot as a JSON file on the host filesystem.
func (m *Manager) ExportTo(name, path string) error {
	raw, err := m.Export(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// ImportFrom registers a snapshot from a JSON file on the host
// filesystem and returns its name.
func (m *Manager) ImportFrom(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return m.Import(raw)
}

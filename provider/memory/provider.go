// Package memory implements an in-memory storage provider backed by an
// ordered B-tree index. It is the reference implementation of the provider
// contract and is strictly consistent.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/sandkit/vfs/data"
	"github.com/tidwall/btree"
)

type Provider struct {
	mu      sync.RWMutex
	nodes   *btree.Map[string, *data.NodeInfo]
	content map[string][]byte
}

// New creates an empty in-memory provider.
func New() *Provider {
	return &Provider{
		nodes:   btree.NewMap[string, *data.NodeInfo](0),
		content: make(map[string][]byte),
	}
}

// Name returns the identifier name defined for this provider.
func (*Provider) Name() string {
	return "memory"
}

// Initialize creates the root directory.
func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.nodes.Get("/"); !exists {
		root := data.NewNodeInfo("", "/", true)
		p.nodes.Set("/", root)
	}
	return nil
}

// Close drops all nodes and content.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nodes = btree.NewMap[string, *data.NodeInfo](0)
	p.content = make(map[string][]byte)
	return nil
}

func (p *Provider) CreateNode(ctx context.Context, info *data.NodeInfo) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := info.Path()
	if _, exists := p.nodes.Get(path); exists {
		return false, nil
	}

	parent, exists := p.nodes.Get(info.ParentPath)
	if !exists || !parent.IsDir {
		return false, nil
	}

	p.nodes.Set(path, info.Clone())
	if !info.IsDir {
		p.content[path] = nil
	}
	return true, nil
}

func (p *Provider) GetNodeInfo(ctx context.Context, path string) (*data.NodeInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info, exists := p.nodes.Get(path)
	if !exists {
		return nil, nil
	}
	return info.Clone(), nil
}

func (p *Provider) ListDirectory(ctx context.Context, path string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info, exists := p.nodes.Get(path)
	if !exists {
		return nil, nil
	}
	if !info.IsDir {
		return nil, data.ErrNotDirectory
	}

	return p.childrenLocked(path), nil
}

// childrenLocked scans the ordered index for direct children of dir.
// The B-tree keeps keys sorted, so the result is deterministic.
func (p *Provider) childrenLocked(dir string) []string {
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}

	names := make([]string, 0, 8)
	p.nodes.Ascend(prefix, func(key string, _ *data.NodeInfo) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		rest := key[len(prefix):]
		if rest != "" && !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
		return true
	})
	return names
}

func (p *Provider) WriteFile(ctx context.Context, path string, content []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, exists := p.nodes.Get(path)
	if !exists || info.IsDir {
		return false, nil
	}

	buf := make([]byte, len(content))
	copy(buf, content)
	p.content[path] = buf

	info.CalculateChecksums(content)
	info.Touch()
	return true, nil
}

func (p *Provider) ReadFile(ctx context.Context, path string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info, exists := p.nodes.Get(path)
	if !exists || info.IsDir {
		return nil, nil
	}

	content := p.content[path]
	buf := make([]byte, len(content))
	copy(buf, content)
	return buf, nil
}

func (p *Provider) DeleteNode(ctx context.Context, path string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if path == "/" {
		return false, nil
	}

	info, exists := p.nodes.Get(path)
	if !exists {
		return false, nil
	}
	if info.IsDir && len(p.childrenLocked(path)) > 0 {
		return false, nil
	}

	p.nodes.Delete(path)
	delete(p.content, path)
	return true, nil
}

func (p *Provider) Stats(ctx context.Context) (*data.StorageStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := &data.StorageStats{Provider: p.Name()}
	p.nodes.Scan(func(key string, info *data.NodeInfo) bool {
		if key == "/" {
			return true
		}
		if info.IsDir {
			stats.TotalDirs++
		} else {
			stats.TotalFiles++
			stats.TotalBytes += info.Size
		}
		return true
	})
	return stats, nil
}

// Cleanup removes every expired node together with anything beneath an
// expired directory.
func (p *Provider) Cleanup(ctx context.Context) (*data.CleanupReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var doomed []string
	p.nodes.Scan(func(key string, info *data.NodeInfo) bool {
		if key == "/" {
			return true
		}
		if info.IsExpired() {
			doomed = append(doomed, key)
		}
		return true
	})

	report := &data.CleanupReport{}
	for _, path := range doomed {
		prefix := path + "/"
		var subtree []string
		p.nodes.Ascend(prefix, func(key string, _ *data.NodeInfo) bool {
			if !strings.HasPrefix(key, prefix) {
				return false
			}
			subtree = append(subtree, key)
			return true
		})

		for _, victim := range append(subtree, path) {
			info, exists := p.nodes.Get(victim)
			if !exists {
				continue
			}
			if !info.IsDir {
				report.FilesRemoved++
				report.BytesFreed += info.Size
			}
			p.nodes.Delete(victim)
			delete(p.content, victim)
		}
	}

	return report, nil
}

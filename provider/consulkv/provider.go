// Package consulkv implements a storage provider on the HashiCorp Consul
// KV store. Each node is a single KV entry holding metadata and content
// together; Consul's 512KB value limit makes this suitable for
// configuration trees and small assets rather than bulk data.
package consulkv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/consul/api"
	"github.com/sandkit/vfs/data"
)

// Consul rejects values above 512KB.
const maxValueSize = 512 * 1024

// Config holds the Consul provider configuration.
type Config struct {
	// Address of the Consul server (default "127.0.0.1:8500").
	Address string

	// Token for ACL authentication (optional).
	Token string

	// Datacenter to use (optional).
	Datacenter string

	// Prefix for all keys in Consul KV (default "vfs").
	Prefix string
}

type record struct {
	Info    *data.NodeInfo `json:"info"`
	Content []byte         `json:"content,omitempty"`
}

type Provider struct {
	mu     sync.RWMutex
	kv     *api.KV
	prefix string
}

// New creates the Consul client. Connectivity is verified by Initialize.
func New(cfg Config) (*Provider, error) {
	clientCfg := api.DefaultConfig()
	if cfg.Address != "" {
		clientCfg.Address = cfg.Address
	}
	if cfg.Token != "" {
		clientCfg.Token = cfg.Token
	}
	if cfg.Datacenter != "" {
		clientCfg.Datacenter = cfg.Datacenter
	}

	client, err := api.NewClient(clientCfg)
	if err != nil {
		return nil, err
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "vfs"
	}

	return &Provider{
		kv:     client.KV(),
		prefix: prefix,
	}, nil
}

// Name returns the identifier name defined for this provider.
func (*Provider) Name() string {
	return "consulkv"
}

func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// A list on the prefix doubles as a connectivity check.
	_, _, err := p.kv.Keys(p.prefix+"/", "/", (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	return nil
}

func (p *Provider) Close(ctx context.Context) error {
	return nil
}

func (p *Provider) key(path string) string {
	if data.IsRoot(path) {
		return p.prefix
	}
	return p.prefix + path
}

func (p *Provider) loadLocked(ctx context.Context, path string) (*record, error) {
	if data.IsRoot(path) {
		return &record{Info: data.NewNodeInfo("", "/", true)}, nil
	}

	pair, _, err := p.kv.Get(p.key(path), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, nil
	}

	rec := &record{}
	if err := json.Unmarshal(pair.Value, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *Provider) storeLocked(ctx context.Context, path string, rec *record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if len(raw) > maxValueSize {
		return fmt.Errorf("%w: value exceeds consul kv size limit", data.ErrUnsupported)
	}

	_, err = p.kv.Put(&api.KVPair{Key: p.key(path), Value: raw},
		(&api.WriteOptions{}).WithContext(ctx))
	return err
}

func (p *Provider) CreateNode(ctx context.Context, info *data.NodeInfo) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := info.Path()
	existing, err := p.loadLocked(ctx, path)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	parent, err := p.loadLocked(ctx, info.ParentPath)
	if err != nil {
		return false, err
	}
	if parent == nil || !parent.Info.IsDir {
		return false, nil
	}

	rec := &record{Info: info.Clone()}
	if err := p.storeLocked(ctx, path, rec); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) GetNodeInfo(ctx context.Context, path string) (*data.NodeInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, err := p.loadLocked(ctx, path)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Info, nil
}

func (p *Provider) ListDirectory(ctx context.Context, path string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, err := p.loadLocked(ctx, path)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if !rec.Info.IsDir {
		return nil, data.ErrNotDirectory
	}

	return p.childrenLocked(ctx, path)
}

func (p *Provider) childrenLocked(ctx context.Context, path string) ([]string, error) {
	prefix := p.key(path) + "/"

	keys, _, err := p.kv.Keys(prefix, "/", (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}

	// A directory with children surfaces twice: once as its own record
	// key and once as a deeper-key prefix with a trailing slash.
	seen := make(map[string]struct{}, len(keys))
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(key, prefix), "/")
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *Provider) WriteFile(ctx context.Context, path string, content []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.loadLocked(ctx, path)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.Info.IsDir {
		return false, nil
	}

	rec.Info.CalculateChecksums(content)
	rec.Info.Touch()
	rec.Content = content

	if err := p.storeLocked(ctx, path, rec); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) ReadFile(ctx context.Context, path string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, err := p.loadLocked(ctx, path)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Info.IsDir {
		return nil, nil
	}
	if rec.Content == nil {
		return []byte{}, nil
	}
	return rec.Content, nil
}

func (p *Provider) DeleteNode(ctx context.Context, path string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if data.IsRoot(path) {
		return false, nil
	}

	rec, err := p.loadLocked(ctx, path)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	if rec.Info.IsDir {
		children, err := p.childrenLocked(ctx, path)
		if err != nil {
			return false, err
		}
		if len(children) > 0 {
			return false, nil
		}
	}

	if _, err := p.kv.Delete(p.key(path), (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Stats(ctx context.Context) (*data.StorageStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pairs, _, err := p.kv.List(p.prefix+"/", (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}

	stats := &data.StorageStats{Provider: p.Name()}
	for _, pair := range pairs {
		rec := &record{}
		if err := json.Unmarshal(pair.Value, rec); err != nil {
			continue
		}
		if rec.Info.IsDir {
			stats.TotalDirs++
		} else {
			stats.TotalFiles++
			stats.TotalBytes += rec.Info.Size
		}
	}
	return stats, nil
}

func (p *Provider) Cleanup(ctx context.Context) (*data.CleanupReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pairs, _, err := p.kv.List(p.prefix+"/", (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, err
	}

	report := &data.CleanupReport{}
	deleted := make(map[string]bool)
	for _, pair := range pairs {
		if deleted[pair.Key] {
			continue
		}
		rec := &record{}
		if err := json.Unmarshal(pair.Value, rec); err != nil {
			continue
		}
		if !rec.Info.IsExpired() {
			continue
		}

		if rec.Info.IsDir {
			// The subtree goes with the expired directory. Count what it
			// takes along before deleting, live files included.
			sub := pair.Key + "/"
			for _, other := range pairs {
				if deleted[other.Key] || !strings.HasPrefix(other.Key, sub) {
					continue
				}
				child := &record{}
				if err := json.Unmarshal(other.Value, child); err == nil && !child.Info.IsDir {
					report.FilesRemoved++
					report.BytesFreed += child.Info.Size
				}
				deleted[other.Key] = true
			}
			if _, err := p.kv.DeleteTree(sub, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
				return nil, err
			}
		} else {
			report.FilesRemoved++
			report.BytesFreed += rec.Info.Size
		}
		if _, err := p.kv.Delete(pair.Key, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
			return nil, err
		}
		deleted[pair.Key] = true
	}
	return report, nil
}

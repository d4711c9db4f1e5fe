// Package s3 implements a storage provider on S3-compatible object
// storage via the MinIO client.
//
// Layout: a file at /docs/a.txt becomes the object key "docs/a.txt";
// a directory becomes a zero-byte marker object with a trailing slash
// ("docs/"). Node metadata travels as base64-encoded JSON in object user
// metadata. Object stores are eventually consistent: a create followed by
// an immediate read may transiently miss, which the manager absorbs with
// a bounded retry.
package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sandkit/vfs/data"
)

const metadataKey = "Vfs-Info"

// Config holds the S3 provider configuration.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool

	// Prefix confines all keys below a common key prefix.
	Prefix string
}

type Provider struct {
	mu     sync.RWMutex
	client *minio.Client
	bucket string
	prefix string
}

// New creates the S3 client. Bucket existence is verified by Initialize.
func New(cfg Config) (*Provider, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}

	return &Provider{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Name returns the identifier name defined for this provider.
func (*Provider) Name() string {
	return "s3"
}

func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return data.ErrProviderUnavailable
	}
	return nil
}

func (p *Provider) Close(ctx context.Context) error {
	return nil
}

// key maps an absolute vfs path to an object key. Directories carry a
// trailing slash.
func (p *Provider) key(path string, isDir bool) string {
	key := strings.TrimPrefix(path, "/")
	if p.prefix != "" {
		key = p.prefix + "/" + key
	}
	if isDir {
		key += "/"
	}
	return key
}

func (p *Provider) CreateNode(ctx context.Context, info *data.NodeInfo) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := info.Path()
	existing, err := p.statLocked(ctx, path)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	if !data.IsRoot(info.ParentPath) {
		parent, err := p.statLocked(ctx, info.ParentPath)
		if err != nil {
			return false, err
		}
		if parent == nil || !parent.IsDir {
			return false, nil
		}
	}

	return true, p.putLocked(ctx, info, nil)
}

func (p *Provider) putLocked(ctx context.Context, info *data.NodeInfo, content []byte) error {
	raw, err := info.Marshal()
	if err != nil {
		return err
	}

	_, err = p.client.PutObject(ctx,
		p.bucket, p.key(info.Path(), info.IsDir),
		bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{
			ContentType: info.MimeType,
			UserMetadata: map[string]string{
				metadataKey: base64.StdEncoding.EncodeToString(raw),
			},
		})
	return err
}

// statLocked looks for a file object first, then a directory marker.
// Returns (nil, nil) when neither exists.
func (p *Provider) statLocked(ctx context.Context, path string) (*data.NodeInfo, error) {
	if data.IsRoot(path) {
		return data.NewNodeInfo("", "/", true), nil
	}

	for _, isDir := range []bool{false, true} {
		stat, err := p.client.StatObject(ctx, p.bucket, p.key(path, isDir), minio.StatObjectOptions{})
		if err != nil {
			if isAbsent(err) {
				continue
			}
			return nil, err
		}
		return p.decodeInfo(path, isDir, stat)
	}
	return nil, nil
}

func (p *Provider) decodeInfo(path string, isDir bool, stat minio.ObjectInfo) (*data.NodeInfo, error) {
	if encoded, ok := stat.UserMetadata[metadataKey]; ok && encoded != "" {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err == nil {
			info := &data.NodeInfo{}
			if err := info.Unmarshal(raw); err == nil {
				return info, nil
			}
		}
	}

	// Objects written outside the vfs carry no metadata; derive it.
	parent, name := data.Split(path)
	info := data.NewNodeInfo(name, parent, isDir)
	info.Size = stat.Size
	info.ModifiedAt = stat.LastModified
	return info, nil
}

func (p *Provider) GetNodeInfo(ctx context.Context, path string) (*data.NodeInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.statLocked(ctx, path)
}

func (p *Provider) ListDirectory(ctx context.Context, path string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info, err := p.statLocked(ctx, path)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, nil
	}
	if !info.IsDir {
		return nil, data.ErrNotDirectory
	}

	prefix := p.key(path, true)
	if data.IsRoot(path) {
		prefix = ""
		if p.prefix != "" {
			prefix = p.prefix + "/"
		}
	}

	names := make([]string, 0, 8)
	for obj := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
		Prefix: prefix,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		rest := strings.TrimPrefix(obj.Key, prefix)
		if rest == "" {
			continue
		}
		// Non-recursive listing returns common prefixes with a
		// trailing slash for subdirectories.
		name := strings.TrimSuffix(rest, "/")
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (p *Provider) WriteFile(ctx context.Context, path string, content []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := p.statLocked(ctx, path)
	if err != nil {
		return false, err
	}
	if info == nil || info.IsDir {
		return false, nil
	}

	info.CalculateChecksums(content)
	info.Touch()
	if err := p.putLocked(ctx, info, content); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) ReadFile(ctx context.Context, path string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	obj, err := p.client.GetObject(ctx, p.bucket, p.key(path, false), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		if isAbsent(err) {
			return nil, nil
		}
		return nil, err
	}
	return content, nil
}

func (p *Provider) DeleteNode(ctx context.Context, path string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if data.IsRoot(path) {
		return false, nil
	}

	info, err := p.statLocked(ctx, path)
	if err != nil {
		return false, err
	}
	if info == nil {
		return false, nil
	}

	if info.IsDir {
		prefix := p.key(path, true)
		for obj := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
			Prefix:  prefix,
			MaxKeys: 2,
		}) {
			if obj.Err != nil {
				return false, obj.Err
			}
			if obj.Key != prefix {
				return false, nil
			}
		}
	}

	err = p.client.RemoveObject(ctx, p.bucket, p.key(path, info.IsDir), minio.RemoveObjectOptions{})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Stats(ctx context.Context) (*data.StorageStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prefix := ""
	if p.prefix != "" {
		prefix = p.prefix + "/"
	}

	stats := &data.StorageStats{Provider: p.Name()}
	for obj := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if strings.HasSuffix(obj.Key, "/") {
			stats.TotalDirs++
		} else {
			stats.TotalFiles++
			stats.TotalBytes += obj.Size
		}
	}
	return stats, nil
}

func (p *Provider) Cleanup(ctx context.Context) (*data.CleanupReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prefix := ""
	if p.prefix != "" {
		prefix = p.prefix + "/"
	}

	type entry struct {
		key     string
		size    int64
		expired bool
	}
	var objects []entry
	for obj := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}

		e := entry{key: obj.Key, size: obj.Size}
		if encoded := obj.UserMetadata["X-Amz-Meta-"+metadataKey]; encoded != "" {
			if raw, err := base64.StdEncoding.DecodeString(encoded); err == nil {
				info := &data.NodeInfo{}
				if err := info.Unmarshal(raw); err == nil {
					e.expired = info.IsExpired()
				}
			}
		}
		objects = append(objects, e)
	}

	// An expired directory marker takes every object under its key with
	// it, and the report counts those files even when they carry no TTL
	// of their own.
	report := &data.CleanupReport{}
	removed := make(map[string]bool)
	for _, e := range objects {
		if removed[e.key] || !e.expired {
			continue
		}

		if strings.HasSuffix(e.key, "/") {
			for _, child := range objects {
				if removed[child.key] || child.key == e.key || !strings.HasPrefix(child.key, e.key) {
					continue
				}
				if err := p.client.RemoveObject(ctx, p.bucket, child.key, minio.RemoveObjectOptions{}); err != nil {
					return nil, err
				}
				if !strings.HasSuffix(child.key, "/") {
					report.FilesRemoved++
					report.BytesFreed += child.size
				}
				removed[child.key] = true
			}
		} else {
			report.FilesRemoved++
			report.BytesFreed += e.size
		}

		if err := p.client.RemoveObject(ctx, p.bucket, e.key, minio.RemoveObjectOptions{}); err != nil {
			return nil, err
		}
		removed[e.key] = true
	}
	return report, nil
}

func isAbsent(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

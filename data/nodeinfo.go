package data

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"maps"
	"strconv"
	"time"
)

// Default permission strings applied when a node is created without one.
const (
	DefaultFilePermissions = "644"
	DefaultDirPermissions  = "755"
)

// NodeInfo is the canonical metadata record for a file or directory.
// Providers persist and return this type unchanged; there are no parallel
// metadata representations, legacy shapes convert through FromLegacyMap.
type NodeInfo struct {
	// Identity
	Name       string `json:"name"`
	ParentPath string `json:"parent_path"`
	IsDir      bool   `json:"is_dir"`

	// Content
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`

	// Digests. SHA256 is authoritative; MD5 is kept for backends and
	// clients that still compare against it.
	SHA256 string `json:"sha256,omitempty"`
	MD5    string `json:"md5,omitempty"`

	// Timestamps
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	AccessedAt time.Time `json:"accessed_at,omitzero"`

	// Expiry
	TTL       time.Duration `json:"ttl,omitempty"`
	ExpiresAt time.Time     `json:"expires_at,omitzero"`

	// Ownership and permissions
	Owner       string `json:"owner,omitempty"`
	Group       string `json:"group,omitempty"`
	Permissions string `json:"permissions"`

	// Extended metadata
	Tags       map[string]string `json:"tags,omitempty"`
	CustomMeta map[string]string `json:"custom_meta,omitempty"`

	// Provider-specific
	Provider     string `json:"provider,omitempty"`
	StorageClass string `json:"storage_class,omitempty"`
}

// NewNodeInfo creates node metadata with timestamps, MIME type and
// permissions populated. ParentPath must already be normalized.
func NewNodeInfo(name, parentPath string, isDir bool) *NodeInfo {
	now := time.Now().UTC()

	info := &NodeInfo{
		Name:        name,
		ParentPath:  parentPath,
		IsDir:       isDir,
		CreatedAt:   now,
		ModifiedAt:  now,
		Permissions: DefaultFilePermissions,
		MimeType:    DetectMimeType(name),
	}
	if isDir {
		info.Permissions = DefaultDirPermissions
		info.MimeType = MimeTypeDirectory
	}

	return info
}

// Path returns the full absolute path of the node.
func (ni *NodeInfo) Path() string {
	if ni.ParentPath == "/" {
		if ni.Name == "" {
			return "/"
		}
		return "/" + ni.Name
	}
	return ni.ParentPath + "/" + ni.Name
}

// Touch advances the modification timestamp. The timestamp never moves
// backwards, even across clock adjustments.
func (ni *NodeInfo) Touch() {
	now := time.Now().UTC()
	if now.After(ni.ModifiedAt) {
		ni.ModifiedAt = now
	}
}

// Access records an access timestamp.
func (ni *NodeInfo) Access() {
	ni.AccessedAt = time.Now().UTC()
}

// SetTTL assigns a time-to-live and derives the expiry timestamp.
// A zero ttl clears any expiry.
func (ni *NodeInfo) SetTTL(ttl time.Duration) {
	ni.TTL = ttl
	if ttl <= 0 {
		ni.ExpiresAt = time.Time{}
		return
	}
	ni.ExpiresAt = time.Now().UTC().Add(ttl)
}

// IsExpired reports whether the node's expiry has passed. Nodes without a
// TTL never expire.
func (ni *NodeInfo) IsExpired() bool {
	if ni.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(ni.ExpiresAt)
}

// CalculateChecksums updates size and both content digests from content.
func (ni *NodeInfo) CalculateChecksums(content []byte) {
	sum256 := sha256.Sum256(content)
	sum5 := md5.Sum(content)

	ni.SHA256 = hex.EncodeToString(sum256[:])
	ni.MD5 = hex.EncodeToString(sum5[:])
	ni.Size = int64(len(content))
}

// Mode converts the stored permission string into an fs.FileMode,
// including the directory bit. Unparseable strings fall back to the
// defaults.
func (ni *NodeInfo) Mode() fs.FileMode {
	perm, err := strconv.ParseUint(ni.Permissions, 8, 32)
	if err != nil {
		if ni.IsDir {
			perm = 0o755
		} else {
			perm = 0o644
		}
	}

	mode := fs.FileMode(perm)
	if ni.IsDir {
		mode |= fs.ModeDir
	}
	return mode
}

// Clone returns a deep copy of the node metadata.
func (ni *NodeInfo) Clone() *NodeInfo {
	dup := *ni
	if ni.Tags != nil {
		dup.Tags = maps.Clone(ni.Tags)
	}
	if ni.CustomMeta != nil {
		dup.CustomMeta = maps.Clone(ni.CustomMeta)
	}
	return &dup
}

// Marshal provides JSON serialization for NodeInfo.
func (ni *NodeInfo) Marshal() ([]byte, error) {
	return json.Marshal(ni)
}

// Unmarshal provides JSON deserialization for NodeInfo.
func (ni *NodeInfo) Unmarshal(raw []byte) error {
	return json.Unmarshal(raw, ni)
}

// FromLegacyMap converts a loosely-typed metadata map, as produced by older
// tooling, into a NodeInfo. Only name, parent path and the directory flag
// are trusted; everything else keeps its defaults.
func FromLegacyMap(legacy map[string]any) *NodeInfo {
	name, _ := legacy["name"].(string)
	parent, _ := legacy["parent_path"].(string)
	isDir, _ := legacy["is_dir"].(bool)
	if parent == "" {
		parent = "/"
	}
	return NewNodeInfo(name, parent, isDir)
}

func (ni *NodeInfo) String() string {
	kind := "FILE"
	if ni.IsDir {
		kind = "DIR"
	}
	return fmt.Sprintf("[%s] %s (%d bytes)", kind, ni.Path(), ni.Size)
}

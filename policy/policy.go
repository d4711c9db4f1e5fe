// Package policy normalizes and validates every path before any structural
// or I/O operation touches a storage provider. It enforces containment
// within the configured root, path depth and extension rules, per-file and
// aggregate size quotas, denied prefixes and a global read-only mode.
package policy

import (
	"strings"
	"sync"
	"time"

	"github.com/sandkit/vfs/data"
)

// Policy holds the security configuration applied to a filesystem instance.
// The zero value permits everything; use Profile for predefined setups.
type Policy struct {
	// Root confines all resolved paths. Empty means "/".
	Root string

	// Quotas. Zero disables the respective limit.
	MaxFileSize  int64
	MaxTotalSize int64
	MaxFiles     int64
	MaxPathDepth int

	// Extension rules, compared case-insensitively including the dot.
	// When AllowedExtensions is non-empty it acts as a whitelist.
	AllowedExtensions []string
	DeniedExtensions  []string

	// Path prefix rules. When AllowedPaths is non-empty, writes outside
	// every allowed prefix are denied.
	AllowedPaths []string
	DeniedPaths  []string

	// ReadOnly rejects every mutating operation.
	ReadOnly bool

	mu         sync.Mutex
	violations []Violation
}

const maxRecordedViolations = 100

// Resolve normalizes path against base and verifies it stays inside the
// policy root. It never returns a path outside the root, even transiently:
// containment is checked on the fully collapsed result before anything else
// can observe it.
func (p *Policy) Resolve(base, path string) (string, error) {
	resolved, err := data.Normalize(base, path)
	if err != nil {
		return "", err
	}

	root := p.Root
	if root == "" {
		root = "/"
	}

	if !data.HasPathPrefix(resolved, root) {
		return "", p.record(&Violation{
			Kind:      ViolationTraversal,
			Operation: "resolve",
			Path:      path,
			Reason:    "path escapes the configured root",
		})
	}

	// A relative or absolute path with enough ".." segments collapses onto
	// "/" under Clean. Catch climbs past the root explicitly.
	if strings.Contains(path, "..") {
		if climbsOutside(base, path, root) {
			return "", p.record(&Violation{
				Kind:      ViolationTraversal,
				Operation: "resolve",
				Path:      path,
				Reason:    "traversal outside the configured root",
			})
		}
	}

	return resolved, nil
}

// climbsOutside walks the raw segments and reports whether the cursor ever
// leaves root before normalization finishes.
func climbsOutside(base, path, root string) bool {
	cur := base
	if strings.HasPrefix(path, "/") {
		cur = "/"
	}
	depth := data.Depth(cur)
	min := data.Depth(root)

	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < min {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

// Validate applies the structural checks every operation goes through:
// depth and denied prefixes. Extension rules only apply when a file is
// created; callers check those separately with ValidateExtension. The
// given path must already be resolved.
func (p *Policy) Validate(operation, path string) error {
	if p.MaxPathDepth > 0 && data.Depth(path) > p.MaxPathDepth {
		return p.record(&Violation{
			Kind:      ViolationDepth,
			Operation: operation,
			Path:      path,
			Reason:    "maximum path depth exceeded",
		})
	}

	for _, prefix := range p.DeniedPaths {
		if data.HasPathPrefix(path, prefix) {
			return p.record(&Violation{
				Kind:      ViolationDeniedPath,
				Operation: operation,
				Path:      path,
				Reason:    "path prefix denied by policy",
			})
		}
	}

	return nil
}

// ValidateExtension applies the extension whitelist and blacklist to the
// final path segment. Only file-creating operations should call it;
// directory names are free to contain dots.
func (p *Policy) ValidateExtension(operation, path string) error {
	return p.checkExtension(operation, path)
}

// NeedsUsage reports whether aggregate quotas are configured, meaning
// ValidateQuota wants current storage stats.
func (p *Policy) NeedsUsage() bool {
	return p.MaxTotalSize > 0 || p.MaxFiles > 0
}

// ValidateWrite applies Validate plus the mutation-side checks: read-only
// mode, allowed prefixes and the per-file size limit. Aggregate quotas are
// checked separately by ValidateQuota so that read-only mode rejects before
// any provider call is made.
func (p *Policy) ValidateWrite(operation, path string, size int64) error {
	if p.ReadOnly {
		return p.record(&Violation{
			Kind:      ViolationReadOnly,
			Operation: operation,
			Path:      path,
			Reason:    "filesystem is read-only",
		})
	}

	if err := p.Validate(operation, path); err != nil {
		return err
	}

	if len(p.AllowedPaths) > 0 && !data.IsRoot(path) {
		allowed := false
		for _, prefix := range p.AllowedPaths {
			if data.HasPathPrefix(path, prefix) || data.HasPathPrefix(prefix, path) {
				allowed = true
				break
			}
		}
		if !allowed {
			return p.record(&Violation{
				Kind:      ViolationDeniedPath,
				Operation: operation,
				Path:      path,
				Reason:    "path outside allowed prefixes",
			})
		}
	}

	if p.MaxFileSize > 0 && size > p.MaxFileSize {
		return p.record(&Violation{
			Kind:      ViolationQuota,
			Operation: operation,
			Path:      path,
			Reason:    "maximum file size exceeded",
		})
	}

	return nil
}

// ValidateQuota applies the aggregate quotas against current usage.
// newFile indicates the write creates a node that does not exist yet.
func (p *Policy) ValidateQuota(operation, path string, size int64, newFile bool, stats *data.StorageStats) error {
	if stats == nil {
		return nil
	}
	if p.MaxTotalSize > 0 && stats.TotalBytes+size > p.MaxTotalSize {
		return p.record(&Violation{
			Kind:      ViolationQuota,
			Operation: operation,
			Path:      path,
			Reason:    "aggregate size quota exceeded",
		})
	}
	if newFile && p.MaxFiles > 0 && stats.TotalFiles >= p.MaxFiles {
		return p.record(&Violation{
			Kind:      ViolationQuota,
			Operation: operation,
			Path:      path,
			Reason:    "maximum file count exceeded",
		})
	}
	return nil
}

func (p *Policy) checkExtension(operation, path string) error {
	_, name := data.Split(path)
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		// Extensionless names pass even under a whitelist.
		return nil
	}
	ext := strings.ToLower(name[idx:])

	for _, denied := range p.DeniedExtensions {
		if strings.EqualFold(denied, ext) {
			return p.record(&Violation{
				Kind:      ViolationExtension,
				Operation: operation,
				Path:      path,
				Reason:    "file extension denied by policy",
			})
		}
	}

	if len(p.AllowedExtensions) > 0 {
		for _, allowed := range p.AllowedExtensions {
			if strings.EqualFold(allowed, ext) {
				return nil
			}
		}
		return p.record(&Violation{
			Kind:      ViolationExtension,
			Operation: operation,
			Path:      path,
			Reason:    "file extension not in allowed set",
		})
	}

	return nil
}

func (p *Policy) record(v *Violation) *Violation {
	v.At = time.Now().UTC()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.violations = append(p.violations, *v)
	if len(p.violations) > maxRecordedViolations {
		p.violations = p.violations[len(p.violations)-maxRecordedViolations:]
	}

	return v
}

// Violations returns the recently recorded policy violations, oldest first.
func (p *Policy) Violations() []Violation {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Violation, len(p.violations))
	copy(out, p.violations)
	return out
}

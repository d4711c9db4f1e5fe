package policy

import (
	"errors"
	"fmt"
	"time"
)

// ViolationKind identifies which rule a rejected operation breached,
// so callers can react differently per kind.
type ViolationKind int

const (
	ViolationTraversal ViolationKind = iota
	ViolationDepth
	ViolationExtension
	ViolationDeniedPath
	ViolationQuota
	ViolationReadOnly
)

func (k ViolationKind) String() string {
	switch k {
	case ViolationTraversal:
		return "traversal"
	case ViolationDepth:
		return "depth"
	case ViolationExtension:
		return "extension"
	case ViolationDeniedPath:
		return "denied-path"
	case ViolationQuota:
		return "quota"
	case ViolationReadOnly:
		return "read-only"
	default:
		return "unknown"
	}
}

// Violation is the error raised by the policy layer. It short-circuits an
// operation before any provider call is made.
type Violation struct {
	Kind      ViolationKind
	Operation string
	Path      string
	Reason    string
	At        time.Time
}

func (v *Violation) Error() string {
	return fmt.Sprintf("vfs: policy violation (%s) on %s: %s", v.Kind, v.Path, v.Reason)
}

// IsViolation reports whether err is a policy violation, optionally of a
// specific kind.
func IsViolation(err error, kinds ...ViolationKind) bool {
	var v *Violation
	if !errors.As(err, &v) {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if v.Kind == k {
			return true
		}
	}
	return false
}

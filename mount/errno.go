package mount

import (
	"errors"
	"syscall"

	"github.com/sandkit/vfs/data"
	"github.com/sandkit/vfs/policy"
)

// errnoFromError maps the typed filesystem errors onto POSIX errnos for
// the kernel. Unknown errors collapse to EIO.
func errnoFromError(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	var violation *policy.Violation
	if errors.As(err, &violation) {
		switch violation.Kind {
		case policy.ViolationReadOnly:
			return syscall.EROFS
		case policy.ViolationQuota:
			return syscall.EDQUOT
		default:
			return syscall.EACCES
		}
	}

	switch {
	case errors.Is(err, data.ErrNotExist), errors.Is(err, data.ErrExpired):
		return syscall.ENOENT
	case errors.Is(err, data.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, data.ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, data.ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, data.ErrDirectoryNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, data.ErrInvalidPath):
		return syscall.EINVAL
	case errors.Is(err, data.ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, data.ErrUnsupported):
		return syscall.ENOTSUP
	case errors.Is(err, data.ErrClosed), errors.Is(err, data.ErrProviderUnavailable):
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

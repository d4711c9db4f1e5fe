package vfs

import (
	"context"
	"fmt"

	"github.com/sandkit/vfs/data"
)

// Rename moves a node to a new path. The destination parent must exist
// and the destination itself must not. Directories move with their whole
// subtree. Providers address nodes by path, so a move is a copy of the
// subtree followed by a delete of the source.
func (fs *FileSystem) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := fs.guard(); err != nil {
		return err
	}

	src, err := fs.resolve("rename", oldPath)
	if err != nil {
		fs.errs.Add(1)
		return err
	}
	dst, err := fs.resolveWrite(ctx, "rename", newPath, 0)
	if err != nil {
		fs.errs.Add(1)
		return err
	}

	if data.IsRoot(src) || data.IsRoot(dst) {
		fs.errs.Add(1)
		return fmt.Errorf("%w: cannot rename root", data.ErrInvalidPath)
	}
	if src == dst {
		return nil
	}
	if data.HasPathPrefix(dst, src) {
		fs.errs.Add(1)
		return fmt.Errorf("%w: cannot move %s into itself", data.ErrInvalidPath, src)
	}

	srcParent, _ := data.Split(src)
	dstParent, _ := data.Split(dst)
	unlock := fs.locks.lockPair(srcParent, dstParent)
	defer unlock()

	info, err := fs.statLive(ctx, src)
	if err != nil {
		fs.errs.Add(1)
		return err
	}
	if info == nil {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %s", data.ErrNotExist, src)
	}
	if !info.IsDir {
		if err := fs.policy.ValidateExtension("rename", dst); err != nil {
			fs.errs.Add(1)
			return err
		}
	}

	if err := fs.requireDir(ctx, dstParent); err != nil {
		fs.errs.Add(1)
		return err
	}
	if err := fs.reapIfExpired(ctx, dst); err != nil {
		return err
	}
	existing, err := fs.statLive(ctx, dst)
	if err != nil {
		fs.errs.Add(1)
		return err
	}
	if existing != nil {
		fs.errs.Add(1)
		return fmt.Errorf("%w: %s", data.ErrExist, dst)
	}

	if err := fs.moveSubtree(ctx, src, dst, info); err != nil {
		fs.errs.Add(1)
		return err
	}

	fs.ops.Add(1)
	fs.logger.Debug("Renamed %s to %s", src, dst)
	return nil
}

// moveSubtree copies the node at src (and its children, depth first) to
// dst, then deletes the source bottom up.
func (fs *FileSystem) moveSubtree(ctx context.Context, src, dst string, info *data.NodeInfo) error {
	dstParent, dstName := data.Split(dst)

	moved := info.Clone()
	moved.Name = dstName
	moved.ParentPath = dstParent
	moved.Touch()

	ok, err := fs.provider.CreateNode(ctx, moved)
	if err != nil {
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", data.ErrExist, dst)
	}

	if info.IsDir {
		children, err := fs.provider.ListDirectory(ctx, src)
		if err != nil {
			return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
		}
		for _, name := range children {
			childSrc := data.Join(src, name)
			childInfo, err := fs.statLive(ctx, childSrc)
			if err != nil {
				return err
			}
			if childInfo == nil {
				continue
			}
			if err := fs.moveSubtree(ctx, childSrc, data.Join(dst, name), childInfo); err != nil {
				return err
			}
		}
	} else {
		content, err := fs.provider.ReadFile(ctx, src)
		if err != nil {
			return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
		}
		if content == nil {
			content = []byte{}
		}
		if _, err := fs.withRetry(ctx, func() (bool, error) {
			return fs.provider.WriteFile(ctx, dst, content)
		}); err != nil {
			return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
		}
	}

	if _, err := fs.provider.DeleteNode(ctx, src); err != nil {
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	return nil
}

// CopyFile duplicates a single file, content and metadata included.
func (fs *FileSystem) CopyFile(ctx context.Context, srcPath, dstPath string) error {
	if err := fs.guard(); err != nil {
		return err
	}

	content, err := fs.ReadFile(ctx, srcPath)
	if err != nil {
		return err
	}

	info, err := fs.Stat(ctx, srcPath)
	if err != nil {
		return err
	}

	var opts []NodeOption
	if len(info.Tags) > 0 {
		opts = append(opts, WithTags(info.Tags))
	}
	if info.Owner != "" || info.Group != "" {
		opts = append(opts, WithOwner(info.Owner, info.Group))
	}

	return fs.WriteFile(ctx, dstPath, content, opts...)
}

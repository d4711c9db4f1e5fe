package vfs

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sandkit/vfs/data"
)

// findConcurrency caps the directory listings in flight during Find.
const findConcurrency = 8

// Find returns the paths under root whose base name matches pattern, in
// lexical order. Pattern follows path.Match syntax; "*" matches
// everything. When recursive is false only direct children are examined.
func (fs *FileSystem) Find(ctx context.Context, root, pattern string, recursive bool) ([]string, error) {
	if err := fs.guard(); err != nil {
		return nil, err
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q", data.ErrInvalidPath, pattern)
	}

	resolved, err := fs.resolve("find", root)
	if err != nil {
		fs.errs.Add(1)
		return nil, err
	}
	if err := fs.requireDir(ctx, resolved); err != nil {
		fs.errs.Add(1)
		return nil, err
	}

	var (
		mu      sync.Mutex
		matches []string
	)

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(findConcurrency)

	var walk func(dir string) error
	walk = func(dir string) error {
		names, err := fs.provider.ListDirectory(ctx, dir)
		if err != nil {
			return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
		}

		for _, name := range names {
			child := data.Join(dir, name)
			info, err := fs.provider.GetNodeInfo(ctx, child)
			if err != nil {
				return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
			}
			if info == nil || info.IsExpired() {
				continue
			}

			if ok, _ := path.Match(pattern, name); ok {
				mu.Lock()
				matches = append(matches, child)
				mu.Unlock()
			}

			if recursive && info.IsDir {
				dir := child
				// TryGo instead of Go: a walker already holds a slot, so
				// blocking on a free one could deadlock the pool.
				if !group.TryGo(func() error { return walk(dir) }) {
					if err := walk(dir); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}

	group.Go(func() error {
		return walk(resolved)
	})
	if err := group.Wait(); err != nil {
		fs.errs.Add(1)
		return nil, err
	}

	sort.Strings(matches)
	fs.ops.Add(1)
	return matches, nil
}

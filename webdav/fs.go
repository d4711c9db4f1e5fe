// Package webdav serves a filesystem over the WebDAV protocol, backed
// by the golang.org/x/net/webdav handler.
package webdav

import (
	"context"
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"time"

	"golang.org/x/net/webdav"

	"github.com/sandkit/vfs"
	"github.com/sandkit/vfs/data"
)

// davFS adapts a FileSystem to webdav.FileSystem.
type davFS struct {
	fs *vfs.FileSystem
}

var _ webdav.FileSystem = (*davFS)(nil)

// mapError converts typed filesystem errors into the os sentinel errors
// the webdav handler turns into HTTP status codes.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, data.ErrNotExist), errors.Is(err, data.ErrExpired):
		return os.ErrNotExist
	case errors.Is(err, data.ErrExist):
		return os.ErrExist
	case errors.Is(err, data.ErrInvalidPath):
		return os.ErrInvalid
	default:
		return err
	}
}

func (d *davFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return mapError(d.fs.Mkdir(ctx, name))
}

func (d *davFS) RemoveAll(ctx context.Context, name string) error {
	return mapError(d.removeTree(ctx, name))
}

// removeTree deletes a subtree bottom up, since Remove refuses
// non-empty directories.
func (d *davFS) removeTree(ctx context.Context, path string) error {
	isDir, err := d.fs.IsDir(ctx, path)
	if err != nil {
		return err
	}
	if isDir {
		names, err := d.fs.List(ctx, path)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := d.removeTree(ctx, data.Join(path, name)); err != nil {
				return err
			}
		}
	}
	return d.fs.Remove(ctx, path)
}

func (d *davFS) Rename(ctx context.Context, oldName, newName string) error {
	return mapError(d.fs.Rename(ctx, oldName, newName))
}

func (d *davFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	info, err := d.fs.Stat(ctx, name)
	if err != nil {
		return nil, mapError(err)
	}
	return &fileInfo{info: info}, nil
}

func (d *davFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	info, err := d.fs.Stat(ctx, name)
	if err != nil {
		if !errors.Is(err, data.ErrNotExist) || flag&os.O_CREATE == 0 {
			return nil, mapError(err)
		}
		if err := d.fs.WriteFile(ctx, name, []byte{}); err != nil {
			return nil, mapError(err)
		}
		info, err = d.fs.Stat(ctx, name)
		if err != nil {
			return nil, mapError(err)
		}
	}

	if info.IsDir {
		return &davDir{ctx: ctx, fs: d.fs, path: name, info: info}, nil
	}

	var content []byte
	if flag&os.O_TRUNC == 0 {
		content, err = d.fs.ReadFile(ctx, name)
		if err != nil {
			return nil, mapError(err)
		}
	}

	return &davFile{
		ctx:      ctx,
		fs:       d.fs,
		path:     name,
		info:     info,
		content:  content,
		writable: flag&(os.O_WRONLY|os.O_RDWR) != 0,
	}, nil
}

// fileInfo adapts node metadata to os.FileInfo.
type fileInfo struct {
	info *data.NodeInfo
}

func (f *fileInfo) Name() string { return f.info.Name }
func (f *fileInfo) Size() int64  { return f.info.Size }
func (f *fileInfo) Mode() iofs.FileMode {
	mode := f.info.Mode()
	if f.info.IsDir {
		mode |= iofs.ModeDir
	}
	return mode
}
func (f *fileInfo) ModTime() time.Time { return f.info.ModifiedAt }
func (f *fileInfo) IsDir() bool        { return f.info.IsDir }
func (f *fileInfo) Sys() any           { return f.info }

// davFile is an open regular file, buffered until Close.
type davFile struct {
	ctx      context.Context
	fs       *vfs.FileSystem
	path     string
	info     *data.NodeInfo
	content  []byte
	offset   int64
	writable bool
	dirty    bool
}

func (f *davFile) Read(p []byte) (int, error) {
	if f.offset >= int64(len(f.content)) {
		return 0, io.EOF
	}
	n := copy(p, f.content[f.offset:])
	f.offset += int64(n)
	return n, nil
}

func (f *davFile) Write(p []byte) (int, error) {
	if !f.writable {
		return 0, os.ErrPermission
	}

	end := f.offset + int64(len(p))
	if end > int64(len(f.content)) {
		grown := make([]byte, end)
		copy(grown, f.content)
		f.content = grown
	}
	copy(f.content[f.offset:end], p)
	f.offset = end
	f.dirty = true
	return len(p), nil
}

func (f *davFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.offset + offset
	case io.SeekEnd:
		next = int64(len(f.content)) + offset
	default:
		return 0, os.ErrInvalid
	}
	if next < 0 {
		return 0, os.ErrInvalid
	}
	f.offset = next
	return next, nil
}

func (f *davFile) Close() error {
	if !f.dirty {
		return nil
	}
	f.dirty = false
	return mapError(f.fs.WriteFile(f.ctx, f.path, f.content))
}

func (f *davFile) Stat() (os.FileInfo, error) {
	return &fileInfo{info: f.info}, nil
}

func (f *davFile) Readdir(count int) ([]os.FileInfo, error) {
	return nil, os.ErrInvalid
}

// davDir is an open directory; only Readdir and Stat are meaningful.
type davDir struct {
	ctx    context.Context
	fs     *vfs.FileSystem
	path   string
	info   *data.NodeInfo
	offset int
}

func (d *davDir) Read(p []byte) (int, error)                 { return 0, os.ErrInvalid }
func (d *davDir) Write(p []byte) (int, error)                { return 0, os.ErrInvalid }
func (d *davDir) Seek(off int64, whence int) (int64, error)  { return 0, os.ErrInvalid }
func (d *davDir) Close() error                               { return nil }
func (d *davDir) Stat() (os.FileInfo, error)                 { return &fileInfo{info: d.info}, nil }

func (d *davDir) Readdir(count int) ([]os.FileInfo, error) {
	names, err := d.fs.List(d.ctx, d.path)
	if err != nil {
		return nil, mapError(err)
	}

	if d.offset >= len(names) {
		if count > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}
	names = names[d.offset:]
	if count > 0 && len(names) > count {
		names = names[:count]
	}

	infos := make([]os.FileInfo, 0, len(names))
	for _, name := range names {
		info, err := d.fs.Stat(d.ctx, data.Join(d.path, name))
		if err != nil {
			continue
		}
		infos = append(infos, &fileInfo{info: info})
	}
	d.offset += len(names)
	return infos, nil
}

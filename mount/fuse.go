package mount

import (
	"context"
	"sync"
	"syscall"

	gofusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/sandkit/vfs/data"
)

// node is one inode in the FUSE tree, addressed by its full path.
type node struct {
	gofusefs.Inode

	adapter *Adapter
	path    string
}

var (
	_ = (gofusefs.NodeLookuper)((*node)(nil))
	_ = (gofusefs.NodeGetattrer)((*node)(nil))
	_ = (gofusefs.NodeSetattrer)((*node)(nil))
	_ = (gofusefs.NodeReaddirer)((*node)(nil))
	_ = (gofusefs.NodeOpener)((*node)(nil))
	_ = (gofusefs.NodeCreater)((*node)(nil))
	_ = (gofusefs.NodeMkdirer)((*node)(nil))
	_ = (gofusefs.NodeUnlinker)((*node)(nil))
	_ = (gofusefs.NodeRmdirer)((*node)(nil))
	_ = (gofusefs.NodeRenamer)((*node)(nil))
)

// Kernel filesystems cap component names at 255 bytes.
const maxNameLen = 255

func fillAttr(info *data.NodeInfo, attr *fuse.Attr) {
	mode := uint32(info.Mode().Perm())
	if info.IsDir {
		mode |= fuse.S_IFDIR
	} else {
		mode |= fuse.S_IFREG
	}

	attr.Mode = mode
	attr.Size = uint64(info.Size)
	attr.SetTimes(&info.AccessedAt, &info.ModifiedAt, &info.CreatedAt)
}

func stableMode(info *data.NodeInfo) uint32 {
	if info.IsDir {
		return fuse.S_IFDIR
	}
	return fuse.S_IFREG
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	if len(name) > maxNameLen {
		return nil, syscall.ENAMETOOLONG
	}

	reqCtx, done := n.adapter.begin(ctx)
	defer done()

	child := data.Join(n.path, name)
	info, err := n.adapter.stat(reqCtx, child)
	if err != nil {
		return nil, errnoFromError(err)
	}

	fillAttr(info, &out.Attr)
	inode := n.NewInode(ctx, &node{adapter: n.adapter, path: child},
		gofusefs.StableAttr{Mode: stableMode(info)})
	return inode, 0
}

func (n *node) Getattr(ctx context.Context, fh gofusefs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	reqCtx, done := n.adapter.begin(ctx)
	defer done()

	info, err := n.adapter.stat(reqCtx, n.path)
	if err != nil {
		return errnoFromError(err)
	}

	fillAttr(info, &out.Attr)
	return 0
}

func (n *node) Setattr(ctx context.Context, fh gofusefs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if n.adapter.opts.ReadOnly {
		return syscall.EROFS
	}

	reqCtx, done := n.adapter.begin(ctx)
	defer done()

	if size, ok := in.GetSize(); ok {
		content, err := n.adapter.fs.ReadFile(reqCtx, n.path)
		if err != nil {
			return errnoFromError(err)
		}
		if uint64(len(content)) != size {
			if size < uint64(len(content)) {
				content = content[:size]
			} else {
				grown := make([]byte, size)
				copy(grown, content)
				content = grown
			}
			if err := n.adapter.fs.WriteFile(reqCtx, n.path, content); err != nil {
				return errnoFromError(err)
			}
			n.adapter.cache.invalidate(n.path)
		}
	}

	info, err := n.adapter.fs.Stat(reqCtx, n.path)
	if err != nil {
		return errnoFromError(err)
	}
	fillAttr(info, &out.Attr)
	return 0
}

func (n *node) Readdir(ctx context.Context) (gofusefs.DirStream, syscall.Errno) {
	reqCtx, done := n.adapter.begin(ctx)
	defer done()

	names, err := n.adapter.fs.List(reqCtx, n.path)
	if err != nil {
		return nil, errnoFromError(err)
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		info, err := n.adapter.stat(reqCtx, data.Join(n.path, name))
		if err != nil {
			continue
		}
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Mode: stableMode(info),
		})
	}
	return gofusefs.NewListDirStream(entries), 0
}

func (n *node) Open(ctx context.Context, flags uint32) (gofusefs.FileHandle, uint32, syscall.Errno) {
	writable := flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0
	if writable && n.adapter.opts.ReadOnly {
		return nil, 0, syscall.EROFS
	}

	reqCtx, done := n.adapter.begin(ctx)
	defer done()

	content, err := n.adapter.fs.ReadFile(reqCtx, n.path)
	if err != nil {
		return nil, 0, errnoFromError(err)
	}
	if flags&syscall.O_TRUNC != 0 {
		content = nil
	}

	return &handle{node: n, content: content}, fuse.FOPEN_DIRECT_IO, 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofusefs.Inode, gofusefs.FileHandle, uint32, syscall.Errno) {
	if n.adapter.opts.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}
	if len(name) > maxNameLen {
		return nil, nil, 0, syscall.ENAMETOOLONG
	}

	reqCtx, done := n.adapter.begin(ctx)
	defer done()

	child := data.Join(n.path, name)
	if err := n.adapter.fs.WriteFile(reqCtx, child, []byte{}); err != nil {
		return nil, nil, 0, errnoFromError(err)
	}
	n.adapter.cache.invalidate(child)

	info, err := n.adapter.fs.Stat(reqCtx, child)
	if err != nil {
		return nil, nil, 0, errnoFromError(err)
	}
	fillAttr(info, &out.Attr)

	childNode := &node{adapter: n.adapter, path: child}
	inode := n.NewInode(ctx, childNode, gofusefs.StableAttr{Mode: fuse.S_IFREG})
	return inode, &handle{node: childNode, dirty: true}, fuse.FOPEN_DIRECT_IO, 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	if n.adapter.opts.ReadOnly {
		return nil, syscall.EROFS
	}
	if len(name) > maxNameLen {
		return nil, syscall.ENAMETOOLONG
	}

	reqCtx, done := n.adapter.begin(ctx)
	defer done()

	child := data.Join(n.path, name)
	if err := n.adapter.fs.Mkdir(reqCtx, child); err != nil {
		return nil, errnoFromError(err)
	}
	n.adapter.cache.invalidate(child)

	info, err := n.adapter.fs.Stat(reqCtx, child)
	if err != nil {
		return nil, errnoFromError(err)
	}
	fillAttr(info, &out.Attr)

	inode := n.NewInode(ctx, &node{adapter: n.adapter, path: child},
		gofusefs.StableAttr{Mode: fuse.S_IFDIR})
	return inode, 0
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.adapter.opts.ReadOnly {
		return syscall.EROFS
	}

	reqCtx, done := n.adapter.begin(ctx)
	defer done()

	child := data.Join(n.path, name)
	if err := n.adapter.fs.Remove(reqCtx, child); err != nil {
		return errnoFromError(err)
	}
	n.adapter.cache.invalidate(child)
	return 0
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.Unlink(ctx, name)
}

func (n *node) Rename(ctx context.Context, name string, newParent gofusefs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.adapter.opts.ReadOnly {
		return syscall.EROFS
	}

	if len(newName) > maxNameLen {
		return syscall.ENAMETOOLONG
	}

	target, ok := newParent.(*node)
	if !ok {
		return syscall.EXDEV
	}

	reqCtx, done := n.adapter.begin(ctx)
	defer done()

	src := data.Join(n.path, name)
	dst := data.Join(target.path, newName)
	if err := n.adapter.fs.Rename(reqCtx, src, dst); err != nil {
		return errnoFromError(err)
	}
	n.adapter.cache.invalidate(src)
	n.adapter.cache.invalidate(dst)
	return 0
}

// handle buffers one open file. Reads and writes operate on the buffer;
// Flush persists it in one provider write.
type handle struct {
	mu      sync.Mutex
	node    *node
	content []byte
	dirty   bool
}

var (
	_ = (gofusefs.FileReader)((*handle)(nil))
	_ = (gofusefs.FileWriter)((*handle)(nil))
	_ = (gofusefs.FileFlusher)((*handle)(nil))
	_ = (gofusefs.FileFsyncer)((*handle)(nil))
)

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if off >= int64(len(h.content)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.content)) {
		end = int64(len(h.content))
	}
	return fuse.ReadResultData(h.content[off:end]), 0
}

func (h *handle) Write(ctx context.Context, buf []byte, off int64) (uint32, syscall.Errno) {
	if h.node.adapter.opts.ReadOnly {
		return 0, syscall.EROFS
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	end := off + int64(len(buf))
	if end > int64(len(h.content)) {
		grown := make([]byte, end)
		copy(grown, h.content)
		h.content = grown
	}
	copy(h.content[off:end], buf)
	h.dirty = true
	return uint32(len(buf)), 0
}

func (h *handle) Flush(ctx context.Context) syscall.Errno {
	return h.persist(ctx)
}

func (h *handle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return h.persist(ctx)
}

func (h *handle) persist(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty {
		return 0
	}

	reqCtx, done := h.node.adapter.begin(ctx)
	defer done()

	if err := h.node.adapter.fs.WriteFile(reqCtx, h.node.path, h.content); err != nil {
		return errnoFromError(err)
	}
	h.node.adapter.cache.invalidate(h.node.path)
	h.dirty = false
	return 0
}

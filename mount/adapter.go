// Package mount exposes a filesystem through the kernel FUSE interface.
// The adapter owns the mount lifecycle and translates between typed
// filesystem errors and POSIX errnos.
package mount

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gofusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/sandkit/vfs"
	"github.com/sandkit/vfs/data"
)

// Adapter lifecycle states. Transitions only move forward around the
// cycle; concurrent Mount and Unmount calls race on the CAS and the
// losers return without side effects.
type State int32

const (
	StateUnmounted State = iota
	StateMounting
	StateMounted
	StateUnmounting
)

func (s State) String() string {
	switch s {
	case StateUnmounted:
		return "unmounted"
	case StateMounting:
		return "mounting"
	case StateMounted:
		return "mounted"
	case StateUnmounting:
		return "unmounting"
	default:
		return "unknown"
	}
}

// Adapter bridges one FileSystem to one kernel mountpoint.
type Adapter struct {
	fs    *vfs.FileSystem
	opts  *Options
	cache *attrCache

	state      atomic.Int32
	server     *fuse.Server
	mountpoint string
	inflight   sync.WaitGroup
}

func NewAdapter(fs *vfs.FileSystem, opts ...Option) *Adapter {
	options := newDefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Adapter{
		fs:    fs,
		opts:  options,
		cache: newAttrCache(options.CacheTimeout),
	}
}

// State returns the adapter's current lifecycle state.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Mountpoint returns the directory the adapter is mounted on, or "".
func (a *Adapter) Mountpoint() string {
	if a.State() != StateMounted {
		return ""
	}
	return a.mountpoint
}

// Mount attaches the filesystem at mountpoint. Only one mount per
// adapter; a second call while mounted fails.
func (a *Adapter) Mount(mountpoint string) error {
	if !a.state.CompareAndSwap(int32(StateUnmounted), int32(StateMounting)) {
		return fmt.Errorf("%w: adapter is %s", data.ErrUnsupported, a.State())
	}

	root := &node{adapter: a, path: "/"}

	timeout := a.opts.CacheTimeout
	server, err := gofusefs.Mount(mountpoint, root, &gofusefs.Options{
		AttrTimeout:  &timeout,
		EntryTimeout: &timeout,
		MountOptions: fuse.MountOptions{
			AllowOther: a.opts.AllowOther,
			Debug:      a.opts.Debug,
			FsName:     a.opts.FsName,
			Name:       "vfs",
		},
	})
	if err != nil {
		a.state.Store(int32(StateUnmounted))
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}

	a.server = server
	a.mountpoint = mountpoint
	a.state.Store(int32(StateMounted))
	return nil
}

// Unmount detaches the filesystem, waiting up to the drain timeout for
// in-flight requests. Calling it on an unmounted adapter, or while
// another Unmount is already tearing down, is a no-op, so deferred
// cleanup paths can always call it.
func (a *Adapter) Unmount() error {
	if a.State() == StateUnmounted {
		return nil
	}
	if !a.state.CompareAndSwap(int32(StateMounted), int32(StateUnmounting)) {
		switch a.State() {
		case StateUnmounted, StateUnmounting:
			return nil
		default:
			return fmt.Errorf("%w: adapter is %s", data.ErrUnsupported, a.State())
		}
	}

	a.drain()
	err := a.server.Unmount()

	a.cache.clear()
	a.server = nil
	a.mountpoint = ""
	a.state.Store(int32(StateUnmounted))

	if err != nil {
		return fmt.Errorf("%w: %v", data.ErrProviderUnavailable, err)
	}
	return nil
}

// Wait blocks until the kernel connection ends, after Unmount or an
// external umount.
func (a *Adapter) Wait() {
	if server := a.server; server != nil {
		server.Wait()
	}
}

// drain waits for in-flight requests, giving up after the drain timeout
// so a stuck request cannot wedge the unmount forever.
func (a *Adapter) drain() {
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(a.opts.DrainTimeout):
	}
}

// begin registers an in-flight request and returns its bounded context.
func (a *Adapter) begin(ctx context.Context) (context.Context, context.CancelFunc) {
	a.inflight.Add(1)

	if a.opts.RequestTimeout <= 0 {
		return ctx, func() { a.inflight.Done() }
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	return reqCtx, func() {
		cancel()
		a.inflight.Done()
	}
}

// stat fetches node metadata through the attribute cache.
func (a *Adapter) stat(ctx context.Context, path string) (*data.NodeInfo, error) {
	if info, ok := a.cache.get(path); ok {
		return info, nil
	}

	info, err := a.fs.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	a.cache.put(path, info)
	return info, nil
}

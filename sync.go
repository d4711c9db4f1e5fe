package vfs

import (
	"context"
	"sync"
	"time"

	"github.com/sandkit/vfs/data"
)

// SyncFS is a blocking facade over FileSystem for callers without a
// context-driven call chain. Every call is handed to one dedicated
// worker goroutine over a FIFO channel, so operations submitted from
// multiple goroutines execute in arrival order.
type SyncFS struct {
	fs      *FileSystem
	jobs    chan func()
	timeout time.Duration

	// mu makes submission and shutdown mutually exclusive so run never
	// sends on a closed jobs channel.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewSync wraps fs in a synchronous facade. timeout bounds each
// operation; zero means no per-operation deadline.
func NewSync(fs *FileSystem, timeout time.Duration) *SyncFS {
	s := &SyncFS{
		fs:      fs,
		jobs:    make(chan func(), 64),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go s.worker()
	return s
}

func (s *SyncFS) worker() {
	defer close(s.done)
	for job := range s.jobs {
		job()
	}
}

func (s *SyncFS) opCtx() (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), s.timeout)
}

// run submits op to the worker and blocks until it completes. Safe to
// call concurrently with Close; calls that lose the race fail with
// ErrClosed.
func (s *SyncFS) run(op func(ctx context.Context) error) error {
	errc := make(chan error, 1)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return data.ErrClosed
	}
	s.jobs <- func() {
		ctx, cancel := s.opCtx()
		defer cancel()
		errc <- op(ctx)
	}
	s.mu.RUnlock()

	return <-errc
}

func (s *SyncFS) Mkdir(path string, opts ...NodeOption) error {
	return s.run(func(ctx context.Context) error {
		return s.fs.Mkdir(ctx, path, opts...)
	})
}

func (s *SyncFS) WriteFile(path string, content []byte, opts ...NodeOption) error {
	return s.run(func(ctx context.Context) error {
		return s.fs.WriteFile(ctx, path, content, opts...)
	})
}

func (s *SyncFS) ReadFile(path string) ([]byte, error) {
	var content []byte
	err := s.run(func(ctx context.Context) error {
		var err error
		content, err = s.fs.ReadFile(ctx, path)
		return err
	})
	return content, err
}

func (s *SyncFS) Remove(path string) error {
	return s.run(func(ctx context.Context) error {
		return s.fs.Remove(ctx, path)
	})
}

func (s *SyncFS) Rename(oldPath, newPath string) error {
	return s.run(func(ctx context.Context) error {
		return s.fs.Rename(ctx, oldPath, newPath)
	})
}

func (s *SyncFS) List(path string) ([]string, error) {
	var names []string
	err := s.run(func(ctx context.Context) error {
		var err error
		names, err = s.fs.List(ctx, path)
		return err
	})
	return names, err
}

func (s *SyncFS) Stat(path string) (*data.NodeInfo, error) {
	var info *data.NodeInfo
	err := s.run(func(ctx context.Context) error {
		var err error
		info, err = s.fs.Stat(ctx, path)
		return err
	})
	return info, err
}

func (s *SyncFS) Exists(path string) (bool, error) {
	var exists bool
	err := s.run(func(ctx context.Context) error {
		var err error
		exists, err = s.fs.Exists(ctx, path)
		return err
	})
	return exists, err
}

func (s *SyncFS) Find(root, pattern string, recursive bool) ([]string, error) {
	var matches []string
	err := s.run(func(ctx context.Context) error {
		var err error
		matches, err = s.fs.Find(ctx, root, pattern, recursive)
		return err
	})
	return matches, err
}

// Close stops accepting work, waits for queued operations to drain and
// closes the underlying filesystem.
func (s *SyncFS) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.jobs)
		s.mu.Unlock()
		<-s.done
		ctx, cancel := s.opCtx()
		defer cancel()
		err = s.fs.Close(ctx)
	})
	return err
}

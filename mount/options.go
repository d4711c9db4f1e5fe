package mount

import "time"

// Options controls the behaviour of one mounted adapter.
type Options struct {
	// ReadOnly rejects every mutating FUSE request with EROFS before the
	// filesystem is consulted.
	ReadOnly bool

	// AllowOther permits access by users other than the mounting one.
	AllowOther bool

	// Debug enables kernel request tracing.
	Debug bool

	// FsName is the name reported in the mount table.
	FsName string

	// CacheTimeout bounds how long cached attributes stay valid.
	CacheTimeout time.Duration

	// RequestTimeout bounds every individual FUSE request.
	RequestTimeout time.Duration

	// DrainTimeout bounds how long Unmount waits for in-flight requests.
	DrainTimeout time.Duration
}

type Option func(*Options)

func newDefaultOptions() *Options {
	return &Options{
		FsName:         "vfs",
		CacheTimeout:   time.Second,
		RequestTimeout: 30 * time.Second,
		DrainTimeout:   5 * time.Second,
	}
}

func WithReadOnly() Option {
	return func(o *Options) { o.ReadOnly = true }
}

func WithAllowOther() Option {
	return func(o *Options) { o.AllowOther = true }
}

func WithDebug() Option {
	return func(o *Options) { o.Debug = true }
}

func WithFsName(name string) Option {
	return func(o *Options) { o.FsName = name }
}

func WithCacheTimeout(d time.Duration) Option {
	return func(o *Options) { o.CacheTimeout = d }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) { o.RequestTimeout = d }
}

func WithDrainTimeout(d time.Duration) Option {
	return func(o *Options) { o.DrainTimeout = d }
}

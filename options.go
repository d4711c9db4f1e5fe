package vfs

import (
	"time"

	"github.com/sandkit/vfs/data"
	"github.com/sandkit/vfs/log"
	"github.com/sandkit/vfs/policy"
)

type Options struct {
	Policy *policy.Policy
	Logger *log.Logger
	Retry  retryConfig
}

type Option func(*Options) error

func newDefaultOptions() *Options {
	return &Options{
		Policy: &policy.Policy{},
		Logger: log.New("", log.Info, "", false),
		Retry: retryConfig{
			Attempts: 3,
			Interval: 50 * time.Millisecond,
		},
	}
}

// WithPolicy installs a custom security policy.
func WithPolicy(p *policy.Policy) Option {
	return func(o *Options) error {
		if p == nil {
			return data.ErrInvalidPath
		}
		o.Policy = p
		return nil
	}
}

// WithProfile installs one of the predefined security profiles by name.
func WithProfile(name string) Option {
	return func(o *Options) error {
		p, err := policy.Profile(name)
		if err != nil {
			return err
		}
		o.Policy = p
		return nil
	}
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Options) error {
		o.Logger = l
		return nil
	}
}

// WithLogLevel adjusts the default logger's verbosity.
func WithLogLevel(level string) Option {
	return func(o *Options) error {
		parsed, err := log.Parse(level)
		if err != nil {
			return err
		}
		o.Logger.Level = parsed
		return nil
	}
}

// WithLogFile mirrors log output into a rotated file.
func WithLogFile(path string) Option {
	return func(o *Options) error {
		o.Logger = log.New(o.Logger.Name, o.Logger.Level, path, o.Logger.NoTerminal)
		return nil
	}
}

// WithRetry tunes the visibility retries used against eventually
// consistent providers. attempts counts total tries, not re-tries.
func WithRetry(attempts uint64, interval time.Duration) Option {
	return func(o *Options) error {
		if attempts == 0 {
			attempts = 1
		}
		o.Retry = retryConfig{Attempts: attempts, Interval: interval}
		return nil
	}
}

// NodeOption mutates the metadata of a node at creation time.
type NodeOption func(*data.NodeInfo)

// WithTTL marks the node to expire after d.
func WithTTL(d time.Duration) NodeOption {
	return func(info *data.NodeInfo) {
		info.SetTTL(d)
	}
}

// WithOwner sets the owner and group recorded on the node.
func WithOwner(owner, group string) NodeOption {
	return func(info *data.NodeInfo) {
		info.Owner = owner
		info.Group = group
	}
}

// WithPermissions sets the octal permission string, e.g. "644".
func WithPermissions(perm string) NodeOption {
	return func(info *data.NodeInfo) {
		info.Permissions = perm
	}
}

// WithTags attaches free-form tags to the node.
func WithTags(tags map[string]string) NodeOption {
	return func(info *data.NodeInfo) {
		info.Tags = tags
	}
}

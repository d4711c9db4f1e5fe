package provider

import (
	"fmt"

	"github.com/sandkit/vfs/provider/consulkv"
	"github.com/sandkit/vfs/provider/memory"
	"github.com/sandkit/vfs/provider/postgres"
	"github.com/sandkit/vfs/provider/s3"
	"github.com/sandkit/vfs/provider/sqlite"
)

// Kind enumerates the built-in backends. Providers are resolved at startup
// through this typed factory; there is no runtime name registry.
type Kind int

const (
	KindMemory Kind = iota
	KindSQLite
	KindPostgres
	KindS3
	KindConsulKV
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindSQLite:
		return "sqlite"
	case KindPostgres:
		return "postgres"
	case KindS3:
		return "s3"
	case KindConsulKV:
		return "consulkv"
	default:
		return "unknown"
	}
}

// Config selects a backend kind and carries its configuration. Exactly one
// of the per-kind structs is consulted, matching Kind.
type Config struct {
	Kind Kind

	SQLite   sqlite.Config
	Postgres postgres.Config
	S3       s3.Config
	ConsulKV consulkv.Config
}

// New constructs the provider selected by cfg. The returned provider still
// needs Initialize called on it.
func New(cfg Config) (StorageProvider, error) {
	switch cfg.Kind {
	case KindMemory:
		return memory.New(), nil
	case KindSQLite:
		return sqlite.New(cfg.SQLite)
	case KindPostgres:
		return postgres.New(cfg.Postgres)
	case KindS3:
		return s3.New(cfg.S3)
	case KindConsulKV:
		return consulkv.New(cfg.ConsulKV)
	default:
		return nil, fmt.Errorf("vfs: unknown provider kind %d", cfg.Kind)
	}
}

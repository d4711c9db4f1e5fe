// Package sqlite implements a storage provider on an embedded SQLite
// database. Node metadata is serialized to JSON beside a few indexed
// columns used for listing and cleanup queries.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sandkit/vfs/data"

	_ "modernc.org/sqlite"
)

// Config holds the SQLite provider configuration.
type Config struct {
	// Path is the database file, or ":memory:" for a transient store.
	Path string
}

type Provider struct {
	mu sync.RWMutex
	db *sql.DB
}

// New opens the database file. The schema is created by Initialize.
func New(cfg Config) (*Provider, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// The modernc driver serializes access per connection; a single
	// connection avoids table-lock errors under concurrent writes.
	db.SetMaxOpenConns(1)

	return &Provider{db: db}, nil
}

// Name returns the identifier name defined for this provider.
func (*Provider) Name() string {
	return "sqlite"
}

func (p *Provider) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS vfs_nodes (
			path TEXT PRIMARY KEY,
			parent_path TEXT NOT NULL,
			name TEXT NOT NULL,
			is_dir INTEGER NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			expires_at INTEGER,
			info TEXT NOT NULL,
			content BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vfs_nodes_parent ON vfs_nodes(parent_path, name)`,
		`CREATE INDEX IF NOT EXISTS idx_vfs_nodes_expires ON vfs_nodes(expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	// Ensure the root directory exists.
	root := data.NewNodeInfo("", "/", true)
	raw, err := root.Marshal()
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO vfs_nodes (path, parent_path, name, is_dir, size, info)
		VALUES ('/', '/', '', 1, 0, ?)
	`, string(raw))
	return err
}

func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.db.Close()
}

func (p *Provider) CreateNode(ctx context.Context, info *data.NodeInfo) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := info.Path()
	if exists, err := p.existsLocked(ctx, path); err != nil || exists {
		return false, err
	}

	var parentIsDir sql.NullBool
	err := p.db.QueryRowContext(ctx,
		`SELECT is_dir FROM vfs_nodes WHERE path = ?`, info.ParentPath,
	).Scan(&parentIsDir)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !parentIsDir.Bool {
		return false, nil
	}

	raw, err := info.Marshal()
	if err != nil {
		return false, err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO vfs_nodes (path, parent_path, name, is_dir, size, expires_at, info, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, path, info.ParentPath, info.Name, boolToInt(info.IsDir), info.Size,
		nullUnix(info.ExpiresAt), string(raw), emptyContent(info.IsDir))
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) GetNodeInfo(ctx context.Context, path string) (*data.NodeInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var raw string
	err := p.db.QueryRowContext(ctx,
		`SELECT info FROM vfs_nodes WHERE path = ?`, path,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	info := &data.NodeInfo{}
	if err := info.Unmarshal([]byte(raw)); err != nil {
		return nil, err
	}
	return info, nil
}

func (p *Provider) ListDirectory(ctx context.Context, path string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var isDir sql.NullBool
	err := p.db.QueryRowContext(ctx,
		`SELECT is_dir FROM vfs_nodes WHERE path = ?`, path,
	).Scan(&isDir)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !isDir.Bool {
		return nil, data.ErrNotDirectory
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT name FROM vfs_nodes
		WHERE parent_path = ? AND path != '/'
		ORDER BY name
	`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0, 8)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (p *Provider) WriteFile(ctx context.Context, path string, content []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := p.loadLocked(ctx, path)
	if err != nil {
		return false, err
	}
	if info == nil || info.IsDir {
		return false, nil
	}

	info.CalculateChecksums(content)
	info.Touch()

	raw, err := info.Marshal()
	if err != nil {
		return false, err
	}

	_, err = p.db.ExecContext(ctx, `
		UPDATE vfs_nodes SET size = ?, info = ?, content = ? WHERE path = ?
	`, info.Size, string(raw), content, path)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) ReadFile(ctx context.Context, path string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var isDir bool
	var content []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT is_dir, content FROM vfs_nodes WHERE path = ?`, path,
	).Scan(&isDir, &content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if isDir {
		return nil, nil
	}
	if content == nil {
		content = []byte{}
	}
	return content, nil
}

func (p *Provider) DeleteNode(ctx context.Context, path string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if path == "/" {
		return false, nil
	}

	info, err := p.loadLocked(ctx, path)
	if err != nil {
		return false, err
	}
	if info == nil {
		return false, nil
	}

	if info.IsDir {
		var children int
		err := p.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM vfs_nodes WHERE parent_path = ?`, path,
		).Scan(&children)
		if err != nil {
			return false, err
		}
		if children > 0 {
			return false, nil
		}
	}

	_, err = p.db.ExecContext(ctx, `DELETE FROM vfs_nodes WHERE path = ?`, path)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Stats(ctx context.Context) (*data.StorageStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := &data.StorageStats{Provider: p.Name()}
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN is_dir = 0 THEN 1 END),
			COUNT(CASE WHEN is_dir = 1 AND path != '/' THEN 1 END),
			COALESCE(SUM(CASE WHEN is_dir = 0 THEN size END), 0)
		FROM vfs_nodes
	`).Scan(&stats.TotalFiles, &stats.TotalDirs, &stats.TotalBytes)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (p *Provider) Cleanup(ctx context.Context) (*data.CleanupReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC().Unix()
	report := &data.CleanupReport{}

	// Expired directories take their subtree with them.
	rows, err := p.db.QueryContext(ctx, `
		SELECT path FROM vfs_nodes
		WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, now)
	if err != nil {
		return nil, err
	}

	var victims []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return nil, err
		}
		victims = append(victims, path)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Count each subtree before deleting it so live files swept away
	// under an expired directory appear in the report. Rows a previous
	// subtree delete already removed no longer match, so nothing is
	// counted twice.
	for _, path := range victims {
		var files, bytes int64
		err := p.db.QueryRowContext(ctx, `
			SELECT
				COUNT(CASE WHEN is_dir = 0 THEN 1 END),
				COALESCE(SUM(CASE WHEN is_dir = 0 THEN size END), 0)
			FROM vfs_nodes WHERE path = ? OR path LIKE ?
		`, path, path+"/%").Scan(&files, &bytes)
		if err != nil {
			return nil, err
		}

		if _, err := p.db.ExecContext(ctx,
			`DELETE FROM vfs_nodes WHERE path = ? OR path LIKE ?`,
			path, path+"/%",
		); err != nil {
			return nil, err
		}

		report.FilesRemoved += files
		report.BytesFreed += bytes
	}

	return report, nil
}

func (p *Provider) existsLocked(ctx context.Context, path string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM vfs_nodes WHERE path = ?`, path,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) loadLocked(ctx context.Context, path string) (*data.NodeInfo, error) {
	var raw string
	err := p.db.QueryRowContext(ctx,
		`SELECT info FROM vfs_nodes WHERE path = ?`, path,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	info := &data.NodeInfo{}
	if err := info.Unmarshal([]byte(raw)); err != nil {
		return nil, err
	}
	return info, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func emptyContent(isDir bool) []byte {
	if isDir {
		return nil
	}
	return []byte{}
}

package data

// StorageStats aggregates counts and sizes reported by a provider,
// merged with the manager's own operation counters.
type StorageStats struct {
	Provider   string `json:"provider"`
	TotalFiles int64  `json:"total_files"`
	TotalDirs  int64  `json:"total_dirs"`
	TotalBytes int64  `json:"total_bytes"`

	// Manager-side counters; zero when reported by a bare provider.
	Operations   int64 `json:"operations,omitempty"`
	Errors       int64 `json:"errors,omitempty"`
	BytesRead    int64 `json:"bytes_read,omitempty"`
	BytesWritten int64 `json:"bytes_written,omitempty"`
	FilesCreated int64 `json:"files_created,omitempty"`
	FilesDeleted int64 `json:"files_deleted,omitempty"`
}

// CleanupReport describes what a provider cleanup pass reclaimed.
type CleanupReport struct {
	FilesRemoved int64 `json:"files_removed"`
	BytesFreed   int64 `json:"bytes_freed"`
}

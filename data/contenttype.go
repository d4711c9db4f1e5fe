package data

import "strings"

// MimeTypeDirectory is reported for every directory node.
const MimeTypeDirectory = "inode/directory"

// MimeTypeDefault is used when no extension mapping matches.
const MimeTypeDefault = "application/octet-stream"

var mimeTypes = map[string]string{
	".txt":  "text/plain",
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".tar":  "application/x-tar",
	".gz":   "application/gzip",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".avi":  "video/x-msvideo",
	".py":   "text/x-python",
	".rs":   "text/x-rust",
	".go":   "text/x-go",
	".java": "text/x-java",
	".c":    "text/x-c",
	".cpp":  "text/x-c++",
	".h":    "text/x-c",
	".hpp":  "text/x-c++",
	".md":   "text/markdown",
	".yaml": "text/yaml",
	".yml":  "text/yaml",
	".toml": "text/toml",
}

// DetectMimeType maps a file name to a MIME type based on its extension.
func DetectMimeType(name string) string {
	lower := strings.ToLower(name)
	if idx := strings.LastIndex(lower, "."); idx >= 0 {
		if mime, ok := mimeTypes[lower[idx:]]; ok {
			return mime
		}
	}
	return MimeTypeDefault
}

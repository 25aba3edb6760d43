// Package artifact turns build output into manifest records and in-memory blobs.
package artifact

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gameforge/publish-worker/domain"
	"github.com/gameforge/publish-worker/hasher"
)

const (
	PublicDir        = "public/"
	IndexHtml        = "index.html"
	defaultMediaType = "application/octet-stream"
)

var contentTypes = map[string]string{
	".html":        "text/html; charset=utf-8",
	".htm":         "text/html; charset=utf-8",
	".js":          "application/javascript; charset=utf-8",
	".mjs":         "application/javascript; charset=utf-8",
	".css":         "text/css; charset=utf-8",
	".json":        "application/json",
	".map":         "application/json",
	".txt":         "text/plain; charset=utf-8",
	".xml":         "application/xml",
	".webmanifest": "application/manifest+json",
	".png":         "image/png",
	".jpg":         "image/jpeg",
	".jpeg":        "image/jpeg",
	".gif":         "image/gif",
	".svg":         "image/svg+xml",
	".webp":        "image/webp",
	".ico":         "image/x-icon",
	".mp3":         "audio/mpeg",
	".wav":         "audio/wav",
	".ogg":         "audio/ogg",
	".mp4":         "video/mp4",
	".webm":        "video/webm",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".ttf":         "font/ttf",
	".otf":         "font/otf",
	".wasm":        "application/wasm",
}

// ContentType resolves the media type from the file extension.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return defaultMediaType
}

// Builder accumulates artifacts keeping paths unique; a later Add replaces an earlier one.
type Builder struct {
	blobs map[string]domain.Blob
}

func NewBuilder() *Builder {
	return &Builder{blobs: map[string]domain.Blob{}}
}

// Add stores data under p and reports whether it replaced an existing path.
func (b *Builder) Add(p string, data []byte) (replaced bool) {
	_, replaced = b.blobs[p]
	b.blobs[p] = domain.Blob{Path: p, Data: data, ContentType: ContentType(p)}
	return
}

func (b *Builder) Len() int {
	return len(b.blobs)
}

// Artifacts returns the accumulated files sorted by path.
func (b *Builder) Artifacts() domain.BuildArtifacts {
	paths := make([]string, 0, len(b.blobs))
	for p := range b.blobs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	res := domain.BuildArtifacts{
		Files: make([]domain.ManifestFile, 0, len(paths)),
		Blobs: make([]domain.Blob, 0, len(paths)),
	}
	for _, p := range paths {
		blob := b.blobs[p]
		res.Blobs = append(res.Blobs, blob)
		res.Files = append(res.Files, domain.ManifestFile{
			Path:        p,
			Size:        int64(len(blob.Data)),
			ContentType: blob.ContentType,
			Checksum:    hasher.Checksum(blob.Data),
		})
	}
	return res
}

// Collect walks outputDir and merges public/ files from the project tree on top of it.
// A public file with the same path as a compiled file replaces it; replaced paths are returned.
func Collect(outputDir string, projectFiles map[string][]byte) (artifacts domain.BuildArtifacts, overridden []string, err error) {
	b := NewBuilder()
	err = filepath.WalkDir(outputDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(outputDir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		b.Add(filepath.ToSlash(rel), data)
		return nil
	})
	if err != nil {
		return domain.BuildArtifacts{}, nil, err
	}
	for p, data := range projectFiles {
		rel, ok := strings.CutPrefix(p, PublicDir)
		if !ok || rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		if b.Add(rel, data) {
			overridden = append(overridden, rel)
		}
	}
	sort.Strings(overridden)
	return b.Artifacts(), overridden, nil
}

// FromFiles builds artifacts from an in-memory tree without rebuilding anything.
func FromFiles(files map[string][]byte) domain.BuildArtifacts {
	b := NewBuilder()
	for p, data := range files {
		b.Add(p, data)
	}
	return b.Artifacts()
}

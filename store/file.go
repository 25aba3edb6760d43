package store

import (
	"bytes"
	"io"
	"time"
)

const (
	CacheImmutable = "public, max-age=31536000, immutable"
	CacheNoCache   = "no-cache"
)

type File struct {
	Name         string
	ContentType  string
	CacheControl string
	ContentSize  int
	io.Reader
}

func NewFile(name, contentType string, data []byte) File {
	return File{
		Name:        name,
		ContentType: contentType,
		ContentSize: len(data),
		Reader:      bytes.NewReader(data),
	}
}

func (f File) WithCacheControl(cc string) File {
	f.CacheControl = cc
	return f
}

func (f File) Len() int {
	return f.ContentSize
}

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

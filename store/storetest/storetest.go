// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/anyproto/any-sync/app"

	"github.com/gameforge/publish-worker/store"
)

func New() *Store {
	return &Store{
		objects: map[string]Object{},
		buckets: store.Buckets{
			Sources:   "project-files",
			Published: "published-games",
			Icons:     "project-assets",
		},
		publicUrl: "https://storage.test/public",
		failPut:   map[string]error{},
	}
}

type Object struct {
	Data         []byte
	ContentType  string
	CacheControl string
}

type Store struct {
	mu        sync.Mutex
	objects   map[string]Object
	buckets   store.Buckets
	publicUrl string
	failPut   map[string]error
	puts      int
}

var _ store.Store = (*Store)(nil)

func (s *Store) Init(a *app.App) (err error) { return }
func (s *Store) Name() string                { return store.CName }

func (s *Store) Buckets() store.Buckets { return s.buckets }

// FailPut makes every Put of bucket/key return err.
func (s *Store) FailPut(bucket, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut[bucket+"/"+key] = err
}

func (s *Store) Set(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = Object{Data: data}
}

func (s *Store) Object(bucket, key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[bucket+"/"+key]
	return obj, ok
}

// Keys returns sorted keys of bucket under prefix.
func (s *Store) Keys(bucket, prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.objects {
		b, key, _ := strings.Cut(k, "/")
		if b == bucket && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of every object, keyed by bucket/key.
func (s *Store) Snapshot() map[string]Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(map[string]Object, len(s.objects))
	for k, v := range s.objects {
		res[k] = v
	}
	return res
}

func (s *Store) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func (s *Store) List(ctx context.Context, bucket, prefix string) ([]store.ObjectInfo, error) {
	var res []store.ObjectInfo
	for _, key := range s.Keys(bucket, prefix) {
		obj, _ := s.Object(bucket, key)
		res = append(res, store.ObjectInfo{Key: key, Size: int64(len(obj.Data))})
	}
	return res, nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, ok := s.Object(bucket, key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

func (s *Store) Put(ctx context.Context, bucket string, file store.File) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	failErr := s.failPut[bucket+"/"+file.Name]
	s.mu.Unlock()
	if failErr != nil {
		return failErr
	}
	if file.Reader == nil {
		return errors.New("nil reader")
	}
	data, err := io.ReadAll(file.Reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.objects[bucket+"/"+file.Name] = Object{Data: data, ContentType: file.ContentType, CacheControl: file.CacheControl}
	return nil
}

func (s *Store) PublicUrl(bucket, key string) string {
	return store.PublicUrl(s.publicUrl, bucket, key)
}

func (s *Store) DeletePath(ctx context.Context, bucket, prefix string) error {
	for _, key := range s.Keys(bucket, prefix) {
		s.mu.Lock()
		delete(s.objects, bucket+"/"+key)
		s.mu.Unlock()
	}
	return nil
}

package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gameforge/publish-worker/store"
)

const CName = "publish.source"

var log = logger.NewNamed(CName)

var (
	ErrNoFilesFound = errors.New("no files found")
	ErrNoEntryFound = errors.New("no entry file found")
)

const (
	distDir          = "dist/"
	downloadParallel = 8
)

// entryCandidates is ordered from the most specific convention to the most generic one.
var entryCandidates = []string{
	"src/main.tsx",
	"src/main.ts",
	"src/main.jsx",
	"src/main.js",
	"src/index.tsx",
	"src/index.ts",
	"src/index.jsx",
	"src/index.js",
	"src/App.tsx",
	"src/App.jsx",
	"main.tsx",
	"main.ts",
	"main.js",
	"index.tsx",
	"index.ts",
	"index.js",
	"game.js",
	"app.js",
}

// Files is a project tree keyed by path relative to the project root.
type Files map[string][]byte

func (f Files) Paths() []string {
	paths := make([]string, 0, len(f))
	for p := range f {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// WithPrefix returns the files under prefix with the prefix stripped.
func (f Files) WithPrefix(prefix string) Files {
	res := Files{}
	for p, data := range f {
		if rel, ok := strings.CutPrefix(p, prefix); ok && rel != "" {
			res[rel] = data
		}
	}
	return res
}

func New() Fetcher {
	return new(fetcher)
}

type Fetcher interface {
	// Fetch downloads the project source tree, skipping previous build output
	Fetch(ctx context.Context, userId, projectId string) (files Files, err error)
	// FetchDist downloads only the dist/ subtree, keyed relative to dist/
	FetchDist(ctx context.Context, userId, projectId string) (files Files, err error)
	app.Component
}

type fetcher struct {
	store store.Store
}

func (f *fetcher) Init(a *app.App) (err error) {
	f.store = a.MustComponent(store.CName).(store.Store)
	return
}

func (f *fetcher) Name() (name string) {
	return CName
}

func ProjectPrefix(userId, projectId string) string {
	return userId + "/" + projectId + "/"
}

func (f *fetcher) Fetch(ctx context.Context, userId, projectId string) (files Files, err error) {
	return f.fetch(ctx, ProjectPrefix(userId, projectId), func(rel string) bool {
		return !strings.Contains("/"+rel, "/"+distDir)
	})
}

func (f *fetcher) FetchDist(ctx context.Context, userId, projectId string) (files Files, err error) {
	files, err = f.fetch(ctx, ProjectPrefix(userId, projectId)+distDir, func(rel string) bool {
		return true
	})
	return
}

func (f *fetcher) fetch(ctx context.Context, prefix string, include func(rel string) bool) (files Files, err error) {
	bucket := f.store.Buckets().Sources
	objects, err := f.store.List(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(downloadParallel)
	files = Files{}
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") || !include(rel) {
			continue
		}
		key := obj.Key
		g.Go(func() error {
			data, err := f.download(ctx, bucket, key)
			if err != nil {
				return fmt.Errorf("download %s: %w", key, err)
			}
			mu.Lock()
			files[rel] = data
			mu.Unlock()
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoFilesFound
	}
	log.Debug("fetched project files", zap.String("prefix", prefix), zap.Int("count", len(files)))
	return files, nil
}

func (f *fetcher) download(ctx context.Context, bucket, key string) ([]byte, error) {
	rd, err := f.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rd.Close()
	}()
	return io.ReadAll(rd)
}

// ResolveEntry picks the first conventional entry file present in paths.
func ResolveEntry(paths []string) (string, error) {
	present := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		present[p] = struct{}{}
	}
	for _, candidate := range entryCandidates {
		if _, ok := present[candidate]; ok {
			return candidate, nil
		}
	}
	return "", ErrNoEntryFound
}

// Stage writes files under dir. Paths escaping dir are skipped.
func Stage(files Files, dir string) error {
	for rel, data := range files {
		if !filepath.IsLocal(rel) {
			log.Warn("skip non-local path", zap.String("path", rel))
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0644); err != nil {
			return err
		}
	}
	return nil
}

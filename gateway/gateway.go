package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/anyproto/any-sync/app/ocache"
	"go.uber.org/zap"

	"github.com/gameforge/publish-worker/artifact"
	"github.com/gameforge/publish-worker/domain"
	"github.com/gameforge/publish-worker/gateway/gatewayconfig"
	"github.com/gameforge/publish-worker/publish"
	"github.com/gameforge/publish-worker/publish/publishrepo"
	"github.com/gameforge/publish-worker/source"
	"github.com/gameforge/publish-worker/store"
)

func New() Gateway {
	return new(gateway)
}

const CName = "publish.gateway"

var log = logger.NewNamed(CName)

const defaultCacheTtl = 30 * time.Second

type Gateway interface {
	// Resolve returns the live pointer of the project published under slug
	Resolve(ctx context.Context, slug string) (live Live, err error)
	app.ComponentRunnable
}

// Live is what a slug currently points to.
type Live struct {
	Project domain.Project
	Pointer domain.LatestPointer
}

func (l Live) versionDir() string {
	return publish.VersionPrefix(l.Project.UserId, l.Project.Id, l.Pointer.VersionTag)
}

func (l Live) entry() string {
	return strings.TrimPrefix(l.Pointer.Path, l.versionDir()+"/")
}

type gateway struct {
	mux       *http.ServeMux
	server    *http.Server
	repo      publishrepo.PublishRepo
	store     store.Store
	config    gatewayconfig.Config
	liveCache ocache.OCache
}

func (g *gateway) Name() (name string) {
	return CName
}

func (g *gateway) Init(a *app.App) (err error) {
	g.repo = a.MustComponent(publishrepo.CName).(publishrepo.PublishRepo)
	g.store = a.MustComponent(store.CName).(store.Store)
	g.config = a.MustComponent("config").(gatewayconfig.ConfigGetter).GetGateway()
	ttl := defaultCacheTtl
	if g.config.CacheTtlSec > 0 {
		ttl = time.Duration(g.config.CacheTtlSec) * time.Second
	}
	g.liveCache = ocache.New(g.loadLive, ocache.WithLogger(log.Sugar()), ocache.WithGCPeriod(ttl), ocache.WithTTL(ttl))
	g.mux = http.NewServeMux()
	g.mux.HandleFunc("/", g.serveHandler)
	g.server = &http.Server{Addr: g.config.Addr, Handler: g.mux}
	return
}

func (g *gateway) Run(ctx context.Context) (err error) {
	if g.config.Addr == "" {
		return
	}
	var errCh = make(chan error, 1)
	go func() {
		errCh <- g.server.ListenAndServe()
	}()
	select {
	case err = <-errCh:
		return err
	case <-time.After(200 * time.Millisecond):
		log.Info("gateway server started", zap.String("addr", g.config.Addr))
		return
	}
}

func (g *gateway) Resolve(ctx context.Context, slug string) (live Live, err error) {
	obj, err := g.liveCache.Get(ctx, slug)
	if err != nil {
		return
	}
	return obj.(*liveObject).live, nil
}

type liveObject struct {
	live Live
}

func (l *liveObject) Close() (err error) {
	return nil
}

func (l *liveObject) TryClose(objectTTL time.Duration) (res bool, err error) {
	return true, nil
}

func (g *gateway) loadLive(ctx context.Context, slug string) (object ocache.Object, err error) {
	project, err := g.repo.GetProjectBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, publishrepo.ErrNotFound) {
			return nil, ocache.ErrNotExists
		}
		return nil, err
	}
	if project.Status != domain.ProjectStatusPublished {
		return nil, ocache.ErrNotExists
	}
	rd, err := g.store.Get(ctx, g.store.Buckets().Published, source.ProjectPrefix(project.UserId, project.Id)+"latest.json")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ocache.ErrNotExists
		}
		return nil, err
	}
	defer func() {
		_ = rd.Close()
	}()
	var pointer domain.LatestPointer
	if err = json.NewDecoder(rd).Decode(&pointer); err != nil {
		return nil, err
	}
	return &liveObject{live: Live{Project: project, Pointer: pointer}}, nil
}

// slugFromRequest takes the slug from {slug}.{domain} hosts, otherwise from the first path segment.
func (g *gateway) slugFromRequest(r *http.Request) (slug, filePath string) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if g.config.Domain != "" {
		if s, ok := strings.CutSuffix(host, "."+g.config.Domain); ok && s != "" && !strings.Contains(s, ".") {
			return s, r.URL.Path
		}
	}
	slug, filePath, _ = strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	return slug, filePath
}

func (g *gateway) serveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	slug, filePath := g.slugFromRequest(r)
	if slug == "" {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	live, err := g.Resolve(ctx, slug)
	if err != nil {
		if errors.Is(err, ocache.ErrNotExists) {
			http.NotFound(w, r)
		} else {
			log.Warn("resolve failed", zap.String("slug", slug), zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	filePath = strings.TrimPrefix(path.Clean("/"+filePath), "/")
	if filePath == "" {
		filePath = live.entry()
	}
	rd, err := g.store.Get(ctx, g.store.Buckets().Published, live.versionDir()+"/"+filePath)
	if errors.Is(err, store.ErrNotFound) && path.Ext(filePath) == "" {
		// client-side routes land on the entry page
		filePath = live.entry()
		rd, err = g.store.Get(ctx, g.store.Buckets().Published, live.versionDir()+"/"+filePath)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	defer func() {
		_ = rd.Close()
	}()

	w.Header().Set("Content-Type", artifact.ContentType(filePath))
	if filePath == live.entry() {
		w.Header().Set("Cache-Control", store.CacheNoCache)
	} else {
		w.Header().Set("Cache-Control", store.CacheImmutable)
	}
	w.Header().Set("X-Version-Tag", live.Pointer.VersionTag)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err = io.Copy(w, rd); err != nil {
		log.Debug("write response", zap.String("slug", slug), zap.Error(err))
	}
}

func (g *gateway) Close(ctx context.Context) (err error) {
	if cacheErr := g.liveCache.Close(); cacheErr != nil {
		log.Warn("close live cache", zap.Error(cacheErr))
	}
	if g.config.Addr == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return g.server.Shutdown(ctx)
}

package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameforge/publish-worker/bundler"
	"github.com/gameforge/publish-worker/domain"
	"github.com/gameforge/publish-worker/icon"
	"github.com/gameforge/publish-worker/lock"
	"github.com/gameforge/publish-worker/publish/jobqueue"
	"github.com/gameforge/publish-worker/publish/jobqueue/jobqueuetest"
	"github.com/gameforge/publish-worker/publish/publishrepo"
	"github.com/gameforge/publish-worker/publish/publishrepo/publishrepotest"
	"github.com/gameforge/publish-worker/source"
	"github.com/gameforge/publish-worker/store/storetest"
)

var ctx = context.Background()

const (
	sourcesBucket   = "project-files"
	publishedBucket = "published-games"
	firstTag        = "1700000000000"
	firstPrefix     = "u1/p1/versions/" + firstTag
)

var isoTimestamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`)

func TestPublishService_Process(t *testing.T) {
	t.Run("no job", func(t *testing.T) {
		fx := newFixture(t)
		outcome, err := fx.Process(ctx, "")
		require.NoError(t, err)
		assert.True(t, outcome.NoJob)
	})
	t.Run("claim error", func(t *testing.T) {
		fx := newFixture(t)
		fx.queue.ClaimErr = errors.New("connection refused")
		_, err := fx.Process(ctx, "")
		require.Error(t, err)
		assert.NotErrorIs(t, err, jobqueue.ErrNoJob)
	})
	t.Run("primary build", func(t *testing.T) {
		fx := newFixture(t)
		fx.addSource("src/main.tsx", "export {}")
		job := fx.enqueue(t)

		outcome, err := fx.Process(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, job.Id, outcome.JobId)
		assert.Equal(t, BuildSourcePrimary, outcome.Source)
		assert.Equal(t, "src/main.tsx", fx.bundler.entry)
		assert.True(t, outcome.Promoted)

		manifest := fx.manifest(t, firstPrefix)
		assert.Len(t, manifest.Files, 3)
		assert.Equal(t, "index.html", manifest.Entrypoint)
		assert.Equal(t, firstTag, manifest.VersionTag)
		for _, f := range manifest.Files {
			obj, ok := fx.store.Object(publishedBucket, firstPrefix+"/"+f.Path)
			require.True(t, ok, f.Path)
			assert.Equal(t, f.ContentType, obj.ContentType)
		}

		latest := fx.latest(t)
		assert.Equal(t, firstPrefix+"/index.html", latest.Path)
		assert.Equal(t, firstTag, latest.VersionTag)

		project, err := fx.repo.GetProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, domain.ProjectStatusPublished, project.Status)
		assert.Equal(t, Slug("Space Game", "p1"), project.Slug)
		assert.Equal(t, "https://"+project.Slug+".games.test", project.SubdomainUrl)
		assert.Equal(t, "https://storage.test/public/published-games/"+firstPrefix+"/index.html", project.PublishedUrl)
		require.NotNil(t, project.PrimaryVersionId)
		assert.Equal(t, outcome.VersionId, *project.PrimaryVersionId)

		version, err := fx.repo.GetVersion(ctx, outcome.VersionId)
		require.NoError(t, err)
		assert.NotEmpty(t, version.Checksum)
		assert.Equal(t, "index.html", version.Entrypoint)
		assert.Positive(t, version.SizeBytes)

		fx.assertJobPublished(t, job.Id, outcome)
		assert.Equal(t,
			[]domain.JobStatus{domain.JobStatusBuilding, domain.JobStatusUploading, domain.JobStatusFinalizing, domain.JobStatusPublished},
			fx.statuses(job.Id),
		)
		var progress []int
		for _, u := range fx.queue.History(job.Id) {
			progress = append(progress, u.Progress)
		}
		assert.Equal(t, []int{10, 40, 85, 100}, progress)
	})
	t.Run("work dir is created on demand", func(t *testing.T) {
		fx := newFixture(t)
		workDir := filepath.Join(t.TempDir(), "publish-worker", "staging")
		fx.service.conf.WorkDir = workDir
		fx.addSource("src/main.tsx", "export {}")
		job := fx.enqueue(t)

		outcome, err := fx.Process(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, BuildSourcePrimary, outcome.Source)
		assert.Equal(t, 1, fx.bundler.calls)
		assert.DirExists(t, workDir)
		fx.assertJobPublished(t, job.Id, outcome)
	})
	t.Run("lock held by another job fails the job", func(t *testing.T) {
		fx := newFixture(t)
		fx.service.conf.LockTimeoutSec = 1
		fx.addSource("src/main.tsx", "export {}")
		job := fx.enqueue(t)
		unlock, err := fx.service.locker.Lock(ctx, "publish:p1", time.Minute)
		require.NoError(t, err)
		defer unlock()

		outcome, err := fx.Process(ctx, "")
		require.ErrorIs(t, err, lock.ErrNotAcquired)
		assert.Equal(t, domain.JobStatusFailed, outcome.Status)
		stored, err := fx.queue.Get(ctx, job.Id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, stored.Status)
		assert.Equal(t, "Failed to acquire project lock", stored.Message)

		_, ok := fx.store.Object(publishedBucket, "u1/p1/latest.json")
		assert.False(t, ok)
		project, err := fx.repo.GetProject(ctx, "p1")
		require.NoError(t, err)
		assert.NotEqual(t, domain.ProjectStatusPublished, project.Status)
		assert.Nil(t, project.PrimaryVersionId)
	})
	t.Run("pointer write failure keeps the project unpromoted", func(t *testing.T) {
		fx := newFixture(t)
		fx.addSource("src/main.tsx", "export {}")
		fx.store.FailPut(publishedBucket, "u1/p1/latest.json", errors.New("503 slow down"))
		job := fx.enqueue(t)

		outcome, err := fx.Process(ctx, "")
		require.Error(t, err)
		assert.Equal(t, domain.JobStatusFailed, outcome.Status)
		stored, err := fx.queue.Get(ctx, job.Id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, stored.Status)
		assert.Equal(t, "Failed to write live pointer", stored.Message)
		assert.NotEmpty(t, stored.LogUrl)
		assert.Contains(t, fx.buildLog(t, firstTag), "live pointer write failed: 503 slow down")

		project, err := fx.repo.GetProject(ctx, "p1")
		require.NoError(t, err)
		assert.NotEqual(t, domain.ProjectStatusPublished, project.Status)
		assert.Nil(t, project.PrimaryVersionId)
	})
	t.Run("public files override compiled output", func(t *testing.T) {
		fx := newFixture(t)
		fx.addSource("src/main.tsx", "export {}")
		fx.addSource("public/index.html", "<h1>custom</h1>")
		fx.addSource("public/sprites/hero.png", "png")
		fx.enqueue(t)

		_, err := fx.Process(ctx, "")
		require.NoError(t, err)
		manifest := fx.manifest(t, firstPrefix)
		assert.Len(t, manifest.Files, 4)
		obj, ok := fx.store.Object(publishedBucket, firstPrefix+"/index.html")
		require.True(t, ok)
		assert.Equal(t, "<h1>custom</h1>", string(obj.Data))
		assert.Contains(t, fx.buildLog(t, firstTag), "public/index.html overrides compiled output")
	})
	t.Run("dist fallback", func(t *testing.T) {
		fx := newFixture(t)
		fx.addSource("src/main.tsx", "export {}")
		fx.addSource("dist/index.html", "<html>prebuilt</html>")
		fx.addSource("dist/assets/app.js", "console.log(1)")
		fx.bundler.err = errors.New("syntax error")
		job := fx.enqueue(t)

		outcome, err := fx.Process(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, BuildSourceDist, outcome.Source)
		manifest := fx.manifest(t, firstPrefix)
		var paths []string
		for _, f := range manifest.Files {
			paths = append(paths, f.Path)
		}
		assert.Equal(t, []string{"assets/app.js", "index.html"}, paths)
		fx.assertJobPublished(t, job.Id, outcome)

		buildLog := fx.buildLog(t, firstTag)
		assert.Contains(t, buildLog, "primary build failed")
		assert.Contains(t, buildLog, "dist fallback: 2 files")
	})
	t.Run("placeholder when nothing builds", func(t *testing.T) {
		fx := newFixture(t)
		fx.addSource("README.md", "# no entry here")
		job := fx.enqueue(t)

		outcome, err := fx.Process(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, BuildSourcePlaceholder, outcome.Source)
		assert.Equal(t, 0, fx.bundler.calls)

		manifest := fx.manifest(t, firstPrefix)
		require.Len(t, manifest.Files, 1)
		assert.Equal(t, "index.html", manifest.Files[0].Path)
		obj, ok := fx.store.Object(publishedBucket, firstPrefix+"/index.html")
		require.True(t, ok)
		assert.Regexp(t, isoTimestamp, string(obj.Data))
		fx.assertJobPublished(t, job.Id, outcome)
		assert.Contains(t, fx.buildLog(t, firstTag), "publishing placeholder page")
	})
	t.Run("placeholder when the project is empty", func(t *testing.T) {
		fx := newFixture(t)
		job := fx.enqueue(t)
		outcome, err := fx.Process(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, BuildSourcePlaceholder, outcome.Source)
		fx.assertJobPublished(t, job.Id, outcome)
	})
	t.Run("sequential publishes", func(t *testing.T) {
		fx := newFixture(t)
		fx.addSource("src/main.tsx", "export {}")
		fx.enqueue(t)
		fx.enqueue(t)

		first, err := fx.Process(ctx, "")
		require.NoError(t, err)
		second, err := fx.Process(ctx, "")
		require.NoError(t, err)

		assert.NotEqual(t, first.VersionTag, second.VersionTag)
		assert.Less(t, first.VersionTag, second.VersionTag)
		fx.manifest(t, VersionPrefix("u1", "p1", first.VersionTag))
		fx.manifest(t, VersionPrefix("u1", "p1", second.VersionTag))
		assert.Equal(t, second.VersionTag, fx.latest(t).VersionTag)

		versions, err := fx.repo.ListVersions(ctx, "p1")
		require.NoError(t, err)
		assert.Len(t, versions, 2)
		project, err := fx.repo.GetProject(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, second.VersionId, *project.PrimaryVersionId)
	})
	t.Run("claim by id", func(t *testing.T) {
		fx := newFixture(t)
		fx.enqueue(t)
		second := fx.enqueue(t)
		outcome, err := fx.Process(ctx, second.Id)
		require.NoError(t, err)
		assert.Equal(t, second.Id, outcome.JobId)
	})
	t.Run("icon failure does not fail the job", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()
		fx := newFixtureWithIcon(t, icon.Config{ApiKey: "key", ApiUrl: srv.URL})
		fx.addSource("src/main.tsx", "export {}")
		job := fx.enqueue(t)

		outcome, err := fx.Process(ctx, "")
		require.NoError(t, err)
		fx.assertJobPublished(t, job.Id, outcome)
		project, err := fx.repo.GetProject(ctx, "p1")
		require.NoError(t, err)
		assert.Empty(t, project.ThumbnailUrl)
	})
	t.Run("icon success sets thumbnail", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1x1 png
			_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="}}]}}]}`))
		}))
		defer srv.Close()
		fx := newFixtureWithIcon(t, icon.Config{ApiKey: "key", ApiUrl: srv.URL})
		job := fx.enqueue(t)

		outcome, err := fx.Process(ctx, "")
		require.NoError(t, err)
		fx.assertJobPublished(t, job.Id, outcome)
		project, err := fx.repo.GetProject(ctx, "p1")
		require.NoError(t, err)
		assert.Contains(t, project.ThumbnailUrl, "/project-assets/u1/p1/icons/app-icon-")
	})
	t.Run("version create failure is fatal", func(t *testing.T) {
		fx := newFixture(t)
		fx.addSource("src/main.tsx", "export {}")
		fx.repo.CreateVersionErr = errors.New("db is down")
		job := fx.enqueue(t)

		outcome, err := fx.Process(ctx, "")
		require.ErrorIs(t, err, ErrVersionCreate)
		assert.Equal(t, domain.JobStatusFailed, outcome.Status)
		stored, err := fx.queue.Get(ctx, job.Id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, stored.Status)
		assert.Contains(t, stored.Error, "db is down")
		assert.Empty(t, fx.store.Keys(publishedBucket, ""))
		assert.Equal(t, 0, fx.bundler.calls)
	})
	t.Run("missing project fails the job", func(t *testing.T) {
		fx := newFixture(t)
		fx.repo = publishrepotest.New()
		fx = fx.restart(t)
		job := fx.enqueue(t)

		_, err := fx.Process(ctx, "")
		require.ErrorIs(t, err, publishrepo.ErrNotFound)
		stored, err := fx.queue.Get(ctx, job.Id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, stored.Status)
	})
	t.Run("upload errors are tolerated", func(t *testing.T) {
		fx := newFixture(t)
		fx.addSource("src/main.tsx", "export {}")
		fx.store.FailPut(publishedBucket, firstPrefix+"/main.js", errors.New("503 slow down"))
		job := fx.enqueue(t)

		outcome, err := fx.Process(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, 1, outcome.UploadsFailed)
		fx.assertJobPublished(t, job.Id, outcome)
		assert.Len(t, fx.manifest(t, firstPrefix).Files, 3)
		assert.Contains(t, fx.buildLog(t, firstTag), "1 of 3 files failed to upload")
	})
	t.Run("existing slug is kept", func(t *testing.T) {
		fx := newFixture(t)
		fx.repo.AddProject(domain.Project{Id: "p1", UserId: "u1", Name: "Renamed", Slug: "space-game-abc123"})
		fx.enqueue(t)
		outcome, err := fx.Process(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, "https://space-game-abc123.games.test", outcome.SubdomainUrl)
	})
	t.Run("older job does not move the pointer back", func(t *testing.T) {
		fx := newFixture(t)
		fx.enqueue(t)
		fx.store.Set(publishedBucket, "u1/p1/latest.json", []byte(`{"versionTag":"9999999999999","path":"u1/p1/versions/9999999999999/index.html"}`))
		_, err := fx.Process(ctx, "")
		require.NoError(t, err)
		obj, ok := fx.store.Object(publishedBucket, "u1/p1/latest.json")
		require.True(t, ok)
		assert.Contains(t, string(obj.Data), `"versionTag":"9999999999999"`)
	})
	t.Run("old versions are pruned", func(t *testing.T) {
		fx := newFixture(t)
		fx.service.conf.KeepVersions = 1
		fx.addSource("src/main.tsx", "export {}")
		fx.enqueue(t)
		fx.enqueue(t)
		first, err := fx.Process(ctx, "")
		require.NoError(t, err)
		second, err := fx.Process(ctx, "")
		require.NoError(t, err)

		assert.Empty(t, fx.store.Keys(publishedBucket, VersionPrefix("u1", "p1", first.VersionTag)+"/"))
		assert.NotEmpty(t, fx.store.Keys(publishedBucket, VersionPrefix("u1", "p1", second.VersionTag)+"/"))
		versions, err := fx.repo.ListVersions(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, second.VersionTag, versions[0].VersionTag)
	})
}

func TestPublishService_upload(t *testing.T) {
	fx := newFixture(t)
	artifacts := fx.service.build(ctx, domain.Job{Id: "j1", UserId: "u1", ProjectId: "p1"}, "Space Game", &buildLog{now: time.Now}).artifacts

	assert.Equal(t, 0, fx.service.upload(ctx, firstPrefix, artifacts, log))
	once := fx.store.Snapshot()
	assert.Equal(t, 0, fx.service.upload(ctx, firstPrefix, artifacts, log))
	assert.Equal(t, once, fx.store.Snapshot())
	assert.Equal(t, 2*len(artifacts.Blobs), fx.store.Puts())
}

func TestPublishService_build(t *testing.T) {
	t.Run("job id with a path separator", func(t *testing.T) {
		fx := newFixture(t)
		fx.addSource("src/main.tsx", "export {}")
		res := fx.service.build(ctx, domain.Job{Id: "team/j1", UserId: "u1", ProjectId: "p1"}, "Space Game", &buildLog{now: time.Now})
		assert.Equal(t, BuildSourcePrimary, res.source)
		assert.Equal(t, 1, fx.bundler.calls)
	})
	t.Run("staging is removed", func(t *testing.T) {
		fx := newFixture(t)
		fx.addSource("src/main.tsx", "export {}")
		res := fx.service.build(ctx, domain.Job{Id: "j1", UserId: "u1", ProjectId: "p1"}, "Space Game", &buildLog{now: time.Now})
		assert.Equal(t, BuildSourcePrimary, res.source)
		entries, err := os.ReadDir(fx.service.conf.WorkDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestPublishService_Run(t *testing.T) {
	t.Run("creates work dir", func(t *testing.T) {
		workDir := filepath.Join(t.TempDir(), "a", "b")
		s := &publishService{conf: Config{WorkDir: workDir}}
		require.NoError(t, s.Run(ctx))
		assert.DirExists(t, workDir)
	})
	t.Run("work dir is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
		s := &publishService{conf: Config{WorkDir: file}}
		assert.Error(t, s.Run(ctx))
	})
}

func TestConfig_withDefaults(t *testing.T) {
	conf := Config{}.withDefaults()
	assert.Equal(t, os.TempDir(), conf.WorkDir)
	assert.Equal(t, "games.local", conf.PlatformDomain)
	assert.Equal(t, 3, conf.MaxAttempts)
	assert.Equal(t, 30, conf.LockTimeoutSec)
	assert.Equal(t, "/srv/work", Config{WorkDir: "/srv/work"}.withDefaults().WorkDir)
}

func TestPublishService_poll(t *testing.T) {
	fx := newFixture(t)
	fx.addSource("src/main.tsx", "export {}")
	a := fx.enqueue(t)
	b := fx.enqueue(t)
	require.NoError(t, fx.service.poll(ctx))
	for _, id := range []string{a.Id, b.Id} {
		job, err := fx.queue.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPublished, job.Status)
	}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithIcon(t, icon.Config{})
}

func newFixtureWithIcon(t *testing.T, iconConf icon.Config) *fixture {
	fx := &fixture{
		store:    storetest.New(),
		repo:     publishrepotest.New(),
		queue:    jobqueuetest.New(),
		bundler:  &testBundler{},
		iconConf: iconConf,
	}
	fx.repo.AddProject(domain.Project{Id: "p1", UserId: "u1", Name: "Space Game"})
	return fx.restart(t)
}

// restart builds a new app around the fixture's fakes.
func (fx *fixture) restart(t *testing.T) *fixture {
	nfx := &fixture{
		Service:  New(),
		store:    fx.store,
		repo:     fx.repo,
		queue:    fx.queue,
		bundler:  fx.bundler,
		iconConf: fx.iconConf,
		a:        new(app.App),
	}
	nfx.service = nfx.Service.(*publishService)
	nfx.a.Register(&testConfig{
		Publish: Config{PlatformDomain: "games.test", WorkDir: t.TempDir()},
		Icon:    nfx.iconConf,
	}).
		Register(nfx.store).
		Register(nfx.repo).
		Register(nfx.queue).
		Register(lock.New()).
		Register(source.New()).
		Register(nfx.bundler).
		Register(icon.New()).
		Register(nfx.Service)
	require.NoError(t, nfx.a.Start(ctx))
	nfx.service.now = func() time.Time {
		return time.UnixMilli(1700000000000)
	}
	t.Cleanup(func() {
		require.NoError(t, nfx.a.Close(ctx))
	})
	return nfx
}

type fixture struct {
	Service
	service  *publishService
	store    *storetest.Store
	repo     *publishrepotest.Repo
	queue    *jobqueuetest.Queue
	bundler  *testBundler
	iconConf icon.Config
	a        *app.App
}

func (fx *fixture) addSource(path, data string) {
	fx.store.Set(sourcesBucket, "u1/p1/"+path, []byte(data))
}

func (fx *fixture) enqueue(t *testing.T) domain.Job {
	job, err := fx.queue.Enqueue(ctx, "p1", "u1")
	require.NoError(t, err)
	return job
}

func (fx *fixture) manifest(t *testing.T, prefix string) (manifest domain.Manifest) {
	obj, ok := fx.store.Object(publishedBucket, prefix+"/manifest.json")
	require.True(t, ok, "manifest of %s", prefix)
	require.NoError(t, json.Unmarshal(obj.Data, &manifest))
	return
}

func (fx *fixture) latest(t *testing.T) (pointer domain.LatestPointer) {
	obj, ok := fx.store.Object(publishedBucket, "u1/p1/latest.json")
	require.True(t, ok)
	assert.Equal(t, "no-cache", obj.CacheControl)
	require.NoError(t, json.Unmarshal(obj.Data, &pointer))
	return
}

func (fx *fixture) buildLog(t *testing.T, tag string) string {
	obj, ok := fx.store.Object(publishedBucket, "u1/p1/logs/"+tag+".txt")
	require.True(t, ok)
	return string(obj.Data)
}

func (fx *fixture) statuses(jobId string) (res []domain.JobStatus) {
	for _, u := range fx.queue.History(jobId) {
		res = append(res, u.Status)
	}
	return
}

func (fx *fixture) assertJobPublished(t *testing.T, jobId string, outcome Outcome) {
	assert.Equal(t, domain.JobStatusPublished, outcome.Status)
	job, err := fx.queue.Get(ctx, jobId)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPublished, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, outcome.LogUrl, job.LogUrl)
	assert.NotEmpty(t, job.LogUrl)
	require.NotNil(t, job.VersionId)
	assert.Equal(t, outcome.VersionId, *job.VersionId)
}

// testBundler writes index.html, main.js and main.css without compiling anything.
type testBundler struct {
	err   error
	entry string
	calls int
}

func (b *testBundler) Init(a *app.App) (err error) { return }
func (b *testBundler) Name() (name string)         { return bundler.CName }

func (b *testBundler) Build(ctx context.Context, stagingDir, entry string) (string, error) {
	b.calls++
	b.entry = entry
	if b.err != nil {
		return "", errors.Join(bundler.ErrBuildFailed, b.err)
	}
	out := stagingDir + "-out"
	files := map[string]string{
		"index.html": `<script type="module" src="./main.js"></script>`,
		"main.js":    "console.log('game')",
		"main.css":   "body{margin:0}",
	}
	for name, data := range files {
		if err := os.MkdirAll(out, 0755); err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(out, name), []byte(data), 0644); err != nil {
			return "", err
		}
	}
	return out, nil
}

type testConfig struct {
	Publish Config
	Icon    icon.Config
	Redis   lock.Config
}

func (c testConfig) Init(a *app.App) (err error) { return }
func (c testConfig) Name() (name string)         { return "config" }
func (c testConfig) GetPublish() Config          { return c.Publish }
func (c testConfig) GetIcon() icon.Config        { return c.Icon }
func (c testConfig) GetRedis() lock.Config       { return c.Redis }

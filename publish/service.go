package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/anyproto/any-sync/util/periodicsync"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gameforge/publish-worker/bundler"
	"github.com/gameforge/publish-worker/domain"
	"github.com/gameforge/publish-worker/hasher"
	"github.com/gameforge/publish-worker/icon"
	"github.com/gameforge/publish-worker/lock"
	"github.com/gameforge/publish-worker/publish/jobqueue"
	"github.com/gameforge/publish-worker/publish/publishrepo"
	"github.com/gameforge/publish-worker/source"
	"github.com/gameforge/publish-worker/store"
)

const CName = "publish.service"

var log = logger.NewNamed(CName)

var ErrVersionCreate = errors.New("create version")

const (
	uploadParallel = 8
	promoteLockTtl = 2 * time.Minute
	latestPointer  = "latest.json"
	manifestName   = "manifest.json"
)

func New() Service {
	return new(publishService)
}

// Outcome describes a finished Process call.
type Outcome struct {
	// NoJob is set when there was nothing to claim
	NoJob         bool
	JobId         string
	Status        domain.JobStatus
	VersionId     primitive.ObjectID
	VersionTag    string
	Source        BuildSource
	LogUrl        string
	SubdomainUrl  string
	Promoted      bool
	UploadsFailed int
}

type Service interface {
	// Process claims a job (the given one, or the oldest queued when jobId is empty) and publishes it.
	// An empty queue is not an error: the outcome has NoJob set.
	Process(ctx context.Context, jobId string) (outcome Outcome, err error)
	app.ComponentRunnable
}

type publishService struct {
	conf    Config
	queue   jobqueue.JobQueue
	repo    publishrepo.PublishRepo
	store   store.Store
	fetcher source.Fetcher
	bundler bundler.Bundler
	icons   icon.Generator
	locker  lock.Locker

	clock  *versionClock
	now    func() time.Time
	ticker periodicsync.PeriodicSync
	server *http.Server
}

func (p *publishService) Init(a *app.App) (err error) {
	p.conf = a.MustComponent("config").(configGetter).GetPublish().withDefaults()
	p.queue = a.MustComponent(jobqueue.CName).(jobqueue.JobQueue)
	p.repo = a.MustComponent(publishrepo.CName).(publishrepo.PublishRepo)
	p.store = a.MustComponent(store.CName).(store.Store)
	p.fetcher = a.MustComponent(source.CName).(source.Fetcher)
	p.bundler = a.MustComponent(bundler.CName).(bundler.Bundler)
	p.icons = a.MustComponent(icon.CName).(icon.Generator)
	p.locker = a.MustComponent(lock.CName).(lock.Locker)
	p.now = time.Now
	p.clock = &versionClock{now: func() time.Time { return p.now() }}
	if p.conf.PollIntervalSec > 0 {
		p.ticker = periodicsync.NewPeriodicSync(p.conf.PollIntervalSec, 0, p.poll, log)
	}
	if p.conf.Addr != "" {
		mux := http.NewServeMux()
		httpHandler{s: p, workerKey: p.conf.WorkerKey}.init(mux)
		p.server = &http.Server{Addr: p.conf.Addr, Handler: mux}
	}
	return
}

func (p *publishService) Name() (name string) {
	return CName
}

func (p *publishService) Run(ctx context.Context) (err error) {
	if p.conf.WorkerKey == "" {
		log.Warn("worker key is empty, trigger endpoint is not authenticated")
	}
	if err = os.MkdirAll(p.conf.WorkDir, 0755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	if p.ticker != nil {
		p.ticker.Run()
	}
	if p.server == nil {
		return
	}
	var errCh = make(chan error, 1)
	go func() {
		errCh <- p.server.ListenAndServe()
	}()
	select {
	case err = <-errCh:
		return err
	case <-time.After(200 * time.Millisecond):
		log.Info("publish worker started", zap.String("addr", p.conf.Addr))
		return
	}
}

// poll is the worker loop tick: return stale jobs to the queue, then drain it.
func (p *publishService) poll(ctx context.Context) error {
	before := p.now().Add(-time.Duration(p.conf.StaleAfterSec) * time.Second)
	requeued, failed, err := p.queue.RequeueStale(ctx, before, p.conf.MaxAttempts)
	if err != nil {
		return err
	}
	if requeued+failed > 0 {
		log.Info("stale jobs swept", zap.Int("requeued", requeued), zap.Int("failed", failed))
	}
	for ctx.Err() == nil {
		outcome, err := p.Process(ctx, "")
		if err != nil {
			return err
		}
		if outcome.NoJob {
			return nil
		}
	}
	return ctx.Err()
}

func (p *publishService) Process(ctx context.Context, jobId string) (outcome Outcome, err error) {
	job, err := p.queue.Claim(ctx, jobId)
	if err != nil {
		if errors.Is(err, jobqueue.ErrNoJob) {
			return Outcome{NoJob: true}, nil
		}
		return Outcome{}, fmt.Errorf("claim job: %w", err)
	}
	outcome = Outcome{JobId: job.Id, Status: domain.JobStatusBuilding}
	lg := log.With(zap.String("jobId", job.Id), zap.String("projectId", job.ProjectId))
	lg.Info("job claimed", zap.Int("attempt", job.Attempts))
	start := time.Now()

	p.progress(ctx, job.Id, jobqueue.Update{Status: domain.JobStatusBuilding, Progress: 10, Message: "Building"})

	versionTag := p.clock.Next()
	prefix := VersionPrefix(job.UserId, job.ProjectId, versionTag)
	version, err := p.repo.CreateVersion(ctx, domain.Version{
		ProjectId:     job.ProjectId,
		UserId:        job.UserId,
		VersionTag:    versionTag,
		StoragePrefix: prefix,
		CreatedAt:     p.now(),
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrVersionCreate, err)
		return p.fail(ctx, outcome, "Failed to create version", err)
	}
	outcome.VersionId, outcome.VersionTag = version.Id, versionTag
	lg = lg.With(zap.String("versionTag", versionTag))

	project, projectErr := p.repo.GetProject(ctx, job.ProjectId)
	if projectErr != nil {
		lg.Warn("can't load project", zap.Error(projectErr))
	}
	var iconTask *icon.Task
	if projectErr == nil && project.ThumbnailUrl == "" && p.icons.Enabled() {
		iconTask = p.icons.Start(ctx, icon.Request{
			ProjectId:   job.ProjectId,
			UserId:      job.UserId,
			Name:        project.Name,
			Description: project.Description,
		})
	}
	// the icon task is always joined, even when the job fails below
	iconJoined := false
	joinIcon := func() {
		if iconTask == nil || iconJoined {
			return
		}
		iconJoined = true
		if res := iconTask.Wait(); res.Err != nil {
			lg.Warn("icon generation failed", zap.Error(res.Err))
		} else {
			lg.Info("icon generated", zap.String("url", res.Url))
		}
	}
	defer joinIcon()

	blog := &buildLog{now: p.now}
	blog.Printf("publish %s of project %s, version %s", job.Id, job.ProjectId, versionTag)
	res := p.build(ctx, job, project.Name, blog)
	outcome.Source = res.source

	outcome.Status = domain.JobStatusUploading
	p.progress(ctx, job.Id, jobqueue.Update{Status: domain.JobStatusUploading, Progress: 40, Message: "Uploading files"})
	outcome.UploadsFailed = p.upload(ctx, prefix, res.artifacts, lg)
	if outcome.UploadsFailed > 0 {
		blog.Printf("%d of %d files failed to upload", outcome.UploadsFailed, len(res.artifacts.Blobs))
	} else {
		blog.Printf("uploaded %d files", len(res.artifacts.Blobs))
	}

	// latest.json and the project row are flipped together under the project lock
	lockCtx, cancel := context.WithTimeout(ctx, time.Duration(p.conf.LockTimeoutSec)*time.Second)
	unlock, err := p.locker.Lock(lockCtx, "publish:"+job.ProjectId, promoteLockTtl)
	cancel()
	if err != nil {
		return p.fail(ctx, outcome, "Failed to acquire project lock", err)
	}
	defer unlock()

	pointerErr := p.writeLatest(ctx, job, domain.LatestPointer{VersionTag: versionTag, Path: prefix + "/" + res.entrypoint}, lg)
	if pointerErr != nil {
		blog.Printf("live pointer write failed: %v", pointerErr)
	}

	manifest, err := json.MarshalIndent(domain.Manifest{
		VersionTag: versionTag,
		Entrypoint: res.entrypoint,
		Files:      res.artifacts.Files,
	}, "", "  ")
	if err != nil {
		return p.fail(ctx, outcome, "Failed to build manifest", err)
	}
	published := p.store.Buckets().Published
	if err = p.store.Put(ctx, published, store.NewFile(prefix+"/"+manifestName, "application/json", manifest)); err != nil {
		lg.Warn("manifest upload failed", zap.Error(err))
		blog.Printf("manifest upload failed: %v", err)
	}

	blog.Printf("build source: %s", res.source)
	logKey := fmt.Sprintf("%s/%s/logs/%s.txt", job.UserId, job.ProjectId, versionTag)
	if err = p.store.Put(ctx, published, store.NewFile(logKey, "text/plain; charset=utf-8", blog.Bytes())); err != nil {
		lg.Warn("build log upload failed", zap.Error(err))
	} else {
		outcome.LogUrl = p.store.PublicUrl(published, logKey)
	}

	// the project row must not point to a version latest.json does not know about
	if pointerErr != nil {
		return p.fail(ctx, outcome, "Failed to write live pointer", pointerErr)
	}

	outcome.Status = domain.JobStatusFinalizing
	p.progress(ctx, job.Id, jobqueue.Update{Status: domain.JobStatusFinalizing, Progress: 85, Message: "Finalizing", LogUrl: outcome.LogUrl})

	if err = p.repo.FinalizeVersion(ctx, version.Id, res.entrypoint, hasher.Checksum(manifest), res.artifacts.TotalSize()); err != nil {
		return p.fail(ctx, outcome, "Failed to finalize version", err)
	}

	// reload under the lock: another job may have assigned the slug meanwhile
	if project, err = p.repo.GetProject(ctx, job.ProjectId); err != nil {
		return p.fail(ctx, outcome, "Project not found", err)
	}
	projectSlug := project.Slug
	if projectSlug == "" {
		projectSlug = Slug(project.Name, project.Id)
	}
	outcome.SubdomainUrl = subdomainUrl(projectSlug, p.conf.PlatformDomain)
	promoted, err := p.repo.PromoteProject(ctx, job.ProjectId, domain.Promotion{
		VersionId:    version.Id,
		VersionTag:   versionTag,
		Slug:         projectSlug,
		SubdomainUrl: outcome.SubdomainUrl,
		PublishedUrl: p.store.PublicUrl(published, prefix+"/"+res.entrypoint),
		PublishedAt:  p.now(),
	})
	if err != nil {
		return p.fail(ctx, outcome, "Failed to promote version", err)
	}
	outcome.Promoted = promoted
	if !promoted {
		lg.Info("newer version is already live, promotion skipped")
	}
	unlock()
	if promoted && p.conf.KeepVersions > 0 {
		p.prune(ctx, job.ProjectId, version.Id, lg)
	}

	joinIcon()

	outcome.Status = domain.JobStatusPublished
	versionId := version.Id
	if err = p.queue.UpdateProgress(ctx, job.Id, jobqueue.Update{
		Status:    domain.JobStatusPublished,
		Progress:  100,
		Message:   publishedMessage(res.source),
		LogUrl:    outcome.LogUrl,
		VersionId: &versionId,
	}); err != nil {
		return outcome, fmt.Errorf("complete job: %w", err)
	}
	lg.Info("job published",
		zap.String("source", string(res.source)),
		zap.Int("files", len(res.artifacts.Files)),
		zap.Int("uploadsFailed", outcome.UploadsFailed),
		zap.Duration("dur", time.Since(start)),
	)
	return outcome, nil
}

func publishedMessage(src BuildSource) string {
	switch src {
	case BuildSourceDist:
		return "Published from prebuilt files"
	case BuildSourcePlaceholder:
		return "Published placeholder page"
	default:
		return "Published"
	}
}

// upload puts every blob under prefix. Failed files are logged and counted, the loop never stops early.
func (p *publishService) upload(ctx context.Context, prefix string, artifacts domain.BuildArtifacts, lg logger.CtxLogger) (failed int) {
	var (
		g        errgroup.Group
		failures atomic.Int32
		bucket   = p.store.Buckets().Published
	)
	g.SetLimit(uploadParallel)
	for _, blob := range artifacts.Blobs {
		file := store.NewFile(prefix+"/"+blob.Path, blob.ContentType, blob.Data).WithCacheControl(store.CacheImmutable)
		g.Go(func() error {
			if err := p.store.Put(ctx, bucket, file); err != nil {
				failures.Add(1)
				lg.Warn("upload failed", zap.String("path", blob.Path), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failures.Load())
}

// writeLatest moves the project pointer unless it already refers to a newer version.
func (p *publishService) writeLatest(ctx context.Context, job domain.Job, pointer domain.LatestPointer, lg logger.CtxLogger) error {
	bucket := p.store.Buckets().Published
	key := source.ProjectPrefix(job.UserId, job.ProjectId) + latestPointer
	if rd, err := p.store.Get(ctx, bucket, key); err == nil {
		var current domain.LatestPointer
		decodeErr := json.NewDecoder(rd).Decode(&current)
		_ = rd.Close()
		if decodeErr == nil && current.VersionTag > pointer.VersionTag {
			lg.Info("latest pointer is newer, keep it", zap.String("current", current.VersionTag))
			return nil
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		lg.Warn("can't read latest pointer", zap.Error(err))
	}
	data, err := json.Marshal(pointer)
	if err != nil {
		return err
	}
	if err = p.store.Put(ctx, bucket, store.NewFile(key, "application/json", data).WithCacheControl(store.CacheNoCache)); err != nil {
		lg.Warn("latest pointer upload failed", zap.Error(err))
		return err
	}
	return nil
}

// prune removes versions beyond KeepVersions, never touching the live one.
func (p *publishService) prune(ctx context.Context, projectId string, liveId primitive.ObjectID, lg logger.CtxLogger) {
	versions, err := p.repo.ListVersions(ctx, projectId)
	if err != nil {
		lg.Warn("list versions failed", zap.Error(err))
		return
	}
	if len(versions) <= p.conf.KeepVersions {
		return
	}
	bucket := p.store.Buckets().Published
	for _, v := range versions[p.conf.KeepVersions:] {
		if v.Id == liveId {
			continue
		}
		if err = p.store.DeletePath(ctx, bucket, v.StoragePrefix+"/"); err != nil {
			lg.Warn("delete version files failed", zap.String("versionTag", v.VersionTag), zap.Error(err))
			continue
		}
		if err = p.repo.DeleteVersion(ctx, v.Id); err != nil {
			lg.Warn("delete version failed", zap.String("versionTag", v.VersionTag), zap.Error(err))
			continue
		}
		lg.Info("old version pruned", zap.String("versionTag", v.VersionTag))
	}
}

func (p *publishService) progress(ctx context.Context, jobId string, update jobqueue.Update) {
	if err := p.queue.UpdateProgress(ctx, jobId, update); err != nil {
		log.Warn("progress update failed", zap.String("jobId", jobId), zap.String("status", string(update.Status)), zap.Error(err))
	}
}

func (p *publishService) fail(ctx context.Context, outcome Outcome, message string, cause error) (Outcome, error) {
	log.Error("job failed", zap.String("jobId", outcome.JobId), zap.String("message", message), zap.Error(cause))
	outcome.Status = domain.JobStatusFailed
	if err := p.queue.UpdateProgress(ctx, outcome.JobId, jobqueue.Update{
		Status:  domain.JobStatusFailed,
		Message: message,
		Error:   cause.Error(),
		LogUrl:  outcome.LogUrl,
	}); err != nil {
		return outcome, errors.Join(cause, fmt.Errorf("mark job failed: %w", err))
	}
	return outcome, cause
}

func VersionPrefix(userId, projectId, versionTag string) string {
	return source.ProjectPrefix(userId, projectId) + "versions/" + versionTag
}

func (p *publishService) Close(ctx context.Context) (err error) {
	if p.ticker != nil {
		p.ticker.Close()
	}
	if p.server != nil {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return p.server.Shutdown(ctx)
	}
	return
}

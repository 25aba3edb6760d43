// Package publishrepotest provides an in-memory publishrepo.PublishRepo for tests.
package publishrepotest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/anyproto/any-sync/app"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/gameforge/publish-worker/domain"
	"github.com/gameforge/publish-worker/publish/publishrepo"
)

func New() *Repo {
	return &Repo{
		versions: map[primitive.ObjectID]domain.Version{},
		projects: map[string]domain.Project{},
	}
}

type Repo struct {
	mu       sync.Mutex
	versions map[primitive.ObjectID]domain.Version
	projects map[string]domain.Project

	// CreateVersionErr is returned by CreateVersion when set
	CreateVersionErr error
}

var _ publishrepo.PublishRepo = (*Repo)(nil)

func (r *Repo) Init(a *app.App) (err error)           { return }
func (r *Repo) Name() (name string)                   { return publishrepo.CName }
func (r *Repo) Run(ctx context.Context) (err error)   { return }
func (r *Repo) Close(ctx context.Context) (err error) { return }

func (r *Repo) AddProject(project domain.Project) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[project.Id] = project
}

func (r *Repo) CreateVersion(ctx context.Context, version domain.Version) (domain.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreateVersionErr != nil {
		return domain.Version{}, r.CreateVersionErr
	}
	for _, v := range r.versions {
		if v.ProjectId == version.ProjectId && v.VersionTag == version.VersionTag {
			return domain.Version{}, errors.New("duplicate version tag")
		}
	}
	if version.Id.IsZero() {
		version.Id = primitive.NewObjectID()
	}
	r.versions[version.Id] = version
	return version, nil
}

func (r *Repo) FinalizeVersion(ctx context.Context, id primitive.ObjectID, entrypoint, checksum string, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[id]
	if !ok {
		return publishrepo.ErrNotFound
	}
	v.Entrypoint, v.Checksum, v.SizeBytes = entrypoint, checksum, size
	r.versions[id] = v
	return nil
}

func (r *Repo) GetVersion(ctx context.Context, id primitive.ObjectID) (domain.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[id]
	if !ok {
		return domain.Version{}, publishrepo.ErrNotFound
	}
	return v, nil
}

func (r *Repo) ListVersions(ctx context.Context, projectId string) ([]domain.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []domain.Version
	for _, v := range r.versions {
		if v.ProjectId == projectId {
			res = append(res, v)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].VersionTag > res[j].VersionTag })
	return res, nil
}

func (r *Repo) DeleteVersion(ctx context.Context, id primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.versions, id)
	return nil
}

func (r *Repo) GetProject(ctx context.Context, projectId string) (domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectId]
	if !ok {
		return domain.Project{}, publishrepo.ErrNotFound
	}
	return p, nil
}

func (r *Repo) GetProjectBySlug(ctx context.Context, slug string) (domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.projects {
		if p.Slug == slug {
			return p, nil
		}
	}
	return domain.Project{}, publishrepo.ErrNotFound
}

func (r *Repo) PromoteProject(ctx context.Context, projectId string, promotion domain.Promotion) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.versions[promotion.VersionId]; !ok {
		return false, publishrepo.ErrNotFound
	}
	p, ok := r.projects[projectId]
	if !ok {
		return false, publishrepo.ErrNotFound
	}
	if p.PromotedVersionTag != "" && p.PromotedVersionTag >= promotion.VersionTag {
		return false, nil
	}
	versionId := promotion.VersionId
	publishedAt := promotion.PublishedAt
	p.PrimaryVersionId = &versionId
	p.PromotedVersionTag = promotion.VersionTag
	p.Slug = promotion.Slug
	p.SubdomainUrl = promotion.SubdomainUrl
	p.PublishedUrl = promotion.PublishedUrl
	p.PublishedAt = &publishedAt
	p.Status = domain.ProjectStatusPublished
	r.projects[projectId] = p
	return true, nil
}

func (r *Repo) SetThumbnailIfEmpty(ctx context.Context, projectId, url string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectId]
	if !ok || p.ThumbnailUrl != "" {
		return false, nil
	}
	p.ThumbnailUrl = url
	r.projects[projectId] = p
	return true, nil
}

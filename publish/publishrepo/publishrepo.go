package publishrepo

import (
	"context"
	"errors"

	"github.com/anyproto/any-sync/app"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gameforge/publish-worker/db"
	"github.com/gameforge/publish-worker/domain"
)

const CName = "publish.repo"

var (
	ErrNotFound = errors.New("not found")
)

func New() PublishRepo {
	return new(publishRepo)
}

type PublishRepo interface {
	CreateVersion(ctx context.Context, version domain.Version) (created domain.Version, err error)
	FinalizeVersion(ctx context.Context, id primitive.ObjectID, entrypoint, checksum string, size int64) (err error)
	GetVersion(ctx context.Context, id primitive.ObjectID) (version domain.Version, err error)
	// ListVersions returns versions of the project, newest first
	ListVersions(ctx context.Context, projectId string) (versions []domain.Version, err error)
	DeleteVersion(ctx context.Context, id primitive.ObjectID) (err error)

	GetProject(ctx context.Context, projectId string) (project domain.Project, err error)
	GetProjectBySlug(ctx context.Context, slug string) (project domain.Project, err error)
	// PromoteProject flips the live-pointer fields. It is a no-op (promoted=false) when the project
	// already points to a newer version tag.
	PromoteProject(ctx context.Context, projectId string, promotion domain.Promotion) (promoted bool, err error)
	SetThumbnailIfEmpty(ctx context.Context, projectId, url string) (updated bool, err error)
	app.ComponentRunnable
}

var versionIndexes = []mongo.IndexModel{
	{
		Keys: bson.D{
			{"projectId", 1},
			{"versionTag", -1},
		},
		Options: options.Index().SetUnique(true),
	},
}

type publishRepo struct {
	db           db.Database
	versionsColl *mongo.Collection
	projectsColl *mongo.Collection
}

func (p *publishRepo) Name() (name string) {
	return CName
}

func (p *publishRepo) Init(a *app.App) (err error) {
	p.db = a.MustComponent(db.CName).(db.Database)
	p.versionsColl = p.db.Db().Collection("publish_versions")
	p.projectsColl = p.db.Db().Collection("projects")
	return
}

func (p *publishRepo) Run(ctx context.Context) (err error) {
	return db.EnsureIndexes(ctx, p.versionsColl, versionIndexes...)
}

func (p *publishRepo) CreateVersion(ctx context.Context, version domain.Version) (created domain.Version, err error) {
	if version.Id.IsZero() {
		version.Id = primitive.NewObjectID()
	}
	if _, err = p.versionsColl.InsertOne(ctx, version); err != nil {
		return domain.Version{}, err
	}
	return version, nil
}

func (p *publishRepo) FinalizeVersion(ctx context.Context, id primitive.ObjectID, entrypoint, checksum string, size int64) (err error) {
	res, err := p.versionsColl.UpdateOne(
		ctx,
		bson.D{{"_id", id}},
		bson.D{{"$set", bson.D{
			{"entrypoint", entrypoint},
			{"checksum", checksum},
			{"sizeBytes", size},
		}}},
	)
	if err != nil {
		return
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return
}

func (p *publishRepo) GetVersion(ctx context.Context, id primitive.ObjectID) (version domain.Version, err error) {
	if err = p.versionsColl.FindOne(ctx, bson.D{{"_id", id}}).Decode(&version); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Version{}, ErrNotFound
		}
	}
	return
}

func (p *publishRepo) ListVersions(ctx context.Context, projectId string) ([]domain.Version, error) {
	opts := options.Find().SetSort(bson.D{{"versionTag", -1}})
	cur, err := p.versionsColl.Find(ctx, bson.D{{"projectId", projectId}}, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var versions []domain.Version
	if err = cur.All(ctx, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (p *publishRepo) DeleteVersion(ctx context.Context, id primitive.ObjectID) (err error) {
	_, err = p.versionsColl.DeleteOne(ctx, bson.D{{"_id", id}})
	return
}

func (p *publishRepo) GetProject(ctx context.Context, projectId string) (project domain.Project, err error) {
	return p.getProjectByQuery(ctx, bson.D{{"_id", projectId}})
}

func (p *publishRepo) GetProjectBySlug(ctx context.Context, slug string) (project domain.Project, err error) {
	return p.getProjectByQuery(ctx, bson.D{{"slug", slug}})
}

func (p *publishRepo) getProjectByQuery(ctx context.Context, query any) (project domain.Project, err error) {
	if err = p.projectsColl.FindOne(ctx, query).Decode(&project); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Project{}, ErrNotFound
		}
	}
	return
}

func (p *publishRepo) PromoteProject(ctx context.Context, projectId string, promotion domain.Promotion) (promoted bool, err error) {
	err = p.db.Tx(ctx, func(txCtx mongo.SessionContext) (err error) {
		// never point the project to a version row that does not exist
		if err = p.versionsColl.FindOne(txCtx, bson.D{{"_id", promotion.VersionId}}).Err(); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrNotFound
			}
			return
		}
		res, err := p.projectsColl.UpdateOne(
			txCtx,
			bson.D{
				{"_id", projectId},
				{"$or", bson.A{
					bson.D{{"promotedVersionTag", bson.D{{"$exists", false}}}},
					bson.D{{"promotedVersionTag", bson.D{{"$lt", promotion.VersionTag}}}},
				}},
			},
			bson.D{{"$set", bson.D{
				{"primaryVersionId", promotion.VersionId},
				{"promotedVersionTag", promotion.VersionTag},
				{"slug", promotion.Slug},
				{"subdomainUrl", promotion.SubdomainUrl},
				{"publishedUrl", promotion.PublishedUrl},
				{"publishedAt", promotion.PublishedAt},
				{"status", domain.ProjectStatusPublished},
			}}},
		)
		if err != nil {
			return
		}
		if res.MatchedCount == 1 {
			promoted = true
			return
		}
		// either the project is gone or a newer version is already live
		if err = p.projectsColl.FindOne(txCtx, bson.D{{"_id", projectId}}).Err(); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return ErrNotFound
			}
		}
		return
	})
	return
}

func (p *publishRepo) SetThumbnailIfEmpty(ctx context.Context, projectId, url string) (updated bool, err error) {
	res, err := p.projectsColl.UpdateOne(
		ctx,
		bson.D{
			{"_id", projectId},
			{"$or", bson.A{
				bson.D{{"thumbnailUrl", bson.D{{"$exists", false}}}},
				bson.D{{"thumbnailUrl", ""}},
			}},
		},
		bson.D{{"$set", bson.D{{"thumbnailUrl", url}}}},
	)
	if err != nil {
		return
	}
	return res.ModifiedCount == 1, nil
}

func (p *publishRepo) Close(ctx context.Context) (err error) {
	return
}

package jobqueue

import (
	"context"
	"errors"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gameforge/publish-worker/db"
	"github.com/gameforge/publish-worker/domain"
)

const CName = "publish.jobqueue"

var (
	ErrNoJob    = errors.New("no queued jobs")
	ErrNotFound = errors.New("job not found")
)

func New() JobQueue {
	return new(jobQueue)
}

type Update struct {
	Status    domain.JobStatus
	Progress  int
	Message   string
	LogUrl    string
	VersionId *primitive.ObjectID
	Error     string
}

type JobQueue interface {
	// Claim atomically moves a queued job to building. An empty jobId claims the oldest queued job.
	// Returns ErrNoJob when there is nothing to claim.
	Claim(ctx context.Context, jobId string) (job domain.Job, err error)
	UpdateProgress(ctx context.Context, jobId string, update Update) (err error)
	Enqueue(ctx context.Context, projectId, userId string) (job domain.Job, err error)
	Get(ctx context.Context, jobId string) (job domain.Job, err error)
	// RequeueStale returns jobs that stopped reporting progress before the given time to the queue,
	// or fails them when they ran out of attempts.
	RequeueStale(ctx context.Context, before time.Time, maxAttempts int) (requeued, failed int, err error)
	app.ComponentRunnable
}

var jobIndexes = []mongo.IndexModel{
	{
		Keys: bson.D{
			{"status", 1},
			{"createdAt", 1},
		},
	},
	{
		Keys: bson.D{
			{"projectId", 1},
		},
	},
}

var runningStatuses = bson.A{domain.JobStatusBuilding, domain.JobStatusUploading, domain.JobStatusFinalizing}

type jobQueue struct {
	coll *mongo.Collection
}

func (q *jobQueue) Name() (name string) {
	return CName
}

func (q *jobQueue) Init(a *app.App) (err error) {
	q.coll = a.MustComponent(db.CName).(db.Database).Db().Collection("publish_jobs")
	return
}

func (q *jobQueue) Run(ctx context.Context) (err error) {
	return db.EnsureIndexes(ctx, q.coll, jobIndexes...)
}

func (q *jobQueue) Claim(ctx context.Context, jobId string) (job domain.Job, err error) {
	filter := bson.D{{"status", domain.JobStatusQueued}}
	if jobId != "" {
		filter = append(filter, bson.E{Key: "_id", Value: jobId})
	}
	update := bson.D{
		{"$set", bson.D{
			{"status", domain.JobStatusBuilding},
			{"updatedAt", time.Now()},
		}},
		{"$inc", bson.D{{"attempts", 1}}},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{"createdAt", 1}}).
		SetReturnDocument(options.After)
	if err = q.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&job); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Job{}, ErrNoJob
		}
		return domain.Job{}, err
	}
	return
}

func (q *jobQueue) UpdateProgress(ctx context.Context, jobId string, update Update) (err error) {
	set := bson.D{
		{"status", update.Status},
		{"progress", update.Progress},
		{"message", update.Message},
		{"updatedAt", time.Now()},
	}
	if update.LogUrl != "" {
		set = append(set, bson.E{Key: "logUrl", Value: update.LogUrl})
	}
	if update.VersionId != nil {
		set = append(set, bson.E{Key: "versionId", Value: *update.VersionId})
	}
	if update.Error != "" {
		set = append(set, bson.E{Key: "error", Value: update.Error})
	}
	res, err := q.coll.UpdateOne(ctx, bson.D{{"_id", jobId}}, bson.D{{"$set", set}})
	if err != nil {
		return
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return
}

func (q *jobQueue) Enqueue(ctx context.Context, projectId, userId string) (job domain.Job, err error) {
	now := time.Now()
	job = domain.Job{
		Id:        uuid.New().String(),
		ProjectId: projectId,
		UserId:    userId,
		Status:    domain.JobStatusQueued,
		Message:   "Queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err = q.coll.InsertOne(ctx, job); err != nil {
		return domain.Job{}, err
	}
	return
}

func (q *jobQueue) Get(ctx context.Context, jobId string) (job domain.Job, err error) {
	if err = q.coll.FindOne(ctx, bson.D{{"_id", jobId}}).Decode(&job); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Job{}, ErrNotFound
		}
	}
	return
}

func (q *jobQueue) RequeueStale(ctx context.Context, before time.Time, maxAttempts int) (requeued, failed int, err error) {
	now := time.Now()
	failRes, err := q.coll.UpdateMany(ctx,
		bson.D{
			{"status", bson.D{{"$in", runningStatuses}}},
			{"updatedAt", bson.D{{"$lt", before}}},
			{"attempts", bson.D{{"$gte", maxAttempts}}},
		},
		bson.D{{"$set", bson.D{
			{"status", domain.JobStatusFailed},
			{"message", "Publish timed out"},
			{"error", "job stopped reporting progress"},
			{"updatedAt", now},
		}}},
	)
	if err != nil {
		return
	}
	requeueRes, err := q.coll.UpdateMany(ctx,
		bson.D{
			{"status", bson.D{{"$in", runningStatuses}}},
			{"updatedAt", bson.D{{"$lt", before}}},
			{"attempts", bson.D{{"$lt", maxAttempts}}},
		},
		bson.D{{"$set", bson.D{
			{"status", domain.JobStatusQueued},
			{"progress", 0},
			{"message", "Requeued"},
			{"updatedAt", now},
		}}},
	)
	if err != nil {
		return
	}
	return int(requeueRes.ModifiedCount), int(failRes.ModifiedCount), nil
}

func (q *jobQueue) Close(ctx context.Context) (err error) {
	return
}

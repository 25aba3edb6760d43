package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/gameforge/publish-worker/db"
	"github.com/gameforge/publish-worker/domain"
)

var ctx = context.Background()

func TestJobQueue_Claim(t *testing.T) {
	t.Run("empty queue", func(t *testing.T) {
		fx := newFixture(t)
		_, err := fx.Claim(ctx, "")
		require.ErrorIs(t, err, ErrNoJob)
	})
	t.Run("oldest first", func(t *testing.T) {
		fx := newFixture(t)
		first, err := fx.Enqueue(ctx, "p1", "u1")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
		_, err = fx.Enqueue(ctx, "p2", "u1")
		require.NoError(t, err)

		job, err := fx.Claim(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, first.Id, job.Id)
		assert.Equal(t, domain.JobStatusBuilding, job.Status)
		assert.Equal(t, 1, job.Attempts)
	})
	t.Run("by id", func(t *testing.T) {
		fx := newFixture(t)
		_, err := fx.Enqueue(ctx, "p1", "u1")
		require.NoError(t, err)
		second, err := fx.Enqueue(ctx, "p2", "u1")
		require.NoError(t, err)

		job, err := fx.Claim(ctx, second.Id)
		require.NoError(t, err)
		assert.Equal(t, second.Id, job.Id)

		_, err = fx.Claim(ctx, second.Id)
		require.ErrorIs(t, err, ErrNoJob)
	})
	t.Run("concurrent claims", func(t *testing.T) {
		fx := newFixture(t)
		queued, err := fx.Enqueue(ctx, "p1", "u1")
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := fx.Claim(ctx, queued.Id); err == nil {
					mu.Lock()
					claimed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, claimed)
	})
}

func TestJobQueue_UpdateProgress(t *testing.T) {
	fx := newFixture(t)
	queued, err := fx.Enqueue(ctx, "p1", "u1")
	require.NoError(t, err)
	require.NoError(t, fx.UpdateProgress(ctx, queued.Id, Update{
		Status:   domain.JobStatusUploading,
		Progress: 40,
		Message:  "Uploading",
		LogUrl:   "https://logs/1.txt",
	}))
	job, err := fx.Get(ctx, queued.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusUploading, job.Status)
	assert.Equal(t, 40, job.Progress)
	assert.Equal(t, "https://logs/1.txt", job.LogUrl)

	assert.ErrorIs(t, fx.UpdateProgress(ctx, "missing", Update{Status: domain.JobStatusFailed}), ErrNotFound)
}

func TestJobQueue_RequeueStale(t *testing.T) {
	fx := newFixture(t)
	fresh, err := fx.Enqueue(ctx, "p1", "u1")
	require.NoError(t, err)
	exhausted, err := fx.Enqueue(ctx, "p2", "u1")
	require.NoError(t, err)

	coll := fx.JobQueue.(*jobQueue).coll
	old := time.Now().Add(-time.Hour)
	_, err = coll.UpdateOne(ctx, bson.D{{"_id", fresh.Id}}, bson.D{{"$set", bson.D{{"status", domain.JobStatusBuilding}, {"attempts", 1}, {"updatedAt", old}}}})
	require.NoError(t, err)
	_, err = coll.UpdateOne(ctx, bson.D{{"_id", exhausted.Id}}, bson.D{{"$set", bson.D{{"status", domain.JobStatusUploading}, {"attempts", 3}, {"updatedAt", old}}}})
	require.NoError(t, err)

	requeued, failed, err := fx.RequeueStale(ctx, time.Now().Add(-time.Minute), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.Equal(t, 1, failed)

	job, err := fx.Get(ctx, fresh.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	job, err = fx.Get(ctx, exhausted.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}

func newFixture(t testing.TB) *fixture {
	fx := &fixture{
		JobQueue: New(),
		a:        new(app.App),
	}
	fx.a.Register(&testConfig{
		Mongo: db.Mongo{
			Connect:  "mongodb://localhost:27017",
			Database: "publish_unittest",
		},
	}).
		Register(db.New()).
		Register(fx.JobQueue)
	require.NoError(t, fx.a.Start(ctx))
	t.Cleanup(func() {
		fx.finish(t)
	})
	return fx
}

type fixture struct {
	JobQueue
	a *app.App
}

func (fx *fixture) finish(t testing.TB) {
	_ = fx.JobQueue.(*jobQueue).coll.Drop(ctx)
	require.NoError(t, fx.a.Close(ctx))
}

type testConfig struct {
	Mongo db.Mongo
}

func (t testConfig) Init(a *app.App) (err error) {
	return
}

func (t testConfig) Name() (name string) {
	return "config"
}

func (t testConfig) GetMongo() db.Mongo {
	return t.Mongo
}

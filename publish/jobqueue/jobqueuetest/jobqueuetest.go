// Package jobqueuetest provides an in-memory jobqueue.JobQueue for tests.
package jobqueuetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/google/uuid"

	"github.com/gameforge/publish-worker/domain"
	"github.com/gameforge/publish-worker/publish/jobqueue"
)

func New() *Queue {
	return &Queue{jobs: map[string]domain.Job{}}
}

type Queue struct {
	mu      sync.Mutex
	jobs    map[string]domain.Job
	history map[string][]jobqueue.Update

	// ClaimErr is returned by Claim when set
	ClaimErr error
}

var _ jobqueue.JobQueue = (*Queue)(nil)

func (q *Queue) Init(a *app.App) (err error)           { return }
func (q *Queue) Name() (name string)                   { return jobqueue.CName }
func (q *Queue) Run(ctx context.Context) (err error)   { return }
func (q *Queue) Close(ctx context.Context) (err error) { return }

func (q *Queue) Claim(ctx context.Context, jobId string) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ClaimErr != nil {
		return domain.Job{}, q.ClaimErr
	}
	var queued []domain.Job
	for _, j := range q.jobs {
		if j.Status == domain.JobStatusQueued && (jobId == "" || j.Id == jobId) {
			queued = append(queued, j)
		}
	}
	if len(queued) == 0 {
		return domain.Job{}, jobqueue.ErrNoJob
	}
	sort.Slice(queued, func(i, k int) bool { return queued[i].CreatedAt.Before(queued[k].CreatedAt) })
	job := queued[0]
	job.Status = domain.JobStatusBuilding
	job.Attempts++
	job.UpdatedAt = time.Now()
	q.jobs[job.Id] = job
	return job, nil
}

func (q *Queue) UpdateProgress(ctx context.Context, jobId string, update jobqueue.Update) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobId]
	if !ok {
		return jobqueue.ErrNotFound
	}
	job.Status = update.Status
	job.Progress = update.Progress
	job.Message = update.Message
	if update.LogUrl != "" {
		job.LogUrl = update.LogUrl
	}
	if update.VersionId != nil {
		job.VersionId = update.VersionId
	}
	if update.Error != "" {
		job.Error = update.Error
	}
	job.UpdatedAt = time.Now()
	q.jobs[jobId] = job
	if q.history == nil {
		q.history = map[string][]jobqueue.Update{}
	}
	q.history[jobId] = append(q.history[jobId], update)
	return nil
}

// History returns every update reported for the job, in order.
func (q *Queue) History(jobId string) []jobqueue.Update {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]jobqueue.Update(nil), q.history[jobId]...)
}

func (q *Queue) Enqueue(ctx context.Context, projectId, userId string) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	// keep creation order strict for Claim ordering
	for _, j := range q.jobs {
		if !j.CreatedAt.Before(now) {
			now = j.CreatedAt.Add(time.Nanosecond)
		}
	}
	job := domain.Job{
		Id:        uuid.NewString(),
		ProjectId: projectId,
		UserId:    userId,
		Status:    domain.JobStatusQueued,
		Message:   "Queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.jobs[job.Id] = job
	return job, nil
}

func (q *Queue) Get(ctx context.Context, jobId string) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobId]
	if !ok {
		return domain.Job{}, jobqueue.ErrNotFound
	}
	return job, nil
}

func (q *Queue) RequeueStale(ctx context.Context, before time.Time, maxAttempts int) (requeued, failed int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, job := range q.jobs {
		if job.Status.IsTerminal() || job.Status == domain.JobStatusQueued || !job.UpdatedAt.Before(before) {
			continue
		}
		if job.Attempts >= maxAttempts {
			job.Status = domain.JobStatusFailed
			failed++
		} else {
			job.Status = domain.JobStatusQueued
			requeued++
		}
		q.jobs[id] = job
	}
	return
}

package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusBuilding   JobStatus = "building"
	JobStatusUploading  JobStatus = "uploading"
	JobStatusFinalizing JobStatus = "finalizing"
	JobStatusPublished  JobStatus = "published"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusPublished || s == JobStatusFailed
}

type Job struct {
	Id        string              `json:"id" bson:"_id"`
	ProjectId string              `json:"projectId" bson:"projectId"`
	UserId    string              `json:"userId" bson:"userId"`
	Status    JobStatus           `json:"status" bson:"status"`
	Progress  int                 `json:"progress" bson:"progress"`
	Message   string              `json:"message" bson:"message"`
	Attempts  int                 `json:"attempts" bson:"attempts"`
	LogUrl    string              `json:"logUrl,omitempty" bson:"logUrl,omitempty"`
	VersionId *primitive.ObjectID `json:"versionId,omitempty" bson:"versionId,omitempty"`
	Error     string              `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt" bson:"updatedAt"`
}

package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Version is one immutable build output of a project.
type Version struct {
	Id            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ProjectId     string             `json:"projectId" bson:"projectId"`
	UserId        string             `json:"userId" bson:"userId"`
	VersionTag    string             `json:"versionTag" bson:"versionTag"`
	StoragePrefix string             `json:"storagePrefix" bson:"storagePrefix"`
	Entrypoint    string             `json:"entrypoint" bson:"entrypoint"`
	Checksum      string             `json:"checksum" bson:"checksum"`
	SizeBytes     int64              `json:"sizeBytes" bson:"sizeBytes"`
	IsPreview     bool               `json:"isPreview" bson:"isPreview"`
	CreatedAt     time.Time          `json:"createdAt" bson:"createdAt"`
}

type ManifestFile struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	Checksum    string `json:"checksum"`
}

type Manifest struct {
	VersionTag string         `json:"versionTag"`
	Entrypoint string         `json:"entrypoint"`
	Files      []ManifestFile `json:"files"`
}

// LatestPointer is the content of the project-scoped latest.json.
type LatestPointer struct {
	VersionTag string `json:"versionTag"`
	Path       string `json:"path"`
}

type Blob struct {
	Path        string
	Data        []byte
	ContentType string
}

// BuildArtifacts lives only in memory; Files and Blobs are index-aligned.
type BuildArtifacts struct {
	Files []ManifestFile
	Blobs []Blob
}

func (b BuildArtifacts) TotalSize() (size int64) {
	for _, f := range b.Files {
		size += f.Size
	}
	return
}

func (b BuildArtifacts) Has(path string) bool {
	for _, f := range b.Files {
		if f.Path == path {
			return true
		}
	}
	return false
}

package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const ProjectStatusPublished = "published"

// Project is owned by the surrounding application. The publish worker only writes
// the promotion fields and the thumbnail.
type Project struct {
	Id                 string              `json:"id" bson:"_id"`
	UserId             string              `json:"userId" bson:"userId"`
	Name               string              `json:"name" bson:"name"`
	Description        string              `json:"description" bson:"description"`
	PrimaryVersionId   *primitive.ObjectID `json:"primaryVersionId,omitempty" bson:"primaryVersionId,omitempty"`
	PromotedVersionTag string              `json:"promotedVersionTag,omitempty" bson:"promotedVersionTag,omitempty"`
	Slug               string              `json:"slug,omitempty" bson:"slug,omitempty"`
	SubdomainUrl       string              `json:"subdomainUrl,omitempty" bson:"subdomainUrl,omitempty"`
	PublishedUrl       string              `json:"publishedUrl,omitempty" bson:"publishedUrl,omitempty"`
	PublishedAt        *time.Time          `json:"publishedAt,omitempty" bson:"publishedAt,omitempty"`
	Status             string              `json:"status" bson:"status"`
	ThumbnailUrl       string              `json:"thumbnailUrl,omitempty" bson:"thumbnailUrl,omitempty"`
}

// Promotion is the set of fields flipped when a version becomes live.
type Promotion struct {
	VersionId    primitive.ObjectID
	VersionTag   string
	Slug         string
	SubdomainUrl string
	PublishedUrl string
	PublishedAt  time.Time
}

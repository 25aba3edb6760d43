package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("not found")
)

func New() Store {
	return &store{}
}

const CName = "store"

var log = logger.NewNamed(CName)

// deleteBatch is the DeleteObjects limit
const deleteBatch = 1000

type Store interface {
	app.Component

	// List returns every object under prefix, recursively
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Put overwrites the object if it exists
	Put(ctx context.Context, bucket string, file File) error
	PublicUrl(bucket, key string) string
	DeletePath(ctx context.Context, bucket, prefix string) error
	Buckets() Buckets
}

type store struct {
	conf   Config
	client *s3.Client
}

func (s *store) Init(a *app.App) (err error) {
	conf := a.MustComponent("config").(configSource).GetS3Store().withDefaults()
	if conf.Credentials.AccessKey == "" || conf.Credentials.SecretKey == "" {
		return fmt.Errorf("s3 credentials are empty")
	}
	s.conf = conf

	awsConf, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(conf.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(conf.Credentials.AccessKey, conf.Credentials.SecretKey, "")),
	)
	if err != nil {
		return err
	}

	s.client = s3.NewFromConfig(awsConf, func(o *s3.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
		}
		o.UsePathStyle = conf.ForcePathStyle
		if conf.ResignRequests {
			o.HTTPClient = &http.Client{Transport: newResignTransport(awsConf)}
		}
	})
	log.Info("s3 store configured",
		zap.String("endpoint", conf.Endpoint),
		zap.String("sources", conf.Buckets.Sources),
		zap.String("published", conf.Buckets.Published),
	)
	return nil
}

func (s *store) Name() string {
	return CName
}

func (s *store) Buckets() Buckets {
	return s.conf.Buckets
}

func (s *store) List(ctx context.Context, bucket, prefix string) (objects []ObjectInfo, err error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			objects = append(objects, info)
		}
	}
	return
}

func (s *store) Put(ctx context.Context, bucket string, file File) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(file.Name),
		Body:          file.Reader,
		ContentLength: aws.Int64(int64(file.Len())),
	}
	if file.ContentType != "" {
		input.ContentType = aws.String(file.ContentType)
	}
	if file.CacheControl != "" {
		input.CacheControl = aws.String(file.CacheControl)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, file.Name, err)
	}
	return nil
}

func (s *store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	output, err := s.client.GetObject(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return output.Body, nil
}

func (s *store) PublicUrl(bucket, key string) string {
	return PublicUrl(s.conf.PublicUrl, bucket, key)
}

func (s *store) DeletePath(ctx context.Context, bucket, prefix string) error {
	objects, err := s.List(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	for start := 0; start < len(objects); start += deleteBatch {
		end := min(start+deleteBatch, len(objects))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, obj := range objects[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(obj.Key)})
		}
		if _, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: ids},
		}); err != nil {
			return err
		}
	}
	return nil
}

// PublicUrl joins base, bucket and key keeping the key's slashes.
func PublicUrl(base, bucket, key string) string {
	u, err := url.JoinPath(base, bucket)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + bucket + "/" + key
	}
	return u + "/" + strings.TrimLeft(key, "/")
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

package artifact

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"skuld/model"
)

const revisionMetaKey = "Skuld-Revision"

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// S3Store keeps artifacts in an S3-compatible bucket, one object per
// version under artifacts/<version>.
type S3Store struct {
	mc     *minio.Client
	config S3Config
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &S3Store{mc: mc, config: cfg}, nil
}

// EnsureBucket creates the artifact bucket if it does not exist.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.config.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.config.Bucket, err)
	}
	if exists {
		return nil
	}
	region := s.config.Region
	if region == "" {
		region = "us-east-1"
	}
	if err := s.mc.MakeBucket(ctx, s.config.Bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.config.Bucket, err)
	}
	log.Printf("artifact: created bucket %s", s.config.Bucket)
	return nil
}

func (s *S3Store) Put(ctx context.Context, version, revision string, r io.Reader, size int64) (*model.Artifact, error) {
	key := objectKey(version)

	// Refuse to overwrite: stored versions are immutable.
	if _, err := s.mc.StatObject(ctx, s.config.Bucket, key, minio.StatObjectOptions{}); err == nil {
		return nil, ErrVersionExists
	}

	info, err := s.mc.PutObject(ctx, s.config.Bucket, key, r, size, minio.PutObjectOptions{
		UserMetadata: map[string]string{revisionMetaKey: revision},
	})
	if err != nil {
		return nil, fmt.Errorf("put artifact %s: %w", version, err)
	}

	stat, err := s.mc.StatObject(ctx, s.config.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("stat artifact %s: %w", version, err)
	}
	return &model.Artifact{
		Version:   version,
		Key:       key,
		Revision:  revision,
		SizeBytes: info.Size,
		CreatedAt: stat.LastModified,
	}, nil
}

func (s *S3Store) Fetch(ctx context.Context, version string) (io.ReadCloser, error) {
	obj, err := s.mc.GetObject(ctx, s.config.Bucket, objectKey(version), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", version, err)
	}
	// GetObject is lazy; a missing key only surfaces on first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat artifact %s: %w", version, err)
	}
	return obj, nil
}

func (s *S3Store) Stat(ctx context.Context, version string) (*model.Artifact, error) {
	info, err := s.mc.StatObject(ctx, s.config.Bucket, objectKey(version), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &model.Artifact{
		Version:   version,
		Key:       objectKey(version),
		Revision:  info.UserMetadata[revisionMetaKey],
		SizeBytes: info.Size,
		CreatedAt: info.LastModified,
	}, nil
}

func (s *S3Store) List(ctx context.Context) ([]model.Artifact, error) {
	var artifacts []model.Artifact
	for obj := range s.mc.ListObjects(ctx, s.config.Bucket, minio.ListObjectsOptions{Prefix: "artifacts/"}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		artifacts = append(artifacts, model.Artifact{
			Version:   strings.TrimPrefix(obj.Key, "artifacts/"),
			Key:       obj.Key,
			SizeBytes: obj.Size,
			CreatedAt: obj.LastModified,
		})
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

func (s *S3Store) Prune(ctx context.Context, keep int, protected map[string]bool) (int, error) {
	artifacts, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i, a := range artifacts {
		if i < keep || protected[a.Version] {
			continue
		}
		if err := s.mc.RemoveObject(ctx, s.config.Bucket, a.Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, fmt.Errorf("remove artifact %s: %w", a.Version, err)
		}
		removed++
	}
	return removed, nil
}

// Healthy checks connectivity to the object store.
func (s *S3Store) Healthy(ctx context.Context) error {
	_, err := s.mc.BucketExists(ctx, s.config.Bucket)
	return err
}

func objectKey(version string) string {
	return "artifacts/" + version
}

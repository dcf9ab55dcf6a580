package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store keeps attachments in an S3-compatible bucket. Object keys are
// "<userID>/<ref>", so the per-user namespace is the key prefix.
type S3Store struct {
	client *minio.Client
	bucket string
}

// S3Config configures the S3 backend.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewS3 connects to the object store and ensures the bucket exists.
func NewS3(ctx context.Context, cfg S3Config) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) key(userID, ref string) string {
	return userID + "/" + ref
}

func (s *S3Store) Store(ctx context.Context, userID, originalName string, r io.Reader, size int64) (Attachment, error) {
	if userID == "" {
		return Attachment{}, ErrInvalidRef
	}

	ref := uuid.NewString() + sanitizeExt(originalName)
	opts := minio.PutObjectOptions{
		UserMetadata: map[string]string{"original-name": originalName},
	}
	if _, err := s.client.PutObject(ctx, s.bucket, s.key(userID, ref), r, size, opts); err != nil {
		return Attachment{}, fmt.Errorf("put attachment: %w", err)
	}

	return Attachment{Ref: ref, Name: originalName}, nil
}

func (s *S3Store) Open(ctx context.Context, userID, ref string) (io.ReadCloser, error) {
	if err := validRef(ref); err != nil {
		return nil, err
	}

	key := s.key(userID, ref)

	// GetObject defers errors until the first read, so stat first to report
	// missing objects up front.
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat attachment: %w", err)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return obj, nil
}

func (s *S3Store) Delete(ctx context.Context, userID, ref string) error {
	if err := validRef(ref); err != nil {
		return err
	}

	if err := s.client.RemoveObject(ctx, s.bucket, s.key(userID, ref), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove attachment: %w", err)
	}
	return nil
}

package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/rcliao/consult-recorder/internal/model"
)

// S3Config configures the S3-compatible backend.
type S3Config struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	PresignTTL      time.Duration
}

// S3Store implements Store on an S3-compatible bucket. Uploads go through the
// multipart uploader, which aborts the upload on error so no partial object
// ever becomes visible.
type S3Store struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	bucket     string
	presignTTL time.Duration
}

// NewS3Store builds a client session from cfg.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	client := s3.New(sess)
	logrus.WithFields(logrus.Fields{"bucket": cfg.Bucket, "endpoint": cfg.Endpoint}).Info("using s3 chunk store")
	return &S3Store{
		client:     client,
		uploader:   s3manager.NewUploaderWithClient(client),
		bucket:     cfg.Bucket,
		presignTTL: ttl,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, sessionID string, index int, mimeType string, r io.Reader) (model.StorageRef, error) {
	key := model.ChunkKey(sessionID, index)
	counter := &countingReader{r: r}
	input := &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   counter,
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return model.StorageRef{}, &model.StorageError{Op: "upload", Err: err}
	}
	return model.StorageRef{
		SessionID:  sessionID,
		ChunkIndex: index,
		Key:        key,
		Size:       counter.n,
		StoredAt:   time.Now().UTC(),
	}, nil
}

func (s *S3Store) Get(ctx context.Context, sessionID string, index int) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(model.ChunkKey(sessionID, index)),
	})
	if isS3NotFound(err) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return out.Body, nil
}

func (s *S3Store) Stat(ctx context.Context, sessionID string, index int) (model.StorageRef, error) {
	key := model.ChunkKey(sessionID, index)
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isS3NotFound(err) {
		return model.StorageRef{}, model.ErrNotFound
	}
	if err != nil {
		return model.StorageRef{}, fmt.Errorf("head object: %w", err)
	}
	ref := model.StorageRef{
		SessionID:  sessionID,
		ChunkIndex: index,
		Key:        key,
		Size:       aws.Int64Value(out.ContentLength),
	}
	if out.LastModified != nil {
		ref.StoredAt = out.LastModified.UTC()
	}
	return ref, nil
}

func (s *S3Store) Locate(ctx context.Context, sessionID string) ([]model.StorageRef, error) {
	prefix := model.SessionPrefix(sessionID)
	var refs []model.StorageRef
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.StringValue(obj.Key), prefix)
			if !strings.HasPrefix(name, chunkPrefix) {
				continue
			}
			index, err := strconv.Atoi(strings.TrimPrefix(name, chunkPrefix))
			if err != nil || index < 0 {
				continue
			}
			ref := model.StorageRef{
				SessionID:  sessionID,
				ChunkIndex: index,
				Key:        aws.StringValue(obj.Key),
				Size:       aws.Int64Value(obj.Size),
			}
			if obj.LastModified != nil {
				ref.StoredAt = obj.LastModified.UTC()
			}
			refs = append(refs, ref)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	sortRefs(refs)
	return refs, nil
}

// ReadURL presigns a GET for key.
func (s *S3Store) ReadURL(ctx context.Context, key string) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	req.SetContext(ctx)
	u, err := req.Presign(s.presignTTL)
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}
	return u, nil
}

func isS3NotFound(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

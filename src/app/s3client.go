package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"coverserv/src/kv"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type ClientMinio interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (info minio.UploadInfo, err error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// MinioS3Client stores session blobs and shared composites in one bucket.
// It satisfies kv.Store.
type MinioS3Client struct {
	bucketName string
	timeout    time.Duration
	client     ClientMinio
	log        *zap.Logger
}

const (
	defaultContentType = "application/octet-stream"
	jpegContentType    = "image/jpeg"

	sessionFolder = "sessions/"
	sharesFolder  = "shares/"

	noSuchKey = "NoSuchKey"
)

// NewMinioS3Client creates a new MinioS3Client instance.
func NewMinioS3Client(endpoint, accessKeyID, secretAccessKey, bucketName string, useSSL bool, timeout time.Duration, log *zap.Logger) (*MinioS3Client, error) {
	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client for %s: %w", endpoint, err)
	}
	return newMinioS3Client(minioClient, bucketName, timeout, log), nil
}

func newMinioS3Client(client ClientMinio, bucketName string, timeout time.Duration, log *zap.Logger) *MinioS3Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &MinioS3Client{
		bucketName: bucketName,
		timeout:    timeout,
		client:     client,
		log:        log,
	}
}

// EnsureBucket creates the bucket on first start.
func (s3 *MinioS3Client) EnsureBucket(ctx context.Context) error {
	ctx, cancel := s3.withTimeout(ctx)
	defer cancel()

	exists, err := s3.client.BucketExists(ctx, s3.bucketName)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s3.bucketName, err)
	}
	if exists {
		return nil
	}
	if err := s3.client.MakeBucket(ctx, s3.bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s3.bucketName, err)
	}
	s3.log.Info("bucket created", zap.String("bucket", s3.bucketName))
	return nil
}

func (s3 *MinioS3Client) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s3.withTimeout(ctx)
	defer cancel()

	object, err := s3.client.GetObject(ctx, s3.bucketName, sessionFolder+key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s3.mapError(key, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s3.mapError(key, err)
	}
	return data, nil
}

func (s3 *MinioS3Client) Put(ctx context.Context, key string, value []byte) error {
	return s3.upload(ctx, sessionFolder+key, value, defaultContentType)
}

func (s3 *MinioS3Client) Delete(ctx context.Context, key string) error {
	ctx, cancel := s3.withTimeout(ctx)
	defer cancel()

	err := s3.client.RemoveObject(ctx, s3.bucketName, sessionFolder+key, minio.RemoveObjectOptions{})
	if err != nil {
		s3.log.Warn("remove object failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// PublishShare uploads a composite and returns a presigned download link valid for ttl.
func (s3 *MinioS3Client) PublishShare(ctx context.Context, name string, image []byte, ttl time.Duration) (*url.URL, error) {
	objectName := sharesFolder + name
	if err := s3.upload(ctx, objectName, image, jpegContentType); err != nil {
		return nil, err
	}

	ctx, cancel := s3.withTimeout(ctx)
	defer cancel()

	reqParams := make(url.Values)
	reqParams.Set("response-content-disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	presignedURL, err := s3.client.PresignedGetObject(ctx, s3.bucketName, objectName, ttl, reqParams)
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", objectName, err)
	}
	return presignedURL, nil
}

func (s3 *MinioS3Client) upload(ctx context.Context, objectName string, data []byte, contentType string) error {
	ctx, cancel := s3.withTimeout(ctx)
	defer cancel()

	_, err := s3.client.PutObject(ctx,
		s3.bucketName,
		objectName,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload %s: %w", objectName, err)
	}
	return nil
}

func (s3 *MinioS3Client) mapError(key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", key, kv.ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", key, err)
}

func (s3 *MinioS3Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s3.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s3.timeout)
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == noSuchKey
	}
	return minio.ToErrorResponse(err).Code == noSuchKey
}

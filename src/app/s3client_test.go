package app

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	mocking "coverserv/src/app/mock"
	"coverserv/src/kv"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const bucket = "mockBucket"

func newTestClient(t *testing.T) (*MinioS3Client, *mocking.MockClient) {
	m := new(mocking.MockClient)
	return newMinioS3Client(m, bucket, time.Second, zaptest.NewLogger(t)), m
}

func TestMinioS3Client(t *testing.T) {
	ctx := context.Background()

	t.Run("Put", func(t *testing.T) {
		s3, m := newTestClient(t)
		m.On("PutObject", mock.Anything, bucket, "sessions/kn_a_current_session", []byte("blob"), int64(4),
			minio.PutObjectOptions{ContentType: defaultContentType}).Return(nil)

		require.NoError(t, s3.Put(ctx, "kn_a_current_session", []byte("blob")))
		m.AssertExpectations(t)
	})

	t.Run("Put error", func(t *testing.T) {
		s3, m := newTestClient(t)
		m.On("PutObject", mock.Anything, bucket, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("boom"))

		assert.Error(t, s3.Put(ctx, "k", []byte("v")))
	})

	t.Run("Get missing key", func(t *testing.T) {
		s3, m := newTestClient(t)
		m.On("GetObject", mock.Anything, bucket, "sessions/k", mock.Anything).
			Return(nil, minio.ErrorResponse{Code: "NoSuchKey", Message: "missing"})

		_, err := s3.Get(ctx, "k")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("Get other failure", func(t *testing.T) {
		s3, m := newTestClient(t)
		m.On("GetObject", mock.Anything, bucket, "sessions/k", mock.Anything).
			Return(nil, errors.New("connection refused"))

		_, err := s3.Get(ctx, "k")
		require.Error(t, err)
		assert.NotErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		s3, m := newTestClient(t)
		m.On("RemoveObject", mock.Anything, bucket, "sessions/k", minio.RemoveObjectOptions{}).Return(nil)

		require.NoError(t, s3.Delete(ctx, "k"))
		m.AssertExpectations(t)
	})

	t.Run("PublishShare", func(t *testing.T) {
		s3, m := newTestClient(t)
		link, _ := url.Parse("https://minio.local/mockBucket/shares/x.jpg?X-Amz-Signature=abc")
		m.On("PutObject", mock.Anything, bucket, "shares/x.jpg", []byte{1, 2, 3}, int64(3),
			minio.PutObjectOptions{ContentType: jpegContentType}).Return(nil)
		m.On("PresignedGetObject", mock.Anything, bucket, "shares/x.jpg", 24*time.Hour, mock.Anything).Return(link, nil)

		got, err := s3.PublishShare(ctx, "x.jpg", []byte{1, 2, 3}, 24*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, link.String(), got.String())
		m.AssertExpectations(t)
	})

	t.Run("EnsureBucket creates missing bucket", func(t *testing.T) {
		s3, m := newTestClient(t)
		m.On("BucketExists", mock.Anything, bucket).Return(false, nil)
		m.On("MakeBucket", mock.Anything, bucket, minio.MakeBucketOptions{}).Return(nil)

		require.NoError(t, s3.EnsureBucket(ctx))
		m.AssertExpectations(t)
	})

	t.Run("EnsureBucket keeps existing bucket", func(t *testing.T) {
		s3, m := newTestClient(t)
		m.On("BucketExists", mock.Anything, bucket).Return(true, nil)

		require.NoError(t, s3.EnsureBucket(ctx))
		m.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestMinioS3Client_ImplementsStore(t *testing.T) {
	var _ kv.Store = (*MinioS3Client)(nil)
}

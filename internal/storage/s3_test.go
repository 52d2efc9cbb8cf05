package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	lastInput *s3.PutObjectInput
	body      string
	err       error
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.lastInput = in
	if in.Body != nil {
		b, _ := io.ReadAll(in.Body)
		f.body = string(b)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &manager.UploadOutput{}, nil
}

func mustNewStore(t *testing.T, api uploaderAPI, base string) *S3Store {
	t.Helper()
	s, err := New(api, "media-bucket", "eu-west-1", base)
	require.NoError(t, err)
	return s
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "b", "r", "")
	require.ErrorContains(t, err, "must not be nil")
	_, err = New(&fakeUploader{}, " ", "r", "")
	require.ErrorContains(t, err, "bucket")
	_, err = NewFromClient(nil, "b", "r", "")
	require.ErrorContains(t, err, "must not be nil")
}

func TestUploadObject_HappyPath(t *testing.T) {
	api := &fakeUploader{}
	s := mustNewStore(t, api, "")

	ref, err := s.UploadObject(context.Background(), "/u-1/1700_cat.png", strings.NewReader("png-bytes"), 9, "image/png")
	require.NoError(t, err)
	require.Equal(t, "u-1/1700_cat.png", ref)
	require.Equal(t, "media-bucket", *api.lastInput.Bucket)
	require.Equal(t, "u-1/1700_cat.png", *api.lastInput.Key)
	require.Equal(t, int64(9), *api.lastInput.ContentLength)
	require.Equal(t, "image/png", *api.lastInput.ContentType)
	require.Equal(t, "png-bytes", api.body)
}

func TestUploadObject_SurfacesError(t *testing.T) {
	s := mustNewStore(t, &fakeUploader{err: errors.New("AccessDenied: bucket policy")}, "")
	_, err := s.UploadObject(context.Background(), "k", strings.NewReader("x"), 1, "")
	require.ErrorContains(t, err, "AccessDenied: bucket policy")
}

func TestUploadObject_EmptyKey(t *testing.T) {
	s := mustNewStore(t, &fakeUploader{}, "")
	_, err := s.UploadObject(context.Background(), "  ", strings.NewReader("x"), 1, "")
	require.ErrorContains(t, err, "key is required")
}

func TestPublicURL(t *testing.T) {
	s := mustNewStore(t, &fakeUploader{}, "")
	u, err := s.PublicURL("u-1/1700_my cat.png")
	require.NoError(t, err)
	require.Equal(t, "https://media-bucket.s3.eu-west-1.amazonaws.com/u-1/1700_my%20cat.png", u)

	cdn := mustNewStore(t, &fakeUploader{}, "https://cdn.example.com/")
	u, err = cdn.PublicURL("u-1/a.png")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/u-1/a.png", u)

	_, err = cdn.PublicURL("")
	require.Error(t, err)
}

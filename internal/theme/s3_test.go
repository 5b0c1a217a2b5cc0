package theme

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket implementing S3API.
type fakeS3 struct {
	objects map[string]string
	headErr error
	lists   int
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.lists++
	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if strings.Contains(strings.TrimPrefix(k, prefix), "/") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3_ResolveAndOpen(t *testing.T) {
	t.Parallel()

	client := &fakeS3{objects: map[string]string{
		"themes/acme/email/resources/img/logo.png": "acme-logo",
	}}

	loc, err := NewS3(client, "assets", "/themes/").Resolve(context.Background(), "acme", "img/logo.png")
	require.NoError(t, err)

	assert.Equal(t, "logo.png", loc.Name())
	assert.Equal(t, "s3://assets/themes/acme/email/resources/img/logo.png", loc.String())
	assert.Equal(t, "acme-logo", readAll(t, loc))
}

func TestS3_ResolveFallsBackToBase(t *testing.T) {
	t.Parallel()

	client := &fakeS3{objects: map[string]string{
		"base/email/resources/img/logo.png": "base-logo",
	}}

	loc, err := NewS3(client, "assets", "").Resolve(context.Background(), "acme", "img/logo.png")
	require.NoError(t, err)
	assert.Equal(t, "base-logo", readAll(t, loc))
}

func TestS3_ResolveNotFound(t *testing.T) {
	t.Parallel()

	client := &fakeS3{objects: map[string]string{}}
	_, err := NewS3(client, "assets", "").Resolve(context.Background(), "acme", "img/logo.png")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestS3_ResolvePropagatesOtherErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("access denied")
	client := &fakeS3{headErr: boom}
	_, err := NewS3(client, "assets", "").Resolve(context.Background(), "acme", "img/logo.png")
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestS3_Siblings(t *testing.T) {
	t.Parallel()

	client := &fakeS3{objects: map[string]string{
		"acme/email/resources/img/":          "",
		"acme/email/resources/img/logo.png":  "logo",
		"acme/email/resources/img/bg.png":    "bg",
		"acme/email/resources/img/sub/x.png": "nested",
		"acme/email/resources/other.txt":     "other",
	}}

	loc, err := NewS3(client, "assets", "").Resolve(context.Background(), "acme", "img/logo.png")
	require.NoError(t, err)

	sibs, err := loc.Siblings(context.Background())
	require.NoError(t, err)
	require.Len(t, sibs, 2)
	assert.Equal(t, "bg.png", sibs[0].Name())
	assert.Equal(t, "logo.png", sibs[1].Name())
	assert.Equal(t, "bg", readAll(t, sibs[0]))
	assert.Equal(t, 1, client.lists)
}

func TestS3_OpenMissingObject(t *testing.T) {
	t.Parallel()

	loc := s3Location{client: &fakeS3{objects: map[string]string{}}, bucket: "assets", key: "gone.png"}
	_, err := loc.Open(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

package theme

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client used by the S3 resolver.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds the settings for an S3-compatible theme bucket.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// NewS3Client builds an S3 client. Static credentials are used when both keys
// are set, otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// S3 resolves resources from s3://<bucket>/<prefix>/<theme>/email/resources/<name>.
type S3 struct {
	client  S3API
	bucket  string
	prefix  string
	parents []string
}

// NewS3 returns an S3 resolver. When parents is empty the base theme is the only fallback.
func NewS3(client S3API, bucket, prefix string, parents ...string) *S3 {
	if len(parents) == 0 {
		parents = []string{BaseTheme}
	}
	return &S3{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		parents: parents,
	}
}

// Resolve returns the first theme in the chain whose bucket key exists.
func (s *S3) Resolve(ctx context.Context, theme, name string) (Location, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, name)
	}

	for _, t := range chain(theme, s.parents) {
		key := path.Join(s.prefix, t, resourceDir, cleaned)
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return s3Location{client: s.client, bucket: s.bucket, key: key}, nil
		}
		if isNotFound(err) {
			continue
		}
		return nil, fmt.Errorf("failed to look up s3://%s/%s: %w", s.bucket, key, err)
	}

	return nil, fmt.Errorf("%w: %q in theme %q", ErrNotFound, name, theme)
}

// s3Location is a single object in the theme bucket.
type s3Location struct {
	client S3API
	bucket string
	key    string
}

func (l s3Location) Name() string {
	return path.Base(l.key)
}

func (l s3Location) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, l.bucket, l.key)
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", l.bucket, l.key, err)
	}
	return out.Body, nil
}

// Siblings lists the objects directly under the key's directory.
func (l s3Location) Siblings(ctx context.Context) ([]Location, error) {
	dir := path.Dir(l.key) + "/"
	paginator := s3.NewListObjectsV2Paginator(l.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(l.bucket),
		Prefix:    aws.String(dir),
		Delimiter: aws.String("/"),
	})

	var out []Location
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", l.bucket, dir, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == dir {
				continue
			}
			out = append(out, s3Location{client: l.client, bucket: l.bucket, key: key})
		}
	}
	return out, nil
}

func (l s3Location) String() string {
	return "s3://" + l.bucket + "/" + l.key
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
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

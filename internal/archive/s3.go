package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 stores revision snapshots in an S3-compatible bucket (AWS S3 or MinIO).
// Keys map to object keys directly.
type S3 struct {
	client *s3.Client
	bucket string
}

// S3Config holds explicit construction parameters. Credentials fall back to
// the default provider chain when unset.
type S3Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional, e.g. MinIO
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// NewS3 creates an S3 archive from explicit configuration.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: client, bucket: cfg.Bucket}, nil
}

// OpenS3FromEnv constructs an S3 archive from process environment.
//
//	RECORDCORE_ARCHIVE_S3_BUCKET=<bucket> (required)
//	RECORDCORE_ARCHIVE_S3_REGION=<region> (default us-east-1)
//	RECORDCORE_ARCHIVE_S3_ENDPOINT=<url> (optional, for MinIO)
//	RECORDCORE_ARCHIVE_S3_PATH_STYLE=true|false (default false)
//	AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)
func OpenS3FromEnv(ctx context.Context) (*S3, error) {
	bucket := os.Getenv("RECORDCORE_ARCHIVE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("RECORDCORE_ARCHIVE_S3_BUCKET required for s3 archive")
	}
	cfg := S3Config{
		Bucket:    bucket,
		Region:    os.Getenv("RECORDCORE_ARCHIVE_S3_REGION"),
		Endpoint:  os.Getenv("RECORDCORE_ARCHIVE_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("RECORDCORE_ARCHIVE_S3_PATH_STYLE"), "true"),
	}
	return NewS3(ctx, cfg)
}

func (s *S3) Driver() Driver { return DriverS3 }

func (s *S3) Put(ctx context.Context, key string, snapshot []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(snapshot),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return nil, err
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            &prefix,
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	// DeleteObjects caps a batch at 1000 keys.
	for start := 0; start < len(keys); start += 1000 {
		end := start + 1000
		if end > len(keys) {
			end = len(keys)
		}
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			k := key
			objects = append(objects, types.ObjectIdentifier{Key: &k})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &s.bucket,
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return removed, err
		}
		removed += end - start - len(out.Errors)
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return removed, fmt.Errorf("delete archive objects: %s: %s",
				aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return removed, nil
}

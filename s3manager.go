package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// ExportUploader pushes export snapshots to an S3-compatible bucket. It is
// configured from the S3_* environment variables and is optional: when no
// credentials are set the /export endpoint simply returns snapshots inline.
type ExportUploader struct {
	client   *s3.Client
	bucket   string
	endpoint string
	region   string
}

// NewExportUploader builds the uploader from environment variables. Returns
// (nil, nil) when credentials are absent so the caller can skip registration.
func NewExportUploader() (*ExportUploader, error) {
	accessKey := os.Getenv(S3_GLOBAL_ACCESS_KEY)
	secretKey := os.Getenv(S3_GLOBAL_SECRET_KEY)
	if accessKey == "" || secretKey == "" {
		log.Info().Msg("S3 credentials not set. Export uploads disabled.")
		return nil, nil
	}

	bucket := os.Getenv(S3_GLOBAL_BUCKET)
	if bucket == "" {
		return nil, fmt.Errorf("S3 upload requires %s to be set", S3_GLOBAL_BUCKET)
	}

	region := os.Getenv(S3_GLOBAL_REGION)
	if region == "" {
		region = "us-east-1"
	}
	endpoint := os.Getenv(S3_GLOBAL_ENDPOINT)

	// Endpoints that embed the bucket name are a common misconfiguration.
	if endpoint != "" && strings.Contains(endpoint, bucket+".") {
		endpoint = strings.Replace(endpoint, bucket+".", "", 1)
		log.Warn().
			Str("cleanedEndpoint", endpoint).
			Str("bucket", bucket).
			Msg("Cleaned bucket name from S3 endpoint - endpoint should not contain bucket name")
	}

	cfg := aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	}

	if endpoint != "" {
		cfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{URL: endpoint}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			})
	}

	// Buckets with dots break virtual-hosted-style SSL certificates.
	usePathStyle := strings.Contains(bucket, ".") || endpoint != ""

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})

	log.Info().
		Str("bucket", bucket).
		Str("region", region).
		Str("endpoint", endpoint).
		Msg("S3 export uploader initialized")

	return &ExportUploader{client: client, bucket: bucket, endpoint: endpoint, region: region}, nil
}

// UploadSnapshot serializes the snapshot as JSON, stores it under a dated key
// and returns the object's public URL.
func (u *ExportUploader) UploadSnapshot(ctx context.Context, snapshot *ExportSnapshot) (string, error) {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize export snapshot: %w", err)
	}

	now := time.Now().UTC()
	key := fmt.Sprintf("exports/%s/export-%s.json",
		now.Format("2006/01/02"),
		now.Format("20060102T150405Z"))

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		log.Error().
			Str("key", key).
			Str("bucket", u.bucket).
			Int("size", len(data)).
			Err(err).
			Msg("Failed to upload export snapshot to S3")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	url := u.publicURL(key)
	log.Info().
		Str("key", key).
		Str("bucket", u.bucket).
		Int("records", len(snapshot.Records)).
		Int("size", len(data)).
		Msg("Export snapshot uploaded to S3")

	return url, nil
}

func (u *ExportUploader) publicURL(key string) string {
	if u.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(u.endpoint, "/"), u.bucket, key)
	}
	if strings.Contains(u.bucket, ".") {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", u.region, u.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
}

// TestConnection lists a single object to verify bucket access.
func (u *ExportUploader) TestConnection(ctx context.Context) error {
	_, err := u.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(u.bucket),
		MaxKeys: aws.Int32(1),
	})
	return err
}

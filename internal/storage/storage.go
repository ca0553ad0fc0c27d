package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Orochidara23000/Game-Downloader/internal/publish"
)

// presignTTL is how long mirrored artifact links stay valid.
const presignTTL = 24 * time.Hour

// Config holds the settings for the S3-compatible artifact mirror.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Mirror uploads published artifacts to S3-compatible object storage and
// hands back presigned URLs as durable public links. Uploads go through
// minio-go; presigning uses the AWS SDK.
type Mirror struct {
	client  *minio.Client
	presign *s3.PresignClient
	bucket  string
}

// NewMirror creates a mirror client. It does not touch the network; call
// EnsureBucket or Ping to verify connectivity.
func NewMirror(cfg *Config) (*Mirror, error) {
	// minio-go expects host:port without a scheme.
	endpoint := cfg.Endpoint
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	s3client := s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  awscreds.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		BaseEndpoint: aws.String(scheme + "://" + endpoint),
		UsePathStyle: true, // required for MinIO
	})

	return &Mirror{
		client:  client,
		presign: s3.NewPresignClient(s3client),
		bucket:  cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (m *Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", m.bucket, err)
		}
	}
	return nil
}

// Ping checks if the storage is accessible.
func (m *Mirror) Ping(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}

// MirrorArtifacts uploads each artifact under <jobID>/<relative path> and
// returns the same artifacts with presigned URLs. Objects that already exist
// are not re-uploaded, so mirroring is idempotent per job.
func (m *Mirror) MirrorArtifacts(ctx context.Context, jobID, srcRoot string, artifacts []publish.Artifact) ([]publish.Artifact, error) {
	out := make([]publish.Artifact, 0, len(artifacts))

	for _, a := range artifacts {
		key := path.Join(jobID, a.RelativePath)

		exists, err := m.objectExists(ctx, key)
		if err != nil {
			return nil, err
		}
		if !exists {
			localPath := filepath.Join(srcRoot, filepath.FromSlash(a.RelativePath))
			if _, err := m.client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{}); err != nil {
				return nil, fmt.Errorf("failed to upload %s: %w", key, err)
			}
		}

		url, err := m.presignGet(ctx, key)
		if err != nil {
			return nil, err
		}
		a.PublicURL = url
		out = append(out, a)
	}

	return out, nil
}

func (m *Mirror) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence %s: %w", key, err)
	}
	return true, nil
}

func (m *Mirror) presignGet(ctx context.Context, key string) (string, error) {
	req, err := m.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignTTL))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}

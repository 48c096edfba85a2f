package remote

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Ning0612/addonsync/internal/config"
	"github.com/Ning0612/addonsync/internal/domain"
)

// S3Signer presigns artifact GETs against the bucket backing the service
type S3Signer struct {
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
}

// NewS3Signer builds a signer; endpoint may be empty for AWS itself
func NewS3Signer(ctx context.Context, cfg config.S3Config, ttl time.Duration) (*S3Signer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: remote.s3.bucket is required", domain.ErrConfigInvalid)
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(30 * time.Second)),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &S3Signer{
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		ttl:     ttl,
	}, nil
}

// ObjectKey is relativePath/fileName without a leading slash
func ObjectKey(d domain.ArtifactDescriptor) string {
	return strings.TrimPrefix(path.Join(strings.ReplaceAll(d.RelativePath, "\\", "/"), d.FileName), "/")
}

// SignGet implements URLSigner
func (s *S3Signer) SignGet(ctx context.Context, d domain.ArtifactDescriptor) (string, error) {
	key := ObjectKey(d)
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.ttl
	})
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %v", domain.ErrRemote, key, err)
	}
	return req.URL, nil
}

package backends

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultS3Region = "us-east-1"

// S3Backend represents an S3-compatible storage backend. Location uses
// restic's syntax: s3:s3.amazonaws.com/bucket[/prefix] or
// s3:https://host[:port]/bucket[/prefix] for MinIO and friends.
type S3Backend struct {
	Location        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
}

// s3Target is the parsed form of an s3 location.
type s3Target struct {
	Endpoint string // empty for AWS
	Bucket   string
	Prefix   string
}

// Type returns the repository type.
func (b *S3Backend) Type() models.RepositoryType {
	return models.RepositoryTypeS3
}

// ToResticConfig converts the backend to a ResticConfig.
func (b *S3Backend) ToResticConfig(password string) ResticConfig {
	env := map[string]string{}
	if b.AccessKeyID != "" {
		env["AWS_ACCESS_KEY_ID"] = b.AccessKeyID
		env["AWS_SECRET_ACCESS_KEY"] = b.SecretAccessKey
	}
	if b.Region != "" {
		env["AWS_DEFAULT_REGION"] = b.Region
	}

	return ResticConfig{
		Repository: b.Location,
		Password:   password,
		Env:        env,
	}
}

// Validate checks if the configuration is valid.
func (b *S3Backend) Validate() error {
	if _, err := b.target(); err != nil {
		return err
	}
	if (b.AccessKeyID == "") != (b.SecretAccessKey == "") {
		return errors.New("s3 backend: access key id and secret access key must be set together")
	}
	return nil
}

func (b *S3Backend) target() (s3Target, error) {
	rest, ok := strings.CutPrefix(b.Location, "s3:")
	if !ok {
		return s3Target{}, errors.New("s3 backend: location must start with s3:")
	}

	var t s3Target
	switch {
	case strings.HasPrefix(rest, "http://"), strings.HasPrefix(rest, "https://"):
		scheme, hostAndPath, _ := strings.Cut(rest, "://")
		host, path, _ := strings.Cut(hostAndPath, "/")
		if host == "" {
			return s3Target{}, errors.New("s3 backend: endpoint host is required")
		}
		t.Endpoint = scheme + "://" + host
		rest = path
	default:
		host, path, _ := strings.Cut(rest, "/")
		if host != "s3.amazonaws.com" && !strings.HasSuffix(host, ".amazonaws.com") {
			t.Endpoint = "https://" + host
		}
		rest = path
	}

	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return s3Target{}, errors.New("s3 backend: bucket is required")
	}
	t.Bucket = bucket
	t.Prefix = strings.Trim(prefix, "/")
	return t, nil
}

// TestConnection verifies the bucket is reachable with the configured
// credentials by issuing a HeadBucket request.
func (b *S3Backend) TestConnection(ctx context.Context) error {
	t, err := b.target()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	region := b.Region
	if region == "" {
		region = defaultS3Region
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if b.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.AccessKeyID, b.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("s3 backend: failed to load config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if t.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(t.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(cfg, clientOpts...)
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(t.Bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 backend: failed to access bucket: %w", err)
	}
	return nil
}

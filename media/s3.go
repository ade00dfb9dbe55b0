package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures an S3Host.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	AccessKey string
	SecretKey string
	// PublicURL is the base of object URLs. Defaults to the endpoint (path
	// style) or the virtual-hosted AWS URL.
	PublicURL string
}

// S3Host stores media in an S3 bucket.
type S3Host struct {
	cfg    S3Config
	client *s3.Client
	logger *slog.Logger
}

// NewS3Host loads AWS configuration and creates the client. Static
// credentials are used when both keys are set; otherwise the default chain.
func NewS3Host(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Host, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 media host: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	h := &S3Host{cfg: cfg, client: s3.NewFromConfig(awsCfg, s3Opts...), logger: logger}
	logger.Info("S3 media host ready", "bucket", cfg.Bucket, "region", cfg.Region)
	return h, nil
}

func (h *S3Host) objectKey(key string) string {
	if h.cfg.Prefix == "" {
		return key
	}
	return strings.TrimRight(h.cfg.Prefix, "/") + "/" + key
}

func (h *S3Host) objectURL(objKey string) string {
	switch {
	case h.cfg.PublicURL != "":
		return strings.TrimRight(h.cfg.PublicURL, "/") + "/" + objKey
	case h.cfg.Endpoint != "":
		return strings.TrimRight(h.cfg.Endpoint, "/") + "/" + h.cfg.Bucket + "/" + objKey
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", h.cfg.Bucket, h.cfg.Region, objKey)
	}
}

func (h *S3Host) Upload(ctx context.Context, key string, body io.Reader, contentType string) (Object, error) {
	objKey := h.objectKey(key)
	if contentType == "" {
		contentType = detectContentType(key)
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(h.cfg.Bucket),
		Key:    aws.String(objKey),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := h.client.PutObject(ctx, in); err != nil {
		return Object{}, fmt.Errorf("failed to put object %q: %w", objKey, err)
	}
	h.logger.Info("media uploaded", "key", objKey, "bucket", h.cfg.Bucket)
	return Object{Key: key, URL: h.objectURL(objKey), ContentType: contentType}, nil
}

func (h *S3Host) Delete(ctx context.Context, key string) error {
	objKey := h.objectKey(key)
	_, err := h.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(h.cfg.Bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %q: %w", objKey, err)
	}
	h.logger.Info("media deleted", "key", objKey, "bucket", h.cfg.Bucket)
	return nil
}

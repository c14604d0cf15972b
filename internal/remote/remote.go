package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"backupd/internal/config"
)

// ObjectInfo describes one remote archive copy.
type ObjectInfo struct {
	Key          string
	Size         int64
	Blake3       string
	LastModified time.Time
}

// Backend is the remote storage surface the orchestrator, retention and
// the archive manager use.
type Backend interface {
	Upload(ctx context.Context, localPath, name, checksumHash string) error
	Download(ctx context.Context, name, localPath string) error
	Head(ctx context.Context, name string) (*ObjectInfo, error)
	List(ctx context.Context) ([]ObjectInfo, error)
	Delete(ctx context.Context, name string) error
	VerifyCredentials(ctx context.Context) error
}

// UploadError wraps a failed transfer. Transient errors were retried to
// exhaustion; non-transient ones (auth, missing bucket) failed immediately.
type UploadError struct {
	Key       string
	Transient bool
	Err       error
}

func (e *UploadError) Error() string {
	kind := "non-transient"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("upload of %s failed (%s): %v", e.Key, kind, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ErrNotFound reports a missing remote object on Head.
var ErrNotFound = errors.New("remote object not found")

var nonTransientCodes = map[string]bool{
	"AccessDenied":                 true,
	"InvalidAccessKeyId":           true,
	"SignatureDoesNotMatch":        true,
	"NoSuchBucket":                 true,
	"AuthorizationHeaderMalformed": true,
}

func transient(err error) bool {
	// A cancelled or timed-out run is not a retryable network failure.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return !nonTransientCodes[apiErr.ErrorCode()]
	}
	return true
}

type S3 struct {
	client *s3.Client
	up     *manager.Uploader
	bucket string
	prefix string
	class  types.StorageClass
}

// NewS3 builds an S3 backend from the config section. Archives live under
// <prefix>/<host>/. A custom endpoint switches to path-style addressing
// for S3-compatible stores.
func NewS3(ctx context.Context, sc config.S3Config, host string) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(sc.Region))

	if attempts := sc.Retry.MaxAttempts; attempts > 0 {
		opts = append(opts,
			awsconfig.WithRetryMaxAttempts(attempts),
			awsconfig.WithRetryMode(aws.RetryModeStandard),
		)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if sc.Endpoint != "" {
		if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
			if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
				cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
			}
		}
	}

	var client *s3.Client
	if sc.Endpoint != "" {
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(sc.Endpoint)
			o.UsePathStyle = true
		})
		slog.Info("S3 client initialized with custom endpoint", "endpoint", sc.Endpoint)
	} else {
		client = s3.NewFromConfig(cfg)
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 64 * 1024 * 1024
		u.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenSupported
	})

	class := types.StorageClass(sc.StorageClass)
	if class == "" {
		class = types.StorageClassStandard
	}

	return &S3{
		client: client,
		up:     uploader,
		bucket: sc.Bucket,
		prefix: path.Join(sc.Prefix, host),
		class:  class,
	}, nil
}

func (s *S3) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *S3) Upload(ctx context.Context, localPath, name, checksumHash string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	key := s.key(name)

	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         file,
		StorageClass: s.class,
		Metadata:     map[string]string{"blake3": checksumHash},
	}

	if _, err := s.up.Upload(ctx, input); err != nil {
		return &UploadError{Key: key, Transient: transient(err), Err: err}
	}

	slog.Info("Uploaded to S3", "bucket", s.bucket, "key", key, "storageClass", s.class)
	return nil
}

// Download fetches a remote archive into localPath.
func (s *S3) Download(ctx context.Context, name, localPath string) error {
	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer file.Close()

	key := s.key(name)
	downloader := manager.NewDownloader(s.client)
	numBytes, err := downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		os.Remove(localPath)
		return fmt.Errorf("failed to download from S3: %w", err)
	}

	slog.Info("Downloaded from S3", "bucket", s.bucket, "key", key, "bytes", numBytes)
	return file.Close()
}

func (s *S3) Head(ctx context.Context, name string) (*ObjectInfo, error) {
	key := s.key(name)

	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}

	info := &ObjectInfo{Key: key}
	if output.ContentLength != nil {
		info.Size = *output.ContentLength
	}
	if output.LastModified != nil {
		info.LastModified = *output.LastModified
	}
	if output.Metadata != nil {
		info.Blake3 = output.Metadata["blake3"]
	}
	return info, nil
}

func (s *S3) List(ctx context.Context) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", s.prefix, err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			objects = append(objects, info)
		}
	}
	return objects, nil
}

func (s *S3) Delete(ctx context.Context, name string) error {
	key := s.key(name)

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}

	slog.Info("Deleted from S3", "bucket", s.bucket, "key", key)
	return nil
}

func (s *S3) VerifyCredentials(ctx context.Context) error {
	slog.Info("Verifying credentials and bucket access", "bucket", s.bucket)

	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return fmt.Errorf("failed to verify credentials or bucket access: %w", err)
	}

	slog.Info("Credentials verified", "bucket", s.bucket)
	return nil
}

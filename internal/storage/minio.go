package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

// RetentionRuleID names the bucket lifecycle rule that expires
// non-permanent objects.
const RetentionRuleID = "onedrive-extractor-expire-non-permanent"

// MinIOConfig holds the connection settings of an S3 compatible store.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
	UseSSL          bool
	Region          string
}

// objectPutter is the subset of *minio.Client used by MinIOWriter.
type objectPutter interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetBucketLifecycle(ctx context.Context, bucket string) (*lifecycle.Configuration, error)
	SetBucketLifecycle(ctx context.Context, bucket string, config *lifecycle.Configuration) error
}

// MinIOWriter stores files as objects. Tags become object tags. Deletion of
// non-permanent objects is left to a bucket lifecycle rule matching
// is-permanent=false, installed by EnsureBucket.
type MinIOWriter struct {
	client objectPutter
	bucket string
	prefix string
	region string
	now    func() time.Time
}

// NewMinIOWriter connects to the store described by cfg. An endpoint given
// as a URL is reduced to its host; an https scheme enables TLS.
func NewMinIOWriter(cfg MinIOConfig) (*MinIOWriter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrWriteFailed)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	useSSL := cfg.UseSSL
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid endpoint %q: %v", ErrWriteFailed, cfg.Endpoint, err)
		}
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrWriteFailed)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating minio client: %v", ErrWriteFailed, err)
	}
	return newMinIOWriter(client, cfg), nil
}

func newMinIOWriter(client objectPutter, cfg MinIOConfig) *MinIOWriter {
	return &MinIOWriter{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		region: cfg.Region,
		now:    time.Now,
	}
}

// EnsureBucket creates the bucket when it does not exist yet and installs
// the retention rule. Rules already on the bucket are kept.
func (w *MinIOWriter) EnsureBucket(ctx context.Context) error {
	exists, err := w.client.BucketExists(ctx, w.bucket)
	if err != nil {
		return classifyMinIOError(err)
	}
	if !exists {
		if err := w.client.MakeBucket(ctx, w.bucket, minio.MakeBucketOptions{Region: w.region}); err != nil {
			return classifyMinIOError(err)
		}
	}
	return w.ensureRetentionRule(ctx)
}

func (w *MinIOWriter) ensureRetentionRule(ctx context.Context) error {
	config, err := w.client.GetBucketLifecycle(ctx, w.bucket)
	if err != nil {
		var resp minio.ErrorResponse
		if !errors.As(err, &resp) || resp.Code != "NoSuchLifecycleConfiguration" {
			return fmt.Errorf("reading lifecycle of bucket %s: %w", w.bucket, classifyMinIOError(err))
		}
	}
	if config == nil {
		config = lifecycle.NewConfiguration()
	}

	rule := w.retentionRule()
	rules := make([]lifecycle.Rule, 0, len(config.Rules)+1)
	for _, r := range config.Rules {
		if r.ID != RetentionRuleID {
			rules = append(rules, r)
		}
	}
	config.Rules = append(rules, rule)

	if err := w.client.SetBucketLifecycle(ctx, w.bucket, config); err != nil {
		return fmt.Errorf("setting lifecycle of bucket %s: %w", w.bucket, classifyMinIOError(err))
	}
	return nil
}

// retentionRule expires objects tagged is-permanent=false after
// RetentionPeriod, limited to the writer's prefix when one is set.
func (w *MinIOWriter) retentionRule() lifecycle.Rule {
	tag := lifecycle.Tag{Key: TagPermanent, Value: "false"}
	filter := lifecycle.Filter{Tag: tag}
	if w.prefix != "" {
		filter = lifecycle.Filter{And: lifecycle.And{Prefix: w.prefix + "/", Tags: []lifecycle.Tag{tag}}}
	}
	return lifecycle.Rule{
		ID:         RetentionRuleID,
		Status:     "Enabled",
		RuleFilter: filter,
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(RetentionPeriod / (24 * time.Hour))},
	}
}

func (w *MinIOWriter) Write(ctx context.Context, obj Object, opts Options) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if obj.Name == "" || strings.Contains(obj.Name, "/") {
		return Artifact{}, fmt.Errorf("%w: %q", ErrInvalidName, obj.Name)
	}

	key := obj.Name
	if w.prefix != "" {
		key = w.prefix + "/" + obj.Name
	}
	size := obj.Size
	if size <= 0 {
		size = -1
	}

	now := w.now().UTC()
	tags := opts.Tags()
	putOpts := minio.PutObjectOptions{
		ContentType: contentType(obj.Name),
		UserTags:    tags,
		UserMetadata: map[string]string{
			"source-path": escapeMetadataPath(obj.Path),
		},
	}
	if opts.RunID != "" {
		putOpts.UserMetadata["run-id"] = opts.RunID
	}
	expires := opts.ExpiresAt(now)
	if !expires.IsZero() {
		putOpts.UserMetadata["expires-at"] = expires.Format(time.RFC3339)
	}

	info, err := w.client.PutObject(ctx, w.bucket, key, obj.Body, size, putOpts)
	if err != nil {
		return Artifact{}, fmt.Errorf("%s: %w", key, classifyMinIOError(err))
	}

	return Artifact{
		Location:   "s3://" + w.bucket + "/" + key,
		Name:       obj.Name,
		SourcePath: obj.Path,
		Size:       info.Size,
		Tags:       tags,
		Permanent:  opts.Permanent,
		ExpiresAt:  expires,
		WrittenAt:  now,
	}, nil
}

// escapeMetadataPath percent-encodes each segment of p. Metadata values
// travel as HTTP headers and must stay ASCII.
func escapeMetadataPath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func contentType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func classifyMinIOError(err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return fmt.Errorf("%w: %s (%s)", ErrWriteFailed, resp.Message, resp.Code)
	}
	return fmt.Errorf("%w: %v", ErrWriteFailed, err)
}

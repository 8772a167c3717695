package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/seqworks/peakscreen/pkg/manifest"
	"github.com/seqworks/peakscreen/pkg/runstate"
	"github.com/seqworks/peakscreen/pkg/samples"
)

// Sentinel errors for common store failures.
var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrUnavailable    = errors.New("store unavailable")
)

// Summary reports what an upload pass moved.
type Summary struct {
	Uploaded       int
	SkippedMissing int
	Bytes          int64
	Keys           []string
}

// Uploader copies run outputs into one bucket prefix.
type Uploader struct {
	client *s3.Client
	bucket string
	prefix string
	log    *zap.Logger
}

// New creates an uploader. It uses the AWS SDK default credential chain
// unless explicit credentials are configured.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Uploader{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		log:    log,
	}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	// No region default for custom endpoints; the store ignores it anyway.
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultAWSRegion
	}
	return awsCfg, nil
}

// UploadRun archives the outputs of a finished run: the run record, the
// unified matrix, the sample timing log, and every completed sample's
// compiled file and batch timing log. Files that do not exist on disk are
// skipped, not failed; an interrupted run archives what it has.
func (u *Uploader) UploadRun(ctx context.Context, m *manifest.Manifest, rec *runstate.Record) (*Summary, error) {
	sum := &Summary{}
	for _, path := range runFiles(m, rec) {
		info, err := os.Stat(path)
		if err != nil {
			sum.SkippedMissing++
			u.log.Debug("archive skipping missing file", zap.String("path", path))
			continue
		}

		key := u.keyFor(m.Paths.OutputRoot, path)
		if err := u.uploadFile(ctx, path, key); err != nil {
			return sum, err
		}
		sum.Uploaded++
		sum.Bytes += info.Size()
		sum.Keys = append(sum.Keys, key)
	}

	u.log.Info("run archived",
		zap.String("bucket", u.bucket),
		zap.String("prefix", u.prefix),
		zap.Int("files", sum.Uploaded),
		zap.Int64("bytes", sum.Bytes))
	return sum, nil
}

// runFiles lists every candidate artifact of a run, existing or not.
func runFiles(m *manifest.Manifest, rec *runstate.Record) []string {
	files := []string{
		filepath.Join(m.Paths.OutputRoot, runstate.FileName),
		filepath.Join(m.Paths.OutputRoot, "sample_times.csv"),
	}
	if rec.MatrixPath != "" {
		files = append(files, rec.MatrixPath)
	}
	for _, s := range rec.Samples {
		if s.Status != samples.StatusCompleted && s.Status != samples.StatusSkippedCompleted {
			continue
		}
		files = append(files,
			m.CompiledPath(s.Name),
			filepath.Join(m.SampleDir(s.Name), "batch_times.csv"),
		)
	}
	return files
}

// keyFor maps a local path under root to an object key under the prefix.
func (u *Uploader) keyFor(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	key := filepath.ToSlash(rel)
	if u.prefix != "" {
		key = u.prefix + "/" + key
	}
	return key
}

func (u *Uploader) uploadFile(ctx context.Context, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentTypeFor(path)),
	})
	if err != nil {
		return wrapStoreError(key, err)
	}

	u.log.Debug("uploaded", zap.String("key", key))
	return nil
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".tsv", ".bedgraph":
		return "text/tab-separated-values"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func wrapStoreError(key string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket":
			return fmt.Errorf("put %s: %w: %v", key, ErrBucketNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("put %s: %w: %v", key, ErrAccessDenied, err)
		case "SlowDown", "Throttling", "ServiceUnavailable", "InternalError":
			return fmt.Errorf("put %s: %w: %v", key, ErrUnavailable, err)
		}
	}
	return fmt.Errorf("put %s: %w", key, err)
}

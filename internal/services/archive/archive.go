// Package archive mirrors finished recordings into an S3-compatible bucket.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/terrainiq/dashcam-server/internal/config"
	"github.com/terrainiq/dashcam-server/internal/logging"
	"github.com/terrainiq/dashcam-server/internal/models"
	"github.com/terrainiq/dashcam-server/internal/services/notification"
	"github.com/terrainiq/dashcam-server/internal/services/storage"
	"github.com/terrainiq/dashcam-server/pkg/utils"
)

// KeyPrefix is the object key prefix of archived recordings.
const KeyPrefix = "recordings"

const (
	defaultMaxRetries      = 4
	defaultInitialInterval = 500 * time.Millisecond
	defaultMaxInterval     = 10 * time.Second
)

// ObjectStore is the subset of *minio.Client used by the archiver.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewMinioClient creates a client for the configured endpoint.
func NewMinioClient(cfg *config.Config) (*minio.Client, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return client, nil
}

// Options tunes retries of a single object upload.
type Options struct {
	MaxRetries      uint64
	InitialInterval time.Duration
}

// Archiver copies the files of completed uploads from disk to a bucket.
type Archiver struct {
	store   ObjectStore
	bucket  string
	disk    *storage.Disk
	retries uint64
	initial time.Duration
}

// New creates an archiver.
func New(store ObjectStore, bucket string, disk *storage.Disk, opts Options) *Archiver {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = defaultInitialInterval
	}
	return &Archiver{
		store:   store,
		bucket:  bucket,
		disk:    disk,
		retries: opts.MaxRetries,
		initial: opts.InitialInterval,
	}
}

// EnsureBucket creates the bucket when it does not exist.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	logging.Info().Str("bucket", a.bucket).Msg("created archive bucket")
	return nil
}

// Start archives every completed upload published on svc until ctx is done.
func (a *Archiver) Start(ctx context.Context, svc *notification.Service) error {
	return svc.Handle(ctx, notification.EventUploadCompleted, a.HandleEvent)
}

// HandleEvent archives the upload described by an upload.completed event.
func (a *Archiver) HandleEvent(ctx context.Context, evt notification.Event) error {
	var done models.CompletedUpload
	if err := evt.Decode(&done); err != nil {
		return fmt.Errorf("failed to decode completed upload: %w", err)
	}
	return a.Archive(ctx, done)
}

// Archive uploads the recording and its side files under
// recordings/<upload_id>/.
func (a *Archiver) Archive(ctx context.Context, done models.CompletedUpload) error {
	for _, rel := range []string{done.VideoPath, done.CSVPath, done.MetadataPath} {
		if rel == "" {
			continue
		}
		key := ObjectKey(done.ID.String(), filepath.Base(rel))
		if err := a.put(ctx, rel, key); err != nil {
			return err
		}
	}
	logging.Info().Str("upload_id", done.ID.String()).Str("bucket", a.bucket).Msg("recording archived")
	return nil
}

// ObjectKey returns the key of one archived file.
func ObjectKey(uploadID, name string) string {
	return path.Join(KeyPrefix, uploadID, name)
}

func (a *Archiver) put(ctx context.Context, rel, key string) error {
	op := func() error {
		f, err := a.disk.Open(rel)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to open %s: %w", rel, err))
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to stat %s: %w", rel, err))
		}

		_, err = a.store.PutObject(ctx, a.bucket, key, f, info.Size(), minio.PutObjectOptions{
			ContentType: utils.GetMimeType(rel),
		})
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.Warn().Err(err).Str("key", key).Dur("retry_in", wait).Msg("archive upload failed, retrying")
	}

	if err := backoff.RetryNotify(op, a.newBackOff(ctx), notify); err != nil {
		return fmt.Errorf("failed to archive %s: %w", key, err)
	}
	return nil
}

func (a *Archiver) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.initial
	b.MaxInterval = defaultMaxInterval
	b.RandomizationFactor = 0.5
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, a.retries), ctx)
}

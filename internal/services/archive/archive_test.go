package archive_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terrainiq/dashcam-server/internal/models"
	"github.com/terrainiq/dashcam-server/internal/services/archive"
	"github.com/terrainiq/dashcam-server/internal/services/notification"
	"github.com/terrainiq/dashcam-server/internal/services/storage"
)

type fakeStore struct {
	mu       sync.Mutex
	exists   bool
	made     []string
	objects  map[string][]byte
	types    map[string]string
	failures int
	calls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeStore) BucketExists(_ context.Context, _ string) (bool, error) {
	return f.exists, nil
}

func (f *fakeStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	f.made = append(f.made, bucket)
	f.exists = true
	return nil
}

func (f *fakeStore) PutObject(_ context.Context, _, key string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return minio.UploadInfo{}, errors.New("connection reset")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	f.objects[key] = data
	f.types[key] = opts.ContentType
	return minio.UploadInfo{Key: key, Size: int64(len(data))}, nil
}

func seedCompleted(t *testing.T) (*storage.Disk, models.CompletedUpload) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	disk, err := storage.NewDisk(fsys, "/srv")
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fsys, "/srv/videos/trip.mp4", []byte("video-bytes"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/srv/data/trip.csv", []byte("t,v\n"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/srv/data/trip.json", []byte(`{"video":{}}`), 0o644))

	return disk, models.CompletedUpload{
		ID:           uuid.New(),
		Filename:     "trip.mp4",
		VideoPath:    filepath.Join(storage.VideosDir, "trip.mp4"),
		CSVPath:      filepath.Join(storage.DataDir, "trip.csv"),
		MetadataPath: filepath.Join(storage.DataDir, "trip.json"),
		SizeBytes:    11,
		CompletedAt:  time.Now().UTC(),
	}
}

func TestEnsureBucket(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a missing bucket", func(t *testing.T) {
		store := newFakeStore()
		a := archive.New(store, "recordings", nil, archive.Options{})

		require.NoError(t, a.EnsureBucket(ctx))
		assert.Equal(t, []string{"recordings"}, store.made)
	})

	t.Run("should keep an existing bucket", func(t *testing.T) {
		store := newFakeStore()
		store.exists = true
		a := archive.New(store, "recordings", nil, archive.Options{})

		require.NoError(t, a.EnsureBucket(ctx))
		assert.Empty(t, store.made)
	})
}

func TestArchive(t *testing.T) {
	ctx := context.Background()

	t.Run("should upload the recording and side files", func(t *testing.T) {
		disk, done := seedCompleted(t)
		store := newFakeStore()
		a := archive.New(store, "recordings", disk, archive.Options{InitialInterval: time.Millisecond})

		require.NoError(t, a.Archive(ctx, done))

		id := done.ID.String()
		assert.Equal(t, "video-bytes", string(store.objects[archive.ObjectKey(id, "trip.mp4")]))
		assert.Equal(t, "t,v\n", string(store.objects[archive.ObjectKey(id, "trip.csv")]))
		assert.Contains(t, store.objects, archive.ObjectKey(id, "trip.json"))
		assert.Equal(t, "video/mp4", store.types[archive.ObjectKey(id, "trip.mp4")])
		assert.Equal(t, "recordings/"+id+"/trip.csv", archive.ObjectKey(id, "trip.csv"))
	})

	t.Run("should retry transient failures", func(t *testing.T) {
		disk, done := seedCompleted(t)
		store := newFakeStore()
		store.failures = 2
		a := archive.New(store, "recordings", disk, archive.Options{InitialInterval: time.Millisecond})

		require.NoError(t, a.Archive(ctx, done))
		assert.Equal(t, 5, store.calls)
		assert.Len(t, store.objects, 3)
	})

	t.Run("should give up after max retries", func(t *testing.T) {
		disk, done := seedCompleted(t)
		store := newFakeStore()
		store.failures = 100
		a := archive.New(store, "recordings", disk, archive.Options{MaxRetries: 2, InitialInterval: time.Millisecond})

		err := a.Archive(ctx, done)
		require.Error(t, err)
		assert.Equal(t, 3, store.calls)
	})

	t.Run("should not retry a missing file", func(t *testing.T) {
		disk, done := seedCompleted(t)
		done.VideoPath = filepath.Join(storage.VideosDir, "gone.mp4")
		store := newFakeStore()
		a := archive.New(store, "recordings", disk, archive.Options{InitialInterval: time.Millisecond})

		require.Error(t, a.Archive(ctx, done))
		assert.Equal(t, 0, store.calls)
	})
}

func TestHandleEvent(t *testing.T) {
	disk, done := seedCompleted(t)
	store := newFakeStore()
	a := archive.New(store, "recordings", disk, archive.Options{InitialInterval: time.Millisecond})

	data, err := json.Marshal(done)
	require.NoError(t, err)
	evt := notification.Event{
		ID:       uuid.New(),
		Type:     notification.EventUploadCompleted,
		UploadID: done.ID.String(),
		Data:     data,
	}

	require.NoError(t, a.HandleEvent(context.Background(), evt))
	assert.Len(t, store.objects, 3)

	assert.Error(t, a.HandleEvent(context.Background(), notification.Event{Type: notification.EventUploadCompleted}))
}

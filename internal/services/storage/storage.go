package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"github.com/terrainiq/dashcam-server/pkg/utils"
)

const (
	VideosDir   = "videos"
	MetadataDir = "metadata"
	ChunksDir   = "chunks"
	DataDir     = "data"

	dirPerm  = 0o755
	filePerm = 0o644
)

// Disk lays out uploads on a filesystem rooted at a single directory:
//
//	videos/<filename>              reassembled recordings
//	metadata/<upload_id>/<name>    side files as received at registration
//	chunks/<upload_id>/chunk_<n>   staging area
//	data/<basename>.{csv,json}     side files of finished recordings
//
// Every path returned by Disk is relative to the root.
type Disk struct {
	fs   afero.Fs
	root string
}

// NewDisk creates the directory layout under root on fsys.
func NewDisk(fsys afero.Fs, root string) (*Disk, error) {
	d := &Disk{fs: fsys, root: filepath.Clean(root)}
	for _, dir := range []string{VideosDir, MetadataDir, ChunksDir, DataDir} {
		if err := fsys.MkdirAll(d.abs(dir), dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}
	return d, nil
}

// NewOSDisk is NewDisk on the operating system filesystem.
func NewOSDisk(root string) (*Disk, error) {
	return NewDisk(afero.NewOsFs(), root)
}

// Root returns the absolute root directory.
func (d *Disk) Root() string {
	return d.root
}

// Dir returns the absolute path of one of the layout directories.
func (d *Disk) Dir(name string) string {
	return d.abs(name)
}

func (d *Disk) abs(rel string) string {
	return filepath.Join(d.root, rel)
}

// SaveSideFile stores an auxiliary file received at registration.
func (d *Disk) SaveSideFile(uploadID, name string, r io.Reader) (string, error) {
	if !utils.ValidateFilename(name) {
		return "", fmt.Errorf("invalid side file name %q", name)
	}
	dir := filepath.Join(MetadataDir, uploadID)
	if err := d.fs.MkdirAll(d.abs(dir), dirPerm); err != nil {
		return "", fmt.Errorf("failed to create metadata directory: %w", err)
	}

	rel := filepath.Join(dir, name)
	if err := d.writeFrom(rel, r); err != nil {
		return "", err
	}
	return rel, nil
}

// CreateStaging creates the empty staging area of an upload.
func (d *Disk) CreateStaging(uploadID string) error {
	if err := d.fs.MkdirAll(d.abs(d.stagingDir(uploadID)), dirPerm); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	return nil
}

// WriteChunk stores one chunk, replacing any earlier write of the same index.
func (d *Disk) WriteChunk(uploadID string, index int, data []byte) error {
	if err := afero.WriteFile(d.fs, d.abs(d.chunkPath(uploadID, index)), data, filePerm); err != nil {
		return fmt.Errorf("failed to write chunk %d: %w", index, err)
	}
	return nil
}

// Assemble concatenates chunks 0..totalChunks-1 into videos/<filename>. The
// output is written to a temporary file named after the upload and renamed
// into place, so uploads declaring the same filename never share it.
func (d *Disk) Assemble(uploadID string, totalChunks int, filename string) (string, int64, error) {
	rel, err := utils.SecureJoin(VideosDir, filename)
	if err != nil {
		return "", 0, err
	}
	tmp := filepath.Join(VideosDir, "."+uploadID+".partial")

	out, err := d.fs.OpenFile(d.abs(tmp), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create output file: %w", err)
	}

	written, err := d.concatChunks(out, uploadID, totalChunks)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close output file: %w", closeErr)
	}
	if err != nil {
		d.fs.Remove(d.abs(tmp))
		return "", 0, err
	}

	if err := d.fs.Rename(d.abs(tmp), d.abs(rel)); err != nil {
		d.fs.Remove(d.abs(tmp))
		return "", 0, fmt.Errorf("failed to move output file into place: %w", err)
	}
	return rel, written, nil
}

func (d *Disk) concatChunks(w io.Writer, uploadID string, totalChunks int) (int64, error) {
	var written int64
	for i := 0; i < totalChunks; i++ {
		in, err := d.fs.Open(d.abs(d.chunkPath(uploadID, i)))
		if err != nil {
			return written, fmt.Errorf("failed to open chunk %d: %w", i, err)
		}
		n, err := io.Copy(w, in)
		in.Close()
		written += n
		if err != nil {
			return written, fmt.Errorf("failed to copy chunk %d: %w", i, err)
		}
	}
	return written, nil
}

// CopyToData copies a stored file to data/<name>.
func (d *Disk) CopyToData(srcRel, name string) (string, error) {
	dst, err := utils.SecureJoin(DataDir, name)
	if err != nil {
		return "", err
	}
	in, err := d.fs.Open(d.abs(srcRel))
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", srcRel, err)
	}
	defer in.Close()

	if err := d.writeFrom(dst, in); err != nil {
		return "", err
	}
	return dst, nil
}

// RemoveStaging deletes the staging area of an upload recursively.
func (d *Disk) RemoveStaging(uploadID string) error {
	if err := d.fs.RemoveAll(d.abs(d.stagingDir(uploadID))); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	return nil
}

// RemoveSideFiles deletes the side files stored for an upload.
func (d *Disk) RemoveSideFiles(uploadID string) error {
	if err := d.fs.RemoveAll(d.abs(filepath.Join(MetadataDir, uploadID))); err != nil {
		return fmt.Errorf("failed to remove side files: %w", err)
	}
	return nil
}

// Open opens a file by its root-relative path.
func (d *Disk) Open(rel string) (afero.File, error) {
	return d.fs.Open(d.abs(rel))
}

// Stat stats a file by its root-relative path.
func (d *Disk) Stat(rel string) (os.FileInfo, error) {
	return d.fs.Stat(d.abs(rel))
}

// ReadFile reads a file by its root-relative path.
func (d *Disk) ReadFile(rel string) ([]byte, error) {
	return afero.ReadFile(d.fs, d.abs(rel))
}

// StoredFile describes a file found in one of the layout directories.
type StoredFile struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// List returns the regular, non-hidden files of a layout directory sorted
// by name.
func (d *Disk) List(dir string) ([]StoredFile, error) {
	infos, err := afero.ReadDir(d.fs, d.abs(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	files := make([]StoredFile, 0, len(infos))
	for _, info := range infos {
		if info.IsDir() || info.Name()[0] == '.' {
			continue
		}
		files = append(files, StoredFile{
			Name:    info.Name(),
			Path:    filepath.Join(dir, info.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (d *Disk) writeFrom(rel string, r io.Reader) error {
	out, err := d.fs.OpenFile(d.abs(rel), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", rel, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", rel, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", rel, err)
	}
	return nil
}

func (d *Disk) stagingDir(uploadID string) string {
	return filepath.Join(ChunksDir, uploadID)
}

func (d *Disk) chunkPath(uploadID string, index int) string {
	return filepath.Join(d.stagingDir(uploadID), "chunk_"+strconv.Itoa(index))
}

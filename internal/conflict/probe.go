package conflict

import (
	"errors"
	"io/fs"
	"os"
	"time"

	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
	"github.com/Aman-CERP/mdsentry/internal/filestate"
)

// FS is the filesystem surface the classifier and coordinator read from.
type FS interface {
	Stat(path string) (os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
}

// OSFS is FS backed by the os package.
type OSFS struct{}

func (OSFS) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }
func (OSFS) ReadFile(path string) ([]byte, error)  { return os.ReadFile(path) }
func (OSFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

// DiskStat is a fresh observation of a file on disk.
type DiskStat struct {
	Exists  bool
	ModTime time.Time
	Size    int64
	Info    os.FileInfo

	// Hash is the content hash. When the mtime pre-filter matched the
	// record it is copied from the record and Content is nil.
	Hash     string
	Content  []byte
	Rehashed bool

	// Err is a classified stat or read failure; Exists is meaningless when set.
	Err *serrors.SentryError
}

// Probe stats path and rehashes it only when mtime or size differ from rec.
// force skips the pre-filter. A missing file is reported as !Exists, never
// as an error.
func Probe(fsys FS, path string, rec *filestate.Record, force bool) DiskStat {
	info, err := fsys.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DiskStat{}
		}
		return DiskStat{Err: serrors.ClassifyIO(path, err)}
	}

	disk := DiskStat{
		Exists:  true,
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Info:    info,
	}

	if !force && rec != nil && rec.Known() && !rec.Missing &&
		rec.ModifiedAt.Equal(disk.ModTime) && rec.Size == disk.Size {
		disk.Hash = rec.ContentHash
		return disk
	}

	content, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DiskStat{}
		}
		return DiskStat{Err: serrors.ClassifyIO(path, err)}
	}
	disk.Content = content
	disk.Hash = filestate.HashContent(content)
	disk.Size = int64(len(content))
	disk.Rehashed = true
	return disk
}

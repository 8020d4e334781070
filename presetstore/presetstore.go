// Package presetstore implements the PresetStore interface of spec
// §6: "the core consumes an opaque byte buffer per preset via a
// PresetStore interface: save(id, bytes), load(id) -> bytes."
// Grounded on the daemon's log.go kept-open-file, flush-per-record
// discipline, adapted here to atomic temp-then-rename writes (no
// kept-open handle — presets are whole-file reads/writes, not an
// append log) plus strftime-based rotation naming for superseded
// versions, mirroring the daemon's daily log file naming.
package presetstore

import (
	"os"
	"path/filepath"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/oddnote/midimind/midierr"
)

// Store is the PresetStore interface spec §6 requires.
type Store interface {
	Save(id string, data []byte) error
	Load(id string) ([]byte, error)
}

// FileStore persists presets as individual files under Dir, named by
// id, with no extension interpretation — the core treats preset bytes
// as opaque.
type FileStore struct {
	Dir string

	// RotatePattern, if non-empty, is a strftime pattern used to name
	// the previous version of a preset when it is overwritten, so nothing
	// is silently lost on save(); e.g. "%Y%m%d-%H%M%S" (daemon's
	// daily-log-file naming idea, applied per-overwrite instead of
	// per-day).
	RotatePattern string

	now func() time.Time
}

// NewFileStore returns a FileStore rooted at dir, creating it if
// necessary.
func NewFileStore(dir string) (*FileStore, error) {
	const op = "presetstore.NewFileStore"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	return &FileStore{Dir: dir, now: time.Now}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.Dir, id)
}

// Save writes data for id atomically: write to a temp file in the same
// directory, then rename over the final path. If a prior version
// exists and RotatePattern is set, it is renamed aside first rather
// than overwritten silently.
func (s *FileStore) Save(id string, data []byte) error {
	const op = "presetstore.FileStore.Save"
	final := s.path(id)

	if s.RotatePattern != "" {
		if _, err := os.Stat(final); err == nil {
			if rerr := s.rotate(id, final); rerr != nil {
				return midierr.Wrap(op, midierr.KindTransportClosed, rerr)
			}
		}
	}

	tmp, err := os.CreateTemp(s.Dir, "."+id+".tmp-*")
	if err != nil {
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	return nil
}

func (s *FileStore) rotate(id, final string) error {
	stamp, err := strftime.Format(s.RotatePattern, s.now())
	if err != nil {
		return err
	}
	return os.Rename(final, final+"."+stamp)
}

// Load reads the stored bytes for id. A missing preset reports
// KindNotFound.
func (s *FileStore) Load(id string) ([]byte, error) {
	const op = "presetstore.FileStore.Load"
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, midierr.NotFound(op, "preset", id)
		}
		return nil, midierr.Wrap(op, midierr.KindTransportClosed, err)
	}
	return data, nil
}

var _ Store = (*FileStore)(nil)

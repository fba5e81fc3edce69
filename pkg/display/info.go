package display

import (
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/ajitpratap0/trellis/pkg/errors"
	jsonpool "github.com/ajitpratap0/trellis/pkg/json"
	"github.com/ajitpratap0/trellis/pkg/schema"
	"github.com/ajitpratap0/trellis/pkg/state"
)

// Info is the displayInfo.json document
type Info struct {
	Version     int               `json:"version"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Group       string            `json:"group,omitempty"`
	N           int               `json:"n"`
	KeyField    string            `json:"key_field"`
	Variables   []schema.Variable `json:"variables"`
	State       state.State       `json:"state"`
	Views       []state.NamedView `json:"views"`
	MetaData    string            `json:"meta_data"`
	Tags        []string          `json:"tags,omitempty"`
	Updated     time.Time         `json:"updated"`
}

// newInfo describes d as it will be written
func newInfo(d *Display) *Info {
	views := d.Views
	if views == nil {
		views = []state.NamedView{}
	}
	return &Info{
		Version:     formatVersion,
		Name:        d.Name,
		Description: d.Description,
		Group:       d.Group,
		N:           d.N(),
		KeyField:    schema.RowKeyField,
		Variables:   d.Vars,
		State:       d.State,
		Views:       views,
		MetaData:    MetaDataFile,
		Tags:        d.Tags,
		Updated:     d.Updated.UTC(),
	}
}

// Metadata returns the non-panel variables in column order
func (i *Info) Metadata() []schema.Variable {
	out := make([]schema.Variable, 0, len(i.Variables))
	for _, v := range i.Variables {
		if v.Kind != schema.KindPanel {
			out = append(out, v)
		}
	}
	return out
}

// Schema returns a frame with the display's metadata variables and no rows.
// States can be validated against it without loading the rows.
func (i *Info) Schema() (*schema.Frame, error) {
	return schema.NewFrame([]string{}, i.Metadata(), nil)
}

// Dir returns the directory of a display under root
func Dir(root, name string) string {
	return filepath.Join(root, DisplaysDir, name)
}

// LockPath returns the lock file guarding a display's directory and
// displayInfo.json. It lives beside the directory so a rebuild that swaps
// the directory keeps the lock.
func LockPath(root, name string) string {
	return filepath.Join(root, DisplaysDir, "."+name+".lock")
}

// ReadInfo reads the displayInfo.json of a display
func ReadInfo(root, name string) (*Info, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(Dir(root, name), InfoFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "display %q not found", name).
				WithDetail("display", name)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read display info").
			WithDetail("path", path)
	}

	var info Info
	if err := jsonpool.UnmarshalNumbers(data, &info); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed display info").
			WithDetail("path", path)
	}
	if info.Name != name {
		return nil, errors.Newf(errors.ErrorTypeData, "display info in %q names display %q", name, info.Name).
			WithDetail("path", path)
	}
	if info.Views == nil {
		info.Views = []state.NamedView{}
	}
	return &info, nil
}

// WriteInfo replaces the displayInfo.json of an existing display directory
func WriteInfo(root string, info *Info) error {
	data, err := jsonpool.MarshalIndent(info, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode display info")
	}
	return WriteFileAtomic(filepath.Join(Dir(root, info.Name), InfoFile), data)
}

// WriteFileAtomic writes data to a temporary file in the target directory
// and renames it over path, so readers see either the old or the new file.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create temporary file").
			WithDetail("path", path)
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write file").WithDetail("path", path)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to sync file").WithDetail("path", path)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close file").WithDetail("path", path)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to set file mode").WithDetail("path", path)
	}
	if err := os.Rename(name, path); err != nil {
		cleanup()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to replace file").WithDetail("path", path)
	}
	return nil
}

// WithLock runs fn while holding an exclusive advisory lock on path. Other
// processes using the same lock file wait until fn returns.
func WithLock(path string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create lock directory").
			WithDetail("path", path)
	}
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to acquire lock").
			WithDetail("path", path)
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}

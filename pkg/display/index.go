package display

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/ajitpratap0/trellis/pkg/errors"
	jsonpool "github.com/ajitpratap0/trellis/pkg/json"
)

// Index is the root index.json listing every display
type Index struct {
	Version  int          `json:"version"`
	Displays []IndexEntry `json:"displays"`
}

// IndexEntry describes one display in the index
type IndexEntry struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Group       string    `json:"group,omitempty"`
	Path        string    `json:"path"`
	N           int       `json:"n"`
	Updated     time.Time `json:"updated"`
}

// Lookup returns the entry of a display
func (x *Index) Lookup(name string) (IndexEntry, bool) {
	for _, e := range x.Displays {
		if e.Name == name {
			return e, true
		}
	}
	return IndexEntry{}, false
}

func (x *Index) upsert(e IndexEntry) {
	for i := range x.Displays {
		if x.Displays[i].Name == e.Name {
			x.Displays[i] = e
			return
		}
	}
	x.Displays = append(x.Displays, e)
	sort.Slice(x.Displays, func(i, j int) bool { return x.Displays[i].Name < x.Displays[j].Name })
}

func (x *Index) remove(name string) bool {
	for i := range x.Displays {
		if x.Displays[i].Name == name {
			x.Displays = append(x.Displays[:i], x.Displays[i+1:]...)
			return true
		}
	}
	return false
}

func indexEntry(d *Display) IndexEntry {
	return IndexEntry{
		Name:        d.Name,
		Description: d.Description,
		Group:       d.Group,
		Path:        path.Join(DisplaysDir, d.Name),
		N:           d.N(),
		Updated:     d.Updated.UTC(),
	}
}

func indexLockPath(root string) string {
	return filepath.Join(root, "."+IndexFile+".lock")
}

// ReadIndex reads the root index. A root without an index has no displays.
func ReadIndex(root string) (*Index, error) {
	p := filepath.Join(root, IndexFile)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &Index{Version: formatVersion, Displays: []IndexEntry{}}, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read index").WithDetail("path", p)
	}
	var x Index
	if err := jsonpool.Unmarshal(data, &x); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed index").WithDetail("path", p)
	}
	if x.Displays == nil {
		x.Displays = []IndexEntry{}
	}
	return &x, nil
}

// updateIndex applies fn to the index under the root lock
func updateIndex(root string, fn func(x *Index)) error {
	return WithLock(indexLockPath(root), func() error {
		x, err := ReadIndex(root)
		if err != nil {
			return err
		}
		fn(x)
		x.Version = formatVersion
		data, err := jsonpool.MarshalIndent(x, "", "  ")
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to encode index")
		}
		return WriteFileAtomic(filepath.Join(root, IndexFile), data)
	})
}

// Remove deletes a display directory and its index entry
func Remove(root, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	err := WithLock(LockPath(root, name), func() error {
		dir := Dir(root, name)
		if _, err := os.Stat(dir); err != nil {
			if os.IsNotExist(err) {
				return errors.Newf(errors.ErrorTypeNotFound, "display %q not found", name).
					WithDetail("display", name)
			}
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to stat display").WithDetail("path", dir)
		}
		if err := os.RemoveAll(dir); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to remove display").WithDetail("path", dir)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return updateIndex(root, func(x *Index) { x.remove(name) })
}

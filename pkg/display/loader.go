package display

import (
	"os"
	"path/filepath"

	"github.com/ajitpratap0/trellis/pkg/errors"
	jsonpool "github.com/ajitpratap0/trellis/pkg/json"
	"github.com/ajitpratap0/trellis/pkg/state"
)

// Load reads a written display back into memory. Panel values are not
// restored; the panel variable's source locates the assets.
func Load(root, name string) (*Display, error) {
	info, err := ReadInfo(root, name)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(Dir(root, name), MetaDataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read metadata").WithDetail("path", path)
	}
	var raw []map[string]interface{}
	if err := jsonpool.UnmarshalNumbers(data, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed metadata").WithDetail("path", path)
	}

	frame, err := DecodeRows(info.Metadata(), raw)
	if err != nil {
		return nil, err
	}
	if frame.Len() != info.N {
		return nil, errors.Newf(errors.ErrorTypeData, "display %q declares %d panels but has %d rows", name, info.N, frame.Len()).
			WithDetail("display", name)
	}

	views := info.Views
	if views == nil {
		views = []state.NamedView{}
	}
	return &Display{
		Name:        info.Name,
		Description: info.Description,
		Group:       info.Group,
		Tags:        info.Tags,
		Vars:        info.Variables,
		Frame:       frame,
		State:       info.State,
		Views:       views,
		Updated:     info.Updated,
	}, nil
}

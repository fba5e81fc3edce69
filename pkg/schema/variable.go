package schema

import (
	"net/url"
	"path"
	"strings"

	"github.com/ajitpratap0/trellis/pkg/errors"
	jsonpool "github.com/ajitpratap0/trellis/pkg/json"
)

// RowKeyField is the reserved field carrying the row key in metadata rows.
// No variable may use it as a name.
const RowKeyField = "__key"

// Variable describes one column of a display, including the panel column.
type Variable struct {
	Name        string
	Label       string
	Description string
	Kind        Kind

	// Levels is the ordered level list of a factor
	Levels []string
	// Min and Max bound numeric variables; nil when no value is present
	Min *float64
	Max *float64
	// Format is the currency code or the date layout
	Format string

	// Source resolves panel assets; only set on the panel variable
	Source PanelSource
}

// DisplayLabel returns the label, falling back to the name
func (v Variable) DisplayLabel() string {
	if v.Label != "" {
		return v.Label
	}
	return v.Name
}

// LevelIndex maps each level to its 0-based position
func (v Variable) LevelIndex() map[string]int {
	idx := make(map[string]int, len(v.Levels))
	for i, l := range v.Levels {
		idx[l] = i
	}
	return idx
}

type variableJSON struct {
	Name        string              `json:"name"`
	Label       string              `json:"label"`
	Description string              `json:"description,omitempty"`
	Kind        Kind                `json:"kind"`
	Levels      []string            `json:"levels,omitempty"`
	Min         *float64            `json:"min,omitempty"`
	Max         *float64            `json:"max,omitempty"`
	Format      string              `json:"format,omitempty"`
	Source      jsonpool.RawMessage `json:"source,omitempty"`
}

// MarshalJSON writes the descriptor with its panel source as a tagged object
func (v Variable) MarshalJSON() ([]byte, error) {
	out := variableJSON{
		Name:        v.Name,
		Label:       v.Label,
		Description: v.Description,
		Kind:        v.Kind,
		Levels:      v.Levels,
		Min:         v.Min,
		Max:         v.Max,
		Format:      v.Format,
	}
	if v.Source != nil {
		raw, err := MarshalPanelSource(v.Source)
		if err != nil {
			return nil, err
		}
		out.Source = raw
	}
	return jsonpool.Marshal(out)
}

// UnmarshalJSON reads a descriptor written by MarshalJSON
func (v *Variable) UnmarshalJSON(data []byte) error {
	var in variableJSON
	if err := jsonpool.Unmarshal(data, &in); err != nil {
		return err
	}
	if !in.Kind.Valid() {
		return errors.Newf(errors.ErrorTypeConfig, "variable %q has unknown kind %q", in.Name, in.Kind).
			WithDetail("variable", in.Name)
	}
	*v = Variable{
		Name:        in.Name,
		Label:       in.Label,
		Description: in.Description,
		Kind:        in.Kind,
		Levels:      in.Levels,
		Min:         in.Min,
		Max:         in.Max,
		Format:      in.Format,
	}
	if len(in.Source) > 0 && string(in.Source) != "null" {
		src, err := UnmarshalPanelSource(in.Source)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "variable "+in.Name+" has an invalid panel source").
				WithDetail("variable", in.Name)
		}
		v.Source = src
	}
	return nil
}

// SourceType tags the panel source variants
type SourceType string

const (
	// SourceTypeFile marks assets stored next to the display
	SourceTypeFile SourceType = "file"
	// SourceTypeURL marks assets hosted under a base URL
	SourceTypeURL SourceType = "url"
	// SourceTypeDynamic marks assets computed on request
	SourceTypeDynamic SourceType = "dynamic"
)

// PanelSource tells the viewer where a row's panel asset lives. It is a
// closed set: LocalFileSource, RemoteURLSource and DynamicSource.
type PanelSource interface {
	// Type returns the variant tag
	Type() SourceType
	// Extension returns the asset extension without the dot
	Extension() string
	// IsLocal reports whether assets are files inside the display directory
	IsLocal() bool
	// Locate returns the asset location of a row key
	Locate(key string) string

	panelSource()
}

// LocalFileSource serves assets from a directory inside the display
type LocalFileSource struct {
	Dir string
	Ext string
}

func (LocalFileSource) Type() SourceType { return SourceTypeFile }

func (s LocalFileSource) Extension() string { return s.Ext }

func (LocalFileSource) IsLocal() bool { return true }

func (s LocalFileSource) Locate(key string) string {
	return path.Join(s.Dir, key+"."+s.Ext)
}

func (LocalFileSource) panelSource() {}

// RemoteURLSource serves assets from BaseURL/<key>.<ext>
type RemoteURLSource struct {
	BaseURL string
	Ext     string
}

func (RemoteURLSource) Type() SourceType { return SourceTypeURL }

func (s RemoteURLSource) Extension() string { return s.Ext }

func (RemoteURLSource) IsLocal() bool { return false }

func (s RemoteURLSource) Locate(key string) string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + url.PathEscape(key) + "." + s.Ext
}

func (RemoteURLSource) panelSource() {}

// DynamicSource computes assets on request; {key} in URLTemplate is
// replaced by the escaped row key.
type DynamicSource struct {
	URLTemplate string
	Ext         string
}

func (DynamicSource) Type() SourceType { return SourceTypeDynamic }

func (s DynamicSource) Extension() string { return s.Ext }

func (DynamicSource) IsLocal() bool { return false }

func (s DynamicSource) Locate(key string) string {
	return strings.ReplaceAll(s.URLTemplate, "{key}", url.PathEscape(key))
}

func (DynamicSource) panelSource() {}

type sourceJSON struct {
	Type        SourceType `json:"type"`
	Local       bool       `json:"local"`
	Dir         string     `json:"dir,omitempty"`
	BaseURL     string     `json:"base_url,omitempty"`
	URLTemplate string     `json:"url_template,omitempty"`
	Ext         string     `json:"ext,omitempty"`
}

// MarshalPanelSource encodes a panel source with its type tag
func MarshalPanelSource(src PanelSource) ([]byte, error) {
	out := sourceJSON{Type: src.Type(), Local: src.IsLocal(), Ext: src.Extension()}
	switch s := src.(type) {
	case LocalFileSource:
		out.Dir = s.Dir
	case RemoteURLSource:
		out.BaseURL = s.BaseURL
	case DynamicSource:
		out.URLTemplate = s.URLTemplate
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal, "unhandled panel source %T", src)
	}
	return jsonpool.Marshal(out)
}

// UnmarshalPanelSource decodes a tagged panel source
func UnmarshalPanelSource(data []byte) (PanelSource, error) {
	var in sourceJSON
	if err := jsonpool.Unmarshal(data, &in); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "malformed panel source")
	}
	switch in.Type {
	case SourceTypeFile:
		return LocalFileSource{Dir: in.Dir, Ext: in.Ext}, nil
	case SourceTypeURL:
		return RemoteURLSource{BaseURL: in.BaseURL, Ext: in.Ext}, nil
	case SourceTypeDynamic:
		return DynamicSource{URLTemplate: in.URLTemplate, Ext: in.Ext}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown panel source type %q", in.Type)
	}
}

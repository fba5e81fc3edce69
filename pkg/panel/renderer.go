// Package panel materialises one asset file per display row and reports
// what was written. The report, not the renderer, is what serialization
// consumes.
package panel

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/ajitpratap0/trellis/pkg/schema"
)

// Renderer writes the asset of one row into dir and returns the written
// file name relative to dir. Failures are render errors.
type Renderer interface {
	Render(ctx context.Context, value interface{}, dir, key string) (string, error)
}

// RenderFunc adapts a function to the Renderer interface
type RenderFunc func(ctx context.Context, value interface{}, dir, key string) (string, error)

// Render calls f
func (f RenderFunc) Render(ctx context.Context, value interface{}, dir, key string) (string, error) {
	return f(ctx, value, dir, key)
}

// Func is a deferred panel: a callable producing the asset bytes
type Func func(ctx context.Context) ([]byte, error)

func renderError(key, format string, args ...interface{}) *errors.Error {
	return errors.Newf(errors.ErrorTypeRender, "row %q: "+format, append([]interface{}{key}, args...)...).
		WithDetail("key", key)
}

// FileRenderer takes a path to an already rendered asset and links or
// copies it into place. Relative paths resolve against BaseDir.
type FileRenderer struct {
	BaseDir string
}

// Render implements Renderer
func (r FileRenderer) Render(_ context.Context, value interface{}, dir, key string) (string, error) {
	src, ok := value.(string)
	if !ok || strings.TrimSpace(src) == "" {
		return "", renderError(key, "expected a file path, got %T", value)
	}
	if !filepath.IsAbs(src) && r.BaseDir != "" {
		src = filepath.Join(r.BaseDir, src)
	}

	info, err := os.Stat(src)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeRender, "panel file for row "+key+" is not readable").
			WithDetail("key", key).
			WithDetail("path", src)
	}
	if !info.Mode().IsRegular() {
		return "", renderError(key, "panel path %q is not a regular file", src)
	}

	ext, err := DetectExt(src)
	if err != nil {
		return "", err
	}
	name := key + "." + ext
	if err := LinkOrCopy(src, filepath.Join(dir, name)); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeRender, "failed to place panel for row "+key).
			WithDetail("key", key)
	}
	return name, nil
}

// MarkupRenderer writes an HTML fragment
type MarkupRenderer struct{}

// Render implements Renderer
func (MarkupRenderer) Render(_ context.Context, value interface{}, dir, key string) (string, error) {
	var markup []byte
	switch v := value.(type) {
	case string:
		markup = []byte(v)
	case []byte:
		markup = v
	default:
		return "", renderError(key, "expected markup, got %T", value)
	}
	name := key + ".html"
	if err := writeAsset(filepath.Join(dir, name), markup); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeRender, "failed to write panel for row "+key).
			WithDetail("key", key)
	}
	return name, nil
}

// BytesRenderer writes raw asset bytes, naming the file after their
// sniffed format
type BytesRenderer struct{}

// Render implements Renderer
func (BytesRenderer) Render(_ context.Context, value interface{}, dir, key string) (string, error) {
	data, ok := value.([]byte)
	if !ok {
		return "", renderError(key, "expected bytes, got %T", value)
	}
	if len(data) == 0 {
		return "", renderError(key, "panel is empty")
	}
	name := key + "." + DetectBytesExt(data)
	if err := writeAsset(filepath.Join(dir, name), data); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeRender, "failed to write panel for row "+key).
			WithDetail("key", key)
	}
	return name, nil
}

// FuncRenderer calls a deferred panel and writes what it returns
type FuncRenderer struct{}

// Render implements Renderer
func (FuncRenderer) Render(ctx context.Context, value interface{}, dir, key string) (string, error) {
	var fn Func
	switch v := value.(type) {
	case Func:
		fn = v
	case func(context.Context) ([]byte, error):
		fn = v
	case func() ([]byte, error):
		fn = func(context.Context) ([]byte, error) { return v() }
	default:
		return "", renderError(key, "expected a panel function, got %T", value)
	}

	data, err := fn(ctx)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeRender) {
			return "", err
		}
		return "", errors.Wrap(err, errors.ErrorTypeRender, "panel function failed for row "+key).
			WithDetail("key", key)
	}
	return BytesRenderer{}.Render(ctx, data, dir, key)
}

// Dispatch picks a built-in renderer from the Go type of each value:
// markup strings (starting with '<') go to MarkupRenderer, other strings
// are file paths, byte slices are raw assets and functions are deferred.
type Dispatch struct {
	BaseDir string
}

// Render implements Renderer
func (d Dispatch) Render(ctx context.Context, value interface{}, dir, key string) (string, error) {
	if schema.IsMissing(value) {
		return "", renderError(key, "row has no panel value")
	}
	switch v := value.(type) {
	case string:
		if strings.HasPrefix(strings.TrimSpace(v), "<") {
			return MarkupRenderer{}.Render(ctx, v, dir, key)
		}
		return FileRenderer{BaseDir: d.BaseDir}.Render(ctx, v, dir, key)
	case []byte:
		return BytesRenderer{}.Render(ctx, v, dir, key)
	case Func, func(context.Context) ([]byte, error), func() ([]byte, error):
		return FuncRenderer{}.Render(ctx, v, dir, key)
	default:
		return "", renderError(key, "unsupported panel value %T", value)
	}
}

func writeAsset(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LinkOrCopy places src at dst, replacing dst. It hard-links when the two
// share a filesystem and copies otherwise.
func LinkOrCopy(src, dst string) error {
	if si, err := os.Stat(src); err == nil {
		if di, err := os.Stat(dst); err == nil && os.SameFile(si, di) {
			return nil
		}
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

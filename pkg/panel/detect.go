package panel

import (
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/gabriel-vasile/mimetype"
)

// generic types say nothing about the panel format
var genericTypes = []string{"text/plain", "application/octet-stream"}

// DetectExt returns the extension, without the dot, of the bytes stored at
// path. Content decides; the file name is consulted only when the content
// sniffs as generic text or binary.
func DetectExt(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to read panel asset").
			WithDetail("path", path)
	}
	return extFor(mt, path), nil
}

// DetectBytesExt returns the extension of in-memory content
func DetectBytesExt(data []byte) string {
	return extFor(mimetype.Detect(data), "")
}

func extFor(mt *mimetype.MIME, name string) string {
	generic := false
	for _, g := range genericTypes {
		if mt.Is(g) {
			generic = true
			break
		}
	}
	if !generic && mt.Extension() != "" {
		return normalizeExt(mt.Extension())
	}
	if ext := filepath.Ext(name); ext != "" {
		return normalizeExt(ext)
	}
	if mt.Is("text/plain") {
		return "txt"
	}
	return "bin"
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "htm" {
		return "html"
	}
	return ext
}

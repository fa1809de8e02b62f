// Package naming derives on-disk file names from remote sources and captions.
package naming

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrNoFileName is returned when the source has no usable final segment.
	ErrNoFileName = errors.New("source has no file name")
	// ErrInvalidName is returned when a caption cannot be used as a file name.
	ErrInvalidName = errors.New("invalid file name")
)

// FileName computes the file name for source, which is either a
// messaging-API file path ("photos/file_12.jpg") or an absolute URL.
//
// With a caption, the caption is the base name; its own extension wins,
// otherwise the source extension is appended. Without a caption, the final
// segment of the source is used verbatim. A blank caption counts as absent.
func FileName(source string, caption *string) (string, error) {
	segment := lastSegment(source)

	if caption != nil {
		if name := sanitize(*caption); name != "" {
			if name == "." || name == ".." {
				return "", fmt.Errorf("%w: %q", ErrInvalidName, *caption)
			}
			if path.Ext(name) != "" {
				return name, nil
			}
			return name + path.Ext(segment), nil
		}
	}

	if segment == "" || segment == "." || segment == ".." {
		return "", fmt.Errorf("%w: %q", ErrNoFileName, source)
	}
	return segment, nil
}

// Destination joins root with the computed file name.
func Destination(root, source string, caption *string) (string, error) {
	name, err := FileName(source, caption)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, name), nil
}

// lastSegment returns the final path segment of source. For URLs the query
// and fragment are ignored, and a URL with no path at all is named after its
// host.
func lastSegment(source string) string {
	p := source
	if u, err := url.Parse(source); err == nil && u.IsAbs() && u.Host != "" {
		if u.Path == "" {
			return u.Host
		}
		p = u.Path
	}
	if p == "" || strings.HasSuffix(p, "/") {
		return ""
	}
	return path.Base(p)
}

// sanitize keeps a caption inside a single flat directory.
func sanitize(caption string) string {
	name := strings.TrimSpace(caption)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\':
			return '_'
		case 0:
			return -1
		}
		return r
	}, name)
}

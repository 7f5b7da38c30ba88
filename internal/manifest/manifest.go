// Package manifest reads YAML image manifests.
//
// A manifest lists archive entries explicitly, in the order they should be
// enumerated:
//
//	entries:
//	  - path: /test.txt
//	    content: "hello"
//	  - path: /folder/test.txt
//	    source: host/test.txt
//	  - path: /folder/blank
//	    size: 16
//	  - path: /folder/dummy
//	    dir: true
//
// Each entry sets exactly one of content, source, size, or dir. Sources are
// host files resolved relative to the manifest's directory; size creates a
// zero-filled file.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/meigma/efs"
)

// Manifest is a list of archive entries.
type Manifest struct {
	Entries []Entry `yaml:"entries"`
}

// Entry is one directory or file.
type Entry struct {
	// Path is the absolute archive path.
	Path string `yaml:"path"`

	// Content is inline file content.
	Content *string `yaml:"content,omitempty"`

	// Source is a host file whose content is packed.
	Source string `yaml:"source,omitempty"`

	// Size creates a zero-filled file of this many bytes.
	Size *int64 `yaml:"size,omitempty"`

	// Dir creates a directory.
	Dir bool `yaml:"dir,omitempty"`
}

// ErrInvalidEntry is returned for entries that do not set exactly one kind.
var ErrInvalidEntry = errors.New("manifest: entry must set exactly one of content, source, size, dir")

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes and validates a manifest. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	for i, e := range m.Entries {
		if e.Path == "" {
			return nil, fmt.Errorf("entry %d: missing path", i)
		}
		kinds := 0
		for _, set := range []bool{e.Content != nil, e.Source != "", e.Size != nil, e.Dir} {
			if set {
				kinds++
			}
		}
		if kinds != 1 {
			return nil, fmt.Errorf("entry %d (%s): %w", i, e.Path, ErrInvalidEntry)
		}
	}
	return &m, nil
}

// Apply stages every entry into b. Relative sources are resolved against
// baseDir. Source files are stat'ed now and read when the image is packed.
func (m *Manifest) Apply(b *efs.Builder, baseDir string) error {
	for _, e := range m.Entries {
		if err := apply(b, baseDir, e); err != nil {
			return fmt.Errorf("%s: %w", e.Path, err)
		}
	}
	return nil
}

func apply(b *efs.Builder, baseDir string, e Entry) error {
	switch {
	case e.Dir:
		return b.Mkdir(e.Path)
	case e.Content != nil:
		return b.AddBytes(e.Path, []byte(*e.Content))
	case e.Size != nil:
		n := *e.Size
		return b.AddFile(e.Path, n, func() (io.ReadCloser, error) {
			return io.NopCloser(io.LimitReader(zeros{}, n)), nil
		})
	default:
		src := e.Source
		if !filepath.IsAbs(src) {
			src = filepath.Join(baseDir, src)
		}
		info, err := os.Stat(src)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("source %s is not a regular file", src)
		}
		return b.AddFile(e.Path, info.Size(), func() (io.ReadCloser, error) {
			return os.Open(src) //nolint:gosec // manifest-provided path is intentional
		})
	}
}

// zeros is an endless reader of zero bytes.
type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

package source

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Dir is a non-recursive local directory source.
type Dir struct {
	root string
}

// NewDir returns a source over the files directly under root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) List(_ context.Context) ([]Object, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read dir %s", d.root)
	}

	objs := make([]Object, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, eris.Wrapf(err, "source: stat %s", e.Name())
		}
		objs = append(objs, Object{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sortObjects(objs)
	return objs, nil
}

func (d *Dir) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if name != filepath.Base(name) {
		return nil, eris.Errorf("source: %q is not a plain file name", name)
	}
	f, err := os.Open(filepath.Join(d.root, name))
	if err != nil {
		return nil, eris.Wrapf(err, "source: open %s", name)
	}
	return f, nil
}

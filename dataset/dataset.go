// Package dataset reads and writes the (features, target) splits consumed by
// the search and promotion runners.
package dataset

import (
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// File names of the three splits under a data directory.
const (
	TrainFile = "train.pkl"
	ValFile   = "val.pkl"
	TestFile  = "test.pkl"
)

// Split is one (feature matrix, target vector) pair.
type Split struct {
	X [][]float64
	Y []float64
}

// Len returns the number of rows.
func (s Split) Len() int {
	return len(s.X)
}

// Load decodes a split from path. A ".gz" suffix is decompressed.
func Load(path string) (Split, error) {
	f, err := os.Open(path)
	if err != nil {
		return Split{}, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return Split{}, errors.Wrapf(err, "opening gzip stream %s", path)
		}
		defer gz.Close()
		r = gz
	}

	var s Split
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return Split{}, errors.Wrapf(err, "decoding %s", path)
	}
	return s, nil
}

// Save encodes a split to path. A ".gz" suffix is compressed.
func Save(path string, s Split) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "closing %s", path)
		}
	}()

	var w io.Writer = f
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		defer func() {
			if cerr := gz.Close(); err == nil && cerr != nil {
				err = errors.Wrapf(cerr, "flushing %s", path)
			}
		}()
		w = gz
	}

	return errors.Wrapf(gob.NewEncoder(w).Encode(s), "encoding %s", path)
}

// LoadFiles loads the named files under dir, in order. When a file is missing
// its compressed "<name>.gz" sibling is read instead. The first error aborts.
func LoadFiles(dir string, names ...string) ([]Split, error) {
	out := make([]Split, 0, len(names))
	for _, name := range names {
		s, err := Load(resolve(filepath.Join(dir, name)))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func resolve(path string) string {
	if _, err := os.Stat(path); !os.IsNotExist(err) || strings.HasSuffix(path, ".gz") {
		return path
	}
	if _, err := os.Stat(path + ".gz"); err == nil {
		return path + ".gz"
	}
	return path
}

package forest

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Load decodes a forest written by Save.
func Load(r io.Reader) (*Forest, error) {
	var f Forest
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "decoding forest")
	}
	return &f, nil
}

// Save writes the forest as JSON.
func (f *Forest) Save(w io.Writer) error {
	return errors.Wrap(json.NewEncoder(w).Encode(f), "encoding forest")
}

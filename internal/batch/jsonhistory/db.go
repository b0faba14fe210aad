// Package jsonhistory implements batch.History as a JSON file, so that the
// record of completed batches survives process restarts.
package jsonhistory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"emperror.dev/errors"
	"github.com/aviator-co/bifrost/internal/batch"
)

type DB struct {
	mu       sync.Mutex
	state    *state
	filepath string
}

type state struct {
	Batches []batch.Batch `json:"batches"`
}

// Open opens a JSON history file at the given path.
// If the file does not exist, it is created on the first Append.
func Open(filepath string) (*DB, error) {
	state, err := readState(filepath)
	if err != nil {
		return nil, err
	}
	return &DB{state: state, filepath: filepath}, nil
}

func readState(filepath string) (*state, error) {
	data, err := os.ReadFile(filepath)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	var state state
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.WrapIff(err, "failed to read batch history file %q", filepath)
	}
	return &state, nil
}

func (d *state) write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WrapIff(err, "failed to create directory for batch history file")
	}
	// Write to a temporary file first so that a crash never leaves a
	// truncated history behind.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.WrapIff(err, "failed to write batch history file")
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		_ = f.Close()
		return errors.WrapIff(err, "failed to write batch history file")
	}
	if err := f.Close(); err != nil {
		return errors.WrapIff(err, "failed to write batch history file")
	}
	return os.Rename(tmp, path)
}

func (db *DB) Append(b batch.Batch) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	next := state{Batches: append(append([]batch.Batch(nil), db.state.Batches...), b.Copy())}
	if err := next.write(db.filepath); err != nil {
		return err
	}
	db.state = &next
	return nil
}

func (db *DB) All() []batch.Batch {
	db.mu.Lock()
	defer db.mu.Unlock()
	all := make([]batch.Batch, 0, len(db.state.Batches))
	for _, b := range db.state.Batches {
		all = append(all, b.Copy())
	}
	return all
}

var _ batch.History = &DB{}

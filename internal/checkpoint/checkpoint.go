// Package checkpoint persists the best model of a training run.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/nn"
	"traffic_forecaster/internal/preprocess"
)

var (
	ErrNotFound = errors.New("checkpoint not found")
	ErrCorrupt  = errors.New("checkpoint corrupt")
)

// Checkpoint is everything needed to rebuild a trained predictor: shapes,
// parameters and the normalization fitted on the training data.
type Checkpoint struct {
	RunID        string                `json:"run_id"`
	Epoch        int                   `json:"epoch"`
	ValLoss      float64               `json:"val_loss"`
	Architecture forecast.Architecture `json:"architecture"`
	Scaler       preprocess.Scaler     `json:"scaler"`
	State        nn.StateDict          `json:"state"`
	CreatedAt    time.Time             `json:"created_at"`
}

// FileStore keeps a single checkpoint at Path, replacing it atomically.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Save writes ck to a temp file in the target directory, syncs it and
// renames it over Path. Readers never observe a partial file.
func (s *FileStore) Save(ck *Checkpoint) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(ck); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint at Path.
func (s *FileStore) Load() (*Checkpoint, error) {
	return Load(s.Path)
}

// Load reads a checkpoint file.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()

	var ck Checkpoint
	if err := json.NewDecoder(f).Decode(&ck); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if len(ck.State) == 0 {
		return nil, fmt.Errorf("%w: %s: no parameters", ErrCorrupt, path)
	}
	return &ck, nil
}

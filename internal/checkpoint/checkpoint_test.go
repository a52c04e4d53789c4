package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/nn"
	"traffic_forecaster/internal/preprocess"
)

func sample(epoch int) *Checkpoint {
	return &Checkpoint{
		RunID:        "run-1",
		Epoch:        epoch,
		ValLoss:      0.125,
		Architecture: forecast.DefaultArchitecture(12),
		Scaler:       preprocess.Scaler{Mean: 2500, Std: 800},
		State: nn.StateDict{
			"head.out.weight": nn.FromData([]float64{0.5, -0.25}, 1, 2),
			"head.out.bias":   nn.FromData([]float64{0.1}, 1),
		},
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "best.json")
	s := NewFileStore(path)

	require.NoError(t, s.Save(sample(3)))
	got, err := s.Load()
	require.NoError(t, err)
	if diff := cmp.Diff(sample(3), got); diff != "" {
		t.Errorf("checkpoint mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStore_SaveReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "best.json")
	s := NewFileStore(path)

	require.NoError(t, s.Save(sample(1)))
	require.NoError(t, s.Save(sample(7)))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Epoch)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "best.json", entries[0].Name())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, ErrNotFound)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = Load(bad)
	assert.ErrorIs(t, err, ErrCorrupt)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"epoch": 2}`), 0o644))
	_, err = Load(empty)
	assert.ErrorIs(t, err, ErrCorrupt)
}

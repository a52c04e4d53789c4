package report

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlotHistory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plots")

	path, err := PlotHistory(dir, []float64{1.2, 0.8, 0.5, 0.4}, []float64{1.0, 0.7, 0.6, 0.65})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, HistoryFile), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := png.DecodeConfig(f)
	require.NoError(t, err)
	assert.Greater(t, cfg.Width, 0)
}

func TestPlotHistory_Empty(t *testing.T) {
	_, err := PlotHistory(t.TempDir(), nil, nil)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestPlotForecast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "forecast.png")
	require.NoError(t, PlotForecast(path, []float64{100, 300, 250}, []float64{120, 280, 260}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.ErrorIs(t, PlotForecast(path, nil, nil), ErrNoData)
}

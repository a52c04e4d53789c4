package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"traffic_forecaster/internal/model"
)

// Load reads a single CSV file, or every *.csv file in a directory merged
// in file name order.
func Load(path string) (model.Series, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return ReadFile(path)
	}
	return ReadDir(path)
}

// ReadDir parses all *.csv files in dir and merges them. Later files win on
// duplicate timestamps.
func ReadDir(dir string) (model.Series, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading input directory: %w", err)
	}

	var parts []model.Series
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		s, err := ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no CSV files in %s", model.ErrEmptySeries, dir)
	}
	return Merge(parts...), nil
}

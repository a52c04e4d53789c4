package ingest

import (
	"io"

	"traffic_forecaster/internal/model"
)

// Parser reads traffic observations from a source and returns a series.
type Parser interface {
	Parse(r io.Reader) (model.Series, error)
}

package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"traffic_forecaster/internal/model"
)

// TimestampLayout is the layout written by WriteCSV and used by the API.
const TimestampLayout = "2006-01-02 15:04:05"

// CSVParser parses hourly traffic CSV files.
//
// Expected format:
//
//	timestamp,flow
//	2024-04-01 08:00:00,3012
//
// Timestamps may also be RFC 3339 or Unix epoch seconds. Rows that fail to
// parse are skipped. The result is sorted by time; for duplicate timestamps
// the last row wins.
type CSVParser struct {
	// Location for timestamps without a zone. Defaults to UTC.
	Location *time.Location
}

func (p *CSVParser) Parse(r io.Reader) (model.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return nil, err
	}

	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	var series model.Series
	lineNum := 1 // header was line 1

	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", lineNum, err)
		}

		point, err := parseRecord(record, lineNum, loc)
		if err != nil {
			continue
		}
		series = append(series, point)
	}

	return normalize(series), nil
}

func validateHeader(header []string) error {
	if len(header) < 2 {
		return fmt.Errorf("expected at least 2 columns, got %d", len(header))
	}

	expected := []string{"timestamp", "flow"}
	for i, col := range expected {
		if strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")) != col {
			return fmt.Errorf("expected column %d to be %q, got %q", i, col, header[i])
		}
	}

	return nil
}

func parseRecord(record []string, lineNum int, loc *time.Location) (model.SeriesPoint, error) {
	if len(record) < 2 {
		return model.SeriesPoint{}, fmt.Errorf("line %d: expected 2 fields, got %d", lineNum, len(record))
	}

	ts, err := ParseTimestamp(strings.TrimSpace(record[0]), loc)
	if err != nil {
		return model.SeriesPoint{}, fmt.Errorf("line %d: parsing timestamp: %w", lineNum, err)
	}

	raw := strings.TrimSpace(record[1])
	flow, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return model.SeriesPoint{}, fmt.Errorf("line %d: parsing flow: %w", lineNum, err)
	}
	if flow < 0 || math.IsNaN(flow) || math.IsInf(flow, 0) {
		return model.SeriesPoint{}, fmt.Errorf("line %d: invalid flow %q", lineNum, raw)
	}

	return model.SeriesPoint{Timestamp: ts, Flow: int(math.Round(flow))}, nil
}

// ParseTimestamp accepts "2006-01-02 15:04:05", RFC 3339 or Unix seconds.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(TimestampLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), nil
}

// normalize sorts by time and keeps the last point for each timestamp.
func normalize(s model.Series) model.Series {
	slices.SortStableFunc(s, func(a, b model.SeriesPoint) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	out := s[:0]
	for _, p := range s {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(p.Timestamp) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// WriteCSV writes s in the format CSVParser reads.
func WriteCSV(w io.Writer, s model.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "flow"}); err != nil {
		return err
	}
	for _, p := range s {
		if err := cw.Write([]string{p.Timestamp.Format(TimestampLayout), strconv.Itoa(p.Flow)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadFile parses the CSV file at path.
func ReadFile(path string) (model.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	series, err := (&CSVParser{}).Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return series, nil
}

// WriteFile writes s to path as CSV.
func WriteFile(path string, s model.Series) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Merge combines series, later ones overriding earlier ones on equal
// timestamps.
func Merge(series ...model.Series) model.Series {
	var all model.Series
	for _, s := range series {
		all = append(all, s...)
	}
	return normalize(all)
}

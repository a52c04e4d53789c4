// generate writes a synthetic hourly traffic series and, given a trained
// checkpoint, the model's forecast for the hours that follow it.
//
// Usage:
//
//	generate
//	generate -n 2000 -pattern sinusoidal -out input/flow.csv
//	generate -hours 48 -clean
//	generate -forecast 24 -checkpoint models/best_model.json
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"traffic_forecaster/internal/checkpoint"
	"traffic_forecaster/internal/generator"
	"traffic_forecaster/internal/ingest"
	"traffic_forecaster/internal/predictor"
)

func main() {
	n := flag.Int("n", 1000, "number of hourly points to generate")
	pattern := flag.String("pattern", "bimodal", "daily pattern: bimodal or sinusoidal")
	noise := flag.Float64("noise", 0.1, "multiplicative noise std")
	clean := flag.Bool("clean", false, "omit noise and drift (deterministic output)")
	seed := flag.Uint64("seed", 0, "random seed (0 = use current time)")
	endStr := flag.String("end", "", "timestamp of the last point, 2006-01-02 15:04:05 (default: current hour)")
	out := flag.String("out", "", "write CSV to this path instead of printing a table")
	steps := flag.Int("forecast", 0, "forecast this many hours past the series with -checkpoint")
	ckPath := flag.String("checkpoint", "models/best_model.json", "checkpoint used by -forecast")
	flag.Parse()

	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}
	p, err := generator.ParsePattern(*pattern)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	end := time.Now()
	if *endStr != "" {
		if end, err = ingest.ParseTimestamp(*endStr, time.Local); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing -end: %v\n", err)
			os.Exit(1)
		}
	}

	cfg := generator.DefaultConfig()
	cfg.Pattern = p
	cfg.Seed = *seed
	noiseLevel := *noise
	if *clean {
		cfg.DriftStd = 0
		noiseLevel = 0
	}
	g, err := generator.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	series, err := g.Generate(*n, end, noiseLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating series: %v\n", err)
		os.Exit(1)
	}

	if *out != "" {
		if err := ingest.WriteFile(*out, series); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *out, err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %d points (%s pattern, seed %d) to %s\n", len(series), p, *seed, *out)
	} else {
		fmt.Printf("%-20s  %5s  %8s\n", "Time", "Hour", "Flow")
		fmt.Printf("%-20s  %5s  %8s\n", "--------------------", "-----", "--------")
		for _, pt := range series {
			fmt.Printf("%-20s  %5d  %8d\n", pt.Timestamp.Format(ingest.TimestampLayout), pt.Timestamp.Hour(), pt.Flow)
		}
	}

	if *steps <= 0 {
		return
	}

	// Any trained shape is accepted: the checkpoint's own architecture is used.
	ck, err := checkpoint.Load(*ckPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading checkpoint: %v\n", err)
		os.Exit(1)
	}
	pred, err := predictor.New(ck, ck.Architecture)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading model: %v\n", err)
		os.Exit(1)
	}
	fs, err := pred.ForecastHorizon(series, *steps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error forecasting: %v\n", err)
		os.Exit(1)
	}

	info := pred.Info()
	fmt.Printf("\nForecast from run %s (epoch %d, %s pooling, window %d):\n", info.RunID, info.Epoch, info.Pooling, info.WindowLength)
	fmt.Printf("%-20s  %10s  %10s\n", "Time", "Forecast", "Profile")
	fmt.Printf("%-20s  %10s  %10s\n", "--------------------", "----------", "----------")
	for _, f := range fs {
		profile := g.Daily(f.Timestamp.Hour()) * generator.WeekdayFactor(f.Timestamp)
		fmt.Printf("%-20s  %10.0f  %10.0f\n", f.Timestamp.Format(ingest.TimestampLayout), f.Value, profile)
	}
}

// train fits the convolution + attention forecaster on a traffic series and
// keeps the best checkpoint by validation loss.
//
// Usage:
//
//	train
//	train -series input/flow.csv -epochs 50
//	train -pattern sinusoidal -n 2000 -pooling self_attention
//	train -compare -report-dir reports
//	train -series input/flow.csv -frames input/frames
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"traffic_forecaster/internal/evaluate"
	"traffic_forecaster/internal/forecast"
	"traffic_forecaster/internal/generator"
	"traffic_forecaster/internal/imageio"
	"traffic_forecaster/internal/ingest"
	"traffic_forecaster/internal/model"
	"traffic_forecaster/internal/observability"
	"traffic_forecaster/internal/pipeline"
	"traffic_forecaster/internal/report"
	"traffic_forecaster/internal/trainer"
)

func main() {
	seriesPath := flag.String("series", "", "CSV file or directory with timestamp,flow rows (empty = synthetic)")
	n := flag.Int("n", 1000, "synthetic series length in hours")
	pattern := flag.String("pattern", "bimodal", "synthetic daily pattern: bimodal or sinusoidal")
	noise := flag.Float64("noise", 0.1, "synthetic multiplicative noise std")
	window := flag.Int("window", 12, "input window length in hours")
	pooling := flag.String("pooling", "attention", "temporal pooling: attention or self_attention")
	compare := flag.Bool("compare", false, "train both poolings and print a comparison table")
	epochs := flag.Int("epochs", 100, "maximum training epochs")
	batchSize := flag.Int("batch-size", 32, "mini-batch size")
	lr := flag.Float64("lr", 0.001, "learning rate")
	patience := flag.Int("patience", 5, "epochs without improvement before stopping")
	noAugment := flag.Bool("no-augment", false, "train on the original windows only")
	seed := flag.Uint64("seed", 42, "random seed")
	ckPath := flag.String("checkpoint", "models/best_model.json", "path of the best-model checkpoint")
	reportDir := flag.String("report-dir", "", "directory for training-curve and forecast plots (empty = none)")
	logLevel := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	framesDir := flag.String("frames", "", "directory of camera frames named "+imageio.FrameLayout+".<ext> (empty = flow only)")
	frameSize := flag.Int("frame-size", 64, "edge length frames are resized to before averaging")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	series, err := loadSeries(*seriesPath, *pattern, *n, *noise, *seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading series: %v\n", err)
		os.Exit(1)
	}
	tr, _ := series.TimeRange()
	fmt.Printf("Series: %d points, %s to %s\n", len(series), tr.Start.Format("2006-01-02 15:04"), tr.End.Format("2006-01-02 15:04"))

	var frames *imageio.Frames
	if *framesDir != "" {
		frames, err = imageio.LoadFrames(*framesDir, *frameSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading frames: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Frames: %d loaded from %s\n", frames.Len(), *framesDir)
	}

	poolings := []string{*pooling}
	if *compare {
		poolings = []string{string(forecast.PoolingAttention), string(forecast.PoolingSelfAttention)}
	}

	logger := observability.NewLogger(*logLevel, "text")
	reports := make(map[string]evaluate.Report, len(poolings))
	for _, name := range poolings {
		p, err := forecast.ParsePooling(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cfg := pipeline.DefaultConfig(*window)
		cfg.Architecture.Pooling = p
		if frames != nil {
			cfg.Architecture.ImageFeatures = imageio.Channels
			cfg.Frames = frames
		}
		cfg.Trainer = trainer.Config{
			MaxEpochs:    *epochs,
			BatchSize:    *batchSize,
			LearningRate: *lr,
			Patience:     *patience,
			Seed:         *seed,
		}
		cfg.Augment = !*noAugment
		cfg.CheckpointPath = *ckPath
		cfg.ReportDir = *reportDir
		if *compare {
			cfg.CheckpointPath = withSuffix(*ckPath, string(p))
			if *reportDir != "" {
				cfg.ReportDir = filepath.Join(*reportDir, string(p))
			}
		}

		fmt.Printf("\n=== %s pooling ===\n", p)
		fmt.Printf("Training: window=%d epochs=%d lr=%.4f batch_size=%d patience=%d seed=%d\n",
			*window, cfg.Trainer.MaxEpochs, cfg.Trainer.LearningRate, cfg.Trainer.BatchSize, cfg.Trainer.Patience, *seed)

		res, err := pipeline.New(cfg, logger, trainer.WithCallback(printEpoch)).Run(ctx, series)
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Interrupted.")
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error training %s model: %v\n", p, err)
			os.Exit(1)
		}

		h := res.History
		fmt.Printf("Training samples: %d (after augmentation)\n", res.TrainSize)
		fmt.Printf("Best epoch:       %d of %d (val loss %.6f)\n", h.BestEpoch, h.Epochs, h.BestValLoss)
		if h.StoppedEarly {
			fmt.Printf("Stopped early after %d epochs without improvement\n", cfg.Trainer.Patience)
		}
		fmt.Printf("Checkpoint saved to %s\n", cfg.CheckpointPath)

		printReport(res.Report)
		reports[string(p)] = res.Report

		if cfg.ReportDir != "" {
			fmt.Printf("Training curve: %s\n", res.PlotPath)
			fc := filepath.Join(cfg.ReportDir, "test_forecast.png")
			if err := report.PlotForecast(fc, res.Actuals, res.Predictions); err != nil {
				fmt.Fprintf(os.Stderr, "Error plotting forecast: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Test forecast:  %s\n", fc)
		}
	}

	if *compare {
		fmt.Println("\n=== Comparison ===")
		if err := evaluate.WriteComparison(os.Stdout, reports); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing comparison: %v\n", err)
			os.Exit(1)
		}
	}
}

func loadSeries(path, pattern string, n int, noise float64, seed uint64) (model.Series, error) {
	if path != "" {
		return ingest.Load(path)
	}
	p, err := generator.ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	cfg := generator.DefaultConfig()
	cfg.Pattern = p
	cfg.Seed = seed
	g, err := generator.New(cfg)
	if err != nil {
		return nil, err
	}
	return g.GenerateRecent(n, noise)
}

func printEpoch(r trainer.EpochResult) {
	mark := ""
	if r.Improved {
		mark = "  *"
	}
	fmt.Printf("  epoch %3d/%d  train %.6f  val %.6f%s\n", r.Epoch, r.MaxEpochs, r.TrainLoss, r.ValLoss, mark)
}

func printReport(r evaluate.Report) {
	fmt.Println("\nTest set:")
	fmt.Printf("  %-12s %10s %10s %10s\n", "", "MAE", "RMSE", "MAPE %")
	fmt.Printf("  %-12s %10.2f %10.2f %10.2f\n", "overall", r.Overall.MAE, r.Overall.RMSE, r.Overall.MAPE)
	fmt.Printf("  %-12s %10.2f %10.2f %10.2f\n", "peak hours", r.Peak.MAE, r.Peak.RMSE, r.Peak.MAPE)
	fmt.Printf("  Change-point delay: mean %.2fh, std %.2fh over %d events\n", r.Delay.Mean, r.Delay.Std, r.Delay.Events)
}

// withSuffix turns models/best.json into models/best_<suffix>.json.
func withSuffix(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + suffix + ext
}

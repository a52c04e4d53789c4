// load-analysis prints how traffic volume is distributed over the day and
// how much of the peak overflow could be absorbed by spreading trips to
// neighbouring hours.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"traffic_forecaster/internal/analysis"
	"traffic_forecaster/internal/ingest"
	"traffic_forecaster/internal/model"
	"traffic_forecaster/internal/store"
)

const seriesID = "traffic"

type HourlyBucket struct {
	Vehicles   float64
	Count      int
	WeekdaySum float64
	WeekdayN   int
	WeekendSum float64
	WeekendN   int
}

type ShiftResult struct {
	Overflow float64
	Absorbed float64
	Residual float64
	Days     int
}

func main() {
	seriesPath := flag.String("series", "input", "CSV file or directory with timestamp,flow rows")
	capacity := flag.Float64("capacity", 0, "hourly capacity in vehicles (0 = 90th percentile of the series)")
	shiftWindow := flag.Int("shift-window", 2, "max hours a trip may move")
	flag.Parse()

	series, err := ingest.Load(*seriesPath)
	if err != nil {
		log.Fatalf("Loading series: %v", err)
	}
	dataStore := store.New()
	dataStore.Add(seriesID, series)

	tr, ok := dataStore.GlobalTimeRange()
	if !ok {
		log.Fatal("No data loaded")
	}
	points := dataStore.Range(seriesID, tr.Start, tr.End.Add(time.Nanosecond))
	days := tr.End.Sub(tr.Start).Hours() / 24

	fmt.Println()
	fmt.Println("Traffic Load Analysis")
	fmt.Printf("  Data: %s to %s (%.0f days, %d points)\n",
		tr.Start.Format("2006-01-02"), tr.End.Format("2006-01-02"), days, len(points))
	fmt.Println()

	stats, err := analysis.Compute(points)
	if err != nil {
		log.Fatalf("Computing statistics: %v", err)
	}
	patterns, err := analysis.Analyze(points)
	if err != nil {
		log.Fatalf("Analyzing patterns: %v", err)
	}
	fmt.Printf("  Mean: %.1f   Min: %.0f   Max: %.0f   Std: %.1f veh/h\n",
		stats.Mean, stats.Min, stats.Max, stats.Std)
	fmt.Printf("  Weekday avg: %.1f   Weekend avg: %.1f\n", patterns.WeekdayAvg, patterns.WeekendAvg)
	fmt.Printf("  Morning rush: %.1f   Evening rush: %.1f   Peak ratio: %.2f (%s)\n",
		patterns.MorningPeakAvg, patterns.EveningPeakAvg, patterns.PeakRatio, patterns.DailyPattern)
	fmt.Println()

	hourly := aggregateByHour(points)
	printHourlyTable(hourly, totalVehicles(hourly))

	limit := *capacity
	if limit <= 0 {
		limit = percentile(points.Values(), 0.9)
	}
	shift := computeShiftPotential(points, limit, *shiftWindow)
	fmt.Println()
	printShiftResult(shift, limit, *shiftWindow)
	fmt.Println()
}

func aggregateByHour(s model.Series) [24]HourlyBucket {
	var buckets [24]HourlyBucket
	for _, p := range s {
		v := float64(p.Flow)
		b := &buckets[p.Timestamp.Hour()]
		b.Vehicles += v
		b.Count++
		if model.IsWeekend(p.Timestamp) {
			b.WeekendSum += v
			b.WeekendN++
		} else {
			b.WeekdaySum += v
			b.WeekdayN++
		}
	}
	return buckets
}

// computeShiftPotential moves volume above limit to hours of the same day
// within ±window that still have spare capacity, nearest hour first.
func computeShiftPotential(s model.Series, limit float64, window int) ShiftResult {
	var r ShiftResult
	for _, day := range groupByDay(s) {
		r.Days++
		load := make([]float64, len(day))
		for i, p := range day {
			load[i] = float64(p.Flow)
		}
		for i := range load {
			over := load[i] - limit
			if over <= 0 {
				continue
			}
			r.Overflow += over
			for d := 1; d <= window && over > 0; d++ {
				for _, j := range []int{i - d, i + d} {
					if j < 0 || j >= len(load) || over <= 0 {
						continue
					}
					spare := limit - load[j]
					if spare <= 0 {
						continue
					}
					moved := math.Min(spare, over)
					load[j] += moved
					over -= moved
					r.Absorbed += moved
				}
			}
			load[i] = limit + over
			r.Residual += over
		}
	}
	return r
}

func groupByDay(s model.Series) [][]model.SeriesPoint {
	byDay := make(map[string][]model.SeriesPoint)
	var keys []string
	for _, p := range s {
		k := p.Timestamp.Format("2006-01-02")
		if _, ok := byDay[k]; !ok {
			keys = append(keys, k)
		}
		byDay[k] = append(byDay[k], p)
	}
	sort.Strings(keys)
	out := make([][]model.SeriesPoint, 0, len(keys))
	for _, k := range keys {
		out = append(out, byDay[k])
	}
	return out
}

func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

func printHourlyTable(hourly [24]HourlyBucket, total float64) {
	fmt.Println("  Hourly Distribution:")
	fmt.Printf("   %4s │ %9s │ %9s │ %9s │ %5s\n", "Hour", "Weekday", "Weekend", "Vehicles", "Share")
	fmt.Printf("  ──────┼───────────┼───────────┼───────────┼──────\n")

	var busiest int
	for h := 1; h < 24; h++ {
		if hourly[h].Vehicles > hourly[busiest].Vehicles {
			busiest = h
		}
	}

	for h := 0; h < 24; h++ {
		b := hourly[h]
		if b.Count == 0 {
			continue
		}
		share := safeDivide(b.Vehicles, total) * 100
		marker := ""
		if h == busiest {
			marker = " ← busiest"
		}
		fmt.Printf("     %02d │ %9.1f │ %9.1f │ %9.0f │ %4.1f%%%s\n",
			h, safeDivide(b.WeekdaySum, float64(b.WeekdayN)), safeDivide(b.WeekendSum, float64(b.WeekendN)),
			b.Vehicles, share, marker)
	}
}

func printShiftResult(r ShiftResult, limit float64, window int) {
	fmt.Printf("  Peak Spreading (capacity %.0f veh/h, ±%dh window, %d days):\n", limit, window, r.Days)
	fmt.Printf("    Overflow:  %.0f vehicles\n", r.Overflow)
	fmt.Printf("    Absorbed:  %.0f vehicles (%.1f%%)\n", r.Absorbed, safeDivide(r.Absorbed, r.Overflow)*100)
	fmt.Printf("    Residual:  %.0f vehicles\n", r.Residual)
}

func totalVehicles(buckets [24]HourlyBucket) float64 {
	var total float64
	for _, b := range buckets {
		total += b.Vehicles
	}
	return total
}

func safeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

package evaluate

import (
	"fmt"
	"io"
	"math"
	"slices"
	"text/tabwriter"
)

// Report bundles the evaluation of one model on a test partition.
type Report struct {
	Overall Metrics `json:"overall"`
	Peak    Metrics `json:"peak"`
	Delay   Delay   `json:"delay"`
}

// WriteComparison prints one row per named report, sorted by name, with
// values rounded to four decimals.
func WriteComparison(w io.Writer, reports map[string]Report) error {
	names := make([]string, 0, len(reports))
	for n := range reports {
		names = append(names, n)
	}
	slices.Sort(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "model\tMAE\tRMSE\tMAPE\tPeak_MAE\tPeak_RMSE\tPeak_MAPE\tMean_Delay\tStd_Delay\t")
	for _, n := range names {
		r := reports[n]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n", n,
			round4(r.Overall.MAE), round4(r.Overall.RMSE), round4(r.Overall.MAPE),
			round4(r.Peak.MAE), round4(r.Peak.RMSE), round4(r.Peak.MAPE),
			round4(r.Delay.Mean), round4(r.Delay.Std))
	}
	return tw.Flush()
}

func round4(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.4f", v)
}

package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"deviation-screener/internal/snapshot"
	"deviation-screener/internal/summary"
)

var tableHeader = []string{"Instrument", "Price", "Change%", "RSI", "EMA", "Ratio", "RatioEMA", "Deviation", "Low", "High"}

// Show prints one summary table of the current snapshot, refreshing it first when the
// epoch has moved on.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	w, err := a.wire(ctx)
	if err != nil {
		return err
	}
	defer w.backend.close()

	res, err := w.manager.Get(ctx)
	if err != nil {
		return err
	}
	rows, err := selectTable(res.Snapshot, opts.Table)
	if err != nil {
		return err
	}

	loc := w.manager.Calendar().Location()
	fmt.Fprintf(a.Out, "last updated: %s (epoch %s, %s)\n", res.Snapshot.BuiltAt.In(loc).Format("2006-01-02 15:04:05 MST"), res.Snapshot.Epoch, res.State)
	if res.Err != nil {
		fmt.Fprintf(a.Out, "warning: refresh failed, showing previous data: %s\n", sanitizeInline(res.Err.Error()))
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no rows")
	} else {
		writeTable(a.Out, rows)
	}

	if opts.CSVPath != "" {
		if err := writeRowsCSV(opts.CSVPath, rows); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.CSVPath).Int("rows", len(rows)).Msg("table exported")
	}
	return nil
}

func selectTable(snap *snapshot.Snapshot, name string) ([]summary.Row, error) {
	switch strings.ToLower(name) {
	case "", "all":
		return snap.Tables.All, nil
	case "watch":
		return snap.Tables.Watch, nil
	case "opportunities", "opps":
		return snap.Tables.Opportunities, nil
	default:
		return nil, fmt.Errorf("unknown table %q (want all, watch or opportunities)", name)
	}
}

func writeTable(out io.Writer, rows []summary.Row) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, strings.Join(tableHeader, "\t"))
	for _, r := range rows {
		fmt.Fprintln(writer, strings.Join(rowFields(r), "\t"))
	}
	writer.Flush()
}

func rowFields(r summary.Row) []string {
	return []string{
		string(r.Instrument),
		formatFloat(&r.Price, 2),
		formatFloat(r.ChangePct, 2),
		formatFloat(r.RSI, 2),
		formatFloat(r.EMA, 2),
		formatFloat(r.Ratio, 4),
		formatFloat(r.RatioEMA, 4),
		formatFloat(r.Deviation, 4),
		formatFloat(r.LowestDeviation, 4),
		formatFloat(r.HighestDeviation, 4),
	}
}

func writeRowsCSV(path string, rows []summary.Row) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(tableHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := writer.Write(rowFields(r)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v *float64, places int32) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromFloat(*v).StringFixed(places)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

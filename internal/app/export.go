package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"deviation-screener/internal/market"
	"deviation-screener/internal/series"
)

// Export renders one instrument's processed series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	inst := market.Normalize(opts.Instrument)
	if inst == "" {
		return errors.New("--instrument is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	w, err := a.wire(ctx)
	if err != nil {
		return err
	}
	defer w.backend.close()

	res, err := w.manager.Get(ctx)
	if err != nil {
		return err
	}
	ser, ok := res.Snapshot.Lookup(inst)
	if !ok || ser.Len() == 0 {
		return fmt.Errorf("instrument %s not present in snapshot %s", inst, res.Snapshot.Epoch)
	}

	rows := downsampleRows(ser.Rows, opts.MaxPoints)
	a.Logger.Info().Str("instrument", string(inst)).Int("total", ser.Len()).Int("exported", len(rows)).Msg("exporting series")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, rows); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSeriesPNG(opts.PNGPath, string(inst), rows); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRows(rows []series.Row, max int) []series.Row {
	if max <= 0 || len(rows) <= max {
		return rows
	}
	if max == 1 {
		return rows[len(rows)-1:]
	}

	result := make([]series.Row, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeSeriesCSV(path string, rows []series.Row) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"date", "price", "change_pct", "ema", "rsi", "ratio", "ratio_ema", "deviation"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range rows {
		record := []string{
			formatTime(r.Time),
			formatFloat(&r.Price, 4),
			formatFloat(r.ChangePct, 2),
			formatFloat(r.EMA, 4),
			formatFloat(r.RSI, 2),
			formatFloat(r.Ratio, 6),
			formatFloat(r.RatioEMA, 6),
			formatFloat(r.Deviation, 6),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSeriesPNG(path, name string, rows []series.Row) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		x, emaX, devX        []time.Time
		price, ema, devValue []float64
	)
	for _, r := range rows {
		x = append(x, r.Time)
		price = append(price, r.Price)
		if r.EMA != nil {
			emaX = append(emaX, r.Time)
			ema = append(ema, *r.EMA)
		}
		if r.Deviation != nil {
			devX = append(devX, r.Time)
			devValue = append(devValue, *r.Deviation)
		}
	}
	if len(x) < 2 {
		return errors.New("need at least two points to draw a chart")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	devFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}

	seriesList := []chart.Series{
		chart.TimeSeries{
			Name:    name,
			XValues: x,
			YValues: price,
		},
	}
	if len(emaX) >= 2 {
		seriesList = append(seriesList, chart.TimeSeries{
			Name:    "EMA",
			XValues: emaX,
			YValues: ema,
		})
	}
	if len(devX) >= 2 {
		seriesList = append(seriesList, chart.TimeSeries{
			Name:    "Deviation",
			XValues: devX,
			YValues: devValue,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph := chart.Chart{
		Title:  name,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Deviation index",
			ValueFormatter: devFormatter,
		},
		Series: seriesList,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

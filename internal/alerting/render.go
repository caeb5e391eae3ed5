package alerting

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"

	"deviation-screener/internal/epoch"
	"deviation-screener/internal/summary"
)

var bodyTemplate = template.Must(template.New("opportunities").Parse(`<html><body>
<h2>{{.Title}}</h2>
<p>Epoch {{.Epoch}}: {{len .Rows}} instrument(s) with deviation index below {{.Threshold}}.</p>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Instrument</th><th>Price</th><th>Change %</th><th>RSI</th><th>Deviation</th><th>Low (240)</th><th>High (240)</th></tr>
{{range .Rows}}<tr><td>{{.Instrument}}</td><td>{{.Price}}</td><td>{{.Change}}</td><td>{{.RSI}}</td><td>{{.Deviation}}</td><td>{{.Low}}</td><td>{{.High}}</td></tr>
{{end}}</table>
</body></html>
`))

type bodyRow struct {
	Instrument string
	Price      string
	Change     string
	RSI        string
	Deviation  string
	Low        string
	High       string
}

// renderBody builds the HTML message for an opportunity list.
func renderBody(title string, e epoch.Epoch, threshold float64, rows []summary.Row) (string, error) {
	view := struct {
		Title     string
		Epoch     string
		Threshold string
		Rows      []bodyRow
	}{
		Title:     title,
		Epoch:     e.String(),
		Threshold: decimal.NewFromFloat(threshold).String(),
	}
	for _, r := range rows {
		view.Rows = append(view.Rows, bodyRow{
			Instrument: string(r.Instrument),
			Price:      formatValue(&r.Price, 2),
			Change:     formatValue(r.ChangePct, 2),
			RSI:        formatValue(r.RSI, 1),
			Deviation:  formatValue(r.Deviation, 3),
			Low:        formatValue(r.LowestDeviation, 3),
			High:       formatValue(r.HighestDeviation, 3),
		})
	}

	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render notification body: %w", err)
	}
	return buf.String(), nil
}

func formatValue(v *float64, places int32) string {
	if v == nil {
		return "-"
	}
	return decimal.NewFromFloat(*v).StringFixed(places)
}

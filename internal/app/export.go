package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"orbwatch/internal/storage"
	"orbwatch/internal/timezone"
)

const exportTimeLayout = "2006-01-02 15:04"

// Export renders observation history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = a.Config.Export.MaxDataPoints
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := timezone.Now()
	if opts.To != nil {
		to = *opts.To
	}
	window := a.Config.Export.Window
	if opts.Window > 0 {
		window = opts.Window
	}
	from := to.Add(-window)
	if opts.From != nil {
		from = *opts.From
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := store.ListSince(ctx, from)
	if err != nil {
		return err
	}
	observations := filterObservations(rows, opts.Currency, to)
	if len(observations) == 0 {
		a.Logger.Info().Msg("no observations found for export window")
		return nil
	}

	downsampled := downsampleObservations(observations, opts.MaxPoints)
	a.Logger.Info().Int("total", len(observations)).Int("exported", len(downsampled)).Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writeObservationsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeObservationsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// filterObservations keeps rows of currency (all when empty) observed before to.
func filterObservations(rows []storage.Observation, currency string, to time.Time) []storage.Observation {
	out := make([]storage.Observation, 0, len(rows))
	for _, row := range rows {
		if currency != "" && row.CurrencyID != currency {
			continue
		}
		if !row.ObservedAt.Before(to) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func downsampleObservations(rows []storage.Observation, max int) []storage.Observation {
	if max <= 0 || len(rows) <= max {
		return rows
	}
	if max == 1 {
		return rows[len(rows)-1:]
	}

	result := make([]storage.Observation, 0, max)
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

func writeObservationsCSV(path string, rows []storage.Observation) error {
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

	header := []string{"date", "currency_id", "currency_name", "formatted_name", "price_value", "exchange_price_value"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.ObservedAt.In(timezone.Location).Format(exportTimeLayout),
			row.CurrencyID,
			row.CurrencyName,
			storage.FormatName(row.CurrencyName),
			row.PriceValue,
			row.ExchangePriceValue,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// priceSeries groups parseable prices by currency, ordered by currency id.
func priceSeries(rows []storage.Observation) []chart.Series {
	xs := map[string][]time.Time{}
	ys := map[string][]float64{}
	for _, row := range rows {
		price, err := storage.ParsePrice(row.PriceValue)
		if err != nil {
			continue
		}
		xs[row.CurrencyID] = append(xs[row.CurrencyID], row.ObservedAt)
		ys[row.CurrencyID] = append(ys[row.CurrencyID], price.InexactFloat64())
	}

	ids := make([]string, 0, len(xs))
	for id := range xs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	series := make([]chart.Series, 0, len(ids))
	for _, id := range ids {
		series = append(series, chart.TimeSeries{
			Name:    id,
			XValues: xs[id],
			YValues: ys[id],
		})
	}
	return series
}

func writeObservationsPNG(path string, rows []storage.Observation) error {
	series := priceSeries(rows)
	if len(series) == 0 {
		return errors.New("no numeric prices to chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat(exportTimeLayout),
		},
		YAxis: chart.YAxis{
			Name:           "Price (exalted)",
			ValueFormatter: priceFormatter,
		},
		Series: series,
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

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"orbwatch/internal/alerting"
	"orbwatch/internal/storage"
	"orbwatch/internal/timezone"
)

// Show prints the most recent observations.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	rows, err := store.Latest(ctx, opts.Currency, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
		return nil
	}

	renderObservations(os.Stdout, rows)
	return nil
}

func renderObservations(w io.Writer, rows []storage.Observation) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Time (PT)", "Currency", "Name", "Price", "Exchange", "Change"})
	for i, row := range rows {
		t.AppendRow(table.Row{
			row.ObservedAt.In(timezone.Location).Format(exportTimeLayout),
			row.CurrencyID,
			sanitizeInline(row.CurrencyName),
			row.PriceValue,
			row.ExchangePriceValue,
			changeFromOlder(rows[i+1:], row),
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

// changeFromOlder formats the move from the next older row of the same
// currency. rows are newest first.
func changeFromOlder(older []storage.Observation, row storage.Observation) string {
	for _, prev := range older {
		if prev.CurrencyID != row.CurrencyID {
			continue
		}
		before, err := storage.ParsePrice(prev.PriceValue)
		if err != nil {
			return "-"
		}
		after, err := storage.ParsePrice(row.PriceValue)
		if err != nil {
			return "-"
		}
		change, ok := alerting.Compare(before, after)
		if !ok {
			return "-"
		}
		return change.Pct.StringFixed(2) + "%"
	}
	return ""
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbwatch/internal/config"
	"orbwatch/internal/service"
	"orbwatch/internal/storage"
	"orbwatch/internal/timezone"
)

func testApp() *App {
	cfg := &config.Config{
		Scraper:  config.ScraperConfig{View: "currency", Currencies: []string{"divine"}},
		Alerting: config.AlertingConfig{Enabled: true, ThresholdPct: 5},
		Export:   config.ExportConfig{MaxDataPoints: 100, Window: 168 * time.Hour},
	}
	return NewApp(cfg, zerolog.Nop())
}

func seeded(t *testing.T) []storage.Observation {
	t.Helper()
	now := time.Date(2024, 5, 8, 12, 0, 0, 0, timezone.Location)
	return sampleObservations(SeedOptions{CurrencyID: "divine", CurrencyName: "Divine Orb", Seed: 42}, now)
}

func TestSampleObservations(t *testing.T) {
	rows := seeded(t)
	require.Len(t, rows, 84)

	for i, row := range rows {
		assert.Equal(t, "divine", row.CurrencyID)
		assert.Equal(t, "DivineOrb", row.FormattedName)
		assert.Equal(t, "0", row.ExchangePriceValue)
		_, err := strconv.ParseFloat(row.PriceValue, 64)
		assert.NoError(t, err)
		if i > 0 {
			assert.Equal(t, 2*time.Hour, row.ObservedAt.Sub(rows[i-1].ObservedAt))
		}
	}

	again := seeded(t)
	assert.Equal(t, rows[10].PriceValue, again[10].PriceValue, "same seed, same walk")
}

func TestDownsampleObservations(t *testing.T) {
	rows := seeded(t)

	assert.Len(t, downsampleObservations(rows, 0), len(rows))
	assert.Len(t, downsampleObservations(rows, 1000), len(rows))

	out := downsampleObservations(rows, 10)
	require.Len(t, out, 10)
	assert.Equal(t, rows[0], out[0])
	assert.Equal(t, rows[len(rows)-1], out[9])

	single := downsampleObservations(rows, 1)
	require.Len(t, single, 1)
	assert.Equal(t, rows[len(rows)-1], single[0])
}

func TestFilterObservations(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, timezone.Location)
	rows := []storage.Observation{
		{CurrencyID: "divine", ObservedAt: at},
		{CurrencyID: "chaos", ObservedAt: at},
		{CurrencyID: "divine", ObservedAt: at.Add(time.Hour)},
	}

	assert.Len(t, filterObservations(rows, "", at.Add(2*time.Hour)), 3)
	assert.Len(t, filterObservations(rows, "divine", at.Add(2*time.Hour)), 2)
	assert.Len(t, filterObservations(rows, "divine", at.Add(time.Hour)), 1)
}

func TestWriteObservationsCSVAndPNG(t *testing.T) {
	rows := seeded(t)
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "out", "history.csv")
	require.NoError(t, writeObservationsCSV(csvPath, rows))

	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, len(rows)+1)
	assert.Equal(t, "price_value", records[0][4])
	assert.Equal(t, rows[0].ObservedAt.Format("2006-01-02 15:04"), records[1][0])

	pngPath := filepath.Join(dir, "history.png")
	require.NoError(t, writeObservationsPNG(pngPath, rows))
	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.Error(t, writeObservationsPNG(filepath.Join(dir, "empty.png"), []storage.Observation{{CurrencyID: "x", PriceValue: "n/a"}}))
}

func TestRenderObservations(t *testing.T) {
	var buf bytes.Buffer
	renderObservations(&buf, seeded(t)[:2])

	out := buf.String()
	assert.Contains(t, out, "Currency")
	assert.Contains(t, out, "Divine Orb")
	assert.Contains(t, out, "Change")
}

func TestChangeFromOlder(t *testing.T) {
	at := time.Date(2024, 5, 8, 12, 0, 0, 0, timezone.Location)
	rows := []storage.Observation{
		{CurrencyID: "divine", PriceValue: "198", ObservedAt: at},
		{CurrencyID: "chaos", PriceValue: "1", ObservedAt: at.Add(-time.Hour)},
		{CurrencyID: "divine", PriceValue: "180", ObservedAt: at.Add(-2 * time.Hour)},
	}

	assert.Equal(t, "10.00%", changeFromOlder(rows[1:], rows[0]), "与同币种上一条比较")
	assert.Equal(t, "", changeFromOlder(rows[2:], rows[1]), "没有更早记录时为空")
	assert.Equal(t, "-", changeFromOlder([]storage.Observation{{CurrencyID: "divine", PriceValue: "0"}}, rows[0]))
}

func TestSimulateAlertRunsPipeline(t *testing.T) {
	a := testApp()

	result, err := a.SimulateAlert(context.Background(), "divine", decimal.NewFromInt(100), decimal.NewFromInt(120))
	require.NoError(t, err)
	assert.Equal(t, service.StateClosed, result.State)
	assert.Equal(t, 1, result.Extracted)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 1, result.Alerts)

	result, err = a.SimulateAlert(context.Background(), "divine", decimal.NewFromInt(100), decimal.NewFromInt(101))
	require.NoError(t, err)
	assert.Zero(t, result.Alerts, "below threshold")
}

func TestSimulateAlertRequiresAlerting(t *testing.T) {
	a := testApp()
	a.Config.Alerting.Enabled = false

	_, err := a.SimulateAlert(context.Background(), "divine", decimal.NewFromInt(1), decimal.NewFromInt(2))
	assert.Error(t, err)
}

func TestOpenStoreRequiresDatabase(t *testing.T) {
	_, _, err := testApp().openStore(context.Background())
	assert.Error(t, err)
}

func TestRunFailsBeforeStartingCyclesWhenAPICannotStart(t *testing.T) {
	var logs bytes.Buffer
	a := testApp()
	a.Config.Scheduler = config.SchedulerConfig{Interval: time.Hour, RunOnStart: true}
	a.Config.API = config.APIConfig{Enabled: true, Address: "127.0.0.1:0"}
	a.base = zerolog.New(&logs)
	a.Logger = a.base

	err := a.Run(context.Background())
	require.Error(t, err, "未配置数据库时 API 无法启动")
	assert.NotContains(t, logs.String(), "executing scheduled tick")
	assert.NotContains(t, logs.String(), "cycle state")
}

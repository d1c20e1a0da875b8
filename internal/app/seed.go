package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"orbwatch/internal/storage"
	"orbwatch/internal/timezone"
)

// Seed inserts synthetic history so the chart has something to draw.
func (a *App) Seed(ctx context.Context, opts SeedOptions) error {
	if opts.CurrencyID == "" {
		return errors.New("currency id 不能为空")
	}

	observations := sampleObservations(opts, timezone.Now())
	if opts.DryRun {
		a.Logger.Warn().Int("observations", len(observations)).Msg("seed dry-run：不会写入数据库")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	inserted, failed := 0, 0
	for _, obs := range observations {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := store.Insert(ctx, obs); err != nil {
			failed++
			a.Logger.Error().Err(err).Time("observed_at", obs.ObservedAt).Msg("写入样本失败")
			continue
		}
		inserted++
	}

	a.Logger.Info().Int("inserted", inserted).Int("failed", failed).Str("currency_id", opts.CurrencyID).Msg("样本写入完成")
	if failed > 0 {
		return errors.New("部分样本写入失败，请检查日志")
	}
	return nil
}

// sampleObservations walks a price around BasePrice at Step intervals over
// the trailing Days, oldest first.
func sampleObservations(opts SeedOptions, now time.Time) []storage.Observation {
	if opts.Days <= 0 {
		opts.Days = 7
	}
	if opts.Step <= 0 {
		opts.Step = 2 * time.Hour
	}
	if opts.BasePrice <= 0 {
		opts.BasePrice = 180
	}
	if opts.CurrencyName == "" {
		opts.CurrencyName = opts.CurrencyID
	}
	seed := opts.Seed
	if seed == 0 {
		seed = now.UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	start := timezone.Stamp(now.Add(-time.Duration(opts.Days) * 24 * time.Hour))
	end := timezone.Stamp(now)
	base := opts.BasePrice

	var out []storage.Observation
	for at := start; at.Before(end); at = at.Add(opts.Step) {
		price := base + (rng.Float64()*10 - 5)
		out = append(out, storage.Observation{
			CurrencyID:         opts.CurrencyID,
			CurrencyName:       opts.CurrencyName,
			FormattedName:      storage.FormatName(opts.CurrencyName),
			PriceValue:         fmt.Sprintf("%.1f", price),
			ExchangePriceValue: "0",
			ObservedAt:         at,
		})
		base += rng.Float64()*2 - 1
	}
	return out
}

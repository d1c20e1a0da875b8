package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"orbwatch/internal/extractor"
	"orbwatch/internal/fetcher"
	"orbwatch/internal/service"
	"orbwatch/internal/storage"
)

// SimulateAlert 用给定的前值/现价走一遍完整采集流程并触发告警。
func (a *App) SimulateAlert(ctx context.Context, currencyID string, previous, current decimal.Decimal) (service.CycleResult, error) {
	if !a.Config.Alerting.Enabled {
		return service.CycleResult{}, errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return service.CycleResult{}, errors.New("未配置任何告警通道")
	}

	store := newMemoryStore()
	store.latest[currencyID] = previous.String()

	cfg := *a.Config
	cfg.Scraper.Currencies = []string{currencyID}
	cfg.Scheduler.AdvisoryLockKey = 0
	cfg.Scheduler.CycleTimeout = 30 * time.Second

	browser := &staticBrowser{markup: listingMarkup(currencyID, current)}
	svc := service.New(&cfg, nil, &staticConnector{store: store}, browser, extractor.New(extractor.Options{}, a.base), notifier, a.base)
	return svc.RunCycle(ctx)
}

func listingMarkup(currencyID string, price decimal.Decimal) string {
	id := html.EscapeString(currencyID)
	return fmt.Sprintf(`<html><body><div class="timestamp">simulated</div><table><tr>`+
		`<td><span data-tooltip-id="%s">%s</span></td>`+
		`<td><span class="price-value">%s</span><span class="price-arrow">&rarr;</span><span class="price-value">0</span></td>`+
		`</tr></table></body></html>`, id, id, price.String())
}

type staticBrowser struct {
	markup string
}

func (b *staticBrowser) Launch(context.Context) (fetcher.Session, error) {
	return staticSession{markup: b.markup}, nil
}

type staticSession struct {
	markup string
}

func (s staticSession) Fetch(context.Context, string) (string, error) { return s.markup, nil }

func (s staticSession) Close() error { return nil }

type staticConnector struct {
	store storage.ObservationStore
}

func (c *staticConnector) Connect(context.Context) (storage.ObservationStore, error) {
	return c.store, nil
}

// memoryStore keeps observations in memory for simulations.
type memoryStore struct {
	mu           sync.Mutex
	latest       map[string]string
	observations []storage.Observation
}

func newMemoryStore() *memoryStore {
	return &memoryStore{latest: map[string]string{}}
}

func (m *memoryStore) EnsureSchema(context.Context) error { return nil }

func (m *memoryStore) Insert(_ context.Context, obs storage.Observation) error {
	if err := obs.Validate(); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInsert, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observations = append(m.observations, obs)
	m.latest[obs.CurrencyID] = obs.PriceValue
	return nil
}

func (m *memoryStore) LatestPrice(_ context.Context, currencyID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.latest[currencyID]
	return price, ok, nil
}

func (m *memoryStore) Recent(_ context.Context, window time.Duration) ([]storage.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	since := time.Now().Add(-window)
	out := make([]storage.Observation, 0, len(m.observations))
	for _, obs := range m.observations {
		if !obs.ObservedAt.Before(since) {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (m *memoryStore) Close() {}

var (
	_ fetcher.Browser          = (*staticBrowser)(nil)
	_ storage.Connector        = (*staticConnector)(nil)
	_ storage.ObservationStore = (*memoryStore)(nil)
)

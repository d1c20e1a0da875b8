package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"orbwatch/internal/alerting"
	"orbwatch/internal/config"
	"orbwatch/internal/fetcher"
	"orbwatch/internal/scheduler"
	"orbwatch/internal/storage"
)

// Extractor turns rendered markup into observations.
type Extractor interface {
	Extract(markup string, currencyIDs []string) ([]storage.Observation, error)
}

// CycleResult summarises one scrape cycle.
type CycleResult struct {
	ID        string
	StartedAt time.Time
	Duration  time.Duration
	State     State
	Extracted int
	Inserted  int
	Failed    int
	Alerts    int
	Err       error

	// Observations holds every row extracted this cycle, whether or not its
	// insert succeeded.
	Observations []storage.Observation

	// Skipped is set when another process held the advisory lock.
	Skipped bool
}

// Service orchestrates fetching, extraction, persistence and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	connector storage.Connector
	browser   fetcher.Browser
	extractor Extractor
	notifier  alerting.Notifier
	logger    zerolog.Logger

	view         string
	currencies   []string
	lockKey      int64
	cycleTimeout time.Duration
	threshold    decimal.Decimal
	channels     []string
	alertsOn     bool

	slot chan struct{}

	mu   sync.Mutex
	last *CycleResult
}

// New constructs the scrape service. sched may be nil when the caller only
// triggers cycles manually.
func New(cfg *config.Config, sched *scheduler.Scheduler, connector storage.Connector, browser fetcher.Browser, extractor Extractor, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	return &Service{
		scheduler:    sched,
		connector:    connector,
		browser:      browser,
		extractor:    extractor,
		notifier:     notifier,
		logger:       logger.With().Str("component", "service").Logger(),
		view:         cfg.Scraper.View,
		currencies:   cfg.Scraper.Currencies,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
		cycleTimeout: cfg.Scheduler.CycleTimeout,
		threshold:    threshold,
		channels:     cfg.Alerting.Channels,
		alertsOn:     cfg.Alerting.Enabled,
		slot:         make(chan struct{}, 1),
	}
}

// Run begins the scheduled scrape loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := s.RunCycle(ctx)
		return err
	})
}

// Last returns the most recent completed cycle, if any.
func (s *Service) Last() (CycleResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return CycleResult{}, false
	}
	return *s.last, true
}

// RunCycle performs one connect → fetch → extract → persist pass. Only one
// cycle runs at a time; callers queue until the slot frees or ctx ends.
func (s *Service) RunCycle(ctx context.Context) (CycleResult, error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return CycleResult{State: StateIdle}, ctx.Err()
	}
	defer func() { <-s.slot }()

	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	c := &cycle{
		svc: s,
		result: CycleResult{
			ID:        uuid.NewString(),
			StartedAt: time.Now(),
			State:     StateIdle,
		},
	}
	c.logger = s.logger.With().Str("cycle_id", c.result.ID).Logger()

	err := c.run(ctx)
	c.result.Duration = time.Since(c.result.StartedAt)
	c.result.Err = err

	s.mu.Lock()
	last := c.result
	s.last = &last
	s.mu.Unlock()

	if err != nil {
		return c.result, err
	}
	c.logger.Info().
		Int("extracted", c.result.Extracted).
		Int("inserted", c.result.Inserted).
		Int("failed", c.result.Failed).
		Int("alerts", c.result.Alerts).
		Dur("elapsed", c.result.Duration).
		Msg("cycle finished")
	return c.result, nil
}

type cycle struct {
	svc    *Service
	logger zerolog.Logger
	result CycleResult
}

func (c *cycle) transition(to State) {
	c.logger.Info().Str("from", c.result.State.String()).Str("to", to.String()).Msg("cycle state")
	c.result.State = to
}

func (c *cycle) fail(err error) error {
	c.logger.Error().Err(err).Str("state", c.result.State.String()).Msg("cycle failed")
	c.transition(StateFailed)
	return err
}

func (c *cycle) run(ctx context.Context) error {
	s := c.svc

	c.transition(StateConnecting)
	store, err := s.connector.Connect(ctx)
	if err != nil {
		return c.fail(fmt.Errorf("connect store: %w", err))
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return c.fail(fmt.Errorf("ensure schema: %w", err))
	}

	unlock, proceed, err := s.acquireLock(ctx, store)
	if err != nil {
		return c.fail(err)
	}
	if !proceed {
		c.logger.Info().Int64("lock_key", s.lockKey).Msg("skip cycle because advisory lock held elsewhere")
		c.result.Skipped = true
		c.transition(StateClosed)
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	c.transition(StateFetching)
	session, err := s.browser.Launch(ctx)
	if err != nil {
		return c.fail(fmt.Errorf("launch browser: %w", err))
	}
	defer func() {
		if err := session.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("failed to close browser")
		}
	}()

	markup, err := session.Fetch(ctx, s.view)
	if err != nil {
		return c.fail(fmt.Errorf("fetch %s: %w", s.view, err))
	}

	c.transition(StateExtracting)
	observations, err := s.extractor.Extract(markup, s.currencies)
	if err != nil {
		c.logger.Warn().Err(err).Msg("extraction failed, treating as empty")
		observations = nil
	}
	c.result.Extracted = len(observations)
	c.result.Observations = observations
	if len(observations) == 0 {
		c.logger.Warn().Strs("currencies", s.currencies).Msg("no observations extracted")
	}

	c.transition(StatePersisting)
	for _, obs := range observations {
		c.persist(ctx, store, obs)
	}

	c.transition(StateClosed)
	return nil
}

func (c *cycle) persist(ctx context.Context, store storage.ObservationStore, obs storage.Observation) {
	log := c.logger.With().Str("currency_id", obs.CurrencyID).Logger()

	previous, hasPrevious, err := store.LatestPrice(ctx, obs.CurrencyID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read previous price")
		hasPrevious = false
	}

	if err := store.Insert(ctx, obs); err != nil {
		c.result.Failed++
		log.Error().Err(err).Msg("failed to insert observation")
		return
	}
	c.result.Inserted++

	event := log.Info().
		Str("currency_name", obs.CurrencyName).
		Str("price", obs.PriceValue).
		Str("exchange_price", obs.ExchangePriceValue).
		Time("observed_at", obs.ObservedAt)
	if hasPrevious {
		event = event.Str("previous_price", previous)
	}
	event.Msg("observation recorded")

	if hasPrevious && previous != obs.PriceValue {
		c.maybeAlert(ctx, log, obs, previous)
	}
}

func (c *cycle) maybeAlert(ctx context.Context, log zerolog.Logger, obs storage.Observation, previous string) {
	s := c.svc
	if !s.alertsOn || s.notifier == nil || s.threshold.IsZero() {
		return
	}

	prev, err := storage.ParsePrice(previous)
	if err != nil {
		log.Debug().Err(err).Msg("previous price not numeric, no alert")
		return
	}
	curr, err := obs.Price()
	if err != nil {
		log.Debug().Err(err).Msg("current price not numeric, no alert")
		return
	}

	change, ok := alerting.Compare(prev, curr)
	if !ok || !change.Exceeds(s.threshold) {
		return
	}

	note := alerting.Notification{
		CurrencyID:   obs.CurrencyID,
		CurrencyName: obs.CurrencyName,
		ObservedAt:   obs.ObservedAt,
		Previous:     change.Previous,
		Current:      change.Current,
		Exchange:     obs.ExchangePriceValue,
		ChangePct:    change.Pct,
		ThresholdPct: s.threshold,
		Direction:    change.Direction,
		Channels:     s.channels,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		log.Error().Err(err).Msg("failed to dispatch alert")
		return
	}
	c.result.Alerts++
}

func (s *Service) acquireLock(ctx context.Context, store storage.ObservationStore) (func(), bool, error) {
	if s.lockKey == 0 {
		return nil, true, nil
	}
	locker, ok := store.(storage.AdvisoryLocker)
	if !ok {
		return nil, true, nil
	}
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

const (
	defaultWaitSelector    = "span[data-tooltip-id]"
	defaultWaitTimeout     = 10 * time.Second
	defaultNavigateTimeout = 45 * time.Second
)

// ChromeOptions parameterise the chromedp-backed browser.
type ChromeOptions struct {
	BaseURL         string
	WaitSelector    string
	WaitTimeout     time.Duration
	NavigateTimeout time.Duration
	ExecPath        string
	UserDataDir     string
	UserAgent       string
	ExtraFlags      []string
}

// Chrome launches headless Chromium through chromedp.
type Chrome struct {
	opts   ChromeOptions
	logger zerolog.Logger
}

// NewChrome constructs a Chrome browser.
func NewChrome(opts ChromeOptions, logger zerolog.Logger) *Chrome {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.WaitSelector == "" {
		opts.WaitSelector = defaultWaitSelector
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = defaultWaitTimeout
	}
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = defaultNavigateTimeout
	}
	return &Chrome{
		opts:   opts,
		logger: logger.With().Str("component", "browser").Logger(),
	}
}

func (c *Chrome) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Headless,
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}
	if c.opts.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(c.opts.UserDataDir))
	}
	if c.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.opts.UserAgent))
	}
	for _, flag := range c.opts.ExtraFlags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(flag, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// Launch starts a browser process and verifies it answers.
func (c *Chrome) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The process lives as long as the session, not the launch context.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), c.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			c.logger.Debug().Msgf(format, args...)
		}),
	)
	stop := context.AfterFunc(ctx, browserCancel)
	defer stop()

	start := time.Now()
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrBrowserLaunch, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrBrowserLaunch, err)
	}
	c.logger.Debug().Dur("elapsed", time.Since(start)).Msg("browser launched")

	return &chromeSession{
		opts:          c.opts,
		logger:        c.logger,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

type chromeSession struct {
	opts          ChromeOptions
	logger        zerolog.Logger
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// TargetURL builds the address of a listing view. A leading "#" on view is
// tolerated.
func TargetURL(baseURL, view string) string {
	base := strings.TrimRight(baseURL, "/")
	view = strings.TrimPrefix(view, "#")
	if view == "" {
		return base + "/"
	}
	return base + "/#" + view
}

// Fetch navigates to the view, waits for the currency markers and returns
// the rendered document.
func (s *chromeSession) Fetch(ctx context.Context, view string) (string, error) {
	target := TargetURL(s.opts.BaseURL, view)

	if err := s.run(ctx, s.opts.NavigateTimeout, chromedp.Navigate(target)); err != nil {
		return "", classify(ctx, ErrNavigation, target, err)
	}

	start := time.Now()
	if err := s.run(ctx, s.opts.WaitTimeout, chromedp.WaitReady(s.opts.WaitSelector, chromedp.ByQuery)); err != nil {
		return "", classify(ctx, ErrPageLoadTimeout, target, err)
	}
	s.logger.Debug().Str("url", target).Dur("waited", time.Since(start)).Msg("listing rendered")

	var markup string
	if err := s.run(ctx, s.opts.WaitTimeout, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", classify(ctx, ErrNavigation, target, err)
	}
	return markup, nil
}

// run executes actions on the browser bounded by timeout and by the caller's
// context.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

// classify maps a chromedp failure onto a sentinel. A cancelled caller
// context wins over the step's own deadline.
func classify(ctx context.Context, kind error, target string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", kind, target, ctxErr)
	}
	return fmt.Errorf("%w: %s: %w", kind, target, err)
}

// Close shuts the browser down. It is safe to call more than once.
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.closeErr = fmt.Errorf("close browser: %w", err)
		}
		s.browserCancel()
		s.allocCancel()
		s.logger.Debug().Msg("browser closed")
	})
	return s.closeErr
}

var (
	_ Browser = (*Chrome)(nil)
	_ Session = (*chromeSession)(nil)
)

// Package fetcher renders the price-listing page in a headless browser.
package fetcher

import (
	"context"
	"errors"
)

var (
	// ErrBrowserLaunch indicates the browser process could not be started.
	ErrBrowserLaunch = errors.New("fetcher: browser launch failed")
	// ErrPageLoadTimeout indicates the currency markers never appeared.
	ErrPageLoadTimeout = errors.New("fetcher: page load timeout")
	// ErrNavigation indicates the page could not be loaded.
	ErrNavigation = errors.New("fetcher: navigation failed")
)

// Browser starts isolated browser sessions.
type Browser interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is one running browser. Close must be called exactly once the
// caller is done; further calls are no-ops.
type Session interface {
	Fetch(ctx context.Context, view string) (string, error)
	Close() error
}

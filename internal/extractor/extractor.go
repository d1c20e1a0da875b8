// Package extractor turns a rendered price-listing page into observations.
package extractor

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"orbwatch/internal/storage"
	"orbwatch/internal/timezone"
)

const (
	currencySelector  = "span[data-tooltip-id]"
	tooltipAttr       = "data-tooltip-id"
	priceSelector     = "span.price-value"
	arrowSelector     = "span.price-arrow"
	timestampSelector = "div.timestamp"
)

// Options configures the Extractor.
type Options struct {
	// Now is the capture clock; defaults to time.Now.
	Now func() time.Time
}

// Extractor parses listing markup. It performs no I/O.
type Extractor struct {
	now    func() time.Time
	logger zerolog.Logger
}

// New builds an Extractor.
func New(opts Options, logger zerolog.Logger) *Extractor {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Extractor{
		now:    now,
		logger: logger.With().Str("component", "extractor").Logger(),
	}
}

// Extract returns one observation per requested currency whose row carries a
// base price, a price arrow and an exchange price. An empty currencyIDs
// extracts every row that names a currency. Rows missing any element are
// skipped; an empty result is not an error.
func (e *Extractor) Extract(markup string, currencyIDs []string) ([]storage.Observation, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}

	page := newPage(doc)
	observedAt := timezone.Stamp(e.now())

	observations := make([]storage.Observation, 0, len(currencyIDs))
	for _, label := range page.currencyLabels(currencyIDs) {
		obs, ok := page.observe(label)
		if !ok {
			e.logger.Debug().Str("currency_id", label.AttrOr(tooltipAttr, "")).Msg("row incomplete, skipped")
			continue
		}
		obs.ObservedAt = observedAt
		observations = append(observations, obs)
	}

	if ts := doc.Find(timestampSelector).First(); ts.Length() > 0 {
		e.logger.Debug().Str("last_update", strings.TrimSpace(ts.Text())).Msg("page timestamp")
	} else {
		e.logger.Debug().Msg("page timestamp not found")
	}

	return observations, nil
}

type page struct {
	doc    *goquery.Document
	order  map[*html.Node]int
	arrows []*html.Node
	prices []*html.Node
}

func newPage(doc *goquery.Document) *page {
	p := &page{doc: doc, order: make(map[*html.Node]int)}
	for _, root := range doc.Nodes {
		p.index(root)
	}
	p.arrows = doc.Find(arrowSelector).Nodes
	p.prices = doc.Find(priceSelector).Nodes
	return p
}

// index numbers nodes in document (pre-)order.
func (p *page) index(n *html.Node) {
	p.order[n] = len(p.order)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.index(c)
	}
}

// currencyLabels resolves the label span of each row to extract.
func (p *page) currencyLabels(ids []string) []*goquery.Selection {
	var labels []*goquery.Selection
	if len(ids) == 0 {
		p.doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
			if label := row.Find(currencySelector).First(); label.Length() > 0 {
				labels = append(labels, label)
			}
		})
		return labels
	}

	seen := make(map[string]struct{}, len(ids))
	all := p.doc.Find(currencySelector)
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		label := all.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.AttrOr(tooltipAttr, "") == id
		}).First()
		if label.Length() > 0 {
			labels = append(labels, label)
		}
	}
	return labels
}

func (p *page) observe(label *goquery.Selection) (storage.Observation, bool) {
	row := label.Closest("tr")
	if row.Length() == 0 {
		return storage.Observation{}, false
	}

	price := row.Find(priceSelector).First()
	if price.Length() == 0 {
		return storage.Observation{}, false
	}
	arrow := p.next(price.Get(0), p.arrows)
	if arrow == nil {
		return storage.Observation{}, false
	}
	exchange := p.next(arrow, p.prices)
	if exchange == nil {
		return storage.Observation{}, false
	}

	name := label.Text()
	return storage.Observation{
		CurrencyID:         label.AttrOr(tooltipAttr, ""),
		CurrencyName:       name,
		FormattedName:      storage.FormatName(name),
		PriceValue:         price.Text(),
		ExchangePriceValue: p.doc.FindNodes(exchange).Text(),
	}, true
}

// next returns the first candidate after from in document order. Descendants
// of from count as following it.
func (p *page) next(from *html.Node, candidates []*html.Node) *html.Node {
	pos, ok := p.order[from]
	if !ok {
		return nil
	}
	for _, n := range candidates {
		if p.order[n] > pos {
			return n
		}
	}
	return nil
}

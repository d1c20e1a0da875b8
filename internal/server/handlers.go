package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"orbwatch/internal/storage"
	"orbwatch/internal/timezone"
)

const labelLayout = "2006-01-02 15:04"

type chartData struct {
	Labels []string  `json:"labels"`
	Prices []float64 `json:"prices"`
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", s.index)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if lc, ok := s.trigger.(lastCycler); ok {
		if last, ok := lc.Last(); ok {
			cycle := gin.H{
				"id":         last.ID,
				"started_at": last.StartedAt.In(timezone.Location).Format(time.RFC3339),
				"state":      last.State.String(),
				"inserted":   last.Inserted,
			}
			if last.Err != nil {
				cycle["error"] = last.Err.Error()
			}
			body["last_cycle"] = cycle
		}
	}
	c.JSON(http.StatusOK, body)
}

// handleData serves the trailing window of prices for charting.
func (s *Server) handleData(c *gin.Context) {
	window, err := s.parseWindow(c.Query("window"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	currency := s.opts.Currency
	if v, ok := c.GetQuery("currency"); ok {
		currency = strings.TrimSpace(v)
	}

	rows, err := s.history.Recent(c.Request.Context(), window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	data := chartData{Labels: []string{}, Prices: []float64{}}
	for _, row := range rows {
		if currency != "" && row.CurrencyID != currency {
			continue
		}
		price, err := storage.ParsePrice(row.PriceValue)
		if err != nil {
			loggerFrom(c).Warn().Err(err).Int64("id", row.ID).Msg("skip unparsable price")
			continue
		}
		data.Labels = append(data.Labels, row.ObservedAt.In(timezone.Location).Format(labelLayout))
		data.Prices = append(data.Prices, price.InexactFloat64())
	}

	if len(data.Labels) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No data available"})
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) handleUpdate(c *gin.Context) {
	if s.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scraper not configured"})
		return
	}

	result, err := s.trigger.RunCycle(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"observations": result.Inserted,
		"skipped":      result.Skipped,
	})
}

// parseWindow accepts Go durations plus a whole-day form such as "7d".
func (s *Server) parseWindow(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.opts.Window, nil
	}

	var window time.Duration
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid window %q", raw)
		}
		window = time.Duration(n) * 24 * time.Hour
	} else {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid window %q", raw)
		}
		window = d
	}

	if window <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}
	if s.opts.MaxWindow > 0 && window > s.opts.MaxWindow {
		return 0, fmt.Errorf("window exceeds %s", s.opts.MaxWindow)
	}
	return window, nil
}

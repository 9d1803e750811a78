package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	// Outbound bounds exist to respect exchange rate limits, not just
	// for throughput.
	MaxConcurrent     int64
	RequestsPerSecond float64

	CacheTTL time.Duration

	BreakerThreshold int
	BreakerTimeout   time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = 20
	}
	if out.RequestsPerSecond <= 0 {
		out.RequestsPerSecond = 10
	}
	if out.CacheTTL <= 0 {
		out.CacheTTL = 2 * time.Second
	}
	if out.BreakerThreshold <= 0 {
		out.BreakerThreshold = 5
	}
	if out.BreakerTimeout <= 0 {
		out.BreakerTimeout = 30 * time.Second
	}
	return out
}

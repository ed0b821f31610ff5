// Package collyfetcher implements the crawl.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/threadvine/harvester/internal/crawl"
)

// defaultUserAgents mirror common desktop and mobile browsers; one is picked
// per request when no list is configured.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/141.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 Safari/605.1.15",
	"Mozilla/5.0 (Linux; Android 12; Pixel 6) AppleWebKit/537.36 Chrome/141.0.0.0 Mobile Safari/537.36",
}

// Config controls collector behavior.
type Config struct {
	// UserAgents is rotated randomly across requests.
	UserAgents    []string
	RespectRobots bool
	Timeout       time.Duration
	// Delay plus a random fraction of RandomDelay paces successive requests
	// to the same domain.
	Delay       time.Duration
	RandomDelay time.Duration
}

// Fetcher implements crawl.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single GET. Non-2xx statuses surface as errors through
// colly's error callback.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawl.FetchResponse, error) {
	collector := f.buildCollector()

	var (
		result   crawl.FetchResponse
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	collector.OnResponse(func(r *colly.Response) {
		result = crawl.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return crawl.FetchResponse{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return crawl.FetchResponse{}, fmt.Errorf("visit %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			return crawl.FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		return result, nil
	}
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.pickUserAgent()
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.AllowURLRevisit = true

	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	if f.cfg.Delay > 0 || f.cfg.RandomDelay > 0 {
		_ = collector.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Delay:       f.cfg.Delay,
			RandomDelay: f.cfg.RandomDelay,
		})
	}
	return collector
}

func (f *Fetcher) pickUserAgent() string {
	agents := f.cfg.UserAgents
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	return agents[rand.IntN(len(agents))]
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

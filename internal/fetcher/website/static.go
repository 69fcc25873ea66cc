package website

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// staticFetcher performs single-page HTTP fetches using a Colly collector.
type staticFetcher struct {
	timeout       time.Duration
	baseCollector *colly.Collector
}

func newStaticFetcher(timeout time.Duration) *staticFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &staticFetcher{
		timeout:       timeout,
		baseCollector: c,
	}
}

// fetch executes a single HTTP GET and returns the body and status code.
func (f *staticFetcher) fetch(ctx context.Context, targetURL, userAgent, proxy string) ([]byte, int, error) {
	collector := f.baseCollector.Clone()
	collector.UserAgent = userAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.timeout)
	if proxy != "" {
		if err := collector.SetProxy(proxy); err != nil {
			return nil, 0, fmt.Errorf("set proxy: %w", err)
		}
	}

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(targetURL)
	}()

	select {
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, status, fmt.Errorf("static visit failed: %w", err)
		}
		if fetchErr != nil {
			return nil, status, fmt.Errorf("static response failed: %w", fetchErr)
		}
		return body, status, nil
	}
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

// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package netstate

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProbeConfig configures an HTTPProbe.
type ProbeConfig struct {
	URL        string        // health endpoint, e.g. http://localhost:8080/health
	Interval   time.Duration // poll interval while online
	BackoffMax time.Duration // upper bound for the poll interval while offline
	Timeout    time.Duration // per-request timeout
	HTTP       *http.Client
	Logger     *slog.Logger
}

// HTTPProbe is a Source that polls a health endpoint. Any 2xx response counts
// as online; transport errors and other statuses count as offline. While
// offline the poll interval doubles up to BackoffMax and resets on recovery.
type HTTPProbe struct {
	cfg ProbeConfig

	mu       sync.Mutex
	online   bool
	watchers map[int]func(bool)
	next     int
}

// NewHTTPProbe creates a probe and performs one synchronous check so that
// Online reflects the current signal before Run starts.
func NewHTTPProbe(ctx context.Context, cfg ProbeConfig) *HTTPProbe {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BackoffMax < cfg.Interval {
		cfg.BackoffMax = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &HTTPProbe{cfg: cfg, watchers: make(map[int]func(bool))}
	p.online = p.check(ctx)
	return p
}

func (p *HTTPProbe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *HTTPProbe) Watch(fn func(bool)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.watchers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.watchers, id)
	}
}

// Run polls until ctx is cancelled.
func (p *HTTPProbe) Run(ctx context.Context) {
	wait := p.cfg.Interval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		online := p.check(ctx)
		p.update(online)
		if online {
			wait = p.cfg.Interval
		} else {
			wait *= 2
			if wait > p.cfg.BackoffMax {
				wait = p.cfg.BackoffMax
			}
		}
	}
}

// Check performs a single probe and publishes the result.
func (p *HTTPProbe) Check(ctx context.Context) bool {
	online := p.check(ctx)
	p.update(online)
	return online
}

func (p *HTTPProbe) check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		p.cfg.Logger.Debug("health probe request failed", "url", p.cfg.URL, "error", err)
		return false
	}
	resp, err := p.cfg.HTTP.Do(req)
	if err != nil {
		p.cfg.Logger.Debug("health probe unreachable", "url", p.cfg.URL, "error", err)
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (p *HTTPProbe) update(online bool) {
	p.mu.Lock()
	if p.online == online {
		p.mu.Unlock()
		return
	}
	p.online = online
	watchers := make([]func(bool), 0, len(p.watchers))
	for _, fn := range p.watchers {
		watchers = append(watchers, fn)
	}
	p.mu.Unlock()

	p.cfg.Logger.Info("connectivity changed", "url", p.cfg.URL, "online", online)
	for _, fn := range watchers {
		fn(online)
	}
}

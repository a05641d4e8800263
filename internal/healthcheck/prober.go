// Package healthcheck probes the gateway's dependencies in the background and
// reports readiness.
package healthcheck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Config controls the prober.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
	// FailureThreshold is how many consecutive failures mark a check
	// unhealthy. Zero means 1.
	FailureThreshold int
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// Check is a named probe. Optional checks are reported but never make the
// gateway unready.
type Check struct {
	Name     string
	Optional bool
	Run      CheckFunc
}

// CheckStatus is the last known state of a check.
type CheckStatus struct {
	Healthy     bool      `json:"healthy"`
	Optional    bool      `json:"optional,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
	Failures    int       `json:"consecutive_failures"`
}

// Prober periodically runs checks.
type Prober struct {
	cfg     Config
	checks  []Check
	logger  *slog.Logger
	started atomic.Bool

	mu     sync.RWMutex
	status map[string]CheckStatus
}

// NewProber creates a new health checker. Every check starts healthy so a
// slow first probe does not fail readiness.
func NewProber(cfg Config, checks []Check, logger *slog.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProbeTimeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	status := make(map[string]CheckStatus, len(checks))
	for _, c := range checks {
		status[c.Name] = CheckStatus{Healthy: true, Optional: c.Optional}
	}
	return &Prober{cfg: cfg, checks: checks, logger: logger, status: status}
}

// Start begins the probe loop until the context is canceled.
func (p *Prober) Start(ctx context.Context) {
	if p == nil || !p.cfg.Enabled || len(p.checks) == 0 {
		return
	}
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run(ctx)
}

func (p *Prober) run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-ctx.Done():
			p.logger.Info("healthcheck prober stopped")
			return
		}
	}
}

// RunOnce runs every check once.
func (p *Prober) RunOnce(ctx context.Context) {
	for _, c := range p.checks {
		if ctx.Err() != nil {
			return
		}
		probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		err := c.Run(probeCtx)
		cancel()
		p.record(c, err)
	}
}

func (p *Prober) record(c Check, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.status[c.Name]
	next := CheckStatus{Optional: c.Optional, LastChecked: time.Now().UTC()}
	if err == nil {
		next.Healthy = true
		if !prev.Healthy {
			p.logger.Info("dependency recovered", "check", c.Name)
		}
	} else {
		next.Failures = prev.Failures + 1
		next.LastError = err.Error()
		next.Healthy = next.Failures < p.cfg.FailureThreshold
		p.logger.Warn("healthcheck probe failed",
			"check", c.Name,
			"consecutive_failures", next.Failures,
			"error", err,
		)
	}
	p.status[c.Name] = next
}

// Ready reports whether every required check is healthy.
func (p *Prober) Ready() bool {
	if p == nil {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.status {
		if !s.Healthy && !s.Optional {
			return false
		}
	}
	return true
}

// Status returns a snapshot of every check.
func (p *Prober) Status() map[string]CheckStatus {
	out := make(map[string]CheckStatus)
	if p == nil {
		return out
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name, s := range p.status {
		out[name] = s
	}
	return out
}

// Names returns the check names in order.
func (p *Prober) Names() []string {
	names := make([]string, 0, len(p.checks))
	for _, c := range p.checks {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// LiveHandler always answers 200 while the process serves requests.
func LiveHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// ReadyHandler answers 200 when Ready, else 503, with per-check detail.
func (p *Prober) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	state := "ok"
	if !p.Ready() {
		status = http.StatusServiceUnavailable
		state = "unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": state,
		"checks": p.Status(),
	})
}

// HTTPCheck probes url with GET and treats any status below 500 as healthy:
// the backend answering at all is what matters. authorize may add credentials.
func HTTPCheck(client *http.Client, url string, authorize func(*http.Request)) CheckFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return err
		}
		if authorize != nil {
			authorize(req)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}
}

// Package health runs dependency checks for the advisor's health endpoint.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// State is the outcome of a check.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// ComponentHealth is the result of one check.
type ComponentHealth struct {
	Name     string        `json:"name"`
	Status   State         `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// Report aggregates every check.
type Report struct {
	Overall    State                      `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     time.Duration              `json:"uptime_ns"`
	Components map[string]ComponentHealth `json:"components"`
}

// Check tests one dependency.
type Check interface {
	Name() string
	Check(ctx context.Context) ComponentHealth
}

// Checker runs registered checks concurrently and caches the last report.
type Checker struct {
	timeout  time.Duration
	cacheTTL time.Duration
	logger   *logrus.Logger
	started  time.Time

	mu     sync.Mutex
	checks []Check
	last   *Report
}

// NewChecker creates a checker. Each run is bounded by timeout; a report is
// reused for cacheTTL.
func NewChecker(timeout, cacheTTL time.Duration, logger *logrus.Logger) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		timeout:  timeout,
		cacheTTL: cacheTTL,
		logger:   logger,
		started:  time.Now(),
	}
}

// Register adds a check.
func (c *Checker) Register(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
	c.last = nil
}

// Names lists registered checks in order.
func (c *Checker) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.checks))
	for _, check := range c.checks {
		names = append(names, check.Name())
	}
	sort.Strings(names)
	return names
}

// Run returns the current report, running the checks when the cached one has
// expired.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last != nil && time.Since(c.last.Timestamp) < c.cacheTTL {
		return *c.last
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make(chan ComponentHealth, len(c.checks))
	var wg sync.WaitGroup
	for _, check := range c.checks {
		wg.Add(1)
		go func(check Check) {
			defer wg.Done()
			results <- check.Check(ctx)
		}(check)
	}
	wg.Wait()
	close(results)

	report := Report{
		Overall:    StateHealthy,
		Timestamp:  time.Now(),
		Uptime:     time.Since(c.started),
		Components: make(map[string]ComponentHealth, len(c.checks)),
	}
	var failing []string
	for result := range results {
		report.Components[result.Name] = result
		switch result.Status {
		case StateUnhealthy:
			report.Overall = StateUnhealthy
			failing = append(failing, result.Name)
		case StateDegraded:
			if report.Overall == StateHealthy {
				report.Overall = StateDegraded
			}
			failing = append(failing, result.Name)
		}
	}

	if len(failing) > 0 {
		sort.Strings(failing)
		c.logger.WithFields(logrus.Fields{
			"overall":    report.Overall,
			"components": failing,
		}).Warn("Health check completed with issues")
	}

	c.last = &report
	return report
}

type pingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// PingCheck reports unhealthy when ping fails.
func PingCheck(name string, ping func(ctx context.Context) error) Check {
	return pingCheck{name: name, ping: ping}
}

func (p pingCheck) Name() string { return p.name }

func (p pingCheck) Check(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := p.ping(ctx)
	result := ComponentHealth{Name: p.name, Status: StateHealthy, Duration: time.Since(start)}
	if err != nil {
		result.Status = StateUnhealthy
		result.Message = "ping failed"
		result.Error = err.Error()
	}
	return result
}

// BreakerState is implemented by the resilient oracle and evidence store.
type BreakerState interface {
	State() gobreaker.State
}

type breakerCheck struct {
	name    string
	breaker BreakerState
}

// BreakerCheck maps a circuit breaker to a health state. An open breaker makes
// the component unhealthy; a half-open one degraded.
func BreakerCheck(name string, breaker BreakerState) Check {
	return breakerCheck{name: name, breaker: breaker}
}

func (b breakerCheck) Name() string { return b.name }

func (b breakerCheck) Check(context.Context) ComponentHealth {
	state := b.breaker.State()
	result := ComponentHealth{Name: b.name, Status: StateHealthy, Message: "circuit " + state.String()}
	switch state {
	case gobreaker.StateOpen:
		result.Status = StateUnhealthy
	case gobreaker.StateHalfOpen:
		result.Status = StateDegraded
	}
	return result
}

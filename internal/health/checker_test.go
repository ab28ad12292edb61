package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"

	"github.com/supplement-advisor-server/internal/testutil"
)

type fixedBreaker gobreaker.State

func (f fixedBreaker) State() gobreaker.State { return gobreaker.State(f) }

func TestChecker_NoChecksIsHealthy(t *testing.T) {
	report := NewChecker(time.Second, 0, testutil.QuietLogger()).Run(context.Background())
	assert.Equal(t, StateHealthy, report.Overall)
	assert.Empty(t, report.Components)
}

func TestChecker_WorstStateWins(t *testing.T) {
	tests := []struct {
		name     string
		checks   []Check
		expected State
	}{
		{
			name: "all healthy",
			checks: []Check{
				PingCheck("sessions", func(context.Context) error { return nil }),
				BreakerCheck("oracle", fixedBreaker(gobreaker.StateClosed)),
			},
			expected: StateHealthy,
		},
		{
			name: "half-open breaker degrades",
			checks: []Check{
				PingCheck("sessions", func(context.Context) error { return nil }),
				BreakerCheck("oracle", fixedBreaker(gobreaker.StateHalfOpen)),
			},
			expected: StateDegraded,
		},
		{
			name: "failed ping is unhealthy",
			checks: []Check{
				PingCheck("sessions", func(context.Context) error { return errors.New("connection refused") }),
				BreakerCheck("oracle", fixedBreaker(gobreaker.StateHalfOpen)),
			},
			expected: StateUnhealthy,
		},
		{
			name:     "open breaker is unhealthy",
			checks:   []Check{BreakerCheck("evidence_store", fixedBreaker(gobreaker.StateOpen))},
			expected: StateUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker(time.Second, 0, testutil.QuietLogger())
			for _, c := range tt.checks {
				checker.Register(c)
			}
			report := checker.Run(context.Background())
			assert.Equal(t, tt.expected, report.Overall)
			assert.Len(t, report.Components, len(tt.checks))
		})
	}
}

func TestChecker_FailedPingCarriesError(t *testing.T) {
	checker := NewChecker(time.Second, 0, testutil.QuietLogger())
	checker.Register(PingCheck("redis", func(context.Context) error { return errors.New("i/o timeout") }))

	component := checker.Run(context.Background()).Components["redis"]
	assert.Equal(t, StateUnhealthy, component.Status)
	assert.Equal(t, "i/o timeout", component.Error)
}

func TestChecker_CachesReport(t *testing.T) {
	var calls int32
	checker := NewChecker(time.Second, time.Minute, testutil.QuietLogger())
	checker.Register(PingCheck("sessions", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	checker.Run(context.Background())
	checker.Run(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	checker.Register(PingCheck("cache", func(context.Context) error { return nil }))
	checker.Run(context.Background())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"cache", "sessions"}, checker.Names())
}

func TestChecker_TimeoutReachesChecks(t *testing.T) {
	checker := NewChecker(20*time.Millisecond, 0, testutil.QuietLogger())
	checker.Register(PingCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	report := checker.Run(context.Background())
	assert.Equal(t, StateUnhealthy, report.Overall)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Components["slow"].Error)
}

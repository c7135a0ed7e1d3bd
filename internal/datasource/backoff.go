package datasource

import (
	"math/rand"
	"time"
)

const (
	defaultMaxDelay      = 60 * time.Second
	defaultResetInterval = 60 * time.Second
	defaultJitterRatio   = 0.5
)

// backoffJitterStrategy computes reconnect delays: exponential backoff capped
// at a maximum, with half the delay replaced by random jitter. A connection
// that stayed up longer than the reset interval resets the exponent.
type backoffJitterStrategy struct {
	retryTimes    int
	firstDelay    time.Duration
	maxDelay      time.Duration
	resetInterval time.Duration
	jitterRatio   float64
	latestGoodRun time.Time
}

func newBackoffJitterStrategy(firstDelay time.Duration) *backoffJitterStrategy {
	return &backoffJitterStrategy{
		firstDelay:    firstDelay,
		maxDelay:      defaultMaxDelay,
		resetInterval: defaultResetInterval,
		jitterRatio:   defaultJitterRatio,
	}
}

// setGoodRun records the moment a connection was established.
func (s *backoffJitterStrategy) setGoodRun() {
	s.latestGoodRun = time.Now()
}

// nextDelay returns the delay before the next reconnect attempt.
func (s *backoffJitterStrategy) nextDelay() time.Duration {
	if !s.latestGoodRun.IsZero() && s.resetInterval > 0 && time.Since(s.latestGoodRun) > s.resetInterval {
		s.retryTimes = 0
	}
	backoff := s.backoffTime()
	delay := time.Duration(float64(backoff)*s.jitterRatio*rand.Float64()) + backoff/2 //nolint:gosec // jitter, not crypto
	s.retryTimes++
	s.latestGoodRun = time.Time{}
	return delay
}

func (s *backoffJitterStrategy) backoffTime() time.Duration {
	delay := s.firstDelay << s.retryTimes
	if delay > s.maxDelay || delay <= 0 {
		return s.maxDelay
	}
	return delay
}

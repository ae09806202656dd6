package transport

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Default intake limits per sender.
const (
	defaultRPS   = 5
	defaultBurst = 10
)

// SenderLimiter enforces a per-sender envelope intake rate so one noisy
// peer cannot starve the inbox workers.
type SenderLimiter struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

// NewSenderLimiter creates a limiter pool. Non-positive arguments use the
// defaults.
func NewSenderLimiter(rps float64, burst int) *SenderLimiter {
	if rps <= 0 {
		rps = defaultRPS
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &SenderLimiter{
		m:     make(map[string]*rate.Limiter),
		rps:   rate.Limit(rps),
		burst: burst,
	}
}

// Allow reports whether sender may deliver another envelope now.
func (s *SenderLimiter) Allow(sender string) bool {
	return s.get(sender).Allow()
}

// Check is Allow with an error describing the rejection.
func (s *SenderLimiter) Check(sender string) error {
	if !s.Allow(sender) {
		return fmt.Errorf("intake rate exceeded for %s", sender)
	}
	return nil
}

func (s *SenderLimiter) get(sender string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.m[sender]
	if !ok {
		l = rate.NewLimiter(s.rps, s.burst)
		s.m[sender] = l
	}
	return l
}

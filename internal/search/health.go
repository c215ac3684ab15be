package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"filmly/catalog/internal/domain"
)

// sourceHealth tracks one upstream. It only feeds diagnostics: the search path
// never skips a source because of its history.
type sourceHealth struct {
	consecutiveFailures int
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	totalRequests       int64
	totalFailures       int64
}

func (s *Service) recordSourceResult(source string, err error, latency time.Duration) {
	if s == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(source))
	if name == "" {
		return
	}
	now := s.now()

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.health[name]
	if state == nil {
		state = &sourceHealth{}
		s.health[name] = state
	}
	state.totalRequests++
	if latency > 0 {
		state.lastLatency = latency
	}
	state.lastTimeout = isTimeoutLikeError(err)

	// A definite answer is a healthy round trip.
	if err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidArgument) {
		state.consecutiveFailures = 0
		state.lastError = ""
		state.lastSuccessAt = now
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()
}

// Diagnostics returns the observed state of every source contacted so far, sorted by name.
func (s *Service) Diagnostics() []domain.SourceDiagnostics {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	items := make([]domain.SourceDiagnostics, 0, len(s.health))
	for name, state := range s.health {
		item := domain.SourceDiagnostics{
			Name:                name,
			TotalRequests:       state.totalRequests,
			TotalFailures:       state.totalFailures,
			ConsecutiveFailures: state.consecutiveFailures,
			LastError:           state.lastError,
			LastLatencyMS:       state.lastLatency.Milliseconds(),
			LastTimeout:         state.lastTimeout,
		}
		if !state.lastSuccessAt.IsZero() {
			ts := state.lastSuccessAt.UnixMilli()
			item.LastSuccessAt = &ts
		}
		if !state.lastFailureAt.IsZero() {
			ts := state.lastFailureAt.UnixMilli()
			item.LastFailureAt = &ts
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

// Package health implements the small fatal-error propagation state
// named in spec §7 and SPEC_FULL §12 ("AppStates-equivalent"): once a
// fatal, unrecoverable error is observed for a topic (object-store
// auth failure, remote disk full), writes to that topic are halted and
// a process-wide health flag is flipped for check_flags consumers.
package health

import "sync"

// State tracks whether the process is healthy overall, and which
// topics have been individually halted after a fatal error.
type State struct {
	mu      sync.RWMutex
	healthy bool
	halted  map[string]error
}

// NewState returns a healthy state with nothing halted.
func NewState() *State {
	return &State{healthy: true, halted: make(map[string]error)}
}

// Halt marks topicId as halted due to cause, a fatal error per spec §7.
// Once halted, a topic's writer must refuse further appends until the
// process restarts — this tier has no automatic un-halt.
func (s *State) Halt(topicId string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted[topicId] = cause
	s.healthy = false
}

// IsHealthy reports whether the process as a whole has observed any
// fatal error yet.
func (s *State) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

// IsTopicHalted reports whether topicId specifically has been halted.
func (s *State) IsTopicHalted(topicId string) (error, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	err, ok := s.halted[topicId]
	return err, ok
}

// Flags is the snapshot check_flags returns: overall health plus the
// set of currently-halted topics.
type Flags struct {
	Healthy      bool
	HaltedTopics map[string]string
}

// CheckFlags returns a point-in-time snapshot suitable for an
// operational health-check endpoint.
func (s *State) CheckFlags() Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()

	halted := make(map[string]string, len(s.halted))
	for topicId, err := range s.halted {
		halted[topicId] = err.Error()
	}
	return Flags{Healthy: s.healthy, HaltedTopics: halted}
}

package concurrency

// RefreshState debounces limit refresh requests. Every Schedule bumps the
// generation; at most one caller holds the run permission at a time. The zero
// value is ready to use. Not safe for concurrent use on its own; Refresher
// guards it with a mutex.
type RefreshState struct {
	generation   uint64
	latestReason string
	running      bool
}

// Schedule records reason under a new generation. It returns (gen, true) when
// the caller claimed the run permission and must launch the refresh. While a
// refresh is running it returns (0, false) and nothing else is launched.
func (s *RefreshState) Schedule(reason string) (uint64, bool) {
	s.generation++
	s.latestReason = reason
	if s.running {
		return 0, false
	}
	s.running = true
	return s.generation, true
}

// RefreshReasonIfReady returns the latest reason only if generation is still
// the newest one.
func (s *RefreshState) RefreshReasonIfReady(generation uint64) (string, bool) {
	if generation != s.generation {
		return "", false
	}
	return s.latestReason, true
}

// MarkIdle releases the run permission.
func (s *RefreshState) MarkIdle() {
	s.running = false
}

// Generation returns the newest generation.
func (s *RefreshState) Generation() uint64 {
	return s.generation
}

// Running reports whether the run permission is held.
func (s *RefreshState) Running() bool {
	return s.running
}

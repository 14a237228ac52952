// Package pool models the backend runtime worker pool: per-worker health and
// metrics, the snapshot polled by the UI, and the supervisor that routes turns
// and restarts failed workers.
package pool

import (
	"fmt"
	"time"
)

// WorkerID identifies a worker for its lifetime.
type WorkerID int

func (id WorkerID) String() string {
	return fmt.Sprintf("w%d", int(id))
}

// Health is a worker's lifecycle state.
type Health string

const (
	HealthIdle       Health = "idle"
	HealthStarting   Health = "starting"
	HealthHealthy    Health = "healthy"
	HealthDegraded   Health = "degraded"
	HealthRestarting Health = "restarting"
	HealthStopped    Health = "stopped"
)

// Healthy reports whether the worker can take turns.
func (h Health) Healthy() bool {
	return h == HealthHealthy || h == HealthIdle
}

// Impaired reports whether the worker counts toward pool pressure.
func (h Health) Impaired() bool {
	return h == HealthDegraded || h == HealthRestarting
}

// WorkerMetrics is the per-worker slice of a Snapshot.
type WorkerMetrics struct {
	WorkerID      WorkerID
	Health        Health
	QueueDepth    int
	InFlightTurns int
	FailureCount  int
	RestartCount  int
	LastStartAt   time.Time
	LastFailureAt time.Time
}

// Snapshot is a read-only projection of the pool.
type Snapshot struct {
	ConfiguredWorkerCount int
	ActiveWorkerCount     int
	PinnedThreadCount     int
	TotalQueuedTurns      int
	TotalInFlightTurns    int
	Workers               []WorkerMetrics
}

// DegradedWorkerCount counts degraded and restarting workers.
func (s Snapshot) DegradedWorkerCount() int {
	n := 0
	for _, w := range s.Workers {
		if w.Health.Impaired() {
			n++
		}
	}
	return n
}

// TotalFailures sums worker failure counts.
func (s Snapshot) TotalFailures() int {
	n := 0
	for _, w := range s.Workers {
		n += w.FailureCount
	}
	return n
}

package concurrency

import "sync"

const (
	maxQueuedBoost = 48
	maxStepUp      = 8
	maxStepDown    = 2
)

// Signals is one observation of pool state fed to NextLimit.
type Signals struct {
	QueuedTurns            int
	ActiveTurns            int
	WorkerCount            int
	DegradedWorkerCount    int
	TotalWorkerFailures    int
	SelectedThreadIsActive bool
	MemoryPressure         bool
	EventBacklogPressure   bool

	// WorkerQueuedTurns is turns already queued inside workers; each one
	// lowers the target since those turns hold capacity without progress.
	WorkerQueuedTurns int

	// RollingP95TTFTMS is ignored when zero.
	RollingP95TTFTMS float64
}

// ControllerConfig bounds the limit. Zero fields take defaults.
type ControllerConfig struct {
	MinimumLimit     int
	HardMaximumLimit int
	BasePerWorker    int
	TTFTBudgetMS     float64
}

// DefaultControllerConfig matches a mid-sized host.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MinimumLimit:     2,
		HardMaximumLimit: 64,
		BasePerWorker:    8,
		TTFTBudgetMS:     0,
	}
}

// Controller converges the global in-flight turn limit toward a target derived
// from Signals, moving a bounded step per call.
type Controller struct {
	mu                   sync.Mutex
	cfg                  ControllerConfig
	current              int
	previousFailureCount int
}

// NewController returns a controller starting at the minimum limit.
func NewController(cfg ControllerConfig) *Controller {
	def := DefaultControllerConfig()
	if cfg.MinimumLimit < 1 {
		cfg.MinimumLimit = def.MinimumLimit
	}
	if cfg.HardMaximumLimit < cfg.MinimumLimit {
		cfg.HardMaximumLimit = max(cfg.MinimumLimit, def.HardMaximumLimit)
	}
	if cfg.BasePerWorker < 1 {
		cfg.BasePerWorker = def.BasePerWorker
	}
	return &Controller{cfg: cfg, current: cfg.MinimumLimit}
}

// Current returns the last computed limit.
func (c *Controller) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NextLimit folds s into the limit and returns it.
func (c *Controller) NextLimit(s Signals) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	lo, hi := c.cfg.MinimumLimit, c.cfg.HardMaximumLimit
	workers := max(1, s.WorkerCount)
	baseline := clamp(workers*c.cfg.BasePerWorker, lo, hi)
	target := baseline

	if s.QueuedTurns > 0 {
		target = min(hi, baseline+min(maxQueuedBoost, s.QueuedTurns))
	}
	if s.WorkerQueuedTurns > 0 {
		target = max(lo, target-s.WorkerQueuedTurns)
	}

	failureDelta := max(0, s.TotalWorkerFailures-c.previousFailureCount)
	c.previousFailureCount = s.TotalWorkerFailures

	if s.DegradedWorkerCount > 0 || failureDelta > 0 || s.MemoryPressure || s.EventBacklogPressure {
		target = max(max(lo, workers*2), target/2)
	}

	if c.cfg.TTFTBudgetMS > 0 && s.RollingP95TTFTMS > c.cfg.TTFTBudgetMS {
		scaled := int(float64(target) * c.cfg.TTFTBudgetMS / s.RollingP95TTFTMS)
		target = max(lo, scaled)
	}

	if s.SelectedThreadIsActive {
		target = min(hi, target+1)
	}

	// Leave room for at least one more turn beyond those in flight.
	target = clamp(max(s.ActiveTurns+1, target), lo, hi)

	switch {
	case target > c.current:
		c.current = min(target, c.current+maxStepUp)
	case target < c.current:
		c.current = max(target, c.current-maxStepDown)
	}
	return c.current
}

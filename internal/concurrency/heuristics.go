// Package concurrency sizes the runtime worker pool and adapts the global
// in-flight turn limit to observed pool health.
package concurrency

// Topology describes the host CPU layout. PerformanceCores is 0 when the
// platform does not distinguish core classes.
type Topology struct {
	PerformanceCores int
	LogicalCores     int
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RecommendedPoolSize picks a worker count. With known performance cores one is
// held back for UI work once there are more than 8.
func RecommendedPoolSize(performanceCores, logicalCores int) int {
	if performanceCores > 0 {
		n := performanceCores
		if n > 8 {
			n--
		}
		return clamp(n, 2, 12)
	}
	return clamp(max(2, logicalCores/2), 2, 8)
}

func topologyTier(performanceCores, logicalCores int) int {
	switch {
	case performanceCores >= 10 || logicalCores >= 16:
		return 3
	case performanceCores >= 8 || logicalCores >= 10:
		return 2
	case performanceCores >= 4 || logicalCores >= 6:
		return 1
	default:
		return 0
	}
}

// RecommendedPerWorkerTurnLimit is the in-flight turn cap per worker, in [2, 8].
func RecommendedPerWorkerTurnLimit(performanceCores, logicalCores int) int {
	limits := [...]int{2, 3, 4, 5}
	return clamp(limits[topologyTier(performanceCores, logicalCores)], 2, 8)
}

// RecommendedAdaptiveBasePerWorker seeds the controller baseline. Small hosts
// share the 3 tier.
func RecommendedAdaptiveBasePerWorker(performanceCores, logicalCores int) int {
	bases := [...]int{3, 3, 4, 5}
	return bases[topologyTier(performanceCores, logicalCores)]
}

// Recommend applies every heuristic to t.
func (t Topology) Recommend() Recommendation {
	return Recommendation{
		PoolSize:              RecommendedPoolSize(t.PerformanceCores, t.LogicalCores),
		PerWorkerTurnLimit:    RecommendedPerWorkerTurnLimit(t.PerformanceCores, t.LogicalCores),
		AdaptiveBasePerWorker: RecommendedAdaptiveBasePerWorker(t.PerformanceCores, t.LogicalCores),
	}
}

// Recommendation bundles the sizing heuristics for one topology.
type Recommendation struct {
	PoolSize              int
	PerWorkerTurnLimit    int
	AdaptiveBasePerWorker int
}

package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/joss/turnpool/internal/alerts"
	"github.com/joss/turnpool/internal/archive"
	"github.com/joss/turnpool/internal/concurrency"
	"github.com/joss/turnpool/internal/metrics"
	"github.com/joss/turnpool/internal/perf"
	"github.com/joss/turnpool/internal/persistence"
	"github.com/joss/turnpool/internal/pool"
)

// Renderer handles output formatting.
type Renderer struct {
	pretty bool
}

// New creates a new renderer.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty}
}

func (r *Renderer) header(sb *strings.Builder, title string) {
	if r.pretty {
		sb.WriteString(color.CyanString(title) + "\n")
		sb.WriteString(strings.Repeat("─", 40) + "\n")
	} else {
		sb.WriteString(title + "\n")
	}
}

// Topology formats detected cores and the derived sizing.
func (r *Renderer) Topology(t concurrency.Topology, rec concurrency.Recommendation) string {
	var sb strings.Builder
	r.header(&sb, "CPU Topology")
	fmt.Fprintf(&sb, "  Performance cores: %d\n", t.PerformanceCores)
	fmt.Fprintf(&sb, "  Logical cores:     %d\n", t.LogicalCores)
	sb.WriteString("\n")
	r.header(&sb, "Recommendation")
	fmt.Fprintf(&sb, "  Pool size:          %d\n", rec.PoolSize)
	fmt.Fprintf(&sb, "  Turns per worker:   %d\n", rec.PerWorkerTurnLimit)
	fmt.Fprintf(&sb, "  Adaptive base:      %d\n", rec.AdaptiveBasePerWorker)
	return sb.String()
}

// Backoff formats app-level recovery delays and the worker restart schedule.
func (r *Renderer) Backoff(recovery []time.Duration, restarts []time.Duration, maxFailures int) string {
	var sb strings.Builder
	r.header(&sb, "App auto-recovery")
	if len(recovery) == 0 {
		sb.WriteString("  (none)\n")
	}
	for i, d := range recovery {
		fmt.Fprintf(&sb, "  attempt %d  %s\n", i+1, FormatDuration(d))
	}
	sb.WriteString("\n")
	r.header(&sb, "Worker restarts")
	for i, d := range restarts {
		line := fmt.Sprintf("  failure %d  %s", i+1, FormatDuration(d))
		if i+1 > maxFailures {
			line += "  " + r.dim("(stopped)")
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

// HealthIcon returns an icon for a worker health state.
func HealthIcon(h pool.Health) string {
	switch h {
	case pool.HealthHealthy, pool.HealthIdle:
		return "●"
	case pool.HealthStarting, pool.HealthRestarting:
		return "◐"
	case pool.HealthDegraded:
		return "○"
	case pool.HealthStopped:
		return "✗"
	default:
		return "•"
	}
}

func (r *Renderer) health(h pool.Health) string {
	s := HealthIcon(h) + " " + string(h)
	if !r.pretty {
		return string(h)
	}
	switch {
	case h.Healthy():
		return color.GreenString(s)
	case h == pool.HealthStopped:
		return color.RedString(s)
	default:
		return color.YellowString(s)
	}
}

func (r *Renderer) dim(s string) string {
	if r.pretty {
		return color.HiBlackString(s)
	}
	return s
}

// Pool formats a pool snapshot.
func (r *Renderer) Pool(s pool.Snapshot) string {
	var sb strings.Builder
	r.header(&sb, "Worker Pool")
	fmt.Fprintf(&sb, "  Workers:   %d/%d active\n", s.ActiveWorkerCount, s.ConfiguredWorkerCount)
	fmt.Fprintf(&sb, "  Pinned:    %d threads\n", s.PinnedThreadCount)
	fmt.Fprintf(&sb, "  Turns:     %d in flight, %d queued\n", s.TotalInFlightTurns, s.TotalQueuedTurns)
	if len(s.Workers) == 0 {
		return sb.String()
	}
	sb.WriteString("\n")
	for _, w := range s.Workers {
		fmt.Fprintf(&sb, "  %-4s %-14s in_flight=%d queued=%d failures=%d restarts=%d\n",
			w.WorkerID, r.health(w.Health), w.InFlightTurns, w.QueueDepth, w.FailureCount, w.RestartCount)
	}
	return sb.String()
}

// Perf formats the TTFT window and the current turn limit.
func (r *Renderer) Perf(p perf.Snapshot, limit int) string {
	var sb strings.Builder
	r.header(&sb, "Performance")
	if p.HasData() {
		fmt.Fprintf(&sb, "  TTFT p95:   %.1fms (%d samples)\n", p.RollingP95TTFTMS, p.SampleCount)
	} else {
		fmt.Fprintf(&sb, "  TTFT p95:   %s\n", r.dim("no samples"))
	}
	fmt.Fprintf(&sb, "  Turn limit: %d\n", limit)
	return sb.String()
}

// Pipeline formats persistence pipeline counters.
func (r *Renderer) Pipeline(p metrics.PipelineStats) string {
	var sb strings.Builder
	r.header(&sb, "Persistence")
	fmt.Fprintf(&sb, "  Scheduler: %d running, %d pending\n", p.SchedulerRunning, p.SchedulerPending)
	fmt.Fprintf(&sb, "  Batcher:   %d pending, %d flushes\n", p.BatcherPending, p.BatchFlushes)
	fmt.Fprintf(&sb, "  Jobs:      %d processed, %d failed\n", p.Processed, p.Failed)
	return sb.String()
}

// StatusIcon returns an icon for a checkpoint status.
func StatusIcon(s persistence.TurnStatus) string {
	switch s {
	case persistence.TurnCompleted:
		return "✓"
	case persistence.TurnFailed:
		return "✗"
	case persistence.TurnPending:
		return "⏱"
	default:
		return "•"
	}
}

func (r *Renderer) status(s persistence.TurnStatus) string {
	icon := StatusIcon(s)
	if !r.pretty {
		return icon
	}
	switch s {
	case persistence.TurnCompleted:
		return color.GreenString(icon)
	case persistence.TurnFailed:
		return color.RedString(icon)
	default:
		return color.YellowString(icon)
	}
}

// Checkpoints formats a checkpoint list, newest first as given.
func (r *Renderer) Checkpoints(list []*archive.Checkpoint) string {
	if len(list) == 0 {
		return "No checkpoints found\n"
	}
	var sb strings.Builder
	r.header(&sb, "Checkpoints")
	for _, c := range list {
		ts := c.StartedAt.Local().Format("15:04:05")
		fmt.Fprintf(&sb, "%s %s %s %s %s\n",
			r.status(c.Status), r.dim(ts), c.ThreadID.String()[:8], c.TurnID.String()[:8],
			Truncate(c.UserText, 50))
		if c.Error != "" {
			fmt.Fprintf(&sb, "    └─ %s\n", Truncate(c.Error, 70))
		}
	}
	return sb.String()
}

// Checkpoint formats one checkpoint in full.
func (r *Renderer) Checkpoint(c *archive.Checkpoint) string {
	var sb strings.Builder
	r.header(&sb, "Checkpoint "+c.ID)
	fmt.Fprintf(&sb, "  Status:   %s %s\n", r.status(c.Status), c.Status)
	fmt.Fprintf(&sb, "  Project:  %s\n", c.ProjectPath)
	fmt.Fprintf(&sb, "  Thread:   %s\n", c.ThreadID)
	fmt.Fprintf(&sb, "  Turn:     %s\n", c.TurnID)
	if c.RuntimeTurnID != "" {
		fmt.Fprintf(&sb, "  Runtime:  %s\n", c.RuntimeTurnID)
	}
	fmt.Fprintf(&sb, "  Started:  %s\n", c.StartedAt.Local().Format(time.RFC3339))
	if !c.CompletedAt.IsZero() {
		fmt.Fprintf(&sb, "  Duration: %s\n", FormatDuration(c.CompletedAt.Sub(c.StartedAt)))
	}
	if c.Error != "" {
		fmt.Fprintf(&sb, "  Error:    %s\n", c.Error)
	}
	fmt.Fprintf(&sb, "\n  > %s\n", c.UserText)
	if c.AssistantText != "" {
		fmt.Fprintf(&sb, "  < %s\n", c.AssistantText)
	}
	return sb.String()
}

// StatusCounts formats checkpoint totals per status.
func (r *Renderer) StatusCounts(counts map[persistence.TurnStatus]int) string {
	var sb strings.Builder
	r.header(&sb, "Checkpoint totals")
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	if len(statuses) == 0 {
		sb.WriteString("  (empty)\n")
	}
	for _, s := range statuses {
		st := persistence.TurnStatus(s)
		fmt.Fprintf(&sb, "  %s %-10s %d\n", r.status(st), s, counts[st])
	}
	return sb.String()
}

// Alerts formats active alerts.
func (r *Renderer) Alerts(list []alerts.Alert) string {
	if len(list) == 0 {
		return "No active alerts\n"
	}
	var sb strings.Builder
	r.header(&sb, fmt.Sprintf("%d active alert(s)", len(list)))
	for _, a := range list {
		level := string(a.Level)
		if r.pretty && a.Level == alerts.LevelCritical {
			level = color.RedString(level)
		}
		fmt.Fprintf(&sb, "  [%s] %s: %s\n", level, a.Component, a.Title)
		fmt.Fprintf(&sb, "    %s %s\n", r.dim(a.ID), a.Message)
	}
	return sb.String()
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

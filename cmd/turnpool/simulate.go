package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/turnpool/internal/concurrency"
	"github.com/joss/turnpool/internal/config"
	"github.com/joss/turnpool/internal/render"
)

func simulateCmd() *cobra.Command {
	var (
		opts    simOptions
		workers int
		dataDir string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the coordination core against simulated workers",
		Long: `Run a synthetic workload through the full core: topology sizing,
adaptive turn limit, thread pinning, approval routing, thread
resolution, worker restarts and checkpoint persistence.

Examples:
  turnpool simulate --turns 200 --threads 12
  turnpool simulate --failure-rate 0.2 --time-scale 20
  TURNPOOL_METRICS_ADDR=127.0.0.1:9464 turnpool simulate --turns 5000`,
		Run: func(cmd *cobra.Command, args []string) {
			if workers > 0 {
				cfg.Pool.Workers = workers
			}
			if dataDir == "" {
				dataDir = config.GetPaths().Data
			}
			if opts.ProjectPath == "" {
				opts.ProjectPath, _ = os.Getwd()
			}

			top := concurrency.DetectTopology(cmd.Context())
			s, err := newSession(cfg, opts, top, dataDir)
			if err != nil {
				exitOnError("session_start_failed", err)
			}
			s.shutdown.ListenForSignals()

			res := s.run(s.shutdown.Context())
			if err := s.close(); err != nil {
				cliLog.Warn("shutdown_incomplete", nil, err)
			}

			emit(res, func() string { return summarize(renderer(), res) })
		},
	}

	cmd.Flags().IntVar(&opts.Turns, "turns", 100, "Total turns to run")
	cmd.Flags().IntVar(&opts.Threads, "threads", 8, "Concurrent conversation threads")
	cmd.Flags().IntVar(&workers, "workers", 0, "Pool size (0 uses config or CPU topology)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", uint64(time.Now().UnixNano()), "Random seed")
	cmd.Flags().Float64Var(&opts.TimeScale, "time-scale", 10, "Divide recovery delays by this factor")
	cmd.Flags().Float64Var(&opts.Profile.FailureRate, "failure-rate", 0.05, "Chance a turn crashes its worker")
	cmd.Flags().Float64Var(&opts.Profile.ApprovalRate, "approval-rate", 0.2, "Chance a turn asks for approval")
	cmd.Flags().IntVar(&opts.Profile.Capacity, "capacity", 0, "Turns a worker serves at once (0 uses CPU topology)")
	cmd.Flags().IntVar(&opts.Profile.Deltas, "deltas", 6, "Streamed chunks per turn")
	cmd.Flags().DurationVar(&opts.Profile.MinTTFT, "min-ttft", 20*time.Millisecond, "Fastest first token")
	cmd.Flags().DurationVar(&opts.Profile.MaxTTFT, "max-ttft", 200*time.Millisecond, "Slowest first token")
	cmd.Flags().DurationVar(&opts.Profile.RestartDelay, "restart-delay", 50*time.Millisecond, "Simulated worker boot time")
	cmd.Flags().StringVar(&opts.ProjectPath, "project", "", "Project path recorded on checkpoints (default cwd)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Checkpoint database directory (default $TURNPOOL_HOME/data)")
	return cmd
}

func summarize(r *render.Renderer, res sessionResult) string {
	return r.Pool(res.Pool) + "\n" +
		r.Perf(res.Perf, res.TurnLimit) + "\n" +
		r.Pipeline(res.Pipeline) + "\n" +
		r.StatusCounts(res.Checkpoints) + "\n" +
		fmt.Sprintf("Turns: %d completed, %d failed, %d approvals in %s\n",
			res.Completed, res.Failed, res.Approvals, render.FormatDuration(res.Elapsed))
}

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/turnpool/internal/alerts"
	"github.com/joss/turnpool/internal/concurrency"
	"github.com/joss/turnpool/internal/config"
	"github.com/joss/turnpool/internal/recovery"
	"github.com/joss/turnpool/internal/render"
)

func topologyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topology",
		Short: "Show CPU topology and pool sizing",
		Run: func(cmd *cobra.Command, args []string) {
			top := concurrency.DetectTopology(cmd.Context())
			rec := top.Recommend()
			emit(struct {
				Topology       concurrency.Topology       `json:"topology"`
				Recommendation concurrency.Recommendation `json:"recommendation"`
			}{top, rec}, func() string {
				return renderer().Topology(top, rec)
			})
		},
	}
}

func backoffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backoff",
		Short: "Show recovery delays and the worker restart schedule",
		Long: `Show app-level auto-recovery delays (after config and
` + recovery.DefaultBackoffEnv + `) and the per-worker restart
backoff for each consecutive failure.`,
		Run: func(cmd *cobra.Command, args []string) {
			delays := make([]time.Duration, 0, len(cfg.Recovery.AutoRecoveryBackoffSeconds))
			for _, s := range cfg.Recovery.AutoRecoveryBackoffSeconds {
				delays = append(delays, time.Duration(s)*time.Second)
			}
			maxFailures := cfg.Pool.MaxConsecutiveFailures
			restarts := make([]time.Duration, 0, maxFailures+1)
			for n := 1; n <= maxFailures+1; n++ {
				restarts = append(restarts, recovery.WorkerRestartBackoff(n))
			}
			emit(struct {
				AutoRecoverySeconds    []uint64 `json:"auto_recovery_seconds"`
				RestartSeconds         []int64  `json:"restart_seconds"`
				MaxConsecutiveFailures int      `json:"max_consecutive_failures"`
			}{cfg.Recovery.AutoRecoveryBackoffSeconds, seconds(restarts), maxFailures}, func() string {
				return renderer().Backoff(delays, restarts, maxFailures)
			})
		},
	}
}

func seconds(ds []time.Duration) []int64 {
	out := make([]int64, len(ds))
	for i, d := range ds {
		out[i] = int64(d / time.Second)
	}
	return out
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			if asJSON {
				if err := render.Stdout().JSON(cfg); err != nil {
					exitOnError("config_show_failed", err)
				}
				return
			}
			w := render.Stdout()
			w.Println("# %s", config.GetPaths().ConfigFile)
			if err := cfg.WriteYAML(cmd.OutOrStdout()); err != nil {
				exitOnError("config_show_failed", err)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			path := config.GetPaths().ConfigFile
			if err := config.DefaultConfig().SaveToFile(path); err != nil {
				exitOnError("config_init_failed", err)
			}
			render.Stdout().Println("Wrote %s", path)
		},
	})
	return cmd
}

func alertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "List and resolve worker alerts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active alerts",
		Run: func(cmd *cobra.Command, args []string) {
			m := alerts.Global()
			if m == nil {
				fatalErrorf("alert manager unavailable")
			}
			active := m.GetActive()
			emit(active, func() string { return renderer().Alerts(active) })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resolve <alert-id>",
		Short: "Mark an alert as resolved",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			m := alerts.Global()
			if m == nil {
				fatalErrorf("alert manager unavailable")
			}
			m.Resolve(args[0])
			render.Stdout().Println("Resolved %s", args[0])
		},
	})
	return cmd
}

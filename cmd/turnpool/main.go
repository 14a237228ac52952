// Package main provides the turnpool CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joss/turnpool/internal/alerts"
	"github.com/joss/turnpool/internal/config"
	"github.com/joss/turnpool/internal/logging"
	"github.com/joss/turnpool/internal/render"
)

var (
	version = "0.1.0"
	cfg     *config.Config
	pretty  = true
	asJSON  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "turnpool",
		Short: "Coordinate a pool of backend runtime workers",
		Long: `turnpool: coordination core for a pool of runtime workers.

Sizes the pool from CPU topology, adapts the turn limit to load,
routes approvals, dedups thread resolution, checkpoints turns to
SQLite and restarts failed workers with bounded backoff.

Use 'turnpool simulate' to drive the whole core against fake workers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig()
			if err != nil {
				return err
			}
			logging.SetLevel(logging.Level(cfg.Log.Level))

			if !term.IsTerminal(int(os.Stdout.Fd())) {
				color.NoColor = true
			}

			// Alerts are best effort; commands still run without a manager.
			if m, err := alerts.NewManager(config.GetPaths().Alerts); err == nil {
				alerts.SetGlobal(m)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Pretty print output")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "inspect", Title: "Inspect:"},
		&cobra.Group{ID: "runtime", Title: "Runtime:"},
	)

	for _, c := range []*cobra.Command{topologyCmd(), backoffCmd(), configCmd(), alertCmd()} {
		c.GroupID = "inspect"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{simulateCmd(), checkpointsCmd()} {
		c.GroupID = "runtime"
		rootCmd.AddCommand(c)
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("turnpool %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the YAML file and applies TURNPOOL_* overrides.
func loadConfig() (*config.Config, error) {
	c, err := config.Load(config.GetPaths().ConfigFile)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(config.Env())
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func renderer() *render.Renderer {
	return render.New(pretty && !color.NoColor)
}

// emit writes v as JSON when --json is set, otherwise the text form.
func emit(v any, text func() string) {
	out := render.Stdout()
	if asJSON {
		if err := out.JSON(v); err != nil {
			fatalErrorf("encode output: %v", err)
		}
		return
	}
	out.Print(text())
}

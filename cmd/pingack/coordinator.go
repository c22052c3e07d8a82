package main

import (
	"github.com/spf13/cobra"

	"github.com/ryandielhenn/pingack/internal/config"
	"github.com/ryandielhenn/pingack/pkg/detector"
)

var coordinatorOpts options

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Track worker liveness and declare failures",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := coordinatorOpts.load(cmd.Flags(), config.RoleCoordinator)
		if err != nil {
			return err
		}
		cfg.Address = int64(detector.CoordinatorAddress)
		return run(cfg)
	},
}

func init() {
	rootCmd.AddCommand(coordinatorCmd)
	def := config.Default()
	fs := coordinatorCmd.Flags()
	coordinatorOpts.addCommonFlags(fs)
	fs.DurationVar(&coordinatorOpts.probeInterval, "probe-interval", def.ProbeInterval.Duration, "time between probe broadcasts")
	fs.DurationVar(&coordinatorOpts.freshnessWindow, "freshness-window", def.FreshnessWindow.Duration, "maximum age of a probe response that still counts")
	fs.IntVar(&coordinatorOpts.failureThreshold, "failure-threshold", def.FailureThreshold, "missed probe cycles before a worker is declared failed")
}

package main

import (
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/ryandielhenn/pingack/internal/config"
	"github.com/ryandielhenn/pingack/pkg/node"
)

var workerOpts options

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Register with the coordinator and answer its probes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := workerOpts.load(cmd.Flags(), config.RoleWorker)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	def := config.Default()
	fs := workerCmd.Flags()
	workerOpts.addCommonFlags(fs)
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	fs.Int64Var(&workerOpts.address, "address", int64(node.RandomWorkerAddress(r)), "worker address (random by default)")
	fs.DurationVar(&workerOpts.retryInterval, "retry-interval", def.RetryInterval.Duration, "time between registration attempts")
}

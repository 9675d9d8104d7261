package cmd

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/stacksim/sim"
	"github.com/inference-sim/stacksim/sim/policy"
)

var (
	policyAddr     string
	policyPath     string
	policySeed     int64
	policyLogLevel string
)

// policyCmd serves the reference policy under the decision-service contract
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Serve the reference reactive policy as a decision service",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel(policyLogLevel)

		rng := sim.NewPartitionedRNG(sim.NewSimulationKey(policySeed))
		p := policy.NewReactive(rng.ForSubsystem(sim.SubsystemPolicy))

		h := server.Default(server.WithHostPorts(policyAddr))
		policy.NewServer(p, policyPath, logrus.StandardLogger()).RegisterRoutes(h)

		logrus.Infof("Reference policy listening on %s%s", policyAddr, policyPath)
		h.Spin()
	},
}

func init() {
	policyCmd.Flags().StringVar(&policyAddr, "addr", ":8585", "Listen address")
	policyCmd.Flags().StringVar(&policyPath, "path", policy.DefaultPath, "Decision route")
	policyCmd.Flags().Int64Var(&policySeed, "seed", 42, "Seed for the policy's random moves")
	policyCmd.Flags().StringVar(&policyLogLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
}

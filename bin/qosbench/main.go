package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/litmuschaos/litmus-qos/experiments/qos/policy-comparison/experiment"
	"github.com/litmuschaos/litmus-qos/pkg/cerrors"
	"github.com/litmuschaos/litmus-qos/pkg/log"
	"github.com/litmuschaos/litmus-qos/pkg/qos/environment"
	experimentTypes "github.com/litmuschaos/litmus-qos/pkg/qos/types"
	"github.com/litmuschaos/litmus-qos/pkg/telemetry"
	"github.com/litmuschaos/litmus-qos/pkg/types"
)

const experimentName = "qos-policy-comparison"

func main() {

	var (
		configPath string
		logLevel   string
		backend    string
		marking    string
		resultsDir string
		policyID   int
		live       bool
	)
	experimentsDetails := experimentTypes.ExperimentDetails{}

	// prepare fetches the env, overlays the config file and the flags, then validates
	prepare := func(cmd *cobra.Command) error {
		environment.GetENV(&experimentsDetails, experimentName)
		if configPath != "" {
			if err := environment.LoadFile(configPath, &experimentsDetails); err != nil {
				return err
			}
		}
		flags := cmd.Flags()
		if flags.Changed("log-level") {
			experimentsDetails.LogLevel = logLevel
		}
		if flags.Changed("backend") {
			experimentsDetails.Backend = backend
		}
		if flags.Changed("marking") {
			experimentsDetails.Marking = types.Marking(marking)
		}
		if flags.Changed("results-dir") {
			experimentsDetails.ResultsDir = resultsDir
		}
		if flags.Changed("policy") {
			experimentsDetails.PolicyID = policyID
		}
		log.Init(experimentsDetails.LogLevel, os.Stderr)
		log.Infof("[PreReq]: Getting the ENV for the %v experiment", experimentsDetails.ExperimentName)
		return environment.Validate(&experimentsDetails)
	}

	// run executes fn under a context cancelled by SIGINT/SIGTERM with tracing set up
	run := func(cmd *cobra.Command, fn func(ctx context.Context, kit *experiment.Toolkit) error) error {
		if err := prepare(cmd); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		abort := make(chan os.Signal, 1)
		signal.Notify(abort, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case <-abort:
				log.Info("[Abort]: Signal received, stopping the experiment")
				cancel()
			case <-ctx.Done():
			}
		}()

		shutdown, err := telemetry.InitOTelSDK(ctx, experimentsDetails.OTELEndpoint)
		if err != nil {
			log.Warnf("unable to set up tracing, err: %v", err)
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Warnf("unable to flush the traces, err: %v", err)
				}
			}()
		}

		kit, err := experiment.NewToolkit(&experimentsDetails)
		if err != nil {
			return err
		}
		return fn(ctx, kit)
	}

	var runCmd = &cobra.Command{
		Use:                   "run [flags]",
		Short:                 "Run the experiment for one shaping policy",
		Long:                  "Apply the policy on the bottleneck interface, drive the media and competing flows, then collect and analyze the artifacts",
		Args:                  cobra.MaximumNArgs(0),
		Example:               "qosbench run --policy=3",
		DisableFlagsInUseLine: true,
		Run: func(cmd *cobra.Command, args []string) {
			exit(run(cmd, func(ctx context.Context, kit *experiment.Toolkit) error {
				return experiment.PolicyComparison(ctx, &experimentsDetails, kit)
			}))
		},
	}

	var runAllCmd = &cobra.Command{
		Use:                   "run-all [flags]",
		Short:                 "Run every policy of the catalog and compare them",
		Args:                  cobra.MaximumNArgs(0),
		Example:               "qosbench run-all --results-dir=results",
		DisableFlagsInUseLine: true,
		Run: func(cmd *cobra.Command, args []string) {
			exit(run(cmd, func(ctx context.Context, kit *experiment.Toolkit) error {
				return experiment.RunAll(ctx, &experimentsDetails, kit)
			}))
		},
	}

	var analyzeCmd = &cobra.Command{
		Use:                   "analyze [flags]",
		Short:                 "Rebuild the comparison from an existing results tree",
		Args:                  cobra.MaximumNArgs(0),
		Example:               "qosbench analyze --results-dir=results",
		DisableFlagsInUseLine: true,
		Run: func(cmd *cobra.Command, args []string) {
			exit(run(cmd, func(ctx context.Context, kit *experiment.Toolkit) error {
				return experiment.Analyze(ctx, &experimentsDetails, kit.Fs)
			}))
		},
	}

	var describeCmd = &cobra.Command{
		Use:                   "describe [flags]",
		Short:                 "Print the operations of a policy and the tc commands applying them",
		Args:                  cobra.MaximumNArgs(0),
		Example:               "qosbench describe --policy=5 --live",
		DisableFlagsInUseLine: true,
		Run: func(cmd *cobra.Command, args []string) {
			exit(run(cmd, func(ctx context.Context, kit *experiment.Toolkit) error {
				return experiment.Describe(ctx, &experimentsDetails, kit, experimentsDetails.PolicyID, live, os.Stdout)
			}))
		},
	}

	runCmd.Flags().IntVarP(&policyID, "policy", "p", 0, "id of the shaping policy, 0-5")
	describeCmd.Flags().IntVarP(&policyID, "policy", "p", 0, "id of the shaping policy, 0-5")
	describeCmd.Flags().BoolVar(&live, "live", false, "also print the current state of the bottleneck interface")
	runCmd.MarkFlagRequired("policy")
	describeCmd.MarkFlagRequired("policy")

	var rootCmd = &cobra.Command{Use: "qosbench", SilenceUsage: true}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path of the yaml config overlaying the env")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log verbosity")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "tc", "shaping backend, tc or netlink")
	rootCmd.PersistentFlags().StringVar(&marking, "marking", "egress", "marking stage of policy 5, egress (clsact) or netfilter (routed interfaces only)")
	rootCmd.PersistentFlags().StringVar(&resultsDir, "results-dir", "results", "root of the results tree")
	rootCmd.AddCommand(runCmd, runAllCmd, analyzeCmd, describeCmd)
	rootCmd.Execute()
}

// exit prints the root cause of err with its type and exits non-zero, if err is set
func exit(err error) {
	if err == nil {
		return
	}
	msg, errType := cerrors.GetRootCauseAndErrorCode(err)
	log.Fatalf("[Error]: %s (%s)", msg, errType)
}

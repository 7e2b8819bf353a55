package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/theblitlabs/parity-flsim/cmd/cli"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

var logMode string

var rootCmd = &cobra.Command{
	Use:   "flsim",
	Short: "Clustered federated learning simulator",
	Long:  `Simulates federated training of many clients with FedAvg, IFCA, FeSEM and FedGroup trainers`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg := logger.DefaultConfig()
		switch logMode {
		case "debug":
			cfg.Level = logger.LogLevelDebug
		case "prod":
			cfg.Pretty = false
		case "test":
			cfg.Level = logger.LogLevelDisabled
		}
		logger.Init(cfg)
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a federated simulation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.RunSimulation(cmd)
	},
}

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Train every client on its own data only",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.RunLocal(cmd)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.PrintConfig(cmd)
	},
}

func main() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(localCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logMode, "log", "pretty", "Log mode: debug, pretty, prod, test")
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (yaml, json or toml)")

	for _, cmd := range []*cobra.Command{runCmd, localCmd, configCmd} {
		f := cmd.Flags()
		f.String("trainer", "", "Trainer: fedavg, ifca, fesem or fedgroup")
		f.String("dataset", "", "Dataset name, synthetic generates data")
		f.String("model", "", "Model: mlp or mclr")
		f.String("data", "", "Data path: LEAF directory, csv/json file or ipfs://<cid>")
		f.Int("rounds", 0, "Number of rounds")
		f.Bool("dynamic", false, "Shift client data during training")
		f.String("shift-type", "", "Data shift: all, part or increment")
		f.Float64("swap-p", 0, "Probability that a shifted client swaps two labels")
		f.Int("num-group", 0, "Number of groups")
		f.String("measure", "", "FedGroup clustering measure: EDC or MADC")
		f.StringSlice("set", nil, "Trainer options as key=value, e.g. --set group_agg_lr=0.1")
		f.Int("workers", 0, "Clients trained concurrently")
		f.String("device", "", "Compute device, only cpu is available")
		f.Int64("seed", 0, "Random seed")
	}

	runCmd.Flags().Bool("serve", false, "Serve the status API while training")
	runCmd.Flags().String("db", "", "Postgres URL to store round summaries")
	runCmd.Flags().String("checkpoint-dir", "", "Directory for round checkpoints")
	runCmd.Flags().String("webhook", "", "URL that receives every round summary")
	runCmd.Flags().String("mqtt", "", "MQTT broker that receives every round summary, e.g. tcp://localhost:1883")
	runCmd.Flags().Bool("publish", false, "Publish the final result to IPFS")
}

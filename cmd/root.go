package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	serve "github.com/inference-core/inference-core/serve"
)

var (
	// CLI flags for the replay harness
	logLevel           string // Log verbosity level
	configPath         string // Optional YAML engine config
	seed               int64  // Master seed for per-request sampling RNGs
	numRequests        int    // Number of synthetic requests to replay
	maxRunningRequests int    // Max requests admitted at once
	kvTokenBudget      int    // Backend token budget before preemption kicks in
	maxSequenceLength  int    // Max branch length (prefill + decode)
	parallelSamples    int    // n: parallel sample branches per request
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "inference-core",
	Short: "Request-lifecycle core of a continuous-batching inference engine",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log verbosity (debug, info, warn, error)")

	replayCmd.Flags().StringVar(&configPath, "config", "", "YAML engine config file")
	replayCmd.Flags().Int64Var(&seed, "seed", 1, "master seed for sampling RNGs")
	replayCmd.Flags().IntVar(&numRequests, "requests", 16, "number of synthetic requests")
	replayCmd.Flags().IntVar(&maxRunningRequests, "max-running", 4, "max concurrently running requests")
	replayCmd.Flags().IntVar(&kvTokenBudget, "kv-token-budget", 512, "backend token budget before preemption")
	replayCmd.Flags().IntVar(&maxSequenceLength, "max-seq-len", 0, "max branch length; 0 uses the config value")
	replayCmd.Flags().IntVar(&parallelSamples, "n", 1, "parallel sample branches per request")
	rootCmd.AddCommand(replayCmd)
}

// Execute runs the root command.
func Execute() {
	level, err := logrus.ParseLevel(logLevel)
	if err == nil {
		logrus.SetLevel(level)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the optional YAML config with CLI flag overrides.
func loadConfig() (serve.EngineConfig, error) {
	cfg := serve.DefaultEngineConfig()
	if configPath != "" {
		loaded, err := serve.LoadEngineConfig(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if maxRunningRequests > 0 {
		cfg.MaxRunningRequests = maxRunningRequests
	}
	if maxSequenceLength > 0 {
		cfg.MaxSequenceLength = maxSequenceLength
	}
	cfg.Seed = seed
	return cfg, cfg.Validate()
}

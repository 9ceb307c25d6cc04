package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexcodex/researchbot/framework"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
	expert     string
	trace      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "researchbot",
		Short:         "Chatbot backend with direct, document and deep web research experts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", envOrDefault("RESEARCHBOT_CONFIG", "researchbot.yaml"), "Path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.expert, "expert", "", "Initial expert (QNA, RAG, DEEPRESEARCH)")
	root.PersistentFlags().BoolVar(&opts.trace, "trace", false, "Print graph progress to stderr")

	root.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newChatCmd(opts),
		newHistoryCmd(opts),
		newExpertsCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// resolveConfig layers file, environment and flags, then validates.
func resolveConfig(opts *globalOptions, lookup func(string) (string, bool)) (framework.Config, error) {
	cfg, err := framework.LoadConfig(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, fmt.Errorf("environment: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.expert != "" {
		cfg.Expert = opts.expert
	}
	if err := cfg.Normalize(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

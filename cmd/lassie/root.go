package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/lassie/internal/config"
)

var (
	version = "0.1.0"

	configPath string
	debug      bool
	logFormat  string

	rootCmd = &cobra.Command{
		Use:   "lassie",
		Short: "Tag untagged cloud resources with their creator",
		Long: `Lassie - ownership tags from the audit trail

Lassie reads CloudTrail creation events, finds the resources that still lack
an ownership tag and tags each one with the identity that created it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// exitError carries a non-zero exit status that has already been reported.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Execute runs the root command and returns the process exit status.
func Execute() int {
	return exitCode(rootCmd.Execute(), os.Stderr)
}

func exitCode(err error, w io.Writer) int {
	if err == nil {
		return 0
	}
	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}

// loadConfig reads the configuration, applies command-line overrides and
// validates the result.
func loadConfig(path string, overrides ...func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func init() {
	rootCmd.SetVersionTemplate(`Lassie {{.Version}}
`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "lassie.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (overrides config)")
}

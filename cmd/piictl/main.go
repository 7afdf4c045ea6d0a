// Command piictl runs PII predictions and manages piiguard models and
// configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"piiguard/internal/config"
	"piiguard/internal/logging"
)

var version = "dev"

const (
	outputJSON  = "json"
	outputTable = "table"
)

type rootOptions struct {
	configPath string
	output     string
	server     string
	timeout    time.Duration

	cfg *config.Config
	log logging.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "piictl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "piictl",
		Short:         "Detect and redact personal data in text",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output != outputJSON && opts.output != outputTable {
				return fmt.Errorf("--output must be %s or %s, got %q", outputJSON, outputTable, opts.output)
			}
			return nil
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.piiguard/config.yaml)")
	pf.StringVarP(&opts.output, "output", "o", outputTable, "output format (json, table)")
	pf.StringVar(&opts.server, "server", "", "piid base URL; empty runs the pipeline in-process")
	pf.DurationVar(&opts.timeout, "timeout", 60*time.Second, "operation timeout")

	cmd.AddCommand(
		newPredictCommand(opts),
		newRedactCommand(opts),
		newRestoreCommand(),
		newPatternsCommand(opts),
		newModelCommand(opts),
		newConfigCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// resolvedConfigPath returns --config or the default location.
func (o *rootOptions) resolvedConfigPath() (string, error) {
	if o.configPath != "" {
		return o.configPath, nil
	}
	return config.DefaultPath()
}

// loadConfig reads configuration once per invocation.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	path, err := o.resolvedConfigPath()
	if err != nil {
		return nil, err
	}
	config.LoadDotEnv()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	o.cfg, o.log = cfg, log
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the piictl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "piictl %s\n", version)
		},
	}
}

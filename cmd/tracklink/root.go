package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/banshee-data/tracklink/internal/config"
	"github.com/banshee-data/tracklink/internal/monitoring"
	"github.com/banshee-data/tracklink/internal/version"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logFile    string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "tracklink",
		Short:         "Track a target on camera and stream motion commands to a robot base",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "JSON config file (env TRACKLINK_CONFIG)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (env TRACKLINK_LOG_LEVEL)")
	pf.StringVar(&opts.logFile, "log-file", "", "also write logs to this file, rotated by size (env TRACKLINK_LOG_FILE)")

	root.AddCommand(
		newServeCmd(opts),
		newRelayCmd(opts),
		newViewCmd(opts),
		newReportCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

// setup loads the environment and config file and installs the logger.
func (o *globalOptions) setup() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", o.envFile, err)
		}
	}
	if o.configPath == "" {
		o.configPath = os.Getenv("TRACKLINK_CONFIG")
	}
	if o.logLevel == "" {
		o.logLevel = os.Getenv("TRACKLINK_LOG_LEVEL")
	}
	if o.logFile == "" {
		o.logFile = os.Getenv("TRACKLINK_LOG_FILE")
	}

	logger, err := monitoring.NewLogger(monitoring.LoggerOptions{
		Level:    o.logLevel,
		File:     o.logFile,
		NoColors: os.Getenv("NO_COLOR") != "",
	})
	if err != nil {
		return err
	}
	monitoring.Install(logger)

	if o.configPath == "" {
		o.cfg = config.Empty()
		return nil
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	o.cfg = cfg
	monitoring.Logf("Loaded config from %s", o.configPath)
	return nil
}

// Flag overrides copy a flag into the config only when it was set on the
// command line, so file values survive unset flags.

func overrideString(cmd *cobra.Command, name string, dst **string) {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		*dst = &v
	}
}

func overrideInt(cmd *cobra.Command, name string, dst **int) {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetInt(name)
		*dst = &v
	}
}

func overrideFloat(cmd *cobra.Command, name string, dst **float64) {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetFloat64(name)
		*dst = &v
	}
}

func overrideBool(cmd *cobra.Command, name string, dst **bool) {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetBool(name)
		*dst = &v
	}
}

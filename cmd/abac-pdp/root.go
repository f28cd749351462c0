package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/laundrydesk/abac-pdp/internal/config"
)

// rootOptions holds the persistent flags shared by every command
type rootOptions struct {
	configFile string
}

// NewRootCmd creates the abac-pdp command tree
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "abac-pdp",
		Short: "ABAC policy decision point for the laundry marketplace back-office",
		Long: `abac-pdp evaluates attribute contexts against versioned ABAC policies.

Configuration is read from abac-pdp.yaml in the current directory or
/etc/abac-pdp/, then overridden by ABAC_PDP_* environment variables
(e.g. ABAC_PDP_SERVER_PORT=9090) and finally by command flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./abac-pdp.yaml)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "", "log format (json, console)")

	root.AddCommand(
		NewServeCmd(opts),
		NewEvaluateCmd(opts),
		NewPresetsCmd(opts),
		NewMigrateCmd(opts),
		NewAuditCmd(opts),
		NewTokenCmd(opts),
		NewVersionCmd(),
	)
	return root
}

// load reads configuration and applies the flags of cmd that are bound to
// config keys. Only flags the user set override file and environment.
func (o *rootOptions) load(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	v := config.NewViper(o.configFile)

	all := map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	}
	for key, flag := range bindings {
		all[key] = flag
	}
	if err := bindFlags(v, cmd, all); err != nil {
		return nil, err
	}

	return config.Load(v)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, bindings map[string]string) error {
	for key, name := range bindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q for %s", name, key)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %q: %w", name, err)
		}
	}
	return nil
}

// initLogger initializes the zap logger
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// Package gagreecmd contains the gagree command line.
package gagreecmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "GAGREE"

// NewRootCmd returns the gagree command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	return newRootCmd(viper.New())
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gagree",
		Short: "Run and inspect BFT agreement sessions",

		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cmd)
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "path to a YAML, TOML, or JSON config file")
	pf.String("log-level", "info", "minimum log level: debug, info, warn, or error")
	pf.String("log-format", "text", "log output format: text or json")

	cmd.AddCommand(
		newRunCmd(v),
		newKeygenCmd(),
		newStatusCmd(v),
		newVerifyJustificationCmd(v),
	)

	return cmd
}

// initConfig binds cmd's flags into v and then reads the config file, if any.
// Flags take precedence over the environment, which takes precedence over the file.
func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	return nil
}

// newLogger builds the process logger from the log-level and log-format settings.
func newLogger(v *viper.Viper, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch f := v.GetString("log-format"); f {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (want text or json)", f)
	}
}

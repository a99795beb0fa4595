package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"dinerlive/internal/config"
)

type rootOptions struct {
	ConfigPath string
	LogLevel   string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dinerlive",
		Short: "Realtime restaurant data client",
		Long: `dinerlive follows menu, combo, order, reservation and table changes pushed
by the restaurant server over STOMP and keeps local views fresh.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config file (JSON or YAML)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")

	cmd.AddCommand(newWatchCommand(opts))

	return cmd
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	if opts.ConfigPath == "" {
		return config.Default(), nil
	}
	return config.Load(opts.ConfigPath)
}

// setupLogger builds the console logger. A non-empty override from --log-level
// wins over the configured level.
func setupLogger(out io.Writer, configured, override string) (zerolog.Logger, error) {
	level := configured
	if override != "" {
		level = override
	}
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || logLevel == zerolog.NoLevel {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", level)
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(logLevel).With().Timestamp().Logger(), nil
}

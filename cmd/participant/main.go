package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkeye/AudioSync/internal/config"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCommand(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "audiosync",
		Short: "Host or join a synchronized audio session",
		Long: `audiosync connects to a relay and either hosts a session (playing a file or
streaming the microphone) or joins one as a listener kept in sync with the host.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("relay", "", "Relay base URL (default from relay_url)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("id", "", "Connection id to announce to the relay (random if empty)")
	_ = v.BindPFlag("relay_url", flags.Lookup("relay"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))

	root.AddCommand(newHostCommand(v), newJoinCommand(v))
	return root
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	v := config.New()
	if err := newRootCommand(v).ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

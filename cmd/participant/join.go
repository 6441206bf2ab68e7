package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dkeye/AudioSync/internal/app/participant"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newJoinCommand(v *viper.Viper) *cobra.Command {
	var name, file string
	cmd := &cobra.Command{
		Use:     "join [session-id]",
		Short:   "Join a session and play in sync with its host",
		Example: `  audiosync join k3x9qa --name Ann
  audiosync join k3x9qa --file song.mp3`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd, v, domain.SessionID(strings.ToLower(args[0])), name, file)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Name shown to the host")
	cmd.Flags().StringVar(&file, "file", "", "Local copy of the host's track (wav or mp3), needed for file sessions")
	return cmd
}

func runJoin(cmd *cobra.Command, v *viper.Viper, sid domain.SessionID, name, file string) error {
	var data []byte
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		data = b
	}

	ctx := cmd.Context()
	rt, err := startRuntime(ctx, cmd, v, "")
	if err != nil {
		return err
	}
	defer rt.Close()

	if data != nil {
		dur, err := rt.engine.LoadFile(data)
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %s (%.1fs)\n", color.CyanString(filepath.Base(file)), dur)
	}

	if err := rt.orch.Join(sid, name); err != nil {
		return err
	}
	fmt.Printf("Joining session %s via %s\n", color.New(color.FgGreen, color.Bold).Sprint(sid), color.CyanString(rt.cfg.RelayURL))
	fmt.Printf("Commands: %s\n", color.CyanString("volume <0-1>"))
	go controls(ctx, rt, false)

	err = rt.orch.Run(ctx)
	if errors.Is(err, participant.ErrSessionEnded) {
		fmt.Println(color.YellowString("The host ended the session."))
		return nil
	}
	return err
}

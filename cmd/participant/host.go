package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type hostOptions struct {
	SessionID string
	Name      string
}

func newHostCommand(v *viper.Viper) *cobra.Command {
	opts := &hostOptions{}
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a session",
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.SessionID, "session", "", "Session id to create (random if empty)")
	flags.StringVar(&opts.Name, "name", "", "Display name of the session")

	file := &cobra.Command{
		Use:   "file [path]",
		Short: "Play an audio file (wav or mp3) to every client",
		Example: `  audiosync host file song.mp3
  audiosync host file song.wav --session party1 --relay ws://relay.local:8000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHostFile(cmd, v, opts, args[0])
		},
	}
	live := &cobra.Command{
		Use:   "live",
		Short: "Stream the microphone to every client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHostLive(cmd, v, opts)
		},
	}
	cmd.AddCommand(file, live)
	return cmd
}

func (o *hostOptions) session() (domain.SessionID, string) {
	sid := domain.SessionID(strings.ToLower(o.SessionID))
	if sid == "" {
		sid = domain.NewSessionID()
	}
	name := o.Name
	if name == "" {
		name = string(sid)
	}
	return sid, name
}

func runHostFile(cmd *cobra.Command, v *viper.Viper, opts *hostOptions, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	ctx := cmd.Context()
	rt, err := startRuntime(ctx, cmd, v, filepath.Base(path))
	if err != nil {
		return err
	}
	defer rt.Close()

	dur, err := rt.engine.LoadFile(data)
	if err != nil {
		return err
	}

	sid, name := opts.session()
	if err := rt.orch.Host(sid, name, domain.ModeFile); err != nil {
		return err
	}
	printSession(sid, fmt.Sprintf("%s (%.1fs)", filepath.Base(path), dur))
	fmt.Printf("Commands: %s, %s, %s, %s\n",
		color.CyanString("play"), color.CyanString("pause"), color.CyanString("seek <sec>"), color.CyanString("volume <0-1>"))

	rt.orch.Play(0)
	go controls(ctx, rt, true)
	return rt.orch.Run(ctx)
}

func runHostLive(cmd *cobra.Command, v *viper.Viper, opts *hostOptions) error {
	ctx := cmd.Context()
	rt, err := startRuntime(ctx, cmd, v, "")
	if err != nil {
		return err
	}
	defer rt.Close()

	sid, name := opts.session()
	if err := rt.orch.Host(sid, name, domain.ModeLive); err != nil {
		return err
	}
	printSession(sid, "microphone")
	return rt.orch.Run(ctx)
}

func printSession(sid domain.SessionID, source string) {
	fmt.Printf("Hosting session %s, source %s\n",
		color.New(color.FgGreen, color.Bold).Sprint(sid), color.CyanString(source))
	fmt.Printf("(Press %s to end the session.)\n", color.New(color.FgYellow, color.Bold).Sprint("Ctrl+C"))
}

// controls reads simple commands from stdin. Only the host may move the
// transport; everyone may change their own volume.
func controls(ctx context.Context, rt *runtime, hosting bool) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "play", "pause", "seek":
			if !hosting {
				fmt.Println(color.YellowString("playback follows the host"))
				continue
			}
		}
		switch fields[0] {
		case "play":
			rt.orch.Play(rt.engine.CurrentPosition())
		case "pause":
			rt.orch.Pause()
		case "seek":
			if sec, ok := argFloat(fields); ok {
				rt.orch.Seek(sec)
			}
		case "volume":
			if lvl, ok := argFloat(fields); ok {
				rt.engine.SetVolume(lvl)
			}
		default:
			fmt.Println(color.YellowString("unknown command %q", fields[0]))
			continue
		}
		fmt.Printf("%s at %.2fs\n", state(rt.engine.IsPlaying()), rt.engine.CurrentPosition())
	}
}

func argFloat(fields []string) (float64, bool) {
	if len(fields) < 2 {
		fmt.Println(color.YellowString("%s needs a number", fields[0]))
		return 0, false
	}
	f, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		fmt.Println(color.YellowString("bad number %q", fields[1]))
		return 0, false
	}
	return f, true
}

func state(playing bool) string {
	if playing {
		return color.GreenString("playing")
	}
	return color.New(color.Faint).Sprint("paused")
}

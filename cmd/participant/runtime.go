package main

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/AudioSync/internal/adapters/rtc"
	"github.com/dkeye/AudioSync/internal/adapters/signal"
	"github.com/dkeye/AudioSync/internal/app/participant"
	"github.com/dkeye/AudioSync/internal/audio"
	"github.com/dkeye/AudioSync/internal/config"
	"github.com/dkeye/AudioSync/internal/core"
	"github.com/dkeye/AudioSync/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runtime is everything one participant process owns.
type runtime struct {
	cfg    *config.Config
	engine *audio.Engine
	out    audio.Output
	relay  *signal.Client
	orch   *participant.Orchestrator
}

func startRuntime(ctx context.Context, cmd *cobra.Command, v *viper.Viper, track string) (*runtime, error) {
	cfg, err := config.Decode(v)
	if err != nil {
		return nil, err
	}
	cfg.ApplyLogLevel()

	mic, err := audio.DefaultMicrophone()
	if err != nil {
		log.Debug().Err(err).Msg("no microphone backend")
	}
	clk := clock.New()
	engine := audio.NewEngine(audio.Options{
		Clock:          clk,
		Mixer:          audio.NewMixer(cfg.Capture.SampleRate, cfg.Audio.VolumeRamp),
		Microphone:     mic,
		DriftThreshold: cfg.Sync.DriftThreshold,
		SampleRate:     cfg.Capture.SampleRate,
		ChunkSize:      cfg.Capture.ChunkSize,
	})

	out, err := audio.DefaultOutput()
	if err != nil {
		log.Warn().Err(err).Msg("no sound device, playing silently")
		out = audio.NewNullOutput(clk)
	}
	if err := out.Start(engine.Mixer(), cfg.Capture.SampleRate); err != nil {
		log.Warn().Err(err).Msg("sound device failed, playing silently")
		out = audio.NewNullOutput(clk)
		_ = out.Start(engine.Mixer(), cfg.Capture.SampleRate)
	}

	iceOpts := rtc.OptionsFromConfig(cfg.ICE)
	api, err := rtc.NewAPI(iceOpts)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("webrtc api: %w", err)
	}
	pcCfg := rtc.DefaultConfig(iceOpts)

	id := domain.ConnID(cmd.Flag("id").Value.String())
	if id == "" {
		id = domain.NewConnID()
	}
	relay, err := signal.Dial(ctx, cfg.RelayURL, id, signal.OptionsFromConfig(cfg))
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("connect to relay %s: %w", cfg.RelayURL, err)
	}

	o := participant.New(participant.Options{
		Relay:  relay,
		Engine: engine,
		Clock:  clk,
		Peers: func(remote domain.ConnID) core.PeerChannel {
			return rtc.NewPeerManager(api, pcCfg, string(remote))
		},
		SyncInterval: cfg.Sync.Interval,
		TrackName:    track,
	})
	return &runtime{cfg: cfg, engine: engine, out: out, relay: relay, orch: o}, nil
}

func (r *runtime) Close() {
	r.relay.Close()
	r.engine.Close()
	_ = r.out.Close()
}

package rtc

import (
	"time"

	"github.com/dkeye/AudioSync/internal/config"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

type Options struct {
	ICEServers          []string
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepaliveInterval   time.Duration
	// IncludeLoopback gathers 127.0.0.1 candidates; used for same-host runs.
	IncludeLoopback bool
}

func OptionsFromConfig(cfg config.ICE) Options {
	return Options{
		ICEServers:          cfg.Servers,
		DisconnectedTimeout: cfg.DisconnectedTimeout,
		FailedTimeout:       cfg.FailedTimeout,
		KeepaliveInterval:   cfg.KeepaliveInterval,
		IncludeLoopback:     cfg.IncludeLoopback,
	}
}

func DefaultConfig(opts Options) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}
	return cfg
}

// NewAPI builds the pion API shared by every peer of a participant.
func NewAPI(opts Options) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if opts.DisconnectedTimeout > 0 && opts.FailedTimeout > 0 && opts.KeepaliveInterval > 0 {
		se.SetICETimeouts(opts.DisconnectedTimeout, opts.FailedTimeout, opts.KeepaliveInterval)
	}
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

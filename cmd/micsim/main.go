// ABOUTME: Entry point for the simulated ESP32 microphone
// ABOUTME: Streams a tone or MP3 file to a relay as a producer device
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sendspin/micrelay/internal/config"
	"github.com/Sendspin/micrelay/internal/device"
	"github.com/Sendspin/micrelay/internal/logging"
	"github.com/Sendspin/micrelay/pkg/discovery"
)

var (
	serverAddr = flag.String("server", "", "Relay address host:port (default: discover via mDNS)")
	path       = flag.String("path", "", "WebSocket path (default: from mDNS or /ws)")
	token      = flag.String("token", "", "Shared relay token")
	name       = flag.String("name", "", "Device name (default: hostname-micsim)")
	codec      = flag.String("codec", "pcm", "Packet codec: pcm or adpcm")
	continuous = flag.Bool("adpcm-continuous", false, "Keep ADPCM predictor state across packets")
	rate       = flag.Int("rate", 16000, "Device sample rate in Hz")
	frame      = flag.Int("frame", device.DefaultFrameSamples, "Samples per packet")
	audioFile  = flag.String("audio", "", "MP3 file to stream (default: 440Hz tone)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	logFormat  = flag.String("log-format", "text", "Log format: text or json")
)

func main() {
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	logger, closer, err := logging.New(config.LoggingConfig{Level: level, Format: *logFormat, Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr, wsPath := *serverAddr, *path
	if addr == "" {
		logger.Info("discovering relay via mDNS")
		servers, err := discovery.Discover(ctx, 5*time.Second)
		if err != nil || len(servers) == 0 {
			logger.Error("no relay found", "err", err)
			os.Exit(1)
		}
		addr = net.JoinHostPort(servers[0].Host, fmt.Sprint(servers[0].Port))
		if wsPath == "" {
			wsPath = servers[0].Path
		}
		logger.Info("discovered relay", "name", servers[0].Name, "addr", addr)
	}

	deviceName := *name
	if deviceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		deviceName = fmt.Sprintf("%s-micsim", hostname)
	}

	source, err := device.NewSource(*audioFile, *rate)
	if err != nil {
		logger.Error("failed to open audio source", "err", err)
		os.Exit(1)
	}
	defer source.Close()

	dev, err := device.New(device.Config{
		ServerAddr:      addr,
		Path:            wsPath,
		Token:           *token,
		Name:            deviceName,
		Codec:           *codec,
		ADPCMContinuous: *continuous,
		SampleRate:      *rate,
		FrameSamples:    *frame,
		Source:          source,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("invalid device configuration", "err", err)
		os.Exit(1)
	}

	logger.Info("starting simulated microphone",
		"name", deviceName,
		"source", source.Name(),
		"codec", *codec,
		"rate", *rate,
		"frame", *frame,
		"interval", dev.FrameInterval(),
	)

	if err := dev.Run(ctx); err != nil {
		logger.Error("device error", "err", err)
		os.Exit(1)
	}

	stats := dev.Stats()
	logger.Info("simulated microphone stopped",
		"connects", stats.Connects,
		"packets", stats.Packets,
		"commands", stats.Commands,
	)
}

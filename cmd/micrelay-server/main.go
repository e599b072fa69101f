// ABOUTME: Entry point for the microphone relay server
// ABOUTME: Loads config, applies CLI overrides and runs the relay with an optional TUI
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sendspin/micrelay/internal/config"
	"github.com/Sendspin/micrelay/internal/logging"
	"github.com/Sendspin/micrelay/internal/ui"
	"github.com/Sendspin/micrelay/internal/version"
	"github.com/Sendspin/micrelay/pkg/relay"
)

const tuiLogFile = "micrelay-server.log"

var (
	configPath = flag.String("config", "", "Path to YAML configuration file (default: built-in defaults)")
	port       = flag.Int("port", 0, "WebSocket server port (overrides config)")
	name       = flag.String("name", "", "Server friendly name (default: hostname-micrelay)")
	token      = flag.String("token", "", "Shared token required from every client (overrides config)")
	forward    = flag.String("forward", "", "Audio forwarding to listeners: raw or json (overrides config)")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	useTUI := !*noTUI
	if useTUI && (cfg.Logging.Output == "stdout" || cfg.Logging.Output == "") {
		// The TUI owns the terminal
		cfg.Logging.Output = tuiLogFile
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"name", cfg.Server.Name,
		"port", cfg.Server.Port,
		"path", cfg.Server.Path,
		"forward_mode", cfg.Server.ForwardMode,
		"auth", cfg.Auth.Token != "",
		"mdns", cfg.MDNS.Enabled,
	)

	srv, err := relay.NewServer(serverConfig(cfg), relay.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "err", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var tui *ui.ServerTUI
	if useTUI {
		tui = ui.NewServerTUI(cfg.Server.Name, fmt.Sprintf(":%d", cfg.Server.Port))
		go func() {
			if err := tui.Start(); err != nil {
				logger.Error("TUI error", "err", err)
			}
		}()
		go tuiUpdateLoop(srv, tui, cfg.Server.Name)
	}

	go func() {
		var quit <-chan struct{}
		if tui != nil {
			quit = tui.QuitChan()
		}
		select {
		case sig := <-sigChan:
			logger.Info("shutdown signal received", "signal", sig.String())
		case <-quit:
			logger.Info("quit requested from TUI")
		}
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		if tui != nil {
			tui.Stop()
		}
		logger.Error("server error", "err", err)
		os.Exit(1)
	}

	if tui != nil {
		tui.Stop()
	}
	logger.Info("relay stopped")
}

// loadConfig reads the config file, if any, and applies explicitly set flags
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if *configPath == "" || cfg.Server.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Server.Name = fmt.Sprintf("%s-micrelay", hostname)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "name":
			cfg.Server.Name = *name
		case "token":
			cfg.Auth.Token = *token
		case "forward":
			cfg.Server.ForwardMode = *forward
		case "no-mdns":
			cfg.MDNS.Enabled = !*noMDNS
		case "debug":
			if *debug {
				cfg.Logging.Level = "debug"
			}
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serverConfig(cfg *config.Config) relay.Config {
	return relay.Config{
		Port:         cfg.Server.Port,
		Name:         cfg.Server.Name,
		Path:         cfg.Server.Path,
		PingInterval: cfg.Server.PingIntervalDuration(),
		SendBuffer:   cfg.Server.SendBuffer,
		ReadLimit:    cfg.Server.ReadLimit,
		AuthToken:    cfg.Auth.Token,
		EnableMDNS:   cfg.MDNS.Enabled,
		ServiceName:  cfg.MDNS.ServiceName,
		Relay: relay.RelayConfig{
			ForwardMode:        cfg.Server.ForwardMode,
			StatusEveryPackets: cfg.Server.StatusEveryPackets,
			SampleRate:         cfg.Audio.SampleRate,
			ADPCMContinuous:    cfg.Audio.ADPCMContinuous,
			OpusBitrate:        cfg.Audio.OpusBitrate,
		},
	}
}

// tuiUpdateLoop pushes relay state to the TUI once a second
func tuiUpdateLoop(srv *relay.Server, tui *ui.ServerTUI, name string) {
	<-srv.Ready()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		tui.Update(ui.ServerStatus{
			Name:    name,
			Addr:    srv.Addr(),
			Counts:  srv.Counts(),
			Packets: srv.Relay().Registry().AudioPackets(),
			Clients: srv.Clients(),
		})
	}
}

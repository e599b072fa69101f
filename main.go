// ABOUTME: Entry point for the mic relay listener
// ABOUTME: Parses CLI flags, connects to a relay and plays device audio with a TUI
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Sendspin/micrelay/internal/config"
	"github.com/Sendspin/micrelay/internal/logging"
	"github.com/Sendspin/micrelay/internal/ui"
	"github.com/Sendspin/micrelay/pkg/discovery"
	"github.com/Sendspin/micrelay/pkg/listener"
	"github.com/Sendspin/micrelay/pkg/protocol"
	tea "github.com/charmbracelet/bubbletea"
)

var (
	serverAddr = flag.String("server", "", "Relay address host:port (default: discover via mDNS)")
	path       = flag.String("path", "", "WebSocket path (default: from mDNS or /ws)")
	token      = flag.String("token", "", "Shared relay token")
	name       = flag.String("name", "", "Listener name (default: hostname-micrelay-listener)")
	codec      = flag.String("codec", "pcm", "Downlink codec: pcm or opus")
	rate       = flag.Int("rate", 16000, "Device sample rate in Hz")
	buffer     = flag.Int("buffer", 4, "Jitter buffer depth in packets")
	volume     = flag.Int("volume", 100, "Initial volume (0-100)")
	logFile    = flag.String("log-file", "micrelay-listener.log", "Log file path")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	streamLogs = flag.Bool("stream-logs", false, "Alias for -no-tui")
)

func main() {
	flag.Parse()

	useTUI := !(*noTUI || *streamLogs)

	logCfg := config.LoggingConfig{Level: "info", Format: "text", Output: *logFile}
	if *debug {
		logCfg.Level = "debug"
	}
	if !useTUI {
		logCfg.Output = "stdout"
	}
	logger, closer, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	listenerName := *name
	if listenerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		listenerName = fmt.Sprintf("%s-micrelay-listener", hostname)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr, wsPath := *serverAddr, *path
	if addr == "" {
		logger.Info("discovering relay via mDNS")
		servers, err := discovery.Discover(ctx, 10*time.Second)
		if err != nil || len(servers) == 0 {
			fmt.Fprintf(os.Stderr, "No relay found: %v\n", err)
			os.Exit(1)
		}
		addr = net.JoinHostPort(servers[0].Host, fmt.Sprint(servers[0].Port))
		if wsPath == "" {
			wsPath = servers[0].Path
		}
		logger.Info("discovered relay", "name", servers[0].Name, "addr", addr)
	}

	var tuiProg *tea.Program
	var controls *ui.Controls
	if useTUI {
		controls = ui.NewControls()
		tuiProg = ui.Run(controls, *volume)
		go func() {
			if _, err := tuiProg.Run(); err != nil {
				logger.Error("TUI error", "err", err)
			}
		}()
	}

	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	l, err := listener.New(listener.Config{
		ServerAddr:  addr,
		Path:        wsPath,
		Name:        listenerName,
		Codec:       *codec,
		Token:       *token,
		SampleRate:  *rate,
		BufferDepth: *buffer,
		Volume:      *volume,
		Logger:      logger,
		OnStatus: func(s protocol.Status) {
			updateTUI(ui.StatusMsg{Relay: &ui.RelayCounts{Producers: s.Producers, Consumers: s.Consumers}})
		},
		OnEvent: func(ev protocol.Event) {
			switch {
			case ev.DeviceInfo != nil:
				updateTUI(ui.StatusMsg{Device: ev.DeviceInfo.Device})
			case ev.MicStatus != nil:
				enabled := ev.MicStatus.Enabled
				updateTUI(ui.StatusMsg{Mic: &enabled})
			case ev.Info != nil:
				logger.Info("device notice", "message", ev.Info.Message)
			}
		},
		OnError: func(err error) {
			updateTUI(ui.StatusMsg{Error: err.Error()})
		},
		OnStateChange: func(state listener.State) {
			connected := state.Connected
			updateTUI(ui.StatusMsg{
				Connected:  &connected,
				ServerName: addr,
				Codec:      state.Codec,
				SampleRate: state.SampleRate,
			})
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create listener: %v\n", err)
		os.Exit(1)
	}

	if err := l.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection failed: %v\n", err)
		os.Exit(1)
	}
	logger.Info("connected to relay", "addr", addr, "name", listenerName)

	if controls != nil {
		go handleControls(l, controls, logger)
		go statsUpdateLoop(l, updateTUI)
	}

	var quit <-chan ui.QuitMsg
	if controls != nil {
		quit = controls.Quit
	}
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-quit:
		logger.Info("quit requested from TUI")
	case <-l.Done():
		logger.Warn("relay connection closed")
	}

	if err := l.Close(); err != nil {
		logger.Error("error closing listener", "err", err)
	}
	if tuiProg != nil {
		tuiProg.Quit()
	}
	logger.Info("listener stopped")
}

// handleControls applies volume changes and commands from the TUI
func handleControls(l *listener.Listener, controls *ui.Controls, logger *slog.Logger) {
	for {
		select {
		case vol := <-controls.Changes:
			logger.Debug("volume change", "volume", vol.Volume, "muted", vol.Muted)
			l.SetVolume(vol.Volume)
			l.Mute(vol.Muted)
		case action := <-controls.Commands:
			var err error
			switch action {
			case protocol.CmdMicOn:
				err = l.MicOn()
			case protocol.CmdMicOff:
				err = l.MicOff()
			case protocol.CmdMicCheck:
				err = l.MicCheck()
			default:
				err = l.Flash(action)
			}
			if err != nil {
				logger.Warn("command failed", "action", action, "err", err)
			}
		case <-l.Done():
			return
		}
	}
}

// statsUpdateLoop periodically updates the TUI with playback statistics
func statsUpdateLoop(l *listener.Listener, updateTUI func(ui.StatusMsg)) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	runtimeTicker := time.NewTicker(2 * time.Second)
	defer runtimeTicker.Stop()

	for {
		select {
		case <-runtimeTicker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			updateTUI(ui.StatusMsg{Goroutines: runtime.NumGoroutine(), MemAlloc: m.Alloc})

		case <-ticker.C:
			s := l.Stats()
			updateTUI(ui.StatusMsg{Stats: &ui.PlaybackStats{
				Received:       s.Received,
				Played:         s.Played,
				Late:           s.Late,
				Lost:           s.Lost,
				Dropped:        s.Dropped,
				ChecksumErrors: s.ChecksumErrors,
				BufferDepth:    s.BufferDepth,
			}})

		case <-l.Done():
			return
		}
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/whisperline/whisperline/internal/call"
	"github.com/whisperline/whisperline/internal/config"
	"github.com/whisperline/whisperline/internal/identity"
)

func main() {
	if err := run(); err != nil {
		log.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadFromEnv()

	fs := flag.NewFlagSet("whisperline-callerd", flag.ContinueOnError)
	serverAddr := fs.String("server", cfg.ServerURL, "matchmaking server address")
	ipcAddr := fs.String("ipc", defaultIPCAddr(cfg), "ipc socket/pipe address")
	stunServers := fs.String("stun", cfg.STUNServers, "comma-separated fallback STUN servers")
	turnServers := fs.String("turn", cfg.TURNServers, "comma-separated fallback TURN servers")
	turnUser := fs.String("turn-user", cfg.TURNUser, "TURN username")
	turnPass := fs.String("turn-pass", cfg.TURNPass, "TURN password")
	gender := fs.String("gender", cfg.PreferredGender, "preferred partner gender filter")
	college := fs.String("college", cfg.PreferredCollege, "preferred partner college filter")
	muteKey := fs.String("mute-key", cfg.MuteHotkey, "global mute toggle hotkey")
	vadThreshold := fs.Int64("vad-threshold", defaultVADThreshold, "voice activity level threshold")
	meter := fs.Bool("meter", false, "log the input level meter")
	allowInsecure := fs.Bool("allow-insecure", false, "allow a non-tls server url off loopback")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg.ServerURL = *serverAddr
	cfg.STUNServers = *stunServers
	cfg.TURNServers = *turnServers
	cfg.TURNUser = *turnUser
	cfg.TURNPass = *turnPass
	cfg.PreferredGender = *gender
	cfg.PreferredCollege = *college
	cfg.MuteHotkey = *muteKey
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.InsecureServerURL() && !*allowInsecure {
		return fmt.Errorf("server url %q is not tls and not loopback; refusing to leak session metadata (use -allow-insecure to override)", cfg.ServerURL)
	}
	if *ipcAddr == "" {
		return fmt.Errorf("ipc address is required")
	}

	dir, err := identity.DefaultDir()
	if err != nil {
		return fmt.Errorf("config dir: %w", err)
	}
	id, err := identity.LoadOrCreate(dir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("starting call daemon server=%s ipc=%s user=%s", cfg.ServerURL, *ipcAddr, shortID(id.UserID))
	daemon := newCallDaemon(cfg, id, *vadThreshold, *meter)
	if err := daemon.Run(ctx, *ipcAddr); err != nil {
		return err
	}
	log.Printf("shutting down")
	return nil
}

func defaultIPCAddr(cfg config.Config) string {
	if cfg.IPCAddr != "" {
		return cfg.IPCAddr
	}
	if runtime.GOOS == "windows" {
		return `\\.\pipe\whisperline-call`
	}
	return "/tmp/whisperline-call.sock"
}

// shortID keeps logs readable without printing the whole anon id.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// buildFallbackICE turns the configured STUN/TURN lists into ICE server
// descriptors, used only when a pairing carries none of its own.
func buildFallbackICE(cfg config.Config) []call.ICEServer {
	stunURLs := normalizeICEURLs(splitCSV(cfg.STUNServers), "stun:")
	turnURLs := normalizeICEURLs(splitCSV(cfg.TURNServers), "turn:")
	servers := make([]call.ICEServer, 0, 2)
	if len(stunURLs) > 0 {
		servers = append(servers, call.ICEServer{URLs: stunURLs})
	}
	if len(turnURLs) > 0 {
		servers = append(servers, call.ICEServer{URLs: turnURLs, Username: cfg.TURNUser, Credential: cfg.TURNPass})
	}
	return servers
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeICEURLs(values []string, prefix string) []string {
	urls := make([]string, 0, len(values))
	for _, value := range values {
		if strings.HasPrefix(value, "stun:") || strings.HasPrefix(value, "turn:") || strings.HasPrefix(value, "turns:") {
			urls = append(urls, value)
			continue
		}
		urls = append(urls, prefix+value)
	}
	return urls
}

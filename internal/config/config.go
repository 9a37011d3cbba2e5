package config

import (
	"errors"
	"net/url"
	"os"
	"strings"
)

type Config struct {
	ServerURL        string
	IPCAddr          string
	STUNServers      string
	TURNServers      string
	TURNUser         string
	TURNPass         string
	PreferredGender  string
	PreferredCollege string
	MuteHotkey       string
}

func LoadFromEnv() Config {
	cfg := Config{
		ServerURL:        os.Getenv("WHISPERLINE_SERVER_URL"),
		IPCAddr:          os.Getenv("WHISPERLINE_IPC_ADDR"),
		STUNServers:      os.Getenv("WHISPERLINE_STUN"),
		TURNServers:      os.Getenv("WHISPERLINE_TURN"),
		TURNUser:         os.Getenv("WHISPERLINE_TURN_USER"),
		TURNPass:         os.Getenv("WHISPERLINE_TURN_PASS"),
		PreferredGender:  os.Getenv("WHISPERLINE_PREF_GENDER"),
		PreferredCollege: os.Getenv("WHISPERLINE_PREF_COLLEGE"),
		MuteHotkey:       os.Getenv("WHISPERLINE_MUTE_HOTKEY"),
	}
	if cfg.MuteHotkey == "" {
		cfg.MuteHotkey = "ctrl+m"
	}
	return cfg
}

func (c Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	if _, err := url.Parse(c.ServerURL); err != nil {
		return errors.New("server url is not a valid url")
	}
	if (c.TURNUser == "") != (c.TURNPass == "") {
		return errors.New("both turn user and turn pass are required when using turn auth")
	}
	return nil
}

// InsecureServerURL reports whether the signaling URL would carry session
// metadata in the clear. Loopback hosts are exempt, mirroring the secure
// context rules browsers apply to media capture.
func (c Config) InsecureServerURL() bool {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		return false
	}
	host := u.Hostname()
	return host != "localhost" && host != "127.0.0.1" && host != "::1"
}

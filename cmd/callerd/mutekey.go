package main

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strings"

	"golang.design/x/hotkey"

	"github.com/whisperline/whisperline/internal/ipc"
)

// runMuteHotkey toggles the outbound mute from a global hotkey, so a caller
// can cut their mic without focusing the client window. Failure is
// non-fatal; the IPC mute commands keep working without it.
func (d *callDaemon) runMuteHotkey(ctx context.Context) error {
	binding := strings.TrimSpace(d.cfg.MuteHotkey)
	if binding == "" || binding == "none" {
		return nil
	}
	mods, key, err := parseHotkey(binding)
	if err != nil {
		return err
	}
	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return err
	}
	defer hk.Unregister()
	log.Printf("mute hotkey registered: %s", binding)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hk.Keydown():
			muted := d.toggleMuted()
			if d.ipc != nil {
				d.ipc.Broadcast(ipc.Message{Event: ipc.EventMuted, Muted: muted})
			}
		}
	}
}

func parseHotkey(binding string) ([]hotkey.Modifier, hotkey.Key, error) {
	binding = strings.TrimSpace(strings.ToLower(binding))
	if binding == "" {
		return nil, 0, fmt.Errorf("hotkey binding is required")
	}

	parts := strings.Split(binding, "+")
	mods := make([]hotkey.Modifier, 0, len(parts))
	var key hotkey.Key
	hasKey := false

	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case "ctrl", "control":
			mod, err := hotkeyModifierCtrl()
			if err != nil {
				return nil, 0, err
			}
			mods = append(mods, mod)
		case "shift":
			mod, err := hotkeyModifierShift()
			if err != nil {
				return nil, 0, err
			}
			mods = append(mods, mod)
		case "m":
			mKey, err := hotkeyMKey()
			if err != nil {
				return nil, 0, err
			}
			key = mKey
			hasKey = true
		case "space":
			spaceKey, err := hotkeySpaceKey()
			if err != nil {
				return nil, 0, err
			}
			key = spaceKey
			hasKey = true
		default:
			return nil, 0, fmt.Errorf("unsupported key: %s", part)
		}
	}
	if !hasKey {
		return nil, 0, fmt.Errorf("missing key")
	}
	return mods, key, nil
}

func hotkeyModifierCtrl() (hotkey.Modifier, error) {
	switch runtime.GOOS {
	case "linux":
		return hotkey.Modifier(1 << 2), nil
	case "darwin":
		return hotkey.Modifier(0x1000), nil
	case "windows":
		return hotkey.Modifier(0x2), nil
	default:
		return 0, fmt.Errorf("hotkey ctrl modifier is unsupported on %s", runtime.GOOS)
	}
}

func hotkeyModifierShift() (hotkey.Modifier, error) {
	switch runtime.GOOS {
	case "linux":
		return hotkey.Modifier(1 << 0), nil
	case "darwin":
		return hotkey.Modifier(0x200), nil
	case "windows":
		return hotkey.Modifier(0x4), nil
	default:
		return 0, fmt.Errorf("hotkey shift modifier is unsupported on %s", runtime.GOOS)
	}
}

func hotkeyMKey() (hotkey.Key, error) {
	switch runtime.GOOS {
	case "linux":
		return hotkey.Key(0x6d), nil
	case "darwin":
		return hotkey.Key(46), nil
	case "windows":
		return hotkey.Key(0x4d), nil
	default:
		return 0, fmt.Errorf("hotkey m key is unsupported on %s", runtime.GOOS)
	}
}

func hotkeySpaceKey() (hotkey.Key, error) {
	switch runtime.GOOS {
	case "linux", "windows":
		return hotkey.Key(0x20), nil
	case "darwin":
		return hotkey.Key(49), nil
	default:
		return 0, fmt.Errorf("hotkey space key is unsupported on %s", runtime.GOOS)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

type daemonProcess struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	logFile *os.File
}

// spawnDaemon starts callerd when the client cannot reach a running one.
func spawnDaemon(opts clientOptions) (*daemonProcess, error) {
	path, err := resolveDaemonPath(opts.daemonPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	args := []string{"-server", opts.serverURL, "-ipc", opts.ipcAddr}
	if opts.gender != "" {
		args = append(args, "-gender", opts.gender)
	}
	if opts.college != "" {
		args = append(args, "-college", opts.college)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	logFile, err := openDaemonLogFile(opts.debug)
	if err != nil {
		cancel()
		return nil, err
	}
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	} else {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	}
	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		cancel()
		return nil, err
	}
	return &daemonProcess{cmd: cmd, cancel: cancel, logFile: logFile}, nil
}

func (p *daemonProcess) stop() {
	if p == nil {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_, _ = p.cmd.Process.Wait()
	}
	if p.logFile != nil {
		_ = p.logFile.Close()
	}
}

func openDaemonLogFile(debug bool) (*os.File, error) {
	if !debug {
		return nil, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	logPath := filepath.Join(dir, "whisperline", "callerd.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		return nil, err
	}
	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

func resolveDaemonPath(hint string) (string, error) {
	candidates := make([]string, 0, 8)
	if strings.TrimSpace(hint) != "" {
		candidates = append(candidates, hint)
	}
	if env := strings.TrimSpace(os.Getenv("WHISPERLINE_CALLERD")); env != "" {
		candidates = append(candidates, env)
	}
	if exe, err := os.Executable(); err == nil && exe != "" {
		dir := filepath.Dir(exe)
		candidates = append(candidates, filepath.Join(dir, "whisperline-callerd"), filepath.Join(dir, "callerd"))
	}
	candidates = append(
		candidates,
		filepath.Join(".", "bin", "whisperline-callerd"),
		filepath.Join(".", "whisperline-callerd"),
		filepath.Join(".", "bin", "callerd"),
		filepath.Join(".", "callerd"),
	)

	for _, candidate := range candidates {
		if path := resolveExecutableCandidate(candidate); path != "" {
			return path, nil
		}
	}
	if path, err := exec.LookPath("whisperline-callerd"); err == nil {
		return path, nil
	}
	if path, err := exec.LookPath("callerd"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("callerd binary not found; set -callerd or WHISPERLINE_CALLERD")
}

func resolveExecutableCandidate(path string) string {
	if path == "" {
		return ""
	}
	if fileIsExecutable(path) {
		return path
	}
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(path), ".exe") {
		withExe := path + ".exe"
		if fileIsExecutable(withExe) {
			return withExe
		}
	}
	return ""
}

func fileIsExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}

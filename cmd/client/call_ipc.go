package main

import (
	"encoding/json"
	"fmt"
	"net"
	"runtime"
	"sync"

	"github.com/whisperline/whisperline/internal/config"
	"github.com/whisperline/whisperline/internal/ipc"
)

type callIPC struct {
	addr string
	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

func newCallIPC(addr string) *callIPC {
	return &callIPC{addr: addr}
}

func (v *callIPC) send(msg ipc.Message) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.ensureConnLocked(); err != nil {
		return err
	}
	if err := v.enc.Encode(msg); err != nil {
		v.resetLocked()
		return err
	}
	return nil
}

func (v *callIPC) readLoop(ch chan<- ipc.Message) {
	defer close(ch)
	if err := v.ensureConn(); err != nil {
		ch <- ipc.Message{Event: ipc.EventError, Error: err.Error()}
		return
	}
	v.mu.Lock()
	dec := v.dec
	v.mu.Unlock()
	if dec == nil {
		ch <- ipc.Message{Event: ipc.EventError, Error: "call ipc decoder not available"}
		return
	}
	for {
		var msg ipc.Message
		if err := dec.Decode(&msg); err != nil {
			v.reset()
			ch <- ipc.Message{Event: ipc.EventError, Error: err.Error()}
			return
		}
		ch <- msg
	}
}

func (v *callIPC) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resetLocked()
}

func (v *callIPC) ensureConn() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ensureConnLocked()
}

func (v *callIPC) ensureConnLocked() error {
	if v.addr == "" {
		return fmt.Errorf("call ipc address is empty")
	}
	if v.conn == nil {
		conn, err := ipc.Dial(v.addr)
		if err != nil {
			return err
		}
		v.conn = conn
		v.enc = ipc.NewEncoder(conn)
		v.dec = ipc.NewDecoder(conn)
	}
	if v.enc == nil || v.dec == nil {
		return fmt.Errorf("call ipc encoder not available")
	}
	return nil
}

func (v *callIPC) resetLocked() {
	if v.conn != nil {
		_ = v.conn.Close()
	}
	v.conn = nil
	v.enc = nil
	v.dec = nil
}

func defaultCallIPCAddr(cfg config.Config) string {
	if cfg.IPCAddr != "" {
		return cfg.IPCAddr
	}
	if runtime.GOOS == "windows" {
		return `\\.\pipe\whisperline-call`
	}
	return "/tmp/whisperline-call.sock"
}

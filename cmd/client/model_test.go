package main

import (
	"strings"
	"testing"

	"github.com/whisperline/whisperline/internal/ipc"
)

func newTestModel() rootModel {
	m := newRootModel(clientOptions{ipcAddr: "/tmp/does-not-exist.sock"})
	m.width = 80
	return m
}

func applyIPC(t *testing.T, m rootModel, msg ipc.Message) rootModel {
	t.Helper()
	next, _ := m.handleIPC(msg)
	out, ok := next.(rootModel)
	if !ok {
		t.Fatalf("handleIPC returned %T", next)
	}
	return out
}

func TestHandleIPCReadyAttaches(t *testing.T) {
	m := newTestModel()
	m = applyIPC(t, m, ipc.Message{Event: ipc.EventReady})
	if !m.attached {
		t.Fatalf("ready event did not attach")
	}
}

func TestHandleIPCSnapshotReplacesState(t *testing.T) {
	m := newTestModel()
	snap := ipc.Snapshot{State: "connected", PartnerInitials: "AB", DurationSeconds: 61, Muted: true}
	m = applyIPC(t, m, ipc.Message{Event: ipc.EventSnapshot, Snapshot: &snap})
	if m.snap.State != "connected" || m.snap.PartnerInitials != "AB" {
		t.Fatalf("snapshot not applied: %+v", m.snap)
	}
	if !m.muted {
		t.Fatalf("mute flag not taken from snapshot")
	}
}

func TestHandleIPCMutedEvent(t *testing.T) {
	m := newTestModel()
	m = applyIPC(t, m, ipc.Message{Event: ipc.EventMuted, Muted: true})
	if !m.muted {
		t.Fatalf("mute event ignored")
	}
	m = applyIPC(t, m, ipc.Message{Event: ipc.EventMuted, Muted: false})
	if m.muted {
		t.Fatalf("unmute event ignored")
	}
}

func TestHandleIPCErrorEvent(t *testing.T) {
	m := newTestModel()
	m = applyIPC(t, m, ipc.Message{Event: ipc.EventError, Error: "daemon exploded"})
	if m.errText != "daemon exploded" {
		t.Fatalf("errText = %q", m.errText)
	}
	m = applyIPC(t, m, ipc.Message{Event: ipc.EventReady})
	if m.errText != "" {
		t.Fatalf("reattach must clear stale error, got %q", m.errText)
	}
}

func TestHelpLinePerState(t *testing.T) {
	cases := []struct {
		state string
		want  string
	}{
		{"idle", "s start call"},
		{"ended", "s start call"},
		{"waiting", "h stop"},
		{"preparing_mic", "h stop"},
		{"dialing", "f find new"},
		{"connecting", "f find new"},
		{"connected", "f find new"},
	}
	for _, tc := range cases {
		m := newTestModel()
		m.snap.State = tc.state
		if got := m.helpLine(); !strings.Contains(got, tc.want) {
			t.Fatalf("helpLine(%s) = %q, expected to contain %q", tc.state, got, tc.want)
		}
	}
}

func TestPartnerLine(t *testing.T) {
	m := newTestModel()
	if got := m.partnerLine(); got != "Stranger" {
		t.Fatalf("anonymous partner line = %q", got)
	}
	m.snap.PartnerInitials = "JD"
	m.snap.PartnerGender = "male"
	m.snap.PartnerVerified = true
	got := m.partnerLine()
	for _, part := range []string{"JD", "male", "verified"} {
		if !strings.Contains(got, part) {
			t.Fatalf("partner line %q missing %q", got, part)
		}
	}
}

func TestVoiceLinePrecedence(t *testing.T) {
	m := newTestModel()
	m.muted = true
	m.snap.Speaking = true
	if got := m.voiceLine(); !strings.Contains(got, "muted") {
		t.Fatalf("muted must win over speaking, got %q", got)
	}
	m.muted = false
	if got := m.voiceLine(); !strings.Contains(got, "speaking") {
		t.Fatalf("voiceLine = %q, want speaking", got)
	}
	m.snap.Speaking = false
	if got := m.voiceLine(); !strings.Contains(got, "silent") {
		t.Fatalf("voiceLine = %q, want silent", got)
	}
}

func TestViewBeforeAttach(t *testing.T) {
	m := newTestModel()
	view := m.View()
	if !strings.Contains(view, "connecting to the call daemon") {
		t.Fatalf("detached view missing connect notice:\n%s", view)
	}
}

func TestViewConnectedState(t *testing.T) {
	m := newTestModel()
	m.attached = true
	m.snap = ipc.Snapshot{
		State:           "connected",
		PartnerInitials: "AB",
		DurationSeconds: 125,
		QualityScore:    88,
	}
	view := m.View()
	for _, want := range []string{"connected", "AB", "02:05", "quality 88/100"} {
		if !strings.Contains(view, want) {
			t.Fatalf("connected view missing %q:\n%s", want, view)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		seconds int
		want    string
	}{
		{0, "00:00"},
		{-5, "00:00"},
		{61, "01:01"},
		{125, "02:05"},
		{3600, "60:00"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.seconds); got != tc.want {
			t.Fatalf("formatDuration(%d) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}

func TestFormatMillis(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{500, "0s"},
		{4500, "4s"},
		{59999, "59s"},
		{60000, "1m00s"},
		{95000, "1m35s"},
	}
	for _, tc := range cases {
		if got := formatMillis(tc.ms); got != tc.want {
			t.Fatalf("formatMillis(%d) = %q, want %q", tc.ms, got, tc.want)
		}
	}
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/whisperline/whisperline/internal/ipc"
)

type clientOptions struct {
	serverURL  string
	ipcAddr    string
	gender     string
	college    string
	spawn      bool
	daemonPath string
	debug      bool
}

type ipcMsg ipc.Message

type ipcClosedMsg struct{}

type retryConnectMsg struct{}

type rootModel struct {
	opts clientOptions
	ipc  *callIPC
	proc *daemonProcess
	spin spinner.Model
	msgs chan ipc.Message

	snap        ipc.Snapshot
	muted       bool
	attached    bool
	spawned     bool
	filtersSent bool
	errText     string
	width       int
	height      int
}

func newRootModel(opts clientOptions) rootModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = appNameStyle
	return rootModel{
		opts: opts,
		ipc:  newCallIPC(opts.ipcAddr),
		spin: s,
		msgs: make(chan ipc.Message, 16),
		snap: ipc.Snapshot{State: "idle", Mic: "unknown"},
	}
}

func (m rootModel) Init() tea.Cmd {
	ch := m.msgs
	v := m.ipc
	return tea.Batch(
		m.spin.Tick,
		func() tea.Msg {
			go v.readLoop(ch)
			return nil
		},
		waitForIPC(ch),
	)
}

func waitForIPC(ch chan ipc.Message) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return ipcClosedMsg{}
		}
		return ipcMsg(msg)
	}
}

func (m rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case ipcMsg:
		return m.handleIPC(ipc.Message(msg))

	case ipcClosedMsg:
		m.attached = false
		var cmds []tea.Cmd
		if m.opts.spawn && !m.spawned {
			m.spawned = true
			proc, err := spawnDaemon(m.opts)
			if err != nil {
				m.errText = err.Error()
			} else {
				m.proc = proc
			}
		}
		cmds = append(cmds, tea.Tick(time.Second, func(time.Time) tea.Msg {
			return retryConnectMsg{}
		}))
		return m, tea.Batch(cmds...)

	case retryConnectMsg:
		m.msgs = make(chan ipc.Message, 16)
		ch := m.msgs
		v := m.ipc
		return m, tea.Batch(
			func() tea.Msg {
				go v.readLoop(ch)
				return nil
			},
			waitForIPC(ch),
		)
	}
	return m, nil
}

func (m rootModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		_ = m.ipc.send(ipc.Message{Cmd: ipc.CommandHangUp, Reason: "navigation"})
		m.proc.stop()
		return m, tea.Quit
	case "s", "enter":
		_ = m.ipc.send(ipc.Message{Cmd: ipc.CommandStartCall})
	case "h", "esc":
		_ = m.ipc.send(ipc.Message{Cmd: ipc.CommandHangUp, Reason: "hangup"})
	case "f":
		_ = m.ipc.send(ipc.Message{Cmd: ipc.CommandFindNew})
	case "m":
		cmd := ipc.CommandMute
		if m.muted {
			cmd = ipc.CommandUnmute
		}
		_ = m.ipc.send(ipc.Message{Cmd: cmd})
	}
	return m, nil
}

func (m rootModel) handleIPC(msg ipc.Message) (tea.Model, tea.Cmd) {
	switch msg.Event {
	case ipc.EventReady:
		m.attached = true
		m.errText = ""
		if !m.filtersSent && (m.opts.gender != "" || m.opts.college != "") {
			m.filtersSent = true
			_ = m.ipc.send(ipc.Message{Cmd: ipc.CommandSetFilters, Gender: m.opts.gender, College: m.opts.college})
		}
	case ipc.EventSnapshot:
		if msg.Snapshot != nil {
			m.snap = *msg.Snapshot
			m.muted = msg.Snapshot.Muted
		}
	case ipc.EventMuted:
		m.muted = msg.Muted
	case ipc.EventInfo:
		if msg.Error != "" {
			m.snap.Info = msg.Error
		}
	case ipc.EventError:
		if msg.Error != "" {
			m.errText = msg.Error
		}
	}
	return m, waitForIPC(m.msgs)
}

func (m rootModel) View() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(centerText(appNameStyle.Render("whisperline"), m.width))
	b.WriteString("\n")
	b.WriteString(centerText(subtitleStyle.Render("anonymous voice calls"), m.width))
	b.WriteString("\n")
	b.WriteString(separator(m.width))
	b.WriteString("\n\n")

	if !m.attached {
		b.WriteString(centerText(m.spin.View()+" connecting to the call daemon...", m.width))
		b.WriteString("\n")
		if m.errText != "" {
			b.WriteString("\n")
			b.WriteString(centerText(errorStyle.Render(m.errText), m.width))
			b.WriteString("\n")
		}
		return b.String()
	}

	b.WriteString(m.stateView())

	if m.snap.Info != "" {
		b.WriteString("\n")
		b.WriteString(centerText(subtitleStyle.Render(m.snap.Info), m.width))
		b.WriteString("\n")
	}
	if m.snap.ErrorMessage != "" {
		b.WriteString("\n")
		b.WriteString(centerText(errorStyle.Render(m.snap.ErrorMessage), m.width))
		b.WriteString("\n")
	}
	if m.errText != "" {
		b.WriteString("\n")
		b.WriteString(centerText(errorStyle.Render(m.errText), m.width))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(separator(m.width))
	b.WriteString("\n")
	b.WriteString(centerText(helpStyle.Render(m.helpLine()), m.width))
	b.WriteString("\n")
	return b.String()
}

func (m rootModel) stateView() string {
	var b strings.Builder
	switch m.snap.State {
	case "idle", "ended":
		headline := "Press s to talk to a stranger"
		if m.snap.State == "ended" {
			b.WriteString(centerText(headerStyle.Render("Call ended"), m.width))
			b.WriteString("\n\n")
			headline = "Press s to talk to someone new"
		}
		b.WriteString(centerText(labelStyle.Render(headline), m.width))
		b.WriteString("\n")
		if m.snap.Mic == "denied" {
			b.WriteString("\n")
			b.WriteString(centerText(disconnectedStyle.Render("microphone access denied"), m.width))
			b.WriteString("\n")
		}

	case "preparing_mic":
		b.WriteString(centerText(m.spin.View()+" requesting microphone...", m.width))
		b.WriteString("\n")

	case "waiting":
		b.WriteString(centerText(m.spin.View()+" searching for a stranger...", m.width))
		b.WriteString("\n\n")
		if m.snap.QueuePosition > 0 {
			line := fmt.Sprintf("position %d of %d in queue", m.snap.QueuePosition, m.snap.QueueSize)
			b.WriteString(centerText(labelStyle.Render(line), m.width))
			b.WriteString("\n")
		}
		if m.snap.EstimatedWaitMs > 0 {
			line := fmt.Sprintf("estimated wait %s", formatMillis(m.snap.EstimatedWaitMs))
			b.WriteString(centerText(labelStyle.Render(line), m.width))
			b.WriteString("\n")
		}
		if m.snap.FilterDescription != "" {
			b.WriteString(centerText(subtitleStyle.Render(m.snap.FilterDescription), m.width))
			b.WriteString("\n")
		}

	case "dialing", "connecting":
		b.WriteString(centerText(m.spin.View()+" connecting your call...", m.width))
		b.WriteString("\n")

	case "connected":
		b.WriteString(centerText(connectedStyle.Render("● connected"), m.width))
		b.WriteString("\n\n")
		b.WriteString(centerText(headerStyle.Render(m.partnerLine()), m.width))
		b.WriteString("\n")
		b.WriteString(centerText(labelStyle.Render(formatDuration(m.snap.DurationSeconds)), m.width))
		b.WriteString("\n\n")
		b.WriteString(centerText(m.qualityLine(), m.width))
		b.WriteString("\n")
		b.WriteString(centerText(m.voiceLine(), m.width))
		b.WriteString("\n")

	default:
		b.WriteString(centerText(labelStyle.Render(m.snap.State), m.width))
		b.WriteString("\n")
	}
	return b.String()
}

func (m rootModel) partnerLine() string {
	name := m.snap.PartnerInitials
	if name == "" {
		name = "Stranger"
	}
	parts := []string{name}
	if m.snap.PartnerGender != "" {
		parts = append(parts, m.snap.PartnerGender)
	}
	if m.snap.PartnerVerified {
		parts = append(parts, "verified")
	}
	return strings.Join(parts, " · ")
}

func (m rootModel) qualityLine() string {
	if m.snap.QualityScore <= 0 {
		return subtitleStyle.Render("measuring link quality...")
	}
	line := fmt.Sprintf("quality %.0f/100  rtt %.0fms  jitter %.1fms  loss %.1f%%",
		m.snap.QualityScore, m.snap.RTTMs, m.snap.JitterMs, m.snap.PacketLossPct)
	return qualityStyle(m.snap.QualityScore).Render(line)
}

func (m rootModel) voiceLine() string {
	if m.muted {
		return mutedStyle.Render("muted")
	}
	if m.snap.Speaking {
		return speakingStyle.Render("speaking")
	}
	return subtitleStyle.Render("silent")
}

func (m rootModel) helpLine() string {
	switch m.snap.State {
	case "connected", "dialing", "connecting":
		return "f find new · h hang up · m mute · q quit"
	case "waiting", "preparing_mic":
		return "h stop · q quit"
	default:
		return "s start call · m mute · q quit"
	}
}

func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func formatMillis(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}

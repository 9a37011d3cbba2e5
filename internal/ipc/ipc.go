package ipc

import "encoding/json"

const (
	CommandStartCall  = "start_call"
	CommandHangUp     = "hang_up"
	CommandFindNew    = "find_new"
	CommandMute       = "mute"
	CommandUnmute     = "unmute"
	CommandSetFilters = "set_filters"
	CommandPing       = "ping"

	EventReady    = "ready"
	EventSnapshot = "snapshot"
	EventMuted    = "muted"
	EventInfo     = "info"
	EventError    = "error"
	EventPong     = "pong"
)

// Snapshot is the wire form of the call engine's published state. The daemon
// broadcasts one on every state change; clients only read it.
type Snapshot struct {
	State             string  `json:"state"`
	Mic               string  `json:"mic"`
	RoomID            string  `json:"room_id,omitempty"`
	PartnerInitials   string  `json:"partner_initials,omitempty"`
	PartnerGender     string  `json:"partner_gender,omitempty"`
	PartnerVerified   bool    `json:"partner_verified,omitempty"`
	DurationSeconds   int     `json:"duration_seconds,omitempty"`
	QueuePosition     int     `json:"queue_position,omitempty"`
	QueueSize         int     `json:"queue_size,omitempty"`
	WaitTimeMs        int64   `json:"wait_time_ms,omitempty"`
	EstimatedWaitMs   int64   `json:"estimated_wait_ms,omitempty"`
	FilterLevel       int     `json:"filter_level,omitempty"`
	FilterDescription string  `json:"filter_description,omitempty"`
	RTTMs             float64 `json:"rtt_ms,omitempty"`
	JitterMs          float64 `json:"jitter_ms,omitempty"`
	PacketLossPct     float64 `json:"packet_loss_pct,omitempty"`
	QualityScore      float64 `json:"quality_score,omitempty"`
	Speaking          bool    `json:"speaking,omitempty"`
	Muted             bool    `json:"muted,omitempty"`
	Info              string  `json:"info,omitempty"`
	ErrorKind         string  `json:"error_kind,omitempty"`
	ErrorMessage      string  `json:"error_message,omitempty"`
}

type Message struct {
	Cmd      string    `json:"cmd,omitempty"`
	Event    string    `json:"event,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Gender   string    `json:"gender,omitempty"`
	College  string    `json:"college,omitempty"`
	Muted    bool      `json:"muted,omitempty"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func NewDecoder(r interface{ Read([]byte) (int, error) }) *json.Decoder {
	return json.NewDecoder(r)
}

func NewEncoder(w interface{ Write([]byte) (int, error) }) *json.Encoder {
	return json.NewEncoder(w)
}

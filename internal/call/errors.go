package call

// ErrorKind classifies a surfaced failure so the UI can offer the right
// recovery action.
type ErrorKind string

const (
	ErrKindPermissionDenied     ErrorKind = "permission_denied"
	ErrKindDeviceUnavailable    ErrorKind = "device_unavailable"
	ErrKindInsecureContext      ErrorKind = "insecure_context"
	ErrKindUnsupported          ErrorKind = "unsupported"
	ErrKindSignalingUnavailable ErrorKind = "signaling_unavailable"
	ErrKindDialTimeout          ErrorKind = "dial_timeout"
	ErrKindPeerTransport        ErrorKind = "peer_transport"
	ErrKindQueueTimeout         ErrorKind = "queue_timeout"
	ErrKindTrackLost            ErrorKind = "track_lost"
	ErrKindNoLocalStream        ErrorKind = "no_local_stream"
)

// CallError is what the snapshot surfaces to the user: a kind for
// programmatic handling and a human-readable reason.
type CallError struct {
	Kind   ErrorKind
	Reason string
}

func (e *CallError) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Kind) + ": " + e.Reason
}

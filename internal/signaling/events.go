package signaling

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/whisperline/whisperline/internal/call"
)

// Inbound event names, server to client.
const (
	evQueueStatus         = "queueStatus"
	evQueueJoined         = "queueJoined"
	evNoUsersAvailable    = "noUsersAvailable"
	evQueueTimeout        = "queueTimeout"
	evPairingSuccess      = "pairingSuccess"
	evRemoteReady         = "remoteReady"
	evCallEnded           = "callEnded"
	evPairDisconnected    = "pairDisconnected"
	evFiltersUpdated      = "filtersUpdated"
	evFiltersUpdateFailed = "filtersUpdateFailed"
	evFilterLevelChanged  = "filterLevelChanged"
	evMicStatusAck        = "micStatusAck"
	evPeerOffer           = "peerOffer"
	evPeerAnswer          = "peerAnswer"
	evPeerCandidate       = "peerCandidate"
)

// PeerOffer, PeerAnswer and PeerCandidate are the transport-level relays for
// the media handshake; they bypass the call engine and go straight to the
// peer session manager.
type PeerOffer struct {
	SDP string `json:"sdp"`
}

type PeerAnswer struct {
	SDP string `json:"sdp"`
}

type PeerCandidate struct {
	Candidate string `json:"candidate"`
}

type queueStatusPayload struct {
	Position          int    `json:"position"`
	WaitTime          int64  `json:"waitTime"`
	EstimatedWait     int64  `json:"estimatedWait"`
	FilterLevel       int    `json:"filterLevel"`
	FilterDescription string `json:"filterDescription"`
	QueueSize         int    `json:"queueSize"`
}

type queueJoinedPayload struct {
	Position  int `json:"position"`
	QueueSize int `json:"queueSize"`
}

type noUsersPayload struct {
	KeepWaiting bool   `json:"keepWaiting"`
	Suggestion  string `json:"suggestion"`
}

type queueTimeoutPayload struct {
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

type iceServerPayload struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type rtcConfigPayload struct {
	ICEServers []iceServerPayload `json:"iceServers"`
}

type peerDescriptorPayload struct {
	Token     string           `json:"token"`
	RTCConfig rtcConfigPayload `json:"rtcConfig"`
	Server    string           `json:"server"`
}

type pairingSuccessPayload struct {
	Room               string                `json:"room"`
	Stranger           string                `json:"stranger"`
	PartnerID          string                `json:"partnerId"`
	StrangerGender     string                `json:"strangerGender"`
	StrangerInitials   string                `json:"strangerInitials"`
	IsStrangerVerified bool                  `json:"isStrangerVerified"`
	MatchQuality       float64               `json:"matchQuality"`
	Peer               peerDescriptorPayload `json:"peer"`
}

type remoteReadyPayload struct {
	PeerID string `json:"peerId"`
}

type callEndedPayload struct {
	Reason string `json:"reason"`
}

type filtersPayload struct {
	PreferredGender  string `json:"preferredGender"`
	PreferredCollege string `json:"preferredCollege"`
}

type filtersUpdatedPayload struct {
	NewFilters filtersPayload `json:"newFilters"`
}

type filtersUpdateFailedPayload struct {
	Message string `json:"message"`
}

type filterLevelChangedPayload struct {
	NewLevel       int    `json:"newLevel"`
	NewDescription string `json:"newDescription"`
}

type micStatusAckPayload struct {
	Status string `json:"status"`
}

// Decode turns a raw inbound frame into its typed event: a call.Event for
// lifecycle traffic or a Peer* value for the media handshake relays.
func Decode(data []byte) (any, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if strings.TrimSpace(f.Event) == "" {
		return nil, fmt.Errorf("frame missing event name")
	}

	switch f.Event {
	case evQueueStatus:
		var p queueStatusPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return call.QueueStatus{Metrics: call.QueueMetrics{
			Position:          p.Position,
			QueueSize:         p.QueueSize,
			WaitTimeMs:        p.WaitTime,
			EstimatedWaitMs:   p.EstimatedWait,
			FilterLevel:       p.FilterLevel,
			FilterDescription: p.FilterDescription,
		}}, nil
	case evQueueJoined:
		var p queueJoinedPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return call.QueueJoined{Position: p.Position, QueueSize: p.QueueSize}, nil
	case evNoUsersAvailable:
		var p noUsersPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return call.NoUsersAvailable{KeepWaiting: p.KeepWaiting, Suggestion: p.Suggestion}, nil
	case evQueueTimeout:
		var p queueTimeoutPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return call.QueueTimedOut{Message: p.Message, Suggestion: p.Suggestion}, nil
	case evPairingSuccess:
		var p pairingSuccessPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		partnerID := p.PartnerID
		if partnerID == "" {
			partnerID = p.Stranger
		}
		servers := make([]call.ICEServer, 0, len(p.Peer.RTCConfig.ICEServers))
		for _, s := range p.Peer.RTCConfig.ICEServers {
			servers = append(servers, call.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
		}
		return call.PairingSucceeded{
			RoomID: p.Room,
			Partner: call.Partner{
				ID:       partnerID,
				Gender:   p.StrangerGender,
				Verified: p.IsStrangerVerified,
				Initials: initials(p.StrangerInitials, partnerID),
			},
			MatchQuality: p.MatchQuality,
			Peer: call.PeerInfo{
				Token:      p.Peer.Token,
				ICEServers: servers,
				Server:     p.Peer.Server,
			},
		}, nil
	case evRemoteReady:
		var p remoteReadyPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return call.RemoteReady{PeerID: p.PeerID}, nil
	case evCallEnded:
		var p callEndedPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return call.CallEnded{Reason: p.Reason}, nil
	case evPairDisconnected:
		return call.PairDisconnected{}, nil
	case evFiltersUpdated:
		var p filtersUpdatedPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return call.FiltersUpdated{Prefs: call.Preferences{
			Gender:  p.NewFilters.PreferredGender,
			College: p.NewFilters.PreferredCollege,
		}}, nil
	case evFiltersUpdateFailed:
		var p filtersUpdateFailedPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return call.FiltersUpdateFailed{Message: p.Message}, nil
	case evFilterLevelChanged:
		var p filterLevelChangedPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return call.FilterLevelChanged{Level: p.NewLevel, Description: p.NewDescription}, nil
	case evMicStatusAck:
		var p micStatusAckPayload
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return call.MicStatusAcked{Status: p.Status}, nil
	case evPeerOffer:
		var p PeerOffer
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return p, nil
	case evPeerAnswer:
		var p PeerAnswer
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return p, nil
	case evPeerCandidate:
		var p PeerCandidate
		if err := unmarshal(f, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event %q", f.Event)
	}
}

func unmarshal(f Frame, into any) error {
	if len(f.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Data, into); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Event, err)
	}
	return nil
}

func initials(explicit, partnerID string) string {
	if explicit != "" {
		return explicit
	}
	id := strings.TrimSpace(partnerID)
	if len(id) >= 2 {
		return strings.ToUpper(id[:2])
	}
	return strings.ToUpper(id)
}

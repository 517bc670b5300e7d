package coordinator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Vennela115/CampusVinculum/internal/store"
)

// Inbound event names.
const (
	EventJoinRoom          = "join_room"
	EventLeaveRoom         = "leave_room"
	EventSendMessage       = "send_message"
	EventPrivateMessage    = "private_message"
	EventTyping            = "typing"
	EventStopTyping        = "stop_typing"
	EventJoinVideoSession  = "join_video_session"
	EventOffer             = "offer"
	EventAnswer            = "answer"
	EventICECandidate      = "ice-candidate"
	EventMediaStatusChange = "media_status_change"
	EventLeaveVideoSession = "leave_video_session"
)

// Outbound event names. Offer, answer and ice-candidate reuse the inbound names.
const (
	EventConnected               = "connected"
	EventLoadHistory             = "load_history"
	EventReceiveMessage          = "receive_message"
	EventReceivePrivateMessage   = "receive_private_message"
	EventUserJoined              = "user_joined"
	EventUserLeft                = "user_left"
	EventUpdateUserList          = "update_user_list"
	EventShowTyping              = "show_typing"
	EventHideTyping              = "hide_typing"
	EventUserJoinedVideo         = "user_joined_video"
	EventAllParticipants         = "all_participants"
	EventOnMediaStatusChange     = "on_media_status_change"
	EventUserLeftVideo           = "user_left_video"
	EventSessionLiveAnnouncement = "session_live_announcement"
)

var (
	// ErrMalformedEvent is returned for frames that are not a valid envelope
	// or whose payload does not decode.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnknownEvent is returned for envelopes with an unrecognised name.
	ErrUnknownEvent = errors.New("unknown event")
)

// Envelope is the JSON frame exchanged in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds an outbound frame. A nil payload omits the data field.
// HTML escaping is off and relayed SDP and ICE values are spliced in
// verbatim, so they reach the peer with the exact bytes the sender wrote.
func Encode(event string, payload any) ([]byte, error) {
	name, err := marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"event":`)
	buf.Write(name)
	if payload != nil {
		r, isRelayed := payload.(relayed)
		var (
			key   string
			value json.RawMessage
		)
		if isRelayed {
			key, value, payload = r.relayedField()
		}
		data, err := marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		if isRelayed {
			data = splice(data, key, value)
		}
		buf.WriteString(`,"data":`)
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// relayed is implemented by payloads carrying an opaque client value that
// must not be re-encoded. rest is the payload with that field cleared.
type relayed interface {
	relayedField() (key string, value json.RawMessage, rest any)
}

// splice inserts "key":value as the first member of the JSON object obj.
func splice(obj []byte, key string, value json.RawMessage) []byte {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	out := make([]byte, 0, len(obj)+len(key)+len(value)+4)
	out = append(out, '{', '"')
	out = append(out, key...)
	out = append(out, '"', ':')
	out = append(out, value...)
	if rest := bytes.TrimSpace(obj[1:]); len(rest) > 1 {
		out = append(out, ',')
	}
	return append(out, obj[1:]...)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses an inbound frame.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	return env, nil
}

func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Event, err)
	}
	return nil
}

// Inbound payloads.

// JoinRoomRequest is the join_room body.
type JoinRoomRequest struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

// SendMessageRequest is the send_message body. The room comes from the
// sender's binding.
type SendMessageRequest struct {
	Text string `json:"text"`
}

// PrivateMessageRequest is the private_message body.
type PrivateMessageRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

// JoinVideoSessionRequest is the join_video_session body.
type JoinVideoSessionRequest struct {
	SessionID string `json:"sessionId"`
	Username  string `json:"username"`
}

// OfferRequest is the offer body. SDP is relayed without inspection and
// CallerUsername is only used when the caller has no bound username.
type OfferRequest struct {
	TargetConnectionID string          `json:"targetConnectionId"`
	SDP                json.RawMessage `json:"sdp"`
	CallerUsername     string          `json:"callerUsername"`
}

// AnswerRequest is the answer body.
type AnswerRequest struct {
	TargetConnectionID string          `json:"targetConnectionId"`
	SDP                json.RawMessage `json:"sdp"`
}

// ICECandidateRequest is the ice-candidate body.
type ICECandidateRequest struct {
	TargetConnectionID string          `json:"targetConnectionId"`
	Candidate          json.RawMessage `json:"candidate"`
}

// MediaStatusRequest is the media_status_change body. An empty SessionID
// means the sender's current session.
type MediaStatusRequest struct {
	Type      string `json:"type"`
	Status    bool   `json:"status"`
	SessionID string `json:"sessionId"`
}

// LeaveVideoSessionRequest is the leave_video_session body.
type LeaveVideoSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// Outbound payloads.

// ConnectedPayload tells a new connection its id.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// UserListPayload is the update_user_list body. Users is the live roster in
// join order, Members the recorded room membership.
type UserListPayload struct {
	Users        []string        `json:"users"`
	Members      []string        `json:"members"`
	OnlineStatus map[string]bool `json:"onlineStatus"`
}

// Participant is one entry of a video session roster.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
}

// OfferPayload is the offer delivered to its target.
type OfferPayload struct {
	SDP                json.RawMessage `json:"sdp,omitempty"`
	CallerConnectionID string          `json:"callerConnectionId"`
	CallerUsername     string          `json:"callerUsername"`
}

func (p OfferPayload) relayedField() (string, json.RawMessage, any) {
	value := p.SDP
	p.SDP = nil
	return "sdp", value, p
}

// AnswerPayload is the answer delivered to its target.
type AnswerPayload struct {
	SDP                json.RawMessage `json:"sdp,omitempty"`
	SenderConnectionID string          `json:"senderConnectionId"`
}

func (p AnswerPayload) relayedField() (string, json.RawMessage, any) {
	value := p.SDP
	p.SDP = nil
	return "sdp", value, p
}

// ICECandidatePayload is the candidate delivered to its target.
type ICECandidatePayload struct {
	Candidate          json.RawMessage `json:"candidate,omitempty"`
	SenderConnectionID string          `json:"senderConnectionId"`
}

func (p ICECandidatePayload) relayedField() (string, json.RawMessage, any) {
	value := p.Candidate
	p.Candidate = nil
	return "candidate", value, p
}

// MediaStatusPayload is the on_media_status_change body.
type MediaStatusPayload struct {
	ConnectionID string `json:"connectionId"`
	Type         string `json:"type"`
	Status       bool   `json:"status"`
}

// UserLeftVideoPayload names the connection that left a session.
type UserLeftVideoPayload struct {
	ConnectionID string `json:"connectionId"`
}

// SessionLivePayload is the session_live_announcement body.
type SessionLivePayload struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// HistoryPayload is the load_history body; never null on the wire.
type HistoryPayload []store.ChatMessage

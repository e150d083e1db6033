package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// ProtocolVersion is the Jupyter messaging protocol version stamped on outgoing headers.
	ProtocolVersion = "5.2"

	// SubshellProtocolVersion is stamped on headers that carry a subshell_id.
	SubshellProtocolVersion = "5.5"

	MessageHeaderDefaultUsername = "username"

	JavascriptISOString = "2006-01-02T15:04:05.999Z07:00"
)

// Channel is one of the four kernel channels multiplexed over the websocket.
type Channel string

const (
	ShellChannel   Channel = "shell"
	ControlChannel Channel = "control"
	IOPubChannel   Channel = "iopub"
	StdinChannel   Channel = "stdin"
)

func (c Channel) String() string {
	return string(c)
}

// IsValid returns true if c is one of the four known channels.
func (c Channel) IsValid() bool {
	switch c {
	case ShellChannel, ControlChannel, IOPubChannel, StdinChannel:
		return true
	default:
		return false
	}
}

// Header is a Jupyter message header.
// http://jupyter-client.readthedocs.io/en/latest/messaging.html#general-message-format
type Header struct {
	MsgID      string             `json:"msg_id"`
	MsgType    JupyterMessageType `json:"msg_type"`
	Session    string             `json:"session"`
	Username   string             `json:"username"`
	Date       string             `json:"date"`
	Version    string             `json:"version"`
	SubshellID string             `json:"subshell_id,omitempty"`

	// missing records the required keys that were absent when the header was decoded.
	missing []string
}

var requiredHeaderFields = []string{"username", "version", "session", "msg_id", "msg_type"}

func (h *Header) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}

	type plain Header
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*h = Header(decoded)
	h.missing = h.missing[:0]
	for _, field := range requiredHeaderFields {
		if _, ok := keys[field]; !ok {
			h.missing = append(h.missing, field)
		}
	}

	return nil
}

func (h *Header) Clone() *Header {
	if h == nil {
		return nil
	}

	clone := *h
	clone.missing = append([]string(nil), h.missing...)
	return &clone
}

func (h *Header) String() string {
	return fmt.Sprintf("Header[id=%s, type=%s, session=%s]", h.MsgID, h.MsgType, h.Session)
}

// Message is a single kernel message as carried over the websocket.
//
// A Message is treated as immutable once it has been handed to a connection. Use Clone
// to derive a modified copy.
type Message struct {
	Header       Header                 `json:"header"`
	ParentHeader *Header                `json:"parent_header"`
	Metadata     map[string]interface{} `json:"metadata"`
	Content      map[string]interface{} `json:"content"`
	Channel      Channel                `json:"channel"`

	// Buffers are carried outside the JSON payload, in the binary frame.
	Buffers [][]byte `json:"-"`

	missing []string
}

// MessageOptions are the inputs to NewMessage.
type MessageOptions struct {
	MsgType      JupyterMessageType
	Channel      Channel
	Session      string
	Username     string
	SubshellID   string
	Content      map[string]interface{}
	Metadata     map[string]interface{}
	ParentHeader *Header
	Buffers      [][]byte

	// MsgID overrides the generated message id. Only tests should need this.
	MsgID string
}

// NewMessage builds a new message with a fresh msg_id unless one is supplied.
func NewMessage(opts MessageOptions) *Message {
	msgID := opts.MsgID
	if msgID == "" {
		msgID = uuid.NewString()
	}

	username := opts.Username
	if username == "" {
		username = MessageHeaderDefaultUsername
	}

	version := ProtocolVersion
	if opts.SubshellID != "" {
		version = SubshellProtocolVersion
	}

	content := opts.Content
	if content == nil {
		content = make(map[string]interface{})
	}

	metadata := opts.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &Message{
		Header: Header{
			MsgID:      msgID,
			MsgType:    opts.MsgType,
			Session:    opts.Session,
			Username:   username,
			Date:       time.Now().UTC().Format(JavascriptISOString),
			Version:    version,
			SubshellID: opts.SubshellID,
		},
		ParentHeader: opts.ParentHeader.Clone(),
		Metadata:     metadata,
		Content:      content,
		Channel:      opts.Channel,
		Buffers:      opts.Buffers,
	}
}

type wireMessage struct {
	Header       Header                 `json:"header"`
	ParentHeader interface{}            `json:"parent_header"`
	Metadata     map[string]interface{} `json:"metadata"`
	Content      map[string]interface{} `json:"content"`
	Channel      Channel                `json:"channel"`
}

// MarshalJSON emits the envelope without buffers, with an empty parent header as {}.
func (m *Message) MarshalJSON() ([]byte, error) {
	wire := wireMessage{
		Header:       m.Header,
		ParentHeader: map[string]interface{}{},
		Metadata:     m.Metadata,
		Content:      m.Content,
		Channel:      m.Channel,
	}

	if m.ParentHeader != nil {
		wire.ParentHeader = m.ParentHeader
	}
	if wire.Metadata == nil {
		wire.Metadata = map[string]interface{}{}
	}
	if wire.Content == nil {
		wire.Content = map[string]interface{}{}
	}

	return json.Marshal(&wire)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*m = Message{}
	for _, key := range []string{"header", "metadata", "content", "channel"} {
		if _, ok := fields[key]; !ok {
			m.missing = append(m.missing, key)
		}
	}

	if raw, ok := fields["header"]; ok {
		if err := json.Unmarshal(raw, &m.Header); err != nil {
			return fmt.Errorf("header: %w", err)
		}
	}

	if raw, ok := fields["parent_header"]; ok && !isEmptyJSONObject(raw) {
		var parent Header
		if err := json.Unmarshal(raw, &parent); err != nil {
			return fmt.Errorf("parent_header: %w", err)
		}
		m.ParentHeader = &parent
	}

	if raw, ok := fields["metadata"]; ok {
		if err := json.Unmarshal(raw, &m.Metadata); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
	}

	if raw, ok := fields["content"]; ok {
		if err := json.Unmarshal(raw, &m.Content); err != nil {
			return fmt.Errorf("content: %w", err)
		}
	}

	if raw, ok := fields["channel"]; ok {
		if err := json.Unmarshal(raw, &m.Channel); err != nil {
			return fmt.Errorf("channel: %w", err)
		}
	}

	return nil
}

func isEmptyJSONObject(raw json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		// null and non-objects are treated as "no parent"
		return true
	}
	return len(probe) == 0
}

// Type returns the message's msg_type.
func (m *Message) Type() JupyterMessageType {
	return m.Header.MsgType
}

// ID returns the message's msg_id.
func (m *Message) ID() string {
	return m.Header.MsgID
}

// ParentMsgID returns the msg_id of the parent header, or the empty string.
func (m *Message) ParentMsgID() string {
	if m.ParentHeader == nil {
		return ""
	}
	return m.ParentHeader.MsgID
}

// ParentSession returns the session of the parent header, or the empty string.
func (m *Message) ParentSession() string {
	if m.ParentHeader == nil {
		return ""
	}
	return m.ParentHeader.Session
}

// DisplayID returns content.transient.display_id if the message carries one.
func (m *Message) DisplayID() (string, bool) {
	transient, ok := m.Content["transient"].(map[string]interface{})
	if !ok {
		return "", false
	}

	displayID, ok := transient["display_id"].(string)
	if !ok || displayID == "" {
		return "", false
	}

	return displayID, true
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	clone := &Message{
		Header:       *m.Header.Clone(),
		ParentHeader: m.ParentHeader.Clone(),
		Metadata:     cloneMap(m.Metadata),
		Content:      cloneMap(m.Content),
		Channel:      m.Channel,
		missing:      append([]string(nil), m.missing...),
	}

	if m.Buffers != nil {
		clone.Buffers = make([][]byte, len(m.Buffers))
		for i, buf := range m.Buffers {
			clone.Buffers[i] = append([]byte(nil), buf...)
		}
	}

	return clone
}

func (m *Message) String() string {
	out, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("Message[id=%s, type=%s, channel=%s]", m.Header.MsgID, m.Header.MsgType, m.Channel)
	}

	return string(out)
}

func cloneMap(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}

	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			out[i] = cloneValue(elem)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

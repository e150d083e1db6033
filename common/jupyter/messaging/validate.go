package messaging

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidMessage = errors.New("invalid kernel message")

// ValidationError describes the first structural problem found in a message.
type ValidationError struct {
	MsgType JupyterMessageType
	Field   string
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.MsgType != "" {
		return fmt.Sprintf("%s (%s): %s %s", ErrInvalidMessage.Error(), e.MsgType, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrInvalidMessage.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidMessage
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBoolean
	kindObject
)

func (k fieldKind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	case kindBoolean:
		return "boolean"
	default:
		return "object"
	}
}

type contentField struct {
	name   string
	kind   fieldKind
	values []string
}

// iopubContentSchemas lists the required content fields for each IOPub message type with a known schema.
var iopubContentSchemas = map[JupyterMessageType][]contentField{
	Stream: {
		{name: "name", kind: kindString},
		{name: "text", kind: kindString},
	},
	DisplayData: {
		{name: "data", kind: kindObject},
		{name: "metadata", kind: kindObject},
	},
	ExecuteInput: {
		{name: "code", kind: kindString},
		{name: "execution_count", kind: kindNumber},
	},
	ExecuteResult: {
		{name: "execution_count", kind: kindNumber},
		{name: "data", kind: kindObject},
		{name: "metadata", kind: kindObject},
	},
	Error: {
		{name: "ename", kind: kindString},
		{name: "evalue", kind: kindString},
		{name: "traceback", kind: kindObject},
	},
	IOStatusMessage: {
		{name: "execution_state", kind: kindString, values: []string{
			MessageKernelStatusStarting,
			MessageKernelStatusIdle,
			MessageKernelStatusBusy,
			MessageKernelStatusRestarting,
			MessageKernelStatusDead,
		}},
	},
	ClearOutput: {
		{name: "wait", kind: kindBoolean},
	},
	CommOpen: {
		{name: "comm_id", kind: kindString},
		{name: "target_name", kind: kindString},
		{name: "data", kind: kindObject},
	},
	CommMsg: {
		{name: "comm_id", kind: kindString},
		{name: "data", kind: kindObject},
	},
	CommClose: {
		{name: "comm_id", kind: kindString},
	},
	ShutdownReply: {
		{name: "restart", kind: kindBoolean},
	},
}

// Validate checks the structure of an inbound message.
//
// The header must carry username, version, session, msg_id and msg_type, and the envelope must
// carry metadata, content and channel. IOPub messages of a known type must also carry their
// required content fields. IOPub types without a schema are accepted as-is.
func Validate(msg *Message) error {
	if msg == nil {
		return &ValidationError{Field: "message", Reason: "is nil"}
	}

	if len(msg.missing) > 0 {
		return &ValidationError{Field: msg.missing[0], Reason: "is missing"}
	}

	if len(msg.Header.missing) > 0 {
		return &ValidationError{Field: "header." + msg.Header.missing[0], Reason: "is missing"}
	}

	if !msg.Channel.IsValid() {
		return &ValidationError{MsgType: msg.Header.MsgType, Field: "channel", Reason: fmt.Sprintf("has unknown value \"%s\"", msg.Channel)}
	}

	if msg.Channel == IOPubChannel {
		return validateIOPubContent(msg)
	}

	return nil
}

func validateIOPubContent(msg *Message) error {
	schema, ok := iopubContentSchemas[msg.Header.MsgType]
	if !ok {
		return nil
	}

	for _, field := range schema {
		value, present := msg.Content[field.name]
		if !present {
			return &ValidationError{MsgType: msg.Header.MsgType, Field: "content." + field.name, Reason: "is missing"}
		}

		if !hasKind(value, field.kind) {
			return &ValidationError{
				MsgType: msg.Header.MsgType,
				Field:   "content." + field.name,
				Reason:  fmt.Sprintf("must be a %s, got %T", field.kind, value),
			}
		}

		if len(field.values) > 0 {
			str := value.(string)
			if !containsString(field.values, str) {
				return &ValidationError{
					MsgType: msg.Header.MsgType,
					Field:   "content." + field.name,
					Reason:  fmt.Sprintf("\"%s\" is not one of [%s]", str, strings.Join(field.values, ", ")),
				}
			}
		}
	}

	return nil
}

func hasKind(value interface{}, kind fieldKind) bool {
	switch kind {
	case kindString:
		_, ok := value.(string)
		return ok
	case kindNumber:
		switch value.(type) {
		case float64, float32, int, int32, int64, uint, uint32, uint64:
			return true
		}
		return false
	case kindBoolean:
		_, ok := value.(bool)
		return ok
	default:
		// Anything that is present counts, as with a JSON typeof "object" check (null and arrays included).
		return true
	}
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

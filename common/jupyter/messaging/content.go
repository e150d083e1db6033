package messaging

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type MessageKernelStatus struct {
	Status string `json:"execution_state"`
}

type MessageStream struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type MessageError struct {
	Status    string   `json:"status"`
	ErrName   string   `json:"ename"`
	ErrValue  string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

type MessageExecuteReply struct {
	Status         string `json:"status"`
	ExecutionCount int    `json:"execution_count"`
}

// MessageKernelInfoReply is the content of a kernel_info_reply.
type MessageKernelInfoReply struct {
	Status                string                 `json:"status"`
	ProtocolVersion       string                 `json:"protocol_version"`
	Implementation        string                 `json:"implementation"`
	ImplementationVersion string                 `json:"implementation_version"`
	LanguageInfo          map[string]interface{} `json:"language_info"`
	Banner                string                 `json:"banner"`
	HelpLinks             []interface{}          `json:"help_links"`
	SupportedFeatures     []string               `json:"supported_features"`
}

// SupportsFeature returns true if the kernel advertised the named feature.
func (r *MessageKernelInfoReply) SupportsFeature(feature string) bool {
	for _, f := range r.SupportedFeatures {
		if f == feature {
			return true
		}
	}
	return false
}

type MessageCommOpen struct {
	CommID     string                 `json:"comm_id"`
	TargetName string                 `json:"target_name"`
	Data       map[string]interface{} `json:"data"`
}

type MessageCommMsg struct {
	CommID string                 `json:"comm_id"`
	Data   map[string]interface{} `json:"data"`
}

type MessageCreateSubshellReply struct {
	Status     string `json:"status"`
	SubshellID string `json:"subshell_id"`
}

type MessageInputRequest struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password"`
}

type MessageShutdownReply struct {
	Status  string `json:"status"`
	Restart bool   `json:"restart"`
}

// ExecuteRequestContent is the content of an execute_request. Use DefaultExecuteRequest for
// the protocol defaults.
type ExecuteRequestContent struct {
	Code            string                 `json:"code"`
	Silent          bool                   `json:"silent"`
	StoreHistory    bool                   `json:"store_history"`
	UserExpressions map[string]interface{} `json:"user_expressions"`
	AllowStdin      bool                   `json:"allow_stdin"`
	StopOnError     bool                   `json:"stop_on_error"`
}

// DefaultExecuteRequest returns an ExecuteRequestContent for code with the protocol defaults applied.
func DefaultExecuteRequest(code string) *ExecuteRequestContent {
	return &ExecuteRequestContent{
		Code:            code,
		Silent:          false,
		StoreHistory:    true,
		UserExpressions: map[string]interface{}{},
		AllowStdin:      true,
		StopOnError:     false,
	}
}

type CompleteRequestContent struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

type InspectRequestContent struct {
	Code        string `json:"code"`
	CursorPos   int    `json:"cursor_pos"`
	DetailLevel int    `json:"detail_level"`
}

type HistoryRequestContent struct {
	Output         bool   `json:"output"`
	Raw            bool   `json:"raw"`
	HistAccessType string `json:"hist_access_type"`
	Session        int    `json:"session,omitempty"`
	Start          int    `json:"start,omitempty"`
	Stop           int    `json:"stop,omitempty"`
	N              int    `json:"n,omitempty"`
	Pattern        string `json:"pattern,omitempty"`
	Unique         bool   `json:"unique,omitempty"`
}

type IsCompleteRequestContent struct {
	Code string `json:"code"`
}

type CommInfoRequestContent struct {
	TargetName string `json:"target_name,omitempty"`
}

type InputReplyContent struct {
	Status string `json:"status"`
	Value  string `json:"value"`
}

// DecodeContent decodes the message content into out, which must be a pointer to a struct
// tagged with json field names.
func DecodeContent(msg *Message, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create content decoder")
	}

	if err = decoder.Decode(msg.Content); err != nil {
		return errors.Wrapf(err, "failed to decode content of \"%s\" message", msg.Header.MsgType)
	}

	return nil
}

// EncodeContent converts a content struct into the map form carried by Message.Content.
func EncodeContent(in interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &out,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create content encoder")
	}

	if err = decoder.Decode(in); err != nil {
		return nil, errors.Wrapf(err, "failed to encode content %T", in)
	}

	return out, nil
}

package messaging

import "strings"

// JupyterMessageType is the msg_type of a kernel message.
type JupyterMessageType string

func (t JupyterMessageType) String() string {
	return string(t)
}

// GetBaseMessageType returns the base portion of the message type, e.g. "execute" for "execute_request".
func (t JupyterMessageType) GetBaseMessageType() (string, bool) {
	s := string(t)
	for _, suffix := range []string{"_request", "_reply"} {
		if strings.HasSuffix(s, suffix) {
			return strings.TrimSuffix(s, suffix), true
		}
	}
	return s, false
}

// Shell and control requests and replies.
const (
	ExecuteRequest         JupyterMessageType = "execute_request"
	ExecuteReply           JupyterMessageType = "execute_reply"
	KernelInfoRequest      JupyterMessageType = "kernel_info_request"
	KernelInfoReply        JupyterMessageType = "kernel_info_reply"
	CompleteRequest        JupyterMessageType = "complete_request"
	CompleteReply          JupyterMessageType = "complete_reply"
	InspectRequest         JupyterMessageType = "inspect_request"
	InspectReply           JupyterMessageType = "inspect_reply"
	HistoryRequest         JupyterMessageType = "history_request"
	HistoryReply           JupyterMessageType = "history_reply"
	IsCompleteRequest      JupyterMessageType = "is_complete_request"
	IsCompleteReply        JupyterMessageType = "is_complete_reply"
	CommInfoRequest        JupyterMessageType = "comm_info_request"
	CommInfoReply          JupyterMessageType = "comm_info_reply"
	ShutdownRequest        JupyterMessageType = "shutdown_request"
	ShutdownReply          JupyterMessageType = "shutdown_reply"
	InterruptRequest       JupyterMessageType = "interrupt_request"
	InterruptReply         JupyterMessageType = "interrupt_reply"
	DebugRequest           JupyterMessageType = "debug_request"
	DebugReply             JupyterMessageType = "debug_reply"
	CreateSubshellRequest  JupyterMessageType = "create_subshell_request"
	CreateSubshellReply    JupyterMessageType = "create_subshell_reply"
	DeleteSubshellRequest  JupyterMessageType = "delete_subshell_request"
	DeleteSubshellReply    JupyterMessageType = "delete_subshell_reply"
	ListSubshellRequest    JupyterMessageType = "list_subshell_request"
	ListSubshellReply      JupyterMessageType = "list_subshell_reply"
	CommOpen               JupyterMessageType = "comm_open"
	CommMsg                JupyterMessageType = "comm_msg"
	CommClose              JupyterMessageType = "comm_close"
)

// Stdin messages.
const (
	InputRequest JupyterMessageType = "input_request"
	InputReply   JupyterMessageType = "input_reply"
)

// IOPub messages.
const (
	IOStatusMessage   JupyterMessageType = "status"
	Stream            JupyterMessageType = "stream"
	DisplayData       JupyterMessageType = "display_data"
	UpdateDisplayData JupyterMessageType = "update_display_data"
	ExecuteInput      JupyterMessageType = "execute_input"
	ExecuteResult     JupyterMessageType = "execute_result"
	Error             JupyterMessageType = "error"
	ClearOutput       JupyterMessageType = "clear_output"
	DebugEvent        JupyterMessageType = "debug_event"
)

// Values of status.execution_state.
const (
	MessageKernelStatusStarting   = "starting"
	MessageKernelStatusIdle       = "idle"
	MessageKernelStatusBusy       = "busy"
	MessageKernelStatusRestarting = "restarting"
	MessageKernelStatusDead       = "dead"
)

const (
	MessageStatusOK    = "ok"
	MessageStatusError = "error"

	// SubshellsFeature is the kernel_info supported_features entry advertising subshell support.
	SubshellsFeature = "kernel subshells"
)

// IsDisplayDataMessage returns true for the message types that may carry a transient display id.
func IsDisplayDataMessage(t JupyterMessageType) bool {
	return t == DisplayData || t == UpdateDisplayData || t == ExecuteResult
}

package kernel

import "github.com/scusemua/kernel-connection/common/jupyter/messaging"

// KernelStatus is the execution status of the remote kernel as seen by a Connection.
type KernelStatus string

const (
	StatusUnknown        KernelStatus = "unknown"
	StatusStarting       KernelStatus = "starting"
	StatusIdle           KernelStatus = "idle"
	StatusBusy           KernelStatus = "busy"
	StatusRestarting     KernelStatus = "restarting"
	StatusAutoRestarting KernelStatus = "autorestarting"
	StatusDead           KernelStatus = "dead"
)

func (s KernelStatus) String() string {
	return string(s)
}

// kernelStatusFromExecutionState maps status.execution_state onto a KernelStatus.
func kernelStatusFromExecutionState(state string) KernelStatus {
	switch state {
	case messaging.MessageKernelStatusStarting:
		return StatusStarting
	case messaging.MessageKernelStatusIdle:
		return StatusIdle
	case messaging.MessageKernelStatusBusy:
		return StatusBusy
	case messaging.MessageKernelStatusRestarting:
		return StatusRestarting
	case messaging.MessageKernelStatusDead:
		return StatusDead
	default:
		return StatusUnknown
	}
}

// ConnectionStatus is the status of the websocket between a Connection and the kernel.
type ConnectionStatus string

const (
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

func (s ConnectionStatus) String() string {
	return string(s)
}

// Direction is the direction of a message observed on the AnyMessage signal.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// AnyMessageArgs is emitted for every message sent or received by a Connection.
type AnyMessageArgs struct {
	Msg       *messaging.Message
	Direction Direction
}

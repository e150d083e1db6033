package kernel

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
)

// request sends a shell or control request and waits for its reply.
// The future is disposed if ctx is done first.
func (c *Connection) request(ctx context.Context, msgType messaging.JupyterMessageType, channel messaging.Channel, content interface{}) (*messaging.Message, error) {
	var encoded map[string]interface{}
	if content != nil {
		var err error
		if encoded, err = messaging.EncodeContent(content); err != nil {
			return nil, err
		}
	}

	msg := c.newMessage(msgType, channel, encoded, nil, nil)
	future, err := c.submit(msg, true, true)
	if err != nil {
		return nil, err
	}

	reply, err := future.Wait(ctx)
	if err != nil {
		future.Dispose()
		return nil, err
	}

	return reply, nil
}

// RequestKernelInfo sends a kernel_info_request and waits for the reply. The reply also
// becomes the connection's kernel info.
func (c *Connection) RequestKernelInfo(ctx context.Context) (*messaging.Message, error) {
	future, err := c.sendKernelInfoRequest()
	if err != nil {
		return nil, err
	}

	reply, err := future.Wait(ctx)
	if err != nil {
		future.Dispose()
		return nil, err
	}

	return reply, nil
}

// RequestExecute sends an execute_request. The returned future is done once the execute_reply
// and the idle status have both been received.
func (c *Connection) RequestExecute(content *messaging.ExecuteRequestContent, disposeOnDone bool, metadata map[string]interface{}, opts ...FutureOption) (*Future, error) {
	if content == nil {
		return nil, fmt.Errorf("%w: execute request requires content", ErrInvalidRequest)
	}

	encoded, err := messaging.EncodeContent(content)
	if err != nil {
		return nil, err
	}

	msg := c.newMessage(messaging.ExecuteRequest, messaging.ShellChannel, encoded, metadata, nil)
	return c.submit(msg, true, disposeOnDone, opts...)
}

func (c *Connection) RequestComplete(ctx context.Context, content messaging.CompleteRequestContent) (*messaging.Message, error) {
	return c.request(ctx, messaging.CompleteRequest, messaging.ShellChannel, content)
}

func (c *Connection) RequestInspect(ctx context.Context, content messaging.InspectRequestContent) (*messaging.Message, error) {
	return c.request(ctx, messaging.InspectRequest, messaging.ShellChannel, content)
}

func (c *Connection) RequestHistory(ctx context.Context, content messaging.HistoryRequestContent) (*messaging.Message, error) {
	return c.request(ctx, messaging.HistoryRequest, messaging.ShellChannel, content)
}

func (c *Connection) RequestIsComplete(ctx context.Context, content messaging.IsCompleteRequestContent) (*messaging.Message, error) {
	return c.request(ctx, messaging.IsCompleteRequest, messaging.ShellChannel, content)
}

func (c *Connection) RequestCommInfo(ctx context.Context, content messaging.CommInfoRequestContent) (*messaging.Message, error) {
	return c.request(ctx, messaging.CommInfoRequest, messaging.ShellChannel, content)
}

// RequestDebug sends a debug_request on the control channel.
func (c *Connection) RequestDebug(content map[string]interface{}, disposeOnDone bool, opts ...FutureOption) (*Future, error) {
	msg := c.newMessage(messaging.DebugRequest, messaging.ControlChannel, content, nil, nil)
	return c.submit(msg, true, disposeOnDone, opts...)
}

// RequestCreateSubshell asks the kernel to create a subshell. The subshell id is in the reply.
func (c *Connection) RequestCreateSubshell(disposeOnDone bool, opts ...FutureOption) (*Future, error) {
	msg := c.newMessage(messaging.CreateSubshellRequest, messaging.ControlChannel, nil, nil, nil)
	return c.submit(msg, true, disposeOnDone, opts...)
}

func (c *Connection) RequestDeleteSubshell(subshellID string, disposeOnDone bool, opts ...FutureOption) (*Future, error) {
	content := map[string]interface{}{"subshell_id": subshellID}
	msg := c.newMessage(messaging.DeleteSubshellRequest, messaging.ControlChannel, content, nil, nil)
	return c.submit(msg, true, disposeOnDone, opts...)
}

// RequestListSubshell returns the ids of the kernel's subshells.
func (c *Connection) RequestListSubshell(ctx context.Context) ([]string, error) {
	reply, err := c.request(ctx, messaging.ListSubshellRequest, messaging.ControlChannel, nil)
	if err != nil {
		return nil, err
	}

	var content struct {
		SubshellID []string `json:"subshell_id"`
	}
	if err = messaging.DecodeContent(reply, &content); err != nil {
		return nil, err
	}

	return content.SubshellID, nil
}

// RegisterMessageHook adds a hook to the future of the request with id parentMsgID.
func (c *Connection) RegisterMessageHook(parentMsgID string, hook Hook) (HookID, error) {
	future, ok := c.futures.Get(parentMsgID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrFutureNotFound, parentMsgID)
	}
	return future.RegisterMessageHook(hook)
}

// RemoveMessageHook removes a hook. Unknown requests are ignored.
func (c *Connection) RemoveMessageHook(parentMsgID string, id HookID) {
	if future, ok := c.futures.Get(parentMsgID); ok {
		future.RemoveMessageHook(id)
	}
}

// RegisterCommTarget registers the callback for comms the kernel opens with targetName.
func (c *Connection) RegisterCommTarget(targetName string, fn CommTargetFunc) {
	c.commTargets.Set(targetName, fn)
}

func (c *Connection) RemoveCommTarget(targetName string) {
	c.commTargets.Remove(targetName)
}

// CreateComm creates a client-side comm. An empty commID is replaced with a generated one.
// The comm is not opened until Open is called.
func (c *Connection) CreateComm(targetName string, commID string) (*Comm, error) {
	if !c.opts.HandleComms {
		return nil, ErrCommsDisabled
	}

	if c.IsDisposed() {
		return nil, ErrConnectionDisposed
	}

	if commID == "" {
		commID = uuid.NewString()
	}

	if c.comms.Has(commID) {
		return nil, fmt.Errorf("%w: %s", ErrCommAlreadyExists, commID)
	}

	comm := c.makeComm(targetName, commID)
	if !c.comms.SetIfAbsent(commID, comm) {
		return nil, fmt.Errorf("%w: %s", ErrCommAlreadyExists, commID)
	}

	return comm, nil
}

// HasComm returns true if a comm with the given id is registered.
func (c *Connection) HasComm(commID string) bool {
	return c.comms.Has(commID)
}

func (c *Connection) resolveCommTarget(targetName string) (CommTargetFunc, error) {
	if fn, ok := c.commTargets.Get(targetName); ok {
		return fn, nil
	}

	if c.opts.CommTargetResolver != nil {
		return c.opts.CommTargetResolver.ResolveCommTarget(targetName)
	}

	return nil, fmt.Errorf("%w: \"%s\"", ErrCommTargetNotFound, targetName)
}

// makeComm builds a comm bound to a subshell according to the CommsOverSubshells policy.
func (c *Connection) makeComm(targetName string, commID string) *Comm {
	if c.opts.CommsOverSubshells == CommsOverSubshellsDisabled || !c.SupportsSubshells() {
		return newComm(targetName, commID, c, nil, false)
	}

	switch c.opts.CommsOverSubshells {
	case CommsOverSubshellsPerComm:
		return newComm(targetName, commID, c, c.startSubshell(), true)
	case CommsOverSubshellsPerCommTarget:
		return newComm(targetName, commID, c, c.subshells.forTarget(targetName, c.startSubshell), false)
	default:
		return newComm(targetName, commID, c, nil, false)
	}
}

// startSubshell requests a new subshell. The handle resolves with an error if the request
// fails or the reply carries no subshell id.
func (c *Connection) startSubshell() *subshellHandle {
	handle := newSubshellHandle()

	future, err := c.RequestCreateSubshell(true, WithOnReply(func(reply *messaging.Message) error {
		var content messaging.MessageCreateSubshellReply
		if err := messaging.DecodeContent(reply, &content); err != nil {
			handle.resolve("", err)
			return err
		}

		if content.Status != messaging.MessageStatusOK || content.SubshellID == "" {
			handle.resolve("", ErrSubshellUnavailable)
			return nil
		}

		handle.resolve(content.SubshellID, nil)
		return nil
	}))
	if err != nil {
		handle.resolve("", err)
		return handle
	}

	go func() {
		<-future.DoneC()
		handle.resolve("", ErrSubshellUnavailable)
	}()

	return handle
}

package kernel

import (
	"context"
	"errors"
	"fmt"

	"nhooyr.io/websocket"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
	"github.com/scusemua/kernel-connection/common/utils"
)

// newMessage builds a message stamped with this client's session and username.
func (c *Connection) newMessage(msgType messaging.JupyterMessageType, channel messaging.Channel, content map[string]interface{}, metadata map[string]interface{}, buffers [][]byte) *messaging.Message {
	return messaging.NewMessage(messaging.MessageOptions{
		MsgType:  msgType,
		Channel:  channel,
		Session:  c.clientID,
		Username: c.username,
		Content:  content,
		Metadata: metadata,
		Buffers:  buffers,
	})
}

// registerFuture creates a Future for msg and indexes it by msg id without sending msg.
func (c *Connection) registerFuture(msg *messaging.Message, expectReply bool, disposeOnDone bool, opts ...FutureOption) *Future {
	future := NewFuture(msg, expectReply, disposeOnDone, c, c.forgetFuture, opts...)
	c.futures.Set(msg.Header.MsgID, future)
	c.metrics.FutureRegistered()
	return future
}

func (c *Connection) forgetFuture(future *Future) {
	msgID := future.Msg().Header.MsgID
	if current, ok := c.futures.Get(msgID); ok && current == future {
		c.futures.Remove(msgID)
	}
	c.display.removeMsg(msgID)
	c.metrics.FutureReleased()
}

// submit registers a Future for msg and sends msg. The future is registered first so that no
// response can arrive before it is known.
func (c *Connection) submit(msg *messaging.Message, expectReply bool, disposeOnDone bool, opts ...FutureOption) (*Future, error) {
	if c.IsDisposed() {
		return nil, ErrConnectionDisposed
	}

	future := c.registerFuture(msg, expectReply, disposeOnDone, opts...)
	if err := c.sendMessage(msg, true); err != nil {
		future.Dispose()
		return nil, err
	}

	return future, nil
}

// sendMessage writes msg to the socket, or appends it to the pending queue when queue is true
// and the socket is not ready. Messages already pending are never overtaken.
func (c *Connection) sendMessage(msg *messaging.Message, queue bool) error {
	if c.IsDisposed() {
		return ErrConnectionDisposed
	}

	c.mu.Lock()
	if c.status == StatusDead {
		c.mu.Unlock()
		return ErrKernelDead
	}

	if c.connectionStatus == ConnectionDisconnected {
		c.mu.Unlock()
		return ErrConnectionDisconnected
	}

	var err error
	writable := c.connectionStatus == ConnectionConnected && c.socket != nil
	restarting := c.kernelSession == restartingSession

	switch {
	case restarting && msg.Header.MsgType == messaging.KernelInfoRequest:
		// The kernel_info_request that re-synchronises a restarted kernel skips the queue.
		if writable {
			err = c.writeLocked(msg)
		} else {
			err = ErrNotConnected
		}
	case queue && c.pending.Len() > 0:
		c.pending.Enqueue(msg)
	case writable && !restarting:
		err = c.writeLocked(msg)
	case queue:
		c.pending.Enqueue(msg)
	default:
		err = ErrNotConnected
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}

	c.anyMessage.Emit(AnyMessageArgs{Msg: msg, Direction: DirectionSend})
	return nil
}

// writeLocked encodes msg and writes it to the socket. A failed write puts msg back at the
// head of the pending queue and drops the socket, which starts a reconnection.
func (c *Connection) writeLocked(msg *messaging.Message) error {
	data, binary, err := messaging.Serialize(msg)
	if err != nil {
		return err
	}

	typ := websocket.MessageText
	if binary {
		typ = websocket.MessageBinary
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.WriteTimeout)
	defer cancel()

	if err = c.socket.Write(ctx, typ, data); err != nil {
		c.log.Warn(utils.OrangeStyle.Render("Failed to write \"%s\" message %s to kernel %s: %v"), msg.Header.MsgType, msg.Header.MsgID, c.id, err)
		c.pending.PushFront(msg)

		sock := c.socket
		c.socket = nil
		go func() {
			_ = sock.Close(websocket.StatusGoingAway, "write failed")
		}()
		return nil
	}

	c.metrics.MessageSent(string(msg.Channel), string(msg.Header.MsgType))
	c.log.Trace("Sent \"%s\" message %s on %s.", msg.Header.MsgType, msg.Header.MsgID, msg.Channel)
	return nil
}

// flushPendingLocked writes pending messages in order until the queue is empty or a write fails.
func (c *Connection) flushPendingLocked() {
	if c.kernelSession == restartingSession {
		return
	}

	sent := 0
	for c.connectionStatus == ConnectionConnected && c.socket != nil {
		msg, ok := c.pending.Dequeue()
		if !ok {
			break
		}

		if err := c.writeLocked(msg); err != nil {
			c.log.Error("Dropping pending \"%s\" message %s: %v", msg.Header.MsgType, msg.Header.MsgID, err)
			continue
		}

		if c.socket != nil {
			sent++
		}
	}

	if sent > 0 {
		c.log.Debug("Flushed %d pending message(s) to kernel %s.", sent, c.id)
	}
}

// requestKernelInfoAsync sends a kernel_info_request without waiting for the reply.
func (c *Connection) requestKernelInfoAsync() {
	if _, err := c.sendKernelInfoRequest(); err != nil {
		if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionDisposed) {
			c.log.Debug("Deferred kernel_info_request to kernel %s: %v", c.id, err)
			return
		}
		c.log.Warn("Failed to request kernel info from kernel %s: %v", c.id, err)
	}
}

func (c *Connection) sendKernelInfoRequest() (*Future, error) {
	msg := c.newMessage(messaging.KernelInfoRequest, messaging.ShellChannel, nil, nil, nil)
	return c.submit(msg, true, true, WithOnReply(c.storeKernelInfo))
}

// SendShellMessage sends msg on the shell channel and returns the Future tracking it.
func (c *Connection) SendShellMessage(msg *messaging.Message, expectReply bool, disposeOnDone bool, opts ...FutureOption) (*Future, error) {
	return c.sendOn(messaging.ShellChannel, msg, expectReply, disposeOnDone, opts...)
}

// SendControlMessage sends msg on the control channel and returns the Future tracking it.
func (c *Connection) SendControlMessage(msg *messaging.Message, expectReply bool, disposeOnDone bool, opts ...FutureOption) (*Future, error) {
	return c.sendOn(messaging.ControlChannel, msg, expectReply, disposeOnDone, opts...)
}

func (c *Connection) sendOn(channel messaging.Channel, msg *messaging.Message, expectReply bool, disposeOnDone bool, opts ...FutureOption) (*Future, error) {
	if msg.Channel != channel {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongChannel, channel, msg.Channel)
	}
	return c.submit(msg, expectReply, disposeOnDone, opts...)
}

// SendInputReply answers the kernel's pending input_request.
func (c *Connection) SendInputReply(content messaging.InputReplyContent, parent *messaging.Header) error {
	encoded, err := messaging.EncodeContent(content)
	if err != nil {
		return err
	}

	msg := c.newMessage(messaging.InputReply, messaging.StdinChannel, encoded, nil, nil)
	if parent != nil {
		msg.ParentHeader = parent.Clone()
	}

	if err = c.sendMessage(msg, true); err != nil {
		return err
	}

	c.SetPendingInput(false)
	return nil
}

// unregisterComm forgets a comm. Called by the comm when it is closed or disposed.
func (c *Connection) unregisterComm(commID string) {
	c.comms.Remove(commID)
}

// deleteSubshell asks the kernel to delete a subshell without waiting for the outcome.
func (c *Connection) deleteSubshell(subshellID string) {
	if c.IsDisposed() {
		return
	}

	if _, err := c.RequestDeleteSubshell(subshellID, true); err != nil {
		c.log.Warn("Failed to delete subshell %s of kernel %s: %v", subshellID, c.id, err)
	}
}

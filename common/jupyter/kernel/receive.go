package kernel

import (
	"context"
	"time"

	"github.com/petermattis/goid"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
	"github.com/scusemua/kernel-connection/common/utils"
)

// createSocket replaces the current socket with a new one, dialed in the background.
func (c *Connection) createSocket() {
	c.mu.Lock()
	if c.disposed.Load() {
		c.mu.Unlock()
		return
	}

	c.socketGen++
	gen := c.socketGen
	old := c.socket
	c.socket = nil
	c.mu.Unlock()

	if old != nil {
		go func() {
			_ = old.Close(websocket.StatusNormalClosure, "reconnecting")
		}()
	}

	go c.dialAndServe(gen)
}

func (c *Connection) dialAndServe(gen uint64) {
	url := ChannelsURL(c.opts.BaseURL, c.opts.WsURL, c.id, c.clientID, c.opts.Token)

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
	sock, err := c.dialer(ctx, url)
	cancel()

	if err != nil {
		c.log.Warn("Failed to connect to kernel %s: %v", c.id, err)
		c.onSocketClosed(gen)
		return
	}

	c.mu.Lock()
	if gen != c.socketGen || c.disposed.Load() {
		c.mu.Unlock()
		_ = sock.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	c.socket = sock
	c.mu.Unlock()

	c.log.Debug(utils.GreenStyle.Render("Connected to kernel %s (socket #%d)."), c.id, gen)
	c.updateConnectionStatus(ConnectionConnected)

	c.readPump(gen, sock)
	c.onSocketClosed(gen)
}

// readPump decodes and validates inbound frames and appends them to the inbox until the
// socket fails. Malformed frames are dropped.
func (c *Connection) readPump(gen uint64, sock Socket) {
	for {
		typ, data, err := sock.Read(c.ctx)
		if err != nil {
			if !c.IsDisposed() {
				c.log.Debug("Socket #%d of kernel %s closed: %v", gen, c.id, err)
			}
			return
		}

		msg, err := messaging.Deserialize(data, typ == websocket.MessageBinary)
		if err != nil {
			c.log.Error(utils.RedStyle.Render("Dropping undecodable frame from kernel %s: %v"), c.id, err)
			c.metrics.InvalidMessage("decode")
			continue
		}

		if err = messaging.Validate(msg); err != nil {
			c.log.Error(utils.RedStyle.Render("Dropping invalid message from kernel %s: %v"), c.id, err)
			c.metrics.InvalidMessage("validate")
			continue
		}

		c.mu.Lock()
		if gen != c.socketGen {
			c.mu.Unlock()
			return
		}

		wasRestarting := c.kernelSession == restartingSession
		c.kernelSession = msg.Header.Session
		if wasRestarting {
			c.flushPendingLocked()
		}
		c.mu.Unlock()

		c.metrics.MessageReceived(string(msg.Channel), string(msg.Header.MsgType))
		c.anyMessage.Emit(AnyMessageArgs{Msg: msg, Direction: DirectionRecv})

		c.inboxMu.Lock()
		c.inbox.Enqueue(msg)
		c.inboxMu.Unlock()

		select {
		case c.inboxSignal <- struct{}{}:
		default:
		}
	}
}

// onSocketClosed schedules a reconnection attempt, or gives up once the limit is reached.
func (c *Connection) onSocketClosed(gen uint64) {
	c.mu.Lock()
	if gen != c.socketGen || c.disposed.Load() {
		c.mu.Unlock()
		return
	}

	c.socket = nil
	if c.reconnectAttempt >= c.opts.ReconnectLimit || c.status == StatusDead {
		c.mu.Unlock()
		c.log.Warn(utils.OrangeStyle.Render("Giving up on kernel %s after %d reconnection attempt(s)."), c.id, c.opts.ReconnectLimit)
		c.updateConnectionStatus(ConnectionDisconnected)
		return
	}

	delay := c.reconnectBackoff.ForAttempt(float64(c.reconnectAttempt))
	c.reconnectAttempt++
	attempt := c.reconnectAttempt
	c.mu.Unlock()

	c.updateConnectionStatus(ConnectionConnecting)
	c.metrics.ReconnectAttempted()
	c.log.Info("Reconnecting to kernel %s in %v (attempt %d/%d).", c.id, delay, attempt, c.opts.ReconnectLimit)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.socketGen || c.disposed.Load() {
		return
	}

	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		current := gen == c.socketGen && c.connectionStatus == ConnectionConnecting
		c.reconnectTimer = nil
		c.mu.Unlock()

		if current {
			c.createSocket()
		}
	})
}

// serveMessages is the message loop. It handles one inbound message at a time, in arrival order.
func (c *Connection) serveMessages() {
	c.log.Debug("Message loop of kernel %s started [gid=%d].", c.id, goid.Get())
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.inboxSignal:
		}

		for {
			c.inboxMu.Lock()
			msg, ok := c.inbox.Dequeue()
			c.inboxMu.Unlock()

			if !ok {
				break
			}

			c.handleMessage(msg)
			c.runDeferred()
		}
	}
}

func (c *Connection) runDeferred() {
	for len(c.deferred) > 0 {
		tasks := c.deferred
		c.deferred = nil
		for _, task := range tasks {
			task()
		}
	}
}

func (c *Connection) handleMessage(msg *messaging.Message) {
	if err := c.routeMessage(msg); err != nil {
		if isStale(err) {
			c.log.Debug("Abandoned \"%s\" message %s [gid=%d]: %v", msg.Header.MsgType, msg.Header.MsgID, goid.Get(), err)
			return
		}
		c.log.Warn("Error handling \"%s\" message %s [gid=%d]: %v", msg.Header.MsgType, msg.Header.MsgID, goid.Get(), err)
	}
}

// routeMessage delivers msg to its future, then dispatches IOPub status and comm messages.
func (c *Connection) routeMessage(msg *messaging.Message) error {
	if err := c.assertCurrent(msg); err != nil {
		return err
	}

	handled := false
	if msg.Channel == messaging.IOPubChannel && messaging.IsDisplayDataMessage(msg.Header.MsgType) {
		if displayID, ok := msg.DisplayID(); ok {
			handled = c.handleDisplayID(displayID, msg)
			if err := c.assertCurrent(msg); err != nil {
				return err
			}
		}
	}

	if !handled && msg.ParentHeader != nil {
		if future, ok := c.futures.Get(msg.ParentMsgID()); ok {
			if err := future.HandleMsg(msg); err != nil {
				c.log.Debug("Future of %s returned an error: %v", msg.ParentMsgID(), err)
			}
			if err := c.assertCurrent(msg); err != nil {
				return err
			}
		} else if msg.Channel != messaging.IOPubChannel && msg.ParentSession() == c.clientID {
			c.unhandledMessage.Emit(msg)
		}
	}

	if msg.Header.MsgType == messaging.ShutdownReply {
		c.SetPendingInput(false)
	}

	if msg.Channel != messaging.IOPubChannel {
		return nil
	}

	var err error
	switch msg.Header.MsgType {
	case messaging.IOStatusMessage:
		err = c.handleStatusMessage(msg)
	case messaging.CommOpen:
		if c.opts.HandleComms {
			err = c.handleCommOpen(msg)
		}
	case messaging.CommMsg:
		if c.opts.HandleComms {
			err = c.handleCommMsg(msg)
		}
	case messaging.CommClose:
		if c.opts.HandleComms {
			err = c.handleCommClose(msg)
		}
	}

	if !c.IsDisposed() {
		if staleErr := c.assertCurrent(msg); staleErr != nil {
			return staleErr
		}
		c.iopubMessage.Emit(msg)
	}

	return err
}

// handleDisplayID replays msg as an update_display_data to every earlier owner of displayID and
// records the parent of msg as an owner. It returns true if msg needs no further delivery.
func (c *Connection) handleDisplayID(displayID string, msg *messaging.Message) bool {
	if owners := c.display.owners(displayID); len(owners) > 0 {
		update := msg.Clone()
		update.Header.MsgType = messaging.UpdateDisplayData

		var group errgroup.Group
		for _, owner := range owners {
			future, ok := c.futures.Get(owner)
			if !ok {
				continue
			}
			group.Go(func() error {
				return future.HandleMsg(update)
			})
		}

		if err := group.Wait(); err != nil {
			c.log.Debug("Display update for %s returned an error: %v", displayID, err)
		}
	}

	if msg.Header.MsgType == messaging.UpdateDisplayData {
		return true
	}

	if parentID := msg.ParentMsgID(); parentID != "" {
		c.display.register(displayID, parentID)
	}

	return false
}

func (c *Connection) handleStatusMessage(msg *messaging.Message) error {
	var content messaging.MessageKernelStatus
	if err := messaging.DecodeContent(msg, &content); err != nil {
		return err
	}

	status := kernelStatusFromExecutionState(content.Status)
	if status == StatusRestarting {
		// Runs once the current message is done, so that restarting is observed before autorestarting.
		c.deferred = append(c.deferred, func() {
			c.updateStatus(StatusAutoRestarting)
			c.clearKernelState(ErrKernelRestarted)
			c.requestKernelInfoAsync()
		})
	}

	c.updateStatus(status)
	return nil
}

func (c *Connection) handleCommOpen(msg *messaging.Message) error {
	var content messaging.MessageCommOpen
	if err := messaging.DecodeContent(msg, &content); err != nil {
		return err
	}

	comm := c.makeComm(content.TargetName, content.CommID)
	c.comms.Set(content.CommID, comm)

	target, err := c.resolveCommTarget(content.TargetName)
	if err == nil {
		err = target(comm, msg)
	}

	if err != nil {
		if _, closeErr := comm.Close(nil, nil, nil); closeErr != nil {
			c.log.Debug("Failed to close comm %s: %v", content.CommID, closeErr)
		}
		return err
	}

	return nil
}

func (c *Connection) handleCommMsg(msg *messaging.Message) error {
	var content messaging.MessageCommMsg
	if err := messaging.DecodeContent(msg, &content); err != nil {
		return err
	}

	comm, ok := c.comms.Get(content.CommID)
	if !ok {
		return nil
	}

	return comm.handleMsg(msg)
}

func (c *Connection) handleCommClose(msg *messaging.Message) error {
	var content messaging.MessageCommMsg
	if err := messaging.DecodeContent(msg, &content); err != nil {
		return err
	}

	comm, ok := c.comms.Get(content.CommID)
	if !ok {
		c.log.Warn("Comm not found for comm id %s", content.CommID)
		return nil
	}

	return comm.handleClose(msg)
}

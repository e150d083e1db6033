package kernel

import (
	"fmt"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
	"github.com/scusemua/kernel-connection/common/queue"
)

// CommTargetFunc is invoked when the kernel opens a comm for a registered target.
type CommTargetFunc func(comm *Comm, msg *messaging.Message) error

// CommTargetResolver supplies comm targets that were not registered ahead of time.
type CommTargetResolver interface {
	// ResolveCommTarget returns the callback for targetName, or an error wrapping
	// ErrCommTargetNotFound if there is none.
	ResolveCommTarget(targetName string) (CommTargetFunc, error)
}

// CommTargetResolverFunc adapts a function to a CommTargetResolver.
type CommTargetResolverFunc func(targetName string) (CommTargetFunc, error)

func (f CommTargetResolverFunc) ResolveCommTarget(targetName string) (CommTargetFunc, error) {
	return f(targetName)
}

// commPeer is the part of a Connection that a Comm sends through.
type commPeer interface {
	newMessage(msgType messaging.JupyterMessageType, channel messaging.Channel, content map[string]interface{}, metadata map[string]interface{}, buffers [][]byte) *messaging.Message
	registerFuture(msg *messaging.Message, expectReply bool, disposeOnDone bool, opts ...FutureOption) *Future
	submit(msg *messaging.Message, expectReply bool, disposeOnDone bool, opts ...FutureOption) (*Future, error)
	sendMessage(msg *messaging.Message, queue bool) error
	unregisterComm(commID string)
	deleteSubshell(subshellID string)
}

type outgoingCommMessage struct {
	msg    *messaging.Message
	future *Future
}

// Comm is one end of a comm channel multiplexed over a kernel connection.
//
// When the comm is bound to a subshell that the kernel has not created yet, outgoing messages
// are held in an outbox and sent in order once the subshell id is known. Their futures are
// returned immediately.
type Comm struct {
	commID       string
	targetName   string
	peer         commPeer
	ownsSubshell bool

	mu            sync.Mutex
	disposed      bool
	subshellReady bool
	subshellID    string
	outbox        *queue.Fifo[*outgoingCommMessage]
	discardOutbox bool
	onMsg         MessageHandler
	onClose       MessageHandler

	log logger.Logger
}

func newComm(targetName string, commID string, peer commPeer, subshell *subshellHandle, ownsSubshell bool) *Comm {
	comm := &Comm{
		commID:        commID,
		targetName:    targetName,
		peer:          peer,
		ownsSubshell:  ownsSubshell,
		subshellReady: subshell == nil,
		outbox:        queue.NewFifo[*outgoingCommMessage](4),
	}
	config.InitLogger(&comm.log, fmt.Sprintf("Comm[%s/%s] ", targetName, commID))

	if subshell != nil {
		go comm.awaitSubshell(subshell)
	}

	return comm
}

func (c *Comm) CommID() string {
	return c.commID
}

func (c *Comm) TargetName() string {
	return c.targetName
}

// SubshellID returns the subshell this comm is bound to. The second value is false while the
// subshell is still being created.
func (c *Comm) SubshellID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subshellID, c.subshellReady
}

func (c *Comm) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// SetOnMsg sets the handler for comm_msg messages from the kernel.
func (c *Comm) SetOnMsg(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMsg = handler
}

// SetOnClose sets the handler for comm_close, whether the kernel or this side closed the comm.
func (c *Comm) SetOnClose(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = handler
}

// Open sends a comm_open for this comm.
func (c *Comm) Open(data map[string]interface{}, metadata map[string]interface{}, buffers [][]byte) (*Future, error) {
	content := map[string]interface{}{
		"comm_id":     c.commID,
		"target_name": c.targetName,
		"data":        orEmpty(data),
	}
	return c.send(messaging.CommOpen, content, metadata, buffers)
}

// Send sends a comm_msg.
func (c *Comm) Send(data map[string]interface{}, metadata map[string]interface{}, buffers [][]byte) (*Future, error) {
	content := map[string]interface{}{
		"comm_id": c.commID,
		"data":    orEmpty(data),
	}
	return c.send(messaging.CommMsg, content, metadata, buffers)
}

// Close sends a comm_close, delivers a matching IOPub comm_close to the OnClose handler and
// disposes the comm.
func (c *Comm) Close(data map[string]interface{}, metadata map[string]interface{}, buffers [][]byte) (*Future, error) {
	content := map[string]interface{}{
		"comm_id": c.commID,
		"data":    orEmpty(data),
	}

	future, err := c.send(messaging.CommClose, content, metadata, buffers)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	onClose := c.onClose
	c.mu.Unlock()

	if onClose != nil {
		closeMsg := c.peer.newMessage(messaging.CommClose, messaging.IOPubChannel, content, metadata, buffers)
		if err = onClose(closeMsg); err != nil {
			c.log.Warn("OnClose handler failed: %v", err)
		}
	}

	c.Dispose()
	return future, nil
}

// Dispose unregisters the comm. An exclusively owned subshell is deleted on a best-effort basis.
func (c *Comm) Dispose() {
	c.dispose(true)
}

func (c *Comm) dispose(deleteSubshell bool) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}

	c.disposed = true
	c.onMsg, c.onClose = nil, nil
	if !deleteSubshell {
		c.discardOutbox = true
		c.outbox.Clear()
	}
	subshellID, ready := c.subshellID, c.subshellReady
	c.mu.Unlock()

	c.peer.unregisterComm(c.commID)

	if deleteSubshell && c.ownsSubshell && ready && subshellID != "" {
		c.peer.deleteSubshell(subshellID)
	}
}

func (c *Comm) send(msgType messaging.JupyterMessageType, content map[string]interface{}, metadata map[string]interface{}, buffers [][]byte) (*Future, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return nil, ErrCommDisposed
	}

	msg := c.peer.newMessage(msgType, messaging.ShellChannel, content, metadata, buffers)

	if !c.subshellReady {
		future := c.peer.registerFuture(msg, false, true)
		c.outbox.Enqueue(&outgoingCommMessage{msg: msg, future: future})
		c.log.Debug("Holding \"%s\" message %s until the subshell is ready.", msgType, msg.Header.MsgID)
		return future, nil
	}

	c.stampLocked(msg)
	return c.peer.submit(msg, false, true)
}

func (c *Comm) stampLocked(msg *messaging.Message) {
	if c.subshellID == "" {
		return
	}
	msg.Header.SubshellID = c.subshellID
	msg.Header.Version = messaging.SubshellProtocolVersion
}

func (c *Comm) awaitSubshell(subshell *subshellHandle) {
	<-subshell.ready

	c.mu.Lock()
	if subshell.err != nil {
		c.log.Warn("Subshell unavailable, sending on the main shell instead: %v", subshell.err)
	} else {
		c.subshellID = subshell.id
	}
	c.subshellReady = true

	pending := c.outbox.Drain()
	if c.discardOutbox {
		pending = nil
	}

	for _, out := range pending {
		c.stampLocked(out.msg)
		if err := c.peer.sendMessage(out.msg, true); err != nil {
			c.log.Error("Failed to send held \"%s\" message %s: %v", out.msg.Header.MsgType, out.msg.Header.MsgID, err)
			out.future.Dispose()
		}
	}

	disposed, discard, subshellID := c.disposed, c.discardOutbox, c.subshellID
	c.mu.Unlock()

	if disposed && !discard && c.ownsSubshell && subshellID != "" {
		c.peer.deleteSubshell(subshellID)
	}
}

func (c *Comm) handleMsg(msg *messaging.Message) error {
	c.mu.Lock()
	onMsg := c.onMsg
	c.mu.Unlock()

	if onMsg == nil {
		return nil
	}
	return onMsg(msg)
}

func (c *Comm) handleClose(msg *messaging.Message) error {
	c.mu.Lock()
	onClose := c.onClose
	c.mu.Unlock()

	var err error
	if onClose != nil {
		err = onClose(msg)
	}

	c.Dispose()
	return err
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

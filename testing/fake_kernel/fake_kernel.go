package fake_kernel

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
	"github.com/scusemua/kernel-connection/common/utils"
	"github.com/scusemua/kernel-connection/common/websocket"
)

const (
	sendTimeout     = 5 * time.Second
	receivedBufSize = 1024
)

// Responder answers one request. It runs on the session's read goroutine.
type Responder func(k *FakeKernel, session *websocket.Session, msg *messaging.Message)

// FakeKernel is an in-process kernel that speaks the kernel channels websocket protocol.
//
// By default it answers kernel_info, execute, subshell and other shell/control requests with a
// busy status, a reply and an idle status. Individual message types can be overridden with
// SetResponder.
type FakeKernel struct {
	ID                string
	SupportedFeatures []string

	server   *httptest.Server
	channels *websocket.KernelChannelServer

	mu             sync.Mutex
	session        string
	responders     map[messaging.JupyterMessageType]Responder
	subshells      []string
	executionCount int

	received chan *messaging.Message
	opened   chan *websocket.Session

	// AutoReply is true while the default responders are enabled.
	AutoReply atomic.Bool
	Serving   atomic.Bool

	log logger.Logger
}

// NewFakeKernel starts a FakeKernel on a local httptest server.
func NewFakeKernel(id string, supportedFeatures ...string) *FakeKernel {
	kernel := &FakeKernel{
		ID:                id,
		SupportedFeatures: supportedFeatures,
		session:           uuid.NewString(),
		responders:        make(map[messaging.JupyterMessageType]Responder),
		received:          make(chan *messaging.Message, receivedBufSize),
		opened:            make(chan *websocket.Session, 16),
	}
	config.InitLogger(&kernel.log, fmt.Sprintf("FakeKernel-%s ", id))

	kernel.channels = websocket.NewKernelChannelServer(kernel, 0, rate.Inf, 1)
	kernel.server = httptest.NewServer(kernel.channels)
	kernel.AutoReply.Store(true)
	kernel.Serving.Store(true)

	kernel.log.Debug("is listening and serving at %s", kernel.server.URL)
	return kernel
}

// URL returns the HTTP base URL of the kernel's server.
func (k *FakeKernel) URL() string {
	return k.server.URL
}

// Session returns the kernel session id stamped on the kernel's messages.
func (k *FakeKernel) Session() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.session
}

// Received delivers every message a client sent, in order.
func (k *FakeKernel) Received() <-chan *messaging.Message {
	return k.received
}

// Opened delivers every accepted session.
func (k *FakeKernel) Opened() <-chan *websocket.Session {
	return k.opened
}

// Sessions returns the open sessions.
func (k *FakeKernel) Sessions() []*websocket.Session {
	return k.channels.Sessions()
}

// SetResponder overrides the answer to msgType. A nil responder makes the kernel ignore msgType.
func (k *FakeKernel) SetResponder(msgType messaging.JupyterMessageType, responder Responder) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if responder == nil {
		k.responders[msgType] = func(*FakeKernel, *websocket.Session, *messaging.Message) {}
		return
	}
	k.responders[msgType] = responder
}

// Restart gives the kernel a new session id, as a restarted kernel process would have.
func (k *FakeKernel) Restart() string {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.session = uuid.NewString()
	k.subshells = nil
	k.executionCount = 0
	return k.session
}

// DropConnections closes every open websocket without a closing handshake.
func (k *FakeKernel) DropConnections() {
	if err := k.channels.DropAll(); err != nil {
		k.log.Debug("Error while dropping connections: %v", err)
	}
}

// Close drops every connection and shuts the server down.
func (k *FakeKernel) Close() {
	if !k.Serving.CompareAndSwap(true, false) {
		return
	}

	k.DropConnections()
	k.server.Close()
}

func (k *FakeKernel) OnOpen(session *websocket.Session) {
	k.log.Debug("Client %s connected.", session.ClientID)

	select {
	case k.opened <- session:
	default:
	}
}

func (k *FakeKernel) OnClose(session *websocket.Session, err error) {
	k.log.Debug("Client %s disconnected: %v", session.ClientID, err)
}

func (k *FakeKernel) HandleMessage(_ context.Context, session *websocket.Session, msg *messaging.Message) {
	select {
	case k.received <- msg:
	default:
		k.log.Warn(utils.OrangeStyle.Render("Received buffer is full. Dropping record of \"%s\" message %s."), msg.Header.MsgType, msg.Header.MsgID)
	}

	if !k.AutoReply.Load() {
		return
	}

	k.mu.Lock()
	responder, ok := k.responders[msg.Header.MsgType]
	k.mu.Unlock()

	if ok {
		responder(k, session, msg)
		return
	}

	k.respondDefault(session, msg)
}

func (k *FakeKernel) respondDefault(session *websocket.Session, msg *messaging.Message) {
	switch msg.Header.MsgType {
	case messaging.KernelInfoRequest:
		k.Respond(session, msg, messaging.KernelInfoReply, k.kernelInfo())
	case messaging.ExecuteRequest:
		k.respondExecute(session, msg)
	case messaging.CreateSubshellRequest:
		id := k.createSubshell()
		k.Respond(session, msg, messaging.CreateSubshellReply, map[string]interface{}{
			"status":      messaging.MessageStatusOK,
			"subshell_id": id,
		})
	case messaging.DeleteSubshellRequest:
		subshellID, _ := msg.Content["subshell_id"].(string)
		k.deleteSubshell(subshellID)
		k.Respond(session, msg, messaging.DeleteSubshellReply, map[string]interface{}{"status": messaging.MessageStatusOK})
	case messaging.ListSubshellRequest:
		k.Respond(session, msg, messaging.ListSubshellReply, map[string]interface{}{
			"status":      messaging.MessageStatusOK,
			"subshell_id": k.listSubshells(),
		})
	case messaging.CommOpen, messaging.CommMsg, messaging.CommClose:
		// Comm messages have no reply.
		k.SendStatus(session, msg, messaging.MessageKernelStatusBusy)
		k.SendStatus(session, msg, messaging.MessageKernelStatusIdle)
	case messaging.InputReply:
	default:
		if base, isRequest := msg.Header.MsgType.GetBaseMessageType(); isRequest {
			k.Respond(session, msg, messaging.JupyterMessageType(base+"_reply"), map[string]interface{}{"status": messaging.MessageStatusOK})
		}
	}
}

func (k *FakeKernel) kernelInfo() map[string]interface{} {
	features := make([]interface{}, 0, len(k.SupportedFeatures))
	for _, feature := range k.SupportedFeatures {
		features = append(features, feature)
	}

	return map[string]interface{}{
		"status":                 messaging.MessageStatusOK,
		"protocol_version":       messaging.SubshellProtocolVersion,
		"implementation":         "fake_kernel",
		"implementation_version": "1.0",
		"language_info":          map[string]interface{}{"name": "python"},
		"banner":                 "Fake kernel " + k.ID,
		"help_links":             []interface{}{},
		"supported_features":     features,
	}
}

func (k *FakeKernel) respondExecute(session *websocket.Session, msg *messaging.Message) {
	k.mu.Lock()
	k.executionCount++
	count := k.executionCount
	k.mu.Unlock()

	code, _ := msg.Content["code"].(string)

	k.SendStatus(session, msg, messaging.MessageKernelStatusBusy)
	k.Send(session, k.NewMessage(msg, messaging.ExecuteInput, messaging.IOPubChannel, map[string]interface{}{
		"code":            code,
		"execution_count": count,
	}))
	k.Send(session, k.NewMessage(msg, messaging.ExecuteReply, msg.Channel, map[string]interface{}{
		"status":          messaging.MessageStatusOK,
		"execution_count": count,
	}))
	k.SendStatus(session, msg, messaging.MessageKernelStatusIdle)
}

func (k *FakeKernel) createSubshell() string {
	k.mu.Lock()
	defer k.mu.Unlock()

	id := fmt.Sprintf("subshell-%d", len(k.subshells)+1)
	k.subshells = append(k.subshells, id)
	return id
}

func (k *FakeKernel) deleteSubshell(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	remaining := k.subshells[:0]
	for _, subshell := range k.subshells {
		if subshell != id {
			remaining = append(remaining, subshell)
		}
	}
	k.subshells = remaining
}

func (k *FakeKernel) listSubshells() []interface{} {
	k.mu.Lock()
	defer k.mu.Unlock()

	ids := make([]interface{}, 0, len(k.subshells))
	for _, id := range k.subshells {
		ids = append(ids, id)
	}
	return ids
}

// NewMessage builds a message from the kernel. parent may be nil.
func (k *FakeKernel) NewMessage(parent *messaging.Message, msgType messaging.JupyterMessageType, channel messaging.Channel, content map[string]interface{}) *messaging.Message {
	opts := messaging.MessageOptions{
		MsgType:  msgType,
		Channel:  channel,
		Session:  k.Session(),
		Username: "kernel",
		Content:  content,
	}

	if parent != nil {
		opts.ParentHeader = &parent.Header
	}

	return messaging.NewMessage(opts)
}

// Send writes msg to session, logging failures.
func (k *FakeKernel) Send(session *websocket.Session, msg *messaging.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := session.Send(ctx, msg); err != nil {
		k.log.Debug(utils.RedStyle.Render("[ERROR] Failed to send \"%s\" message to client %s: %v"), msg.Header.MsgType, session.ClientID, err)
	}
}

// Broadcast writes msg to every open session.
func (k *FakeKernel) Broadcast(msg *messaging.Message) {
	for _, session := range k.Sessions() {
		k.Send(session, msg)
	}
}

// SendStatus sends an IOPub status message in response to parent.
func (k *FakeKernel) SendStatus(session *websocket.Session, parent *messaging.Message, state string) {
	k.Send(session, k.NewMessage(parent, messaging.IOStatusMessage, messaging.IOPubChannel, map[string]interface{}{
		"execution_state": state,
	}))
}

// Respond sends a busy status, a reply on the request's channel and an idle status.
func (k *FakeKernel) Respond(session *websocket.Session, parent *messaging.Message, replyType messaging.JupyterMessageType, content map[string]interface{}) {
	k.SendStatus(session, parent, messaging.MessageKernelStatusBusy)
	k.Send(session, k.NewMessage(parent, replyType, parent.Channel, content))
	k.SendStatus(session, parent, messaging.MessageKernelStatusIdle)
}

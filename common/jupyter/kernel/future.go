package kernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/Scusemua/go-utils/promise"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
)

// FutureState is the completion state of a Future.
type FutureState string

const (
	// FutureAwaitingBoth indicates that neither the reply nor the idle status has been seen.
	FutureAwaitingBoth FutureState = "AwaitingBoth"

	// FutureAwaitingReply indicates that the idle status has been seen but the reply has not.
	FutureAwaitingReply FutureState = "AwaitingReply"

	// FutureAwaitingIdle indicates that the reply has been seen (or none is expected) but the idle status has not.
	FutureAwaitingIdle FutureState = "AwaitingIdle"

	// FutureDone indicates that the future has completed and its Done promise is resolved.
	FutureDone FutureState = "Done"
)

type futureEvent string

const (
	eventReply futureEvent = "reply"
	eventIdle  futureEvent = "idle"
)

// futureTransitions maps a source state and an event to the destination state.
// Events with no entry leave the state unchanged.
var futureTransitions = map[FutureState]map[futureEvent]FutureState{
	FutureAwaitingBoth: {
		eventReply: FutureAwaitingIdle,
		eventIdle:  FutureAwaitingReply,
	},
	FutureAwaitingReply: {
		eventReply: FutureDone,
	},
	FutureAwaitingIdle: {
		eventIdle: FutureDone,
	},
}

// MessageHandler handles a message delivered to a Future or a Comm.
type MessageHandler func(msg *messaging.Message) error

//go:generate mockgen -source=future.go -destination=mock_kernel/mock_future.go -package=mock_kernel

// InputPeer is the side of a Connection that a Future needs for stdin traffic.
type InputPeer interface {
	SendInputReply(content messaging.InputReplyContent, parent *messaging.Header) error
	SetPendingInput(pending bool)
}

// FutureOption configures a Future before its request is sent.
type FutureOption func(f *Future)

// WithOnReply sets the handler for the shell/control reply.
func WithOnReply(handler MessageHandler) FutureOption {
	return func(f *Future) { f.onReply = handler }
}

// WithOnIOPub sets the handler for IOPub messages that pass the future's hooks.
func WithOnIOPub(handler MessageHandler) FutureOption {
	return func(f *Future) { f.onIOPub = handler }
}

// WithOnStdin sets the handler for stdin requests.
func WithOnStdin(handler MessageHandler) FutureOption {
	return func(f *Future) { f.onStdin = handler }
}

// Future tracks one outgoing shell or control request until its reply and its idle status
// have both been received.
type Future struct {
	msg           *messaging.Message
	expectReply   bool
	disposeOnDone bool
	peer          InputPeer
	onDispose     func(f *Future)

	mu       sync.Mutex
	state    FutureState
	disposed bool
	reply    *messaging.Message
	onReply  MessageHandler
	onIOPub  MessageHandler
	onStdin  MessageHandler

	hooks  *HookList
	done   *promise.ChannelPromise
	doneCh chan struct{}

	log logger.Logger
}

// NewFuture creates a Future for msg. If expectReply is false the future completes on the idle
// status alone. onDispose, if non-nil, is invoked once when the future is disposed.
func NewFuture(msg *messaging.Message, expectReply bool, disposeOnDone bool, peer InputPeer, onDispose func(f *Future), opts ...FutureOption) *Future {
	f := &Future{
		msg:           msg,
		expectReply:   expectReply,
		disposeOnDone: disposeOnDone,
		peer:          peer,
		onDispose:     onDispose,
		state:         FutureAwaitingBoth,
		hooks:         NewHookList(),
		done:          promise.NewChannelPromise(),
		doneCh:        make(chan struct{}),
	}

	if !expectReply {
		f.state = FutureAwaitingIdle
	}

	for _, opt := range opts {
		opt(f)
	}

	config.InitLogger(&f.log, fmt.Sprintf("Future[%s] ", msg.Header.MsgType))
	return f
}

// Msg returns the request this future tracks.
func (f *Future) Msg() *messaging.Message {
	return f.msg
}

// State returns the current completion state.
func (f *Future) State() FutureState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsDisposed returns true once Dispose has been called.
func (f *Future) IsDisposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

// Done returns the promise resolved with the reply (nil if none was expected) on completion,
// or rejected with ErrFutureCanceled if the future is disposed first.
func (f *Future) Done() *promise.ChannelPromise {
	return f.done
}

// DoneC is closed when Done is settled.
func (f *Future) DoneC() <-chan struct{} {
	return f.doneCh
}

// Wait blocks until the future settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (*messaging.Message, error) {
	select {
	case <-f.doneCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	val, err := f.done.Result()
	if err != nil {
		return nil, err
	}

	reply, _ := val.(*messaging.Message)
	return reply, nil
}

func (f *Future) SetOnReply(handler MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReply = handler
}

func (f *Future) SetOnIOPub(handler MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onIOPub = handler
}

func (f *Future) SetOnStdin(handler MessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStdin = handler
}

// RegisterMessageHook registers a hook for IOPub messages sent in response to this request.
// Hooks are only supported on shell futures.
func (f *Future) RegisterMessageHook(hook Hook) (HookID, error) {
	if f.msg.Channel != messaging.ShellChannel {
		return 0, ErrHookOnNonShellFuture
	}

	if f.IsDisposed() {
		return 0, ErrFutureDisposed
	}

	return f.hooks.Add(hook), nil
}

// RemoveMessageHook removes a hook. It is a no-op once the future is disposed.
func (f *Future) RemoveMessageHook(id HookID) {
	if f.IsDisposed() {
		return
	}
	f.hooks.Remove(id)
}

// SendInputReply answers a stdin request received by this future.
func (f *Future) SendInputReply(content messaging.InputReplyContent, parent *messaging.Header) error {
	if f.IsDisposed() {
		return ErrFutureDisposed
	}
	return f.peer.SendInputReply(content, parent)
}

// HandleMsg delivers a message whose parent is this future's request.
//
// A handler error is returned to the caller, but the message still counts towards completion.
func (f *Future) HandleMsg(msg *messaging.Message) error {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return nil
	}
	onReply, onIOPub, onStdin := f.onReply, f.onIOPub, f.onStdin
	f.mu.Unlock()

	switch msg.Channel {
	case messaging.ShellChannel, messaging.ControlChannel:
		if msg.Channel != f.msg.Channel || msg.ParentMsgID() != f.msg.Header.MsgID {
			return nil
		}
		return f.handleReply(msg, onReply)
	case messaging.StdinChannel:
		return f.handleStdin(msg, onStdin)
	case messaging.IOPubChannel:
		return f.handleIOPub(msg, onIOPub)
	default:
		return nil
	}
}

func (f *Future) handleReply(msg *messaging.Message, onReply MessageHandler) error {
	var err error
	if onReply != nil {
		err = f.callHandler("reply", onReply, msg)
	}

	f.mu.Lock()
	f.reply = msg
	f.mu.Unlock()

	f.advance(eventReply)
	return err
}

func (f *Future) handleStdin(msg *messaging.Message, onStdin MessageHandler) error {
	if f.peer != nil {
		f.peer.SetPendingInput(true)
	}

	if onStdin == nil {
		return nil
	}
	return f.callHandler("stdin", onStdin, msg)
}

func (f *Future) handleIOPub(msg *messaging.Message, onIOPub MessageHandler) error {
	var err error
	if f.hooks.Process(msg) && onIOPub != nil {
		err = f.callHandler("iopub", onIOPub, msg)
	}

	if msg.Header.MsgType == messaging.IOStatusMessage {
		if state, ok := msg.Content["execution_state"].(string); ok && state == messaging.MessageKernelStatusIdle {
			f.advance(eventIdle)
		}
	}

	return err
}

func (f *Future) callHandler(kind string, handler MessageHandler, msg *messaging.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s handler panicked: %v", kind, r)
		}
	}()

	if err = handler(msg); err != nil {
		f.log.Warn("The %s handler for \"%s\" request %s failed: %v", kind, f.msg.Header.MsgType, f.msg.Header.MsgID, err)
	}
	return err
}

func (f *Future) advance(event futureEvent) {
	f.mu.Lock()
	if f.disposed || f.state == FutureDone {
		f.mu.Unlock()
		return
	}

	next, ok := futureTransitions[f.state][event]
	if !ok {
		f.mu.Unlock()
		return
	}

	f.log.Trace("%s --[%s]--> %s", f.state, event, next)
	f.state = next
	if next != FutureDone {
		f.mu.Unlock()
		return
	}

	reply := f.reply
	disposeOnDone := f.disposeOnDone
	f.mu.Unlock()

	f.settle(reply, nil)

	if disposeOnDone {
		f.Dispose()
	}
}

func (f *Future) settle(reply *messaging.Message, err error) {
	if _, resolveErr := f.done.Resolve(reply, err); resolveErr == nil {
		close(f.doneCh)
	}
}

// Dispose releases the future. Disposing before completion rejects Done. Dispose is idempotent.
func (f *Future) Dispose() {
	f.mu.Lock()
	if f.disposed {
		f.mu.Unlock()
		return
	}

	f.disposed = true
	state := f.state
	f.onReply, f.onIOPub, f.onStdin = nil, nil, nil
	f.mu.Unlock()

	if state != FutureDone {
		f.settle(nil, fmt.Errorf("%w for %s message before replies were done", ErrFutureCanceled, f.msg.Header.MsgType))
	}

	f.hooks.Clear()

	if f.onDispose != nil {
		f.onDispose(f)
	}
}

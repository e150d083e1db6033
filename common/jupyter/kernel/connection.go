package kernel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/Scusemua/go-utils/promise"
	"github.com/jpillora/backoff"
	cmap "github.com/orcaman/concurrent-map/v2"
	"nhooyr.io/websocket"

	"github.com/scusemua/kernel-connection/common/jupyter/messaging"
	"github.com/scusemua/kernel-connection/common/metrics"
	"github.com/scusemua/kernel-connection/common/queue"
	"github.com/scusemua/kernel-connection/common/utils"
)

// restartingSession marks the kernel session while a restart is in progress. Messages from the
// previous session are abandoned until the restarted kernel is heard from.
const restartingSession = "_RESTARTING_"

// Connection is a live connection to one kernel over a websocket.
//
// Sends are synchronous for the caller. Inbound messages are decoded and validated on the
// socket's read goroutine, then handled one at a time, in the order the kernel sent them, by a
// single message loop goroutine. A handler that blocks therefore blocks all further message
// handling for the connection, and must not wait for a reply on the same connection.
type Connection struct {
	id       string
	name     string
	clientID string
	username string
	opts     *ConnectionOptions
	dialer   Dialer
	metrics  *metrics.KernelMetrics

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the fields below it.
	mu               sync.Mutex
	status           KernelStatus
	connectionStatus ConnectionStatus
	socket           Socket
	socketGen        uint64
	pending          *queue.Fifo[*messaging.Message]
	kernelSession    string
	reconnectAttempt int
	reconnectTimer   *time.Timer
	reconnectBackoff *backoff.Backoff
	hasPendingInput  bool
	info             *messaging.MessageKernelInfoReply
	infoPromise      *promise.ChannelPromise

	disposed atomic.Bool

	futures     cmap.ConcurrentMap[string, *Future]
	comms       cmap.ConcurrentMap[string, *Comm]
	commTargets cmap.ConcurrentMap[string, CommTargetFunc]
	display     *displayIndex
	subshells   *subshellCache

	inboxMu     sync.Mutex
	inbox       *queue.Fifo[*messaging.Message]
	inboxSignal chan struct{}
	stopCh      chan struct{}

	// deferred holds work scheduled by the message loop to run after the current message.
	// Only the message loop goroutine touches it.
	deferred []func()

	statusChanged           Signal[KernelStatus]
	connectionStatusChanged Signal[ConnectionStatus]
	iopubMessage            Signal[*messaging.Message]
	unhandledMessage        Signal[*messaging.Message]
	anyMessage              Signal[AnyMessageArgs]
	pendingInput            Signal[bool]
	disposedSignal          Signal[struct{}]

	log logger.Logger
}

// NewConnection validates opts and starts connecting to the kernel in the background.
func NewConnection(opts *ConnectionOptions) (*Connection, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn := &Connection{
		id:               opts.KernelID,
		name:             opts.KernelName,
		clientID:         opts.ClientID,
		username:         opts.Username,
		opts:             opts,
		dialer:           opts.Dialer,
		metrics:          opts.Metrics,
		ctx:              ctx,
		cancel:           cancel,
		status:           StatusUnknown,
		connectionStatus: ConnectionConnecting,
		pending:          queue.NewFifo[*messaging.Message](8),
		kernelSession:    "",
		infoPromise:      promise.NewChannelPromise(),
		reconnectBackoff: &backoff.Backoff{
			Min:    opts.ReconnectMin,
			Max:    maxReconnectDelay(opts.ReconnectMin, opts.ReconnectLimit),
			Factor: 2,
			Jitter: false,
		},
		futures:     cmap.New[*Future](),
		comms:       cmap.New[*Comm](),
		commTargets: cmap.New[CommTargetFunc](),
		display:     newDisplayIndex(),
		subshells:   newSubshellCache(),
		inbox:       queue.NewFifo[*messaging.Message](32),
		inboxSignal: make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	config.InitLogger(&conn.log, fmt.Sprintf("Connection[%s] ", opts.KernelID))

	conn.metrics.ConnectionOpened()

	go conn.serveMessages()
	conn.createSocket()

	return conn, nil
}

// ID returns the kernel id.
func (c *Connection) ID() string {
	return c.id
}

// Name returns the kernelspec name.
func (c *Connection) Name() string {
	return c.name
}

// ClientID returns the session id this client stamps on its messages.
func (c *Connection) ClientID() string {
	return c.clientID
}

func (c *Connection) Username() string {
	return c.username
}

// HandleComms returns whether this connection dispatches comm messages.
func (c *Connection) HandleComms() bool {
	return c.opts.HandleComms
}

// Status returns the last known kernel status.
func (c *Connection) Status() KernelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ConnectionStatus returns the status of the websocket.
func (c *Connection) ConnectionStatus() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionStatus
}

func (c *Connection) IsDisposed() bool {
	return c.disposed.Load()
}

// HasPendingInput returns true while the kernel is waiting on an input_reply.
func (c *Connection) HasPendingInput() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasPendingInput
}

// SetPendingInput records whether the kernel is waiting on an input_reply.
// Clearing an absent pending input is a no-op.
func (c *Connection) SetPendingInput(pending bool) {
	c.mu.Lock()
	changed := c.hasPendingInput != pending
	c.hasPendingInput = pending
	c.mu.Unlock()

	if changed {
		c.pendingInput.Emit(pending)
	}
}

func (c *Connection) StatusChanged() *Signal[KernelStatus] {
	return &c.statusChanged
}

func (c *Connection) ConnectionStatusChanged() *Signal[ConnectionStatus] {
	return &c.connectionStatusChanged
}

// IOPubMessage is emitted for every IOPub message after it has been routed.
func (c *Connection) IOPubMessage() *Signal[*messaging.Message] {
	return &c.iopubMessage
}

// UnhandledMessage is emitted for replies to this client that match no live future.
func (c *Connection) UnhandledMessage() *Signal[*messaging.Message] {
	return &c.unhandledMessage
}

func (c *Connection) AnyMessage() *Signal[AnyMessageArgs] {
	return &c.anyMessage
}

func (c *Connection) PendingInput() *Signal[bool] {
	return &c.pendingInput
}

func (c *Connection) Disposed() *Signal[struct{}] {
	return &c.disposedSignal
}

// Info waits for the kernel_info_reply of the current kernel session.
func (c *Connection) Info(ctx context.Context) (*messaging.MessageKernelInfoReply, error) {
	if c.IsDisposed() {
		return nil, ErrConnectionDisposed
	}

	c.mu.Lock()
	p := c.infoPromise
	c.mu.Unlock()

	if err := c.waitPromise(ctx, p); err != nil {
		return nil, err
	}

	val, err := p.Result()
	if err != nil {
		return nil, err
	}
	return val.(*messaging.MessageKernelInfoReply), nil
}

func (c *Connection) waitPromise(ctx context.Context, p *promise.ChannelPromise) error {
	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SupportsSubshells returns true if the kernel advertised subshell support in its kernel info.
func (c *Connection) SupportsSubshells() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info != nil && c.info.SupportsFeature(messaging.SubshellsFeature)
}

func (c *Connection) storeKernelInfo(reply *messaging.Message) error {
	var info messaging.MessageKernelInfoReply
	if err := messaging.DecodeContent(reply, &info); err != nil {
		return err
	}

	c.mu.Lock()
	c.info = &info
	p := c.infoPromise
	status := c.status
	c.mu.Unlock()

	p.Resolve(&info, nil)

	if status == StatusAutoRestarting || status == StatusRestarting {
		c.log.Info(utils.GreenStyle.Render("Kernel %s finished restarting (protocol %s)."), c.id, info.ProtocolVersion)
	}

	return nil
}

// updateStatus moves the kernel status to status. A dead kernel never changes status again,
// and a transition to dead disposes the connection.
func (c *Connection) updateStatus(status KernelStatus) {
	c.mu.Lock()
	if c.status == status || c.status == StatusDead {
		c.mu.Unlock()
		return
	}

	prev := c.status
	c.status = status
	c.mu.Unlock()

	c.log.Debug("Kernel %s status: %s -> %s", c.id, prev, utils.StatusStyle(string(status)).Render(string(status)))
	c.metrics.KernelStatusChanged(string(status))
	c.statusChanged.Emit(status)

	if status == StatusDead {
		c.Dispose()
	}
}

// updateConnectionStatus moves the websocket status. Leaving connecting resets the reconnect
// attempts. Connecting flushes the pending queue, or requests kernel info if it was empty.
// Losing the connection makes the kernel status unknown.
func (c *Connection) updateConnectionStatus(status ConnectionStatus) {
	c.mu.Lock()
	if c.connectionStatus == status {
		c.mu.Unlock()
		return
	}

	prev := c.connectionStatus
	c.connectionStatus = status

	if status != ConnectionConnecting {
		c.reconnectAttempt = 0
		c.reconnectBackoff.Reset()
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
			c.reconnectTimer = nil
		}
	}

	var requestInfo, markUnknown bool
	if c.status != StatusDead {
		if status == ConnectionConnected {
			// A restarting kernel is re-synchronised with kernel info before anything pending.
			requestInfo = c.pending.Len() == 0 || c.kernelSession == restartingSession
			c.flushPendingLocked()
		} else {
			markUnknown = true
		}
	}
	c.mu.Unlock()

	c.log.Debug("Connection to kernel %s: %s -> %s", c.id, prev, utils.StatusStyle(string(status)).Render(string(status)))
	c.metrics.ConnectionStatusChanged(string(status))

	if markUnknown {
		c.updateStatus(StatusUnknown)
	}

	if requestInfo {
		c.requestKernelInfoAsync()
	}

	c.connectionStatusChanged.Emit(status)
}

// Reconnect forces a new websocket and waits until it is connected, or the connection gives up.
func (c *Connection) Reconnect(ctx context.Context) error {
	if c.IsDisposed() {
		return ErrConnectionDisposed
	}

	result := make(chan ConnectionStatus, 1)
	id := c.connectionStatusChanged.Connect(func(status ConnectionStatus) {
		if status == ConnectionConnected || status == ConnectionDisconnected {
			select {
			case result <- status:
			default:
			}
		}
	})
	defer c.connectionStatusChanged.Disconnect(id)

	c.mu.Lock()
	c.reconnectAttempt = 0
	c.reconnectBackoff.Reset()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	c.updateConnectionStatus(ConnectionConnecting)
	c.createSocket()

	select {
	case status := <-result:
		if status == ConnectionDisconnected {
			return ErrConnectionDisconnected
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleRestart reacts to a restart of the kernel by the lifecycle API. Every in-flight future
// and comm is disposed and the connection re-synchronises with a kernel_info_request.
func (c *Connection) HandleRestart() error {
	if c.IsDisposed() {
		return ErrConnectionDisposed
	}

	if c.Status() == StatusDead {
		return ErrKernelDead
	}

	c.updateStatus(StatusRestarting)
	c.clearKernelState(ErrKernelRestarted)
	c.SetPendingInput(false)
	c.requestKernelInfoAsync()
	return nil
}

// HandleShutdown reacts to a shutdown of the kernel: the status becomes dead and the
// connection is disposed.
func (c *Connection) HandleShutdown() {
	if c.IsDisposed() {
		return
	}

	c.updateStatus(StatusDead)
	c.Dispose()
}

// clearKernelState drops every piece of state tied to the current kernel session. Waiters on
// the kernel info are released with reason.
func (c *Connection) clearKernelState(reason error) {
	c.mu.Lock()
	c.pending.Clear()
	c.kernelSession = restartingSession
	c.info = nil
	oldInfo := c.infoPromise
	c.infoPromise = promise.NewChannelPromise()
	c.mu.Unlock()

	oldInfo.Resolve(nil, reason)

	c.subshells.clear()

	for _, future := range c.futures.Items() {
		future.Dispose()
	}
	for _, comm := range c.comms.Items() {
		comm.dispose(false)
	}

	c.futures.Clear()
	c.comms.Clear()
	c.display.clear()
}

// Dispose closes the websocket and drops all state. It is idempotent.
func (c *Connection) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	sock := c.socket
	c.socket = nil
	c.socketGen++
	c.mu.Unlock()

	c.updateConnectionStatus(ConnectionDisconnected)
	c.clearKernelState(ErrConnectionDisposed)

	// The info promise installed by clearKernelState is never answered by a kernel.
	c.mu.Lock()
	info := c.infoPromise
	c.mu.Unlock()
	info.Resolve(nil, ErrConnectionDisposed)

	if sock != nil {
		go func() {
			if err := sock.Close(websocket.StatusNormalClosure, ""); err != nil {
				c.log.Debug("Error while closing websocket of kernel %s: %v", c.id, err)
			}
		}()
	}

	c.cancel()
	close(c.stopCh)

	c.metrics.ConnectionClosed()
	c.log.Debug("Disposed connection to kernel %s.", c.id)
	c.disposedSignal.Emit(struct{}{})

	c.statusChanged.DisconnectAll()
	c.connectionStatusChanged.DisconnectAll()
	c.iopubMessage.DisconnectAll()
	c.unhandledMessage.DisconnectAll()
	c.anyMessage.DisconnectAll()
	c.pendingInput.DisconnectAll()
	c.disposedSignal.DisconnectAll()
}

// Clone opens a second connection to the same kernel with a new client id. Comm handling is
// disabled on the clone.
func (c *Connection) Clone() (*Connection, error) {
	opts := c.opts.Clone()
	opts.ClientID = ""
	opts.HandleComms = false
	return NewConnection(opts)
}

// assertCurrent returns an error if msg should no longer be processed: the connection was
// disposed, or the kernel session moved on since msg was received.
func (c *Connection) assertCurrent(msg *messaging.Message) error {
	if c.IsDisposed() {
		return fmt.Errorf("%w: %w", ErrStaleMessage, ErrConnectionDisposed)
	}

	c.mu.Lock()
	session := c.kernelSession
	c.mu.Unlock()

	if msg.Header.Session != session {
		return fmt.Errorf("%w: message session %s, current session %s", ErrStaleMessage, msg.Header.Session, session)
	}

	return nil
}

func isStale(err error) bool {
	return errors.Is(err, ErrStaleMessage)
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection[kernel=%s, client=%s]", c.id, c.clientID)
}

// maxReconnectDelay returns min * 2^limit, saturating at the largest Duration.
func maxReconnectDelay(min time.Duration, limit int) time.Duration {
	delay := min
	for i := 0; i < limit; i++ {
		if delay > math.MaxInt64/2 {
			return math.MaxInt64
		}
		delay *= 2
	}
	return delay
}

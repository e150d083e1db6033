package manager

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/jpillora/backoff"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/scusemua/kernel-connection/common/jupyter/kernel"
	"github.com/scusemua/kernel-connection/common/metrics"
	"github.com/scusemua/kernel-connection/common/utils"
)

var (
	ErrManagerDisposed = errors.New("kernel manager is disposed")
	ErrKernelNotFound  = errors.New("kernel not found")
)

// Manager keeps a snapshot of the kernels running on a server, polled through a KernelAPI,
// and tracks the connections it creates to those kernels.
type Manager struct {
	api     KernelAPI
	opts    *Options
	metrics *metrics.KernelMetrics

	ctx      context.Context
	cancel   context.CancelFunc
	pollDone chan struct{}

	// refreshMu serializes calls to ListRunning.
	refreshMu sync.Mutex
	limiter   *rate.Limiter
	backoff   *backoff.Backoff

	mu      sync.Mutex
	running *orderedmap.OrderedMap[string, KernelModel]

	// connections is keyed by client id.
	connections cmap.ConcurrentMap[string, *kernel.Connection]

	ready     chan struct{}
	readyOnce sync.Once
	disposed  atomic.Bool

	runningChanged    kernel.Signal[[]KernelModel]
	connectionFailure kernel.Signal[error]

	log logger.Logger
}

// NewManager validates opts and starts polling api for the running kernels.
func NewManager(api KernelAPI, opts *Options) (*Manager, error) {
	if api == nil {
		return nil, errors.Wrap(ErrInvalidOptions, "a kernel API is required")
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		api:      api,
		opts:     opts,
		metrics:  opts.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		pollDone: make(chan struct{}),
		limiter:  rate.NewLimiter(opts.refreshLimit(), opts.RefreshBurst),
		backoff: &backoff.Backoff{
			Min:    opts.PollInterval,
			Max:    opts.MaxPollInterval,
			Factor: 2,
			Jitter: true,
		},
		running:     orderedmap.NewOrderedMap[string, KernelModel](),
		connections: cmap.New[*kernel.Connection](),
		ready:       make(chan struct{}),
	}
	config.InitLogger(&m.log, m)

	go m.poll()

	return m, nil
}

// RunningChanged is emitted with the new list whenever the running kernels change.
func (m *Manager) RunningChanged() *kernel.Signal[[]KernelModel] {
	return &m.runningChanged
}

// ConnectionFailure is emitted when the server cannot be reached.
func (m *Manager) ConnectionFailure() *kernel.Signal[error] {
	return &m.connectionFailure
}

// IsReady returns true once the first poll has completed.
func (m *Manager) IsReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// Ready waits until the first poll has completed.
func (m *Manager) Ready(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-m.ctx.Done():
		return ErrManagerDisposed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) IsDisposed() bool {
	return m.disposed.Load()
}

// Running returns the last known running kernels, in the order the server listed them.
func (m *Manager) Running() []KernelModel {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.runningLocked()
}

func (m *Manager) runningLocked() []KernelModel {
	models := make([]KernelModel, 0, m.running.Len())
	for el := m.running.Front(); el != nil; el = el.Next() {
		models = append(models, el.Value)
	}
	return models
}

func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.running.Len()
}

// Connections returns the connections created by the manager that have not been disposed.
func (m *Manager) Connections() []*kernel.Connection {
	conns := make([]*kernel.Connection, 0, m.connections.Count())
	for _, conn := range m.connections.Items() {
		conns = append(conns, conn)
	}
	return conns
}

// poll lists the running kernels until the manager is disposed. The first poll runs
// immediately. Failed polls back off up to MaxPollInterval.
func (m *Manager) poll() {
	defer close(m.pollDone)

	delay := time.Duration(0)
	for {
		timer := time.NewTimer(delay)
		select {
		case <-m.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if m.opts.Standby != nil && m.opts.Standby() {
			m.log.Trace("Skipping poll of running kernels; manager is on standby.")
			delay = m.opts.PollInterval
			continue
		}

		if err := m.refresh(m.ctx); err != nil {
			if m.ctx.Err() != nil {
				return
			}

			delay = m.backoff.Duration()
			m.log.Warn("Failed to poll running kernels (attempt %d). Retrying in %v. Error: %v",
				int(m.backoff.Attempt()), delay, err)
			continue
		}

		m.backoff.Reset()
		delay = m.opts.PollInterval
	}
}

// RefreshRunning polls the running kernels now. Calls are rate limited.
func (m *Manager) RefreshRunning(ctx context.Context) error {
	if m.IsDisposed() {
		return ErrManagerDisposed
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "refresh of running kernels was not allowed")
	}

	return m.refresh(ctx)
}

func (m *Manager) refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	defer m.markReady()

	models, err := m.api.ListRunning(ctx)
	if err != nil {
		m.metrics.PollFailed()

		if IsNetworkFailure(err) {
			m.log.Warn(utils.OrangeStyle.Render("Lost connection to the kernel server: %v"), err)
			m.connectionFailure.Emit(err)
		}

		return errors.Wrap(err, "failed to list running kernels")
	}

	m.metrics.SetRunningKernels(len(models))
	m.update(models)
	return nil
}

func (m *Manager) markReady() {
	m.readyOnce.Do(func() {
		close(m.ready)
	})
}

// update replaces the snapshot if models differ from it. Connections to kernels that are no
// longer running are shut down.
func (m *Manager) update(models []KernelModel) {
	m.mu.Lock()
	if m.sameAsSnapshot(models) {
		m.mu.Unlock()
		return
	}

	running := orderedmap.NewOrderedMap[string, KernelModel]()
	for _, model := range models {
		running.Set(model.ID, model)
	}

	var vanished []string
	for el := m.running.Front(); el != nil; el = el.Next() {
		if _, ok := running.Get(el.Key); !ok {
			vanished = append(vanished, el.Key)
		}
	}

	m.running = running
	snapshot := m.runningLocked()
	m.mu.Unlock()

	m.log.Debug(utils.LightPurpleStyle.Render("Running kernels changed. %d kernel(s) running, %d gone."), len(snapshot), len(vanished))

	for _, conn := range m.connections.Items() {
		if _, ok := running.Get(conn.ID()); !ok {
			m.log.Debug("Kernel %s is no longer running. Shutting down connection %s.", conn.ID(), conn.ClientID())
			conn.HandleShutdown()
		}
	}

	m.runningChanged.Emit(snapshot)
}

func (m *Manager) sameAsSnapshot(models []KernelModel) bool {
	if len(models) != m.running.Len() {
		return false
	}

	for _, model := range models {
		current, ok := m.running.Get(model.ID)
		if !ok || current != model {
			return false
		}
	}

	return true
}

// remove drops id from the snapshot and shuts down its connections.
func (m *Manager) remove(id string) {
	// A poll in flight could otherwise put id back into the snapshot.
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	removed := m.running.Delete(id)
	snapshot := m.runningLocked()
	m.mu.Unlock()

	for _, conn := range m.connections.Items() {
		if conn.ID() == id {
			conn.HandleShutdown()
		}
	}

	if removed {
		m.metrics.SetRunningKernels(len(snapshot))
		m.runningChanged.Emit(snapshot)
	}
}

// ConnectTo opens a connection to the kernel described by model. A nil opts derives the
// connection options from the manager's.
func (m *Manager) ConnectTo(model KernelModel, opts *kernel.ConnectionOptions) (*kernel.Connection, error) {
	if m.IsDisposed() {
		return nil, ErrManagerDisposed
	}

	if opts == nil {
		opts = m.opts.connectionOptions(model)
	} else {
		opts = opts.Clone()
		opts.KernelID = model.ID
		if opts.KernelName == "" {
			opts.KernelName = model.Name
		}
	}

	conn, err := kernel.NewConnection(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to kernel %s", model.ID)
	}

	clientID := conn.ClientID()
	m.connections.Set(clientID, conn)
	conn.Disposed().Connect(func(struct{}) {
		m.connections.Remove(clientID)
	})

	m.log.Debug("Connected to kernel %s (%s) as client %s.", model.ID, model.Name, clientID)

	// A connection disposed before the listener was attached would never be untracked.
	if conn.IsDisposed() {
		m.connections.Remove(clientID)
	}

	return conn, nil
}

// StartNew starts a kernel of the named kernelspec and connects to it.
func (m *Manager) StartNew(ctx context.Context, name string, opts *kernel.ConnectionOptions) (*kernel.Connection, error) {
	if m.IsDisposed() {
		return nil, ErrManagerDisposed
	}

	model, err := m.api.StartNew(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start kernel \"%s\"", name)
	}

	m.log.Debug(utils.LightGreenStyle.Render("Started kernel %s (%s)."), model.ID, model.Name)

	m.mu.Lock()
	_, known := m.running.Get(model.ID)
	m.mu.Unlock()

	if !known {
		if err = m.refresh(ctx); err != nil {
			m.log.Warn("Failed to refresh running kernels after starting kernel %s: %v", model.ID, err)
		}
	}

	return m.ConnectTo(model, opts)
}

// Shutdown shuts down the kernel with the given id. A kernel the server does not know is
// treated as already shut down.
func (m *Manager) Shutdown(ctx context.Context, id string) error {
	if m.IsDisposed() {
		return ErrManagerDisposed
	}

	if err := m.api.Shutdown(ctx, id); err != nil {
		if !isNotFound(err) {
			return errors.Wrapf(err, "failed to shut down kernel %s", id)
		}
		m.log.Warn("Kernel %s does not exist on the server.", id)
	}

	m.log.Debug(utils.LightOrangeStyle.Render("Shut down kernel %s."), id)
	m.remove(id)
	return nil
}

// ShutdownAll shuts down every running kernel.
func (m *Manager) ShutdownAll(ctx context.Context) error {
	if m.IsDisposed() {
		return ErrManagerDisposed
	}

	if err := m.refresh(ctx); err != nil {
		return err
	}

	var errs []error
	for _, model := range m.Running() {
		if err := m.Shutdown(ctx, model.ID); err != nil {
			errs = append(errs, err)
		}
	}

	if err := m.refresh(ctx); err != nil {
		m.log.Warn("Failed to refresh running kernels after shutting them down: %v", err)
	}

	return stderrors.Join(errs...)
}

// FindByID returns the model of the kernel with the given id, asking the server if the
// kernel is not in the snapshot.
func (m *Manager) FindByID(ctx context.Context, id string) (KernelModel, error) {
	if m.IsDisposed() {
		return KernelModel{}, ErrManagerDisposed
	}

	m.mu.Lock()
	model, ok := m.running.Get(id)
	m.mu.Unlock()

	if ok {
		return model, nil
	}

	model, err := m.api.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return KernelModel{}, errors.Wrapf(ErrKernelNotFound, "kernel %s", id)
		}
		return KernelModel{}, errors.Wrapf(err, "failed to get kernel %s", id)
	}

	return model, nil
}

// Dispose stops polling and disposes every tracked connection. It is idempotent.
func (m *Manager) Dispose() {
	if !m.disposed.CompareAndSwap(false, true) {
		return
	}

	m.cancel()
	<-m.pollDone

	for _, conn := range m.connections.Items() {
		conn.Dispose()
	}
	m.connections.Clear()

	m.runningChanged.DisconnectAll()
	m.connectionFailure.DisconnectAll()

	m.log.Debug("Disposed kernel manager.")
}

func (m *Manager) String() string {
	return "KernelManager "
}

package client

import (
	"context"
	"sync"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-client/common/jupyter"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/messaging"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/rest"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/transport"
	"github.com/scusemua/notebook-kernel-client/common/metrics"
	"github.com/scusemua/notebook-kernel-client/common/queue"
)

// ConnectionConfig holds the policy knobs of a Connection.
type ConnectionConfig struct {
	Backoff BackoffPolicy

	// EarlyCloseGraceWindow is how long after opening an unclean close still triggers a liveness check.
	EarlyCloseGraceWindow time.Duration

	// RequestTimeout bounds dials, liveness checks and control requests issued by the Connection itself.
	RequestTimeout time.Duration
}

// DefaultConnectionConfig returns the default policy.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Backoff:               DefaultBackoffPolicy(),
		EarlyCloseGraceWindow: jupyter.DefaultEarlyCloseGraceWindow,
		RequestTimeout:        jupyter.DefaultRequestTimeout,
	}
}

// ChannelsURLBuilder returns the channels URL of a kernel for a session.
type ChannelsURLBuilder func(kernelId string, sessionId string) string

// Connection owns the transport connection to one kernel and its lifecycle.
//
// Every transport notification (open, frame, close) and every reconnect timer is funneled through the
// session's inbound queue, so they are handled one at a time and in order with inbound messages. Each
// transport handle and each reconnect timer carries a token. Notifications whose token is no longer
// current are ignored.
type Connection struct {
	transport transport.Transport
	api       rest.KernelAPI
	inbound   *queue.SerialQueue
	channels  ChannelsURLBuilder
	emit      func(Event)
	metrics   *metrics.ClientMetrics
	cfg       ConnectionConfig
	sessionId string

	// onOpen runs on the inbound queue once a transport handle opens.
	onOpen func()

	// onFrame runs on the inbound queue for each frame of the current transport handle.
	onFrame func(data []byte, encoding messaging.Encoding)

	now func() time.Time

	mu                 sync.Mutex
	kernelId           string
	status             jupyter.ConnectionStatus
	conn               transport.Conn
	url                string
	generation         uint64
	cancelDial         context.CancelFunc
	openedAt           time.Time
	closeHandled       bool
	reconnectAttempt   int
	autorestartAttempt int
	timer              *time.Timer
	timerToken         uint64
	timerDelay         time.Duration
	closed             bool

	log logger.Logger
}

func newConnection(sessionId string, tr transport.Transport, api rest.KernelAPI, inbound *queue.SerialQueue,
	channels ChannelsURLBuilder, emit func(Event), cfg ConnectionConfig, clientMetrics *metrics.ClientMetrics) *Connection {

	c := &Connection{
		transport: tr,
		api:       api,
		inbound:   inbound,
		channels:  channels,
		emit:      emit,
		metrics:   clientMetrics,
		cfg:       cfg,
		sessionId: sessionId,
		status:    jupyter.ConnectionStatusDisconnected,
		now:       time.Now,
	}
	config.InitLogger(&c.log, c)

	return c
}

// KernelId returns the id of the kernel the connection is attached to.
func (c *Connection) KernelId() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.kernelId
}

// SetKernelId attaches the connection to a kernel. It takes effect on the next StartChannels.
func (c *Connection) SetKernelId(kernelId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.kernelId = kernelId
}

// Status returns the current connection status.
func (c *Connection) Status() jupyter.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// IsOpen returns true if messages can currently be sent.
func (c *Connection) IsOpen() bool {
	return c.Status().IsOpen()
}

// ReconnectAttempt returns the number of reconnect attempts made since the last successful connection.
func (c *Connection) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.reconnectAttempt
}

// PendingReconnect returns the delay of the currently scheduled reconnect, if there is one.
func (c *Connection) PendingReconnect() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer == nil {
		return 0, false
	}

	return c.timerDelay, true
}

// StartChannels tears down the current transport handle, cancels any scheduled reconnect and opens a
// new handle. StartChannels returns once the dial has been started; the outcome is reported via events.
func (c *Connection) StartChannels(ctx context.Context) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return jupyter.ErrKernelClosed
	}

	if c.kernelId == "" {
		c.mu.Unlock()
		return jupyter.ErrNoKernelID
	}

	stale := c.stopChannelsLocked()
	c.cancelTimerLocked()

	c.url = c.channels(c.kernelId, c.sessionId)
	c.setStatusLocked(jupyter.ConnectionStatusConnecting)

	gen := c.generation
	url := c.url
	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RequestTimeout)
	c.cancelDial = cancel

	c.mu.Unlock()

	closeAsync(stale)

	c.log.Debug("Connecting to %s (generation %d).", url, gen)
	c.emit(Event{Type: EventConnecting, URL: url})

	go c.dial(dialCtx, cancel, gen, url)

	return nil
}

// StopChannels closes the current transport handle, if any. Notifications from the closed handle are ignored.
func (c *Connection) StopChannels() {
	c.mu.Lock()
	stale := c.stopChannelsLocked()
	c.mu.Unlock()

	closeAsync(stale)
}

// Reconnect starts the channels again unless the connection is already open.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.mu.Lock()

	if c.status.IsOpen() {
		c.mu.Unlock()
		return nil
	}

	if c.closed {
		c.mu.Unlock()
		return jupyter.ErrKernelClosed
	}

	c.reconnectAttempt += 1
	attempt := c.reconnectAttempt
	c.mu.Unlock()

	c.metrics.ReconnectAttempt()
	c.emit(Event{Type: EventReconnecting, Attempt: attempt})

	return c.StartChannels(ctx)
}

// Restart asks the server to restart the kernel and then reconnects. If the restart fails, the kernel
// is considered dead.
func (c *Connection) Restart(ctx context.Context) error {
	kernelId := c.KernelId()
	if kernelId == "" {
		return jupyter.ErrNoKernelID
	}

	c.emit(Event{Type: EventRestarting})

	c.mu.Lock()
	stale := c.stopChannelsLocked()
	c.cancelTimerLocked()
	c.mu.Unlock()

	closeAsync(stale)

	if _, err := c.api.RestartKernel(ctx, kernelId); err != nil {
		c.log.Error("Failed to restart kernel %s: %v", kernelId, err)
		c.KernelDead(err)
		return err
	}

	c.emit(Event{Type: EventCreated})
	return c.StartChannels(ctx)
}

// Interrupt asks the server to interrupt the kernel. The connection status is not affected.
func (c *Connection) Interrupt(ctx context.Context) error {
	kernelId := c.KernelId()
	if kernelId == "" {
		return jupyter.ErrNoKernelID
	}

	c.emit(Event{Type: EventInterrupting})

	if err := c.api.InterruptKernel(ctx, kernelId); err != nil {
		c.log.Error("Failed to interrupt kernel %s: %v", kernelId, err)
		return err
	}

	return nil
}

// Kill asks the server to shut the kernel down and marks the connection dead.
func (c *Connection) Kill(ctx context.Context) error {
	kernelId := c.KernelId()
	if kernelId == "" {
		return jupyter.ErrNoKernelID
	}

	if err := c.api.DeleteKernel(ctx, kernelId); err != nil {
		c.log.Error("Failed to kill kernel %s: %v", kernelId, err)
		return err
	}

	c.emit(Event{Type: EventKilled})
	c.KernelDead(nil)
	return nil
}

// Send serializes and writes a message. Send fails immediately with jupyter.ErrKernelNotConnected if
// the transport is not open; nothing is buffered.
func (c *Connection) Send(ctx context.Context, msg *messaging.Message) error {
	c.mu.Lock()
	conn := c.conn
	open := c.status.IsOpen()
	c.mu.Unlock()

	if !open || conn == nil {
		return jupyter.ErrKernelNotConnected
	}

	data, encoding, err := messaging.Serialize(msg)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize \"%s\" message %s", msg.JupyterMessageType(), msg.JupyterMessageId())
	}

	if err := conn.Write(ctx, data, encoding); err != nil {
		return errors.Wrapf(err, "failed to send \"%s\" message %s", msg.JupyterMessageType(), msg.JupyterMessageId())
	}

	c.metrics.SentMessage(msg.Channel.String(), msg.JupyterMessageType().String())
	return nil
}

// MarkReady moves an open connection to ready once the kernel's info reply has arrived.
func (c *Connection) MarkReady() bool {
	c.mu.Lock()
	if !c.status.IsOpen() {
		c.mu.Unlock()
		return false
	}

	c.setStatusLocked(jupyter.ConnectionStatusReady)
	c.autorestartAttempt = 0
	c.mu.Unlock()

	c.emit(Event{Type: EventReady})
	return true
}

// NextAutorestartAttempt counts a restart performed by the server on its own.
func (c *Connection) NextAutorestartAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.autorestartAttempt += 1
	return c.autorestartAttempt
}

// KernelDead moves the connection to its terminal dead state. No reconnect is attempted afterwards.
func (c *Connection) KernelDead(cause error) {
	c.mu.Lock()
	if c.status == jupyter.ConnectionStatusDead {
		c.mu.Unlock()
		return
	}

	stale := c.stopChannelsLocked()
	c.cancelTimerLocked()
	c.setStatusLocked(jupyter.ConnectionStatusDead)
	c.mu.Unlock()

	closeAsync(stale)

	c.log.Warn("Kernel is dead. Cause: %v", cause)
	c.emit(Event{Type: EventDead, Err: cause})
}

// Close stops the channels and cancels any scheduled reconnect. A closed Connection cannot be restarted.
func (c *Connection) Close() {
	c.mu.Lock()
	c.closed = true
	stale := c.stopChannelsLocked()
	c.cancelTimerLocked()
	c.mu.Unlock()

	closeAsync(stale)
}

func (c *Connection) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, url string) {
	conn, err := c.transport.Dial(ctx, url)
	cancel()

	if err != nil {
		c.inbound.Submit(func() { c.handleDialError(gen, url, err) })
		return
	}

	if !c.inbound.Submit(func() { c.handleOpen(gen, conn) }) {
		_ = conn.Close()
		return
	}

	c.readLoop(gen, conn)
}

func (c *Connection) readLoop(gen uint64, conn transport.Conn) {
	for {
		data, encoding, err := conn.Read(context.Background())
		if err != nil {
			c.inbound.Submit(func() { c.handleClose(gen, err) })
			return
		}

		if !c.inbound.Submit(func() { c.handleFrame(gen, data, encoding) }) {
			_ = conn.Close()
			return
		}
	}
}

func (c *Connection) handleOpen(gen uint64, conn transport.Conn) {
	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		closeAsync(conn)
		return
	}

	c.conn = conn
	c.cancelDial = nil
	c.openedAt = c.now()
	c.reconnectAttempt = 0
	c.setStatusLocked(jupyter.ConnectionStatusConnected)
	url := c.url
	c.mu.Unlock()

	c.log.Debug("Connected to %s (generation %d).", url, gen)
	c.emit(Event{Type: EventConnected})

	if c.onOpen != nil {
		c.onOpen()
	}
}

func (c *Connection) handleFrame(gen uint64, data []byte, encoding messaging.Encoding) {
	c.mu.Lock()
	current := gen == c.generation
	c.mu.Unlock()

	if !current {
		return
	}

	if c.onFrame != nil {
		c.onFrame(data, encoding)
	}
}

func (c *Connection) handleDialError(gen uint64, url string, err error) {
	c.mu.Lock()
	if gen != c.generation || c.closeHandled {
		c.mu.Unlock()
		return
	}
	c.closeHandled = true
	c.mu.Unlock()

	c.log.Warn("Connection to %s failed: %v", url, err)
	c.transportLost(url, err)
}

func (c *Connection) handleClose(gen uint64, err error) {
	closeErr := transport.AsCloseError(err)

	c.mu.Lock()
	if gen != c.generation || c.closeHandled {
		c.mu.Unlock()
		return
	}
	c.closeHandled = true

	url := c.url
	kernelId := c.kernelId
	early := c.now().Sub(c.openedAt) < c.cfg.EarlyCloseGraceWindow
	c.mu.Unlock()

	if closeErr.Clean() {
		c.log.Debug("Connection to %s was closed cleanly.", url)
		c.StopChannels()
		c.emit(Event{Type: EventDisconnected})
		return
	}

	if !early {
		c.log.Warn("Connection to %s was lost: %v", url, closeErr)
		c.transportLost(url, nil)
		return
	}

	// An unclean close right after opening is often the server rejecting a dead kernel. Ask the server.
	c.log.Warn("Connection to %s was lost shortly after opening: %v. Checking whether kernel %s is alive.", url, closeErr, kernelId)

	c.mu.Lock()
	stale := c.stopChannelsLocked()
	token := c.generation
	c.mu.Unlock()
	closeAsync(stale)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()

		_, checkErr := c.api.GetKernel(ctx, kernelId)
		c.inbound.Submit(func() { c.handleLivenessResult(token, url, checkErr) })
	}()
}

func (c *Connection) handleLivenessResult(token uint64, url string, checkErr error) {
	c.mu.Lock()
	current := token == c.generation && !c.closed
	c.mu.Unlock()

	if !current {
		c.log.Debug("Ignoring stale liveness check result for %s.", url)
		return
	}

	if checkErr != nil {
		c.log.Error("Kernel liveness check failed: %v", checkErr)
		c.KernelDead(checkErr)
		return
	}

	c.transportLost(url, nil)
}

// transportLost handles the loss of the transport: the handle is torn down, listeners are told, and a
// reconnect is scheduled. A non-nil err means the handle failed rather than closed.
func (c *Connection) transportLost(url string, err error) {
	c.StopChannels()
	c.emit(Event{Type: EventDisconnected})

	if err != nil {
		c.emit(Event{Type: EventConnectionFailed, URL: url, Attempt: c.ReconnectAttempt(), Err: err})
	}

	c.scheduleReconnect()
}

func (c *Connection) scheduleReconnect() {
	c.mu.Lock()

	if c.closed || c.status == jupyter.ConnectionStatusDead {
		c.mu.Unlock()
		return
	}

	attempt := c.reconnectAttempt
	if c.cfg.Backoff.Exhausted(attempt) {
		c.mu.Unlock()

		c.log.Error("Failed to reconnect after %d attempt(s). Giving up.", attempt)
		c.emit(Event{Type: EventConnectionDead, Attempt: attempt})
		return
	}

	delay := c.cfg.Backoff.Delay(attempt)
	c.reconnectAttempt += 1
	c.cancelTimerLocked()
	c.timerToken += 1
	token := c.timerToken
	c.timerDelay = delay
	c.setStatusLocked(jupyter.ConnectionStatusReconnecting)
	c.timer = time.AfterFunc(delay, func() {
		c.inbound.Submit(func() { c.fireReconnect(token) })
	})
	c.mu.Unlock()

	c.log.Info("Connection lost, reconnecting in %v.", delay)
}

func (c *Connection) fireReconnect(token uint64) {
	c.mu.Lock()
	if token != c.timerToken || c.timer == nil || c.closed {
		c.mu.Unlock()
		return
	}

	c.timer = nil
	c.timerDelay = 0

	if c.status.IsOpen() {
		c.mu.Unlock()
		return
	}

	attempt := c.reconnectAttempt
	c.mu.Unlock()

	c.metrics.ReconnectAttempt()
	c.emit(Event{Type: EventReconnecting, Attempt: attempt})

	if err := c.StartChannels(context.Background()); err != nil {
		c.log.Error("Failed to reconnect: %v", err)
	}
}

// stopChannelsLocked detaches the current handle and advances the generation. The returned handle,
// if any, must be closed by the caller after releasing the lock.
func (c *Connection) stopChannelsLocked() transport.Conn {
	stale := c.conn

	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}

	c.conn = nil
	c.generation += 1
	c.closeHandled = false

	if c.status != jupyter.ConnectionStatusDead {
		c.setStatusLocked(jupyter.ConnectionStatusDisconnected)
	}

	return stale
}

func (c *Connection) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	c.timerDelay = 0
	c.timerToken += 1
}

func (c *Connection) setStatusLocked(status jupyter.ConnectionStatus) {
	if c.status != status {
		c.log.Debug("Connection status: %v -> %v", c.status, status)
	}

	c.status = status
	c.metrics.SetConnectionStatus(int32(status))
}

// closeAsync closes a detached handle without blocking on the close handshake.
func closeAsync(conn transport.Conn) {
	if conn == nil {
		return
	}

	go func() {
		_ = conn.Close()
	}()
}
